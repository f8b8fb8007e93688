package config

import (
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes the environment variables that override settings,
// e.g. XMLSHRED_RUN_BATCH_SIZE for run.batch_size.
const EnvPrefix = "XMLSHRED"

// NewViper returns a viper instance reading XMLSHRED_* overrides from the
// environment. Callers bind command-line flags to setting names on it.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ApplyOverrides sets every setting v holds a value for, then validates
// the result. Flags that were not given on the command line are ignored.
func (c *Config) ApplyOverrides(v *viper.Viper) error {
	names := OptionNames()
	sort.Strings(names)
	for _, name := range names {
		if !v.IsSet(name) {
			continue
		}
		if err := c.set(name, v.GetString(name)); err != nil {
			return err
		}
	}
	return c.validate()
}

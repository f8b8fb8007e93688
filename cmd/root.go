package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hurou927/xmlshred/internal/config"
)

var (
	cfgPaths []string
	cfgs     []*config.Config
	verbose  bool
	logger   *zap.Logger
	overlay  = config.NewViper()
)

// skipConfig marks commands that run without a configuration file.
const skipConfig = "skip-config"

var rootCmd = &cobra.Command{
	Use:   "xmlshred",
	Short: "Shred XML documents into a PostgreSQL repository",
	Long: `xmlshred reads XML documents from a folder or a database query and shreds
them into a PostgreSQL repository. The repository schema is inferred from
the documents and extended as new shapes arrive.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = newLogger(verbose)
		if err != nil {
			return err
		}
		if cmd.Annotations[skipConfig] != "" {
			return nil
		}
		if len(cfgPaths) == 0 {
			return fmt.Errorf("--config is required")
		}
		cfgs, err = loadConfigs(cfgPaths, overlay)
		return err
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&cfgPaths, "config", nil, "path to YAML config file; repeat to shred several repositories")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging and detailed errors")
}

func loadConfigs(paths []string, v *viper.Viper) ([]*config.Config, error) {
	out := make([]*config.Config, 0, len(paths))
	for _, path := range paths {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := cfg.ApplyOverrides(v); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, cfg)
	}
	return out, nil
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	return cfg.Build()
}

// Execute runs the root command and exits with a code describing the
// failure.
func Execute() {
	err := rootCmd.Execute()
	if logger != nil {
		_ = logger.Sync()
	}
	if err != nil {
		if verbose {
			fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}

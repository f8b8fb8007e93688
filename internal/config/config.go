package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/hurou927/xmlshred/internal/names"
)

// Config represents the top-level YAML configuration.
type Config struct {
	Repository Repository `yaml:"repository"`
	Source     Source     `yaml:"source"`
	Model      Model      `yaml:"model"`
	Run        Run        `yaml:"run"`
}

// Repository holds the connection parameters of the PostgreSQL repository.
type Repository struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// Source locates the documents. Exactly one of Folder and URL is set.
type Source struct {
	// Folder is searched recursively for files whose path matches Pattern.
	Folder  string `yaml:"folder"`
	Pattern string `yaml:"pattern"`

	// URL is driver://dsn with driver postgres, mysql or sqlite.
	URL string `yaml:"url"`
	// Specification is a table or view name, a SELECT statement or the
	// path of a file holding one.
	Specification string        `yaml:"specification"`
	Timeout       time.Duration `yaml:"timeout"`

	// Provider gives one provider's documents priority.
	Provider string `yaml:"provider"`
	// RedoDocumentsQuery selects documents to reprocess after embedded XML
	// promotion. It must return a document_id column.
	RedoDocumentsQuery string `yaml:"redo_documents_query"`
}

// Model holds the settings fixed when a repository is created.
type Model struct {
	// Kind is "hierarchical" or "key-value".
	Kind           string `yaml:"kind"`
	UseForeignKeys bool   `yaml:"use_foreign_keys"`
	MaxNameLength  int    `yaml:"max_name_length"`
	NamePolicy     string `yaml:"name_policy"`
}

// Run controls batching.
type Run struct {
	BatchSize int           `yaml:"batch_size"`
	Repeat    bool          `yaml:"repeat"`
	Timeout   time.Duration `yaml:"timeout"`
}

// Default returns the configuration used for settings a file leaves out.
func Default() *Config {
	return &Config{
		Repository: Repository{
			Host:     "localhost",
			Port:     5432,
			Database: "xmldata",
			SSLMode:  "disable",
		},
		Source: Source{
			Pattern: `\.xml$`,
			Timeout: 30 * time.Second,
		},
		Model: Model{
			Kind:           "hierarchical",
			UseForeignKeys: true,
			MaxNameLength:  63,
			NamePolicy:     names.Abbreviate.String(),
		},
		Run: Run{
			BatchSize: 1000,
			Timeout:   10 * time.Minute,
		},
	}
}

// DSN builds a PostgreSQL connection string.
func (c *Repository) DSN() string {
	return c.dsn(c.Database)
}

// MaintenanceDSN connects to the postgres database of the same server.
func (c *Repository) MaintenanceDSN() string {
	return c.dsn("postgres")
}

func (c *Repository) dsn(database string) string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, database, c.User, c.Password, c.SSLMode,
	)
}

// Load reads and parses a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	cfg.Repository = Repository{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// WriteDefault writes a commented default configuration file.
func WriteDefault(w io.Writer) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	header := "# xmlshred configuration\n" +
		"# Set either source.folder or source.url. Repository settings fall back\n" +
		"# to PGHOST, PGPORT, PGDATABASE, PGUSER and PGPASSWORD.\n\n"
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// applyEnv fills in empty Repository fields from environment variables.
// YAML values take precedence; env vars are used only as fallback.
func (c *Config) applyEnv() {
	conn := &c.Repository
	if conn.Host == "" {
		conn.Host = envOr("PGHOST", "POSTGRES_HOST")
	}
	if conn.Port == 0 {
		if s := envOr("PGPORT", "POSTGRES_PORT"); s != "" {
			if p, err := strconv.Atoi(s); err == nil {
				conn.Port = p
			}
		}
	}
	if conn.Database == "" {
		conn.Database = envOr("PGDATABASE", "POSTGRES_DB")
	}
	if conn.User == "" {
		conn.User = envOr("PGUSER", "POSTGRES_USER")
	}
	if conn.Password == "" {
		conn.Password = envOr("PGPASSWORD", "POSTGRES_PASSWORD")
	}
	if conn.SSLMode == "" {
		conn.SSLMode = envOr("PGSSLMODE")
	}
}

// envOr returns the first non-empty value from the given env var names.
func envOr(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// validate fills repository defaults (sufficient for graph and script).
func (c *Config) validate() error {
	d := Default().Repository
	if c.Repository.Host == "" {
		c.Repository.Host = d.Host
	}
	if c.Repository.Port == 0 {
		c.Repository.Port = d.Port
	}
	if c.Repository.Database == "" {
		c.Repository.Database = d.Database
	}
	if c.Repository.SSLMode == "" {
		c.Repository.SSLMode = d.SSLMode
	}
	if c.Model.Kind != "hierarchical" && c.Model.Kind != "key-value" {
		return fmt.Errorf("model.kind must be hierarchical or key-value, got %q", c.Model.Kind)
	}
	reserve := 0
	if c.Model.UseForeignKeys {
		reserve = len("_id")
	}
	if err := names.CheckLength(c.Model.MaxNameLength, reserve); err != nil {
		return fmt.Errorf("model.max_name_length: %w", err)
	}
	if _, err := names.ParsePolicy(c.Model.NamePolicy); err != nil {
		return fmt.Errorf("model.name_policy: %w", err)
	}
	return nil
}

// Source validation errors.
var (
	ErrNoSource        = errors.New("one of source.folder and source.url is required")
	ErrTwoSources      = errors.New("source.folder and source.url cannot both be set")
	ErrNoSpecification = errors.New("source.specification is required with source.url")
)

// ValidateForShred checks the fields required to shred documents.
func (c *Config) ValidateForShred() error {
	switch {
	case c.Source.Folder == "" && c.Source.URL == "":
		return ErrNoSource
	case c.Source.Folder != "" && c.Source.URL != "":
		return ErrTwoSources
	case c.Source.URL != "" && strings.TrimSpace(c.Source.Specification) == "":
		return ErrNoSpecification
	}
	if c.Repository.User == "" {
		return fmt.Errorf("repository.user is required")
	}
	if c.Run.BatchSize < 1 {
		return fmt.Errorf("run.batch_size must be positive")
	}
	return nil
}

// NamePolicy returns the parsed name policy.
func (c *Config) NamePolicy() names.Policy {
	p, _ := names.ParsePolicy(c.Model.NamePolicy)
	return p
}

// option sets one configuration value from its text form.
type option func(c *Config, value string) error

func stringOption(field func(c *Config) *string) option {
	return func(c *Config, value string) error {
		*field(c) = value
		return nil
	}
}

func intOption(field func(c *Config) *int) option {
	return func(c *Config, value string) error {
		n, err := cast.ToIntE(strings.TrimSpace(value))
		if err != nil {
			return err
		}
		*field(c) = n
		return nil
	}
}

func boolOption(field func(c *Config) *bool) option {
	return func(c *Config, value string) error {
		b, err := cast.ToBoolE(strings.TrimSpace(value))
		if err != nil {
			return err
		}
		*field(c) = b
		return nil
	}
}

func durationOption(field func(c *Config) *time.Duration) option {
	return func(c *Config, value string) error {
		d, err := cast.ToDurationE(strings.TrimSpace(value))
		if err != nil {
			return err
		}
		*field(c) = d
		return nil
	}
}

// options maps each setting name, as written in the YAML file, to its
// setter.
var options = map[string]option{
	"repository.host":             stringOption(func(c *Config) *string { return &c.Repository.Host }),
	"repository.port":             intOption(func(c *Config) *int { return &c.Repository.Port }),
	"repository.database":         stringOption(func(c *Config) *string { return &c.Repository.Database }),
	"repository.user":             stringOption(func(c *Config) *string { return &c.Repository.User }),
	"repository.password":         stringOption(func(c *Config) *string { return &c.Repository.Password }),
	"repository.sslmode":          stringOption(func(c *Config) *string { return &c.Repository.SSLMode }),
	"source.folder":               stringOption(func(c *Config) *string { return &c.Source.Folder }),
	"source.pattern":              stringOption(func(c *Config) *string { return &c.Source.Pattern }),
	"source.url":                  stringOption(func(c *Config) *string { return &c.Source.URL }),
	"source.specification":        stringOption(func(c *Config) *string { return &c.Source.Specification }),
	"source.timeout":              durationOption(func(c *Config) *time.Duration { return &c.Source.Timeout }),
	"source.provider":             stringOption(func(c *Config) *string { return &c.Source.Provider }),
	"source.redo_documents_query": stringOption(func(c *Config) *string { return &c.Source.RedoDocumentsQuery }),
	"model.kind":                  stringOption(func(c *Config) *string { return &c.Model.Kind }),
	"model.use_foreign_keys":      boolOption(func(c *Config) *bool { return &c.Model.UseForeignKeys }),
	"model.max_name_length":       intOption(func(c *Config) *int { return &c.Model.MaxNameLength }),
	"model.name_policy":           stringOption(func(c *Config) *string { return &c.Model.NamePolicy }),
	"run.batch_size":              intOption(func(c *Config) *int { return &c.Run.BatchSize }),
	"run.repeat":                  boolOption(func(c *Config) *bool { return &c.Run.Repeat }),
	"run.timeout":                 durationOption(func(c *Config) *time.Duration { return &c.Run.Timeout }),
}

// OptionNames lists every setting name accepted by Set.
func OptionNames() []string {
	out := make([]string, 0, len(options))
	for name := range options {
		out = append(out, name)
	}
	return out
}

// Set assigns one setting by name and revalidates the configuration.
func (c *Config) Set(name, value string) error {
	if err := c.set(name, value); err != nil {
		return err
	}
	return c.validate()
}

func (c *Config) set(name, value string) error {
	set, ok := options[strings.ToLower(name)]
	if !ok {
		return fmt.Errorf("unknown setting %q", name)
	}
	if err := set(c, value); err != nil {
		return fmt.Errorf("setting %s: %w", name, err)
	}
	return nil
}

// Package config loads the loansync configuration.
//
// Configuration comes from an optional YAML file with environment variable
// overrides. Environment variables always win. Passwords are env-only.
package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/mapping"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/retry"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/source"
	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/storage"
)

type Config struct {
	Source     SourceConfig     `yaml:"source"`
	Sink       SinkConfig       `yaml:"sink"`
	Loader     LoaderConfig     `yaml:"loader"`
	Retry      RetryConfig      `yaml:"retry"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
	Divergence DivergenceConfig `yaml:"divergence"`

	// Mapping replaces the built-in registry when it lists any collection.
	Mapping mapping.Registry `yaml:"mapping"`
}

type SourceConfig struct {
	Kind      string `yaml:"kind" env:"SOURCE_KIND" env-default:"mongo"`
	URI       string `yaml:"uri" env:"MONGO_URI,MONGO_DB_URL"`
	Database  string `yaml:"database" env:"MONGODB_DB_NAME" env-default:"micro_finance"`
	Dir       string `yaml:"dir" env:"SOURCE_DIR"`
	WriteBack bool   `yaml:"write_back" env:"SOURCE_WRITE_BACK"`
}

// SinkConfig selects the relational sink. DSN wins; otherwise a Postgres DSN
// is assembled from the PG_* variables.
type SinkConfig struct {
	Kind     string `yaml:"kind" env:"SINK_KIND" env-default:"postgres"`
	DSN      string `yaml:"dsn" env:"SINK_DSN"`
	MaxConns int    `yaml:"max_conns" env:"SINK_MAX_CONNS" env-default:"8"`

	// nil means true.
	AutoCreateTables *bool `yaml:"auto_create_tables"`

	Host     string `yaml:"host" env:"PG_HOST"`
	Port     int    `yaml:"port" env:"PG_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"PG_USER"`
	Password string `yaml:"-" env:"PG_PASSWORD"`
	Database string `yaml:"database" env:"PG_DATABASE"`
	SSLMode  string `yaml:"ssl_mode" env:"PG_SSLMODE" env-default:"disable"`
}

type LoaderConfig struct {
	BatchSize int `yaml:"batch_size" env:"LOADER_BATCH_SIZE" env-default:"1000"`
	Workers   int `yaml:"workers" env:"LOADER_WORKERS" env-default:"4"`

	// nil means true.
	OrderedCommits *bool `yaml:"ordered_commits"`

	StructuredEncoding string `yaml:"structured_encoding" env:"LOADER_STRUCTURED_ENCODING" env-default:"json"`
}

type RetryConfig struct {
	MaxRetries   int           `yaml:"max_retries" env:"RETRY_MAX_RETRIES" env-default:"3"`
	InitialDelay time.Duration `yaml:"initial_delay" env:"RETRY_INITIAL_DELAY" env-default:"200ms"`
	MaxDelay     time.Duration `yaml:"max_delay" env:"RETRY_MAX_DELAY" env-default:"5s"`
}

type MetricsConfig struct {
	Backend    string        `yaml:"backend" env:"METRICS_BACKEND" env-default:"none"`
	JobName    string        `yaml:"job_name" env:"METRICS_JOB_NAME" env-default:"loansync"`
	Tags       string        `yaml:"tags" env:"METRICS_TAGS"`
	FlushEvery time.Duration `yaml:"flush_every" env:"METRICS_FLUSH_EVERY" env-default:"60s"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"LOG_FORMAT" env-default:"json"`
}

type DivergenceConfig struct {
	Journal string `yaml:"journal" env:"DIVERGENCE_JOURNAL" env-default:"memory"`
	Path    string `yaml:"path" env:"DIVERGENCE_PATH" env-default:"loansync-divergence.db"`
}

// Load reads path (when non-empty) and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path == "" {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config: read env: %w", err)
		}
		return cfg, nil
	}
	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return cfg, nil
}

// AutoCreate reports whether sink tables are created on bootstrap.
func (s SinkConfig) AutoCreate() bool {
	return s.AutoCreateTables == nil || *s.AutoCreateTables
}

// ConnString returns DSN, or a Postgres URL built from the PG_* fields.
func (s SinkConfig) ConnString() string {
	if s.DSN != "" || s.Kind != "postgres" || s.Host == "" {
		return s.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(s.Host, strconv.Itoa(s.Port)),
		Path:   "/" + s.Database,
	}
	if s.User != "" {
		if s.Password != "" {
			u.User = url.UserPassword(s.User, s.Password)
		} else {
			u.User = url.User(s.User)
		}
	}
	if s.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {s.SSLMode}}.Encode()
	}
	return u.String()
}

// Ordered reports whether batches commit in order.
func (l LoaderConfig) Ordered() bool {
	return l.OrderedCommits == nil || *l.OrderedCommits
}

// Registry returns the configured mapping, or the built-in one.
func (c *Config) Registry() mapping.Registry {
	if len(c.Mapping.Collections) > 0 {
		return c.Mapping
	}
	return mapping.Loans()
}

func (c *Config) SourceOptions() source.Config {
	return source.Config{
		Kind:      c.Source.Kind,
		URI:       c.Source.URI,
		Database:  c.Source.Database,
		Dir:       c.Source.Dir,
		WriteBack: c.Source.WriteBack,
	}
}

func (c *Config) SinkOptions() storage.MultiConfig {
	return storage.MultiConfig{
		Kind:     c.Sink.Kind,
		DSN:      c.Sink.ConnString(),
		MaxConns: c.Sink.MaxConns,
	}
}

func (c *Config) RetryPolicy() *retry.Config {
	cfg := retry.DefaultConfig()
	cfg.MaxRetries = c.Retry.MaxRetries
	cfg.InitialDelay = c.Retry.InitialDelay
	cfg.MaxDelay = c.Retry.MaxDelay
	return cfg
}

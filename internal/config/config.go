// Package config handles the collector's YAML configuration file and its
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"microdata/internal/dbclient"
	"microdata/internal/etl"
)

// CurrentConfigVersion is the current version of the config file format.
const CurrentConfigVersion = 1

// DefaultPath is where the CLI looks for a config file.
const DefaultPath = "microdata.yaml"

// Storage backends.
const (
	BackendCSV    = "csv"
	BackendSQLite = "sqlite"
	BackendS3     = "s3"
)

// Config represents the microdata.yaml configuration file.
type Config struct {
	Version     int                     `yaml:"version"`
	DataDir     string                  `yaml:"data_dir"`
	Storage     StorageConfig           `yaml:"storage"`
	Fetch       FetchConfig             `yaml:"fetch"`
	Sources     map[string]SourceConfig `yaml:"sources,omitempty"`
	Schedule    string                  `yaml:"schedule,omitempty"`
	HistoryPath string                  `yaml:"history_path,omitempty"`
	Mirrors     []dbclient.MirrorConfig `yaml:"mirrors,omitempty"`
	Log         LogConfig               `yaml:"log"`
}

// StorageConfig selects where persisted tables live.
type StorageConfig struct {
	Backend    string   `yaml:"backend"`
	SQLitePath string   `yaml:"sqlite_path,omitempty"`
	S3         S3Config `yaml:"s3,omitempty"`
}

// S3Config configures the object storage backend.
type S3Config struct {
	Endpoint  string `yaml:"endpoint,omitempty"`
	AccessKey string `yaml:"access_key,omitempty"`
	SecretKey string `yaml:"secret_key,omitempty"`
	Region    string `yaml:"region,omitempty"`
	UseSSL    bool   `yaml:"use_ssl,omitempty"`
	Bucket    string `yaml:"bucket,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`
}

// FetchConfig tunes the detail fetch fan-out.
type FetchConfig struct {
	Concurrency  int           `yaml:"concurrency"`
	Timeout      time.Duration `yaml:"timeout"`
	Retries      int           `yaml:"retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	UserAgent    string        `yaml:"user_agent,omitempty"`
}

// SourceConfig overrides one source's endpoints or schema.
type SourceConfig struct {
	Enabled    *bool  `yaml:"enabled,omitempty"`
	ListURL    string `yaml:"list_url,omitempty"`
	DetailURL  string `yaml:"detail_url,omitempty"`
	SchemaFile string `yaml:"schema_file,omitempty"`
}

// IsEnabled reports whether the source runs by default. Sources are enabled
// unless switched off.
func (s SourceConfig) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Version: CurrentConfigVersion,
		DataDir: "data",
		Storage: StorageConfig{Backend: BackendCSV},
		Fetch: FetchConfig{
			Concurrency:  etl.DefaultConcurrency,
			Timeout:      60 * time.Second,
			Retries:      2,
			RetryBackoff: 2 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "console"},
	}
}

// Load reads a Config from a file path. A missing file yields Default.
// Environment overrides are applied either way.
func Load(path string) (*Config, error) {
	cfg := Default()
	f, err := os.Open(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		defer f.Close()
		if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the Config to a file path.
func (c *Config) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	enc.SetIndent(2)
	return enc.Encode(c)
}

// Validate checks the configuration for required fields and valid values.
func (c *Config) Validate() error {
	if c.Version != CurrentConfigVersion {
		return errors.New("unsupported config version")
	}
	switch c.Storage.Backend {
	case BackendCSV:
		if c.DataDir == "" {
			return errors.New("data_dir is required for the csv backend")
		}
	case BackendSQLite:
	case BackendS3:
		if c.Storage.S3.Endpoint == "" || c.Storage.S3.Bucket == "" {
			return errors.New("storage.s3 endpoint and bucket are required")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Fetch.Concurrency < 1 {
		return errors.New("fetch.concurrency must be at least 1")
	}
	if c.Fetch.Retries < 0 {
		return errors.New("fetch.retries must not be negative")
	}
	names := map[string]bool{}
	for i, m := range c.Mirrors {
		if m.Driver == "" || m.DSN == "" {
			return fmt.Errorf("mirrors[%d]: driver and dsn are required", i)
		}
		name := m.Name
		if name == "" {
			name = string(m.Driver)
		}
		if names[name] {
			return fmt.Errorf("mirrors[%d]: duplicate name %q", i, name)
		}
		names[name] = true
	}
	return nil
}

// SQLitePath returns the database file of the sqlite backend.
func (c *Config) SQLitePath() string {
	if c.Storage.SQLitePath != "" {
		return c.Storage.SQLitePath
	}
	return filepath.Join(c.DataDir, "microdata.db")
}

// HistoryDB returns the database file holding run history.
func (c *Config) HistoryDB() string {
	if c.HistoryPath != "" {
		return c.HistoryPath
	}
	return c.SQLitePath()
}

// Source returns the overrides of name.
func (c *Config) Source(name string) SourceConfig {
	return c.Sources[name]
}

// SourceNames returns the configured source names, sorted.
func (c *Config) SourceNames() []string {
	out := make([]string, 0, len(c.Sources))
	for name := range c.Sources {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *Config) applyEnv() error {
	var err error
	c.DataDir = envString("MICRODATA_DATA_DIR", c.DataDir)
	c.Storage.Backend = envString("MICRODATA_STORAGE", c.Storage.Backend)
	c.Storage.SQLitePath = envString("MICRODATA_SQLITE_PATH", c.Storage.SQLitePath)
	c.Schedule = envString("MICRODATA_SCHEDULE", c.Schedule)
	c.Log.Level = envString("MICRODATA_LOG_LEVEL", c.Log.Level)
	c.Log.Format = envString("MICRODATA_LOG_FORMAT", c.Log.Format)
	c.Fetch.UserAgent = envString("MICRODATA_USER_AGENT", c.Fetch.UserAgent)

	if c.Fetch.Concurrency, err = envInt("MICRODATA_CONCURRENCY", c.Fetch.Concurrency); err != nil {
		return err
	}
	if c.Fetch.Retries, err = envInt("MICRODATA_RETRIES", c.Fetch.Retries); err != nil {
		return err
	}
	if c.Fetch.Timeout, err = envDuration("MICRODATA_FETCH_TIMEOUT", c.Fetch.Timeout); err != nil {
		return err
	}
	if c.Fetch.RetryBackoff, err = envDuration("MICRODATA_RETRY_BACKOFF", c.Fetch.RetryBackoff); err != nil {
		return err
	}

	s3 := &c.Storage.S3
	s3.Endpoint = envString("MICRODATA_S3_ENDPOINT", s3.Endpoint)
	s3.AccessKey = envString("MICRODATA_S3_ACCESS_KEY", s3.AccessKey)
	s3.SecretKey = envString("MICRODATA_S3_SECRET_KEY", s3.SecretKey)
	s3.Region = envString("MICRODATA_S3_REGION", s3.Region)
	s3.Bucket = envString("MICRODATA_S3_BUCKET", s3.Bucket)
	s3.Prefix = envString("MICRODATA_S3_PREFIX", s3.Prefix)
	if s3.UseSSL, err = envBool("MICRODATA_S3_USE_SSL", s3.UseSSL); err != nil {
		return err
	}
	if s3.Region == "" {
		s3.Region = "us-east-1"
	}
	return nil
}

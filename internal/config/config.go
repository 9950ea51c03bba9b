// Package config loads pgslice settings from an optional YAML file, the
// PGSLICE_* environment and command line flags, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable read by Load.
const EnvPrefix = "pgslice"

// ConfigFileEnvVar names an optional YAML file when --config is not given.
const ConfigFileEnvVar = "PGSLICE_CONFIG"

// DefaultSchema is used when the connection URL has no schema parameter.
const DefaultSchema = "public"

// ErrNoURL is returned when no connection information is configured.
var ErrNoURL = errors.New("Set PGSLICE_URL or use the --url option")

// Config holds all pgslice settings.
type Config struct {
	URL            string         `yaml:"url"`
	Database       DatabaseConfig `yaml:"database" ignored:"true"`
	DryRun         bool           `yaml:"dry_run" split_words:"true"`
	LogLevel       string         `yaml:"log_level" split_words:"true"`
	LogFormat      string         `yaml:"log_format" split_words:"true"`
	ConnectTimeout int            `yaml:"connect_timeout" split_words:"true"` // seconds
	LockTimeout    string         `yaml:"lock_timeout" split_words:"true"`
	Fill           FillConfig     `yaml:"fill"`
	Synchronize    SyncConfig     `yaml:"synchronize" envconfig:"SYNC"`
}

// DatabaseConfig is an alternative to URL for YAML files.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	Schema   string `yaml:"schema"`
}

// FillConfig holds defaults for the fill command.
type FillConfig struct {
	BatchSize int     `yaml:"batch_size" split_words:"true"`
	Sleep     float64 `yaml:"sleep"` // seconds between batches
}

// SyncConfig holds defaults for the synchronize command.
type SyncConfig struct {
	WindowSize      int     `yaml:"window_size" split_words:"true"`
	Delay           float64 `yaml:"delay"`
	DelayMultiplier float64 `yaml:"delay_multiplier" split_words:"true"`
}

// Default returns a configuration with built-in defaults.
func Default() *Config {
	return &Config{
		LogLevel:       "info",
		LogFormat:      "text",
		ConnectTimeout: 3,
		LockTimeout:    "5s",
		Fill:           FillConfig{BatchSize: 10000},
		Synchronize:    SyncConfig{WindowSize: 1000},
	}
}

// Load builds the configuration. path may be empty, in which case
// PGSLICE_CONFIG is consulted; a missing file is only an error when it was
// named explicitly.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(ConfigFileEnvVar)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that have a fixed domain.
func (c *Config) Validate() error {
	if c.Fill.BatchSize <= 0 {
		return fmt.Errorf("fill.batch_size must be positive, got %d", c.Fill.BatchSize)
	}
	if c.Fill.Sleep < 0 {
		return fmt.Errorf("fill.sleep must not be negative")
	}
	if c.Synchronize.WindowSize <= 0 {
		return fmt.Errorf("synchronize.window_size must be positive, got %d", c.Synchronize.WindowSize)
	}
	if c.ConnectTimeout < 0 {
		return fmt.Errorf("connect_timeout must not be negative")
	}
	return nil
}

// Connection returns a connection string suitable for pgx and the schema
// that unqualified table names resolve to.
func (c *Config) Connection() (connString, schema string, err error) {
	raw := c.URL
	if raw == "" && c.Database.Name != "" {
		raw = c.buildPostgresDSN()
		if c.Database.Schema != "" {
			raw += "&schema=" + url.QueryEscape(c.Database.Schema)
		}
	}
	if raw == "" {
		return "", "", ErrNoURL
	}

	if !strings.Contains(raw, "://") {
		return c.keywordConnection(raw), DefaultSchema, nil
	}

	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "postgres" && u.Scheme != "postgresql") {
		return "", "", errors.New("Invalid url")
	}

	params := u.Query()
	schema = DefaultSchema
	if s := params.Get("schema"); s != "" {
		schema = s
	}
	params.Del("schema")
	if params.Get("connect_timeout") == "" && c.ConnectTimeout > 0 {
		params.Set("connect_timeout", strconv.Itoa(c.ConnectTimeout))
	}
	u.RawQuery = params.Encode()
	return u.String(), schema, nil
}

// keywordConnection handles "key=value" strings and bare database names.
func (c *Config) keywordConnection(raw string) string {
	if !strings.Contains(raw, "=") {
		raw = "dbname=" + raw
	}
	if !strings.Contains(raw, "connect_timeout=") && c.ConnectTimeout > 0 {
		raw += " connect_timeout=" + strconv.Itoa(c.ConnectTimeout)
	}
	return raw
}

func (c *Config) buildPostgresDSN() string {
	db := c.Database
	host := db.Host
	if host == "" {
		host = "localhost"
	}
	port := db.Port
	if port == 0 {
		port = 5432
	}
	sslMode := db.SSLMode
	if sslMode == "" {
		sslMode = "prefer"
	}

	userInfo := ""
	if db.User != "" {
		userInfo = url.QueryEscape(db.User)
		if db.Password != "" {
			userInfo += ":" + url.QueryEscape(db.Password)
		}
		userInfo += "@"
	}
	return fmt.Sprintf("postgres://%s%s:%d/%s?sslmode=%s",
		userInfo, host, port, url.PathEscape(db.Name), url.QueryEscape(sslMode))
}

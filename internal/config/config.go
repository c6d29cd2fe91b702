// ABOUTME: Configuration loading and parsing for the loom persistence layer
// ABOUTME: YAML with environment variable expansion, defaults, and validation

package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/loomhq/loom/internal/store"
)

// Datasource names accepted in the config file.
const (
	DatasourceSQLite   = "sqlite"
	DatasourcePostgres = "postgres"
)

// Config represents the complete loom configuration.
type Config struct {
	Datasource string         `yaml:"datasource"`
	SQLite     SQLiteConfig   `yaml:"sqlite"`
	Postgres   PostgresConfig `yaml:"postgres"`
	Logging    LoggingConfig  `yaml:"logging"`
}

// SQLiteConfig holds the embedded store configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// PostgresConfig holds the client-server store configuration.
type PostgresConfig struct {
	URL string `yaml:"url"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration backed by the embedded store under the
// user's home directory.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		Datasource: DatasourceSQLite,
		SQLite:     SQLiteConfig{Path: filepath.Join(home, ".loom", "loom.db")},
		Logging:    LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expanded := expandEnvVars(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault loads the configuration from path, or returns the default
// configuration when path is empty.
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables expand to empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and
// consistent with the selected datasource.
func (c *Config) Validate() error {
	switch c.Datasource {
	case DatasourceSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required when datasource is sqlite")
		}
	case DatasourcePostgres:
		if c.Postgres.URL == "" {
			return fmt.Errorf("postgres.url is required when datasource is postgres")
		}
	default:
		return fmt.Errorf("datasource must be %q or %q, got %q",
			DatasourceSQLite, DatasourcePostgres, c.Datasource)
	}
	return nil
}

// Open creates a store for the configured datasource. The schema is not
// created here; call EnsureSchema once during startup.
func (c *Config) Open(ctx context.Context) (*store.SQLStore, error) {
	switch c.Datasource {
	case DatasourceSQLite:
		return store.OpenSQLite(c.SQLite.Path)
	case DatasourcePostgres:
		return store.OpenPostgres(ctx, c.Postgres.URL)
	default:
		return nil, fmt.Errorf("unknown datasource %q", c.Datasource)
	}
}

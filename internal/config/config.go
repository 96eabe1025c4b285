package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pulsedir/beacon/internal/db"
	"github.com/pulsedir/beacon/internal/derive"
	"github.com/pulsedir/beacon/internal/ingest"
	"github.com/pulsedir/beacon/internal/worker"
)

// Config represents the application configuration
type Config struct {
	Database db.Config     `toml:"database"`
	Ingest   ingest.Config `toml:"ingest"`
	Derive   derive.Params `toml:"derive"`
	Worker   worker.Config `toml:"worker"`
	HTTP     HTTPConfig    `toml:"http"`
	Logging  LoggingConfig `toml:"logging"`
}

// HTTPConfig holds HTTP server settings
type HTTPConfig struct {
	Address string `toml:"address"`
	Port    int    `toml:"port"`
}

// Listen returns the combined listen address
func (c HTTPConfig) Listen() string {
	return fmt.Sprintf("%s:%d", c.Address, c.Port)
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Database: db.Config{
			Driver:          "sqlite3",
			DSN:             "beacon.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			MigrationsDir:   "migrations",
			SkipMigrations:  false,
		},
		Ingest: ingest.DefaultConfig(),
		Derive: derive.DefaultParams(),
		Worker: worker.DefaultConfig(),
		HTTP: HTTPConfig{
			Address: "0.0.0.0",
			Port:    8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromFile loads configuration from a TOML file
func LoadFromFile(path string) (*Config, error) {
	// Start with defaults
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// LoadConfig loads configuration with the following precedence:
// 1. Default values
// 2. Config file (if specified)
// 3. Command-line flags (handled by caller)
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	if configPath == "" {
		return config, nil
	}

	return LoadFromFile(configPath)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Database validation
	if c.Database.Driver == "" {
		return fmt.Errorf("database driver must be specified")
	}
	if c.Database.Driver != "sqlite3" && c.Database.Driver != "postgres" {
		return fmt.Errorf("unsupported database driver: %s (must be sqlite3 or postgres)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN must be specified")
	}

	// Ingest validation
	if c.Ingest.FreshnessGrace <= 0 {
		return fmt.Errorf("ingest freshness_grace must be positive")
	}
	if c.Ingest.FutureTolerance < 0 {
		return fmt.Errorf("ingest future_tolerance must not be negative")
	}

	// Derive validation
	if c.Derive.Window <= 0 {
		return fmt.Errorf("derive window must be positive")
	}
	if c.Derive.FreshWindow <= 0 {
		return fmt.Errorf("derive fresh_window must be positive")
	}
	if c.Derive.StaleAfter < c.Derive.FreshWindow {
		return fmt.Errorf("derive stale_after must not be shorter than fresh_window")
	}
	if c.Derive.CoverageCap <= 0 {
		return fmt.Errorf("derive coverage_cap must be positive")
	}

	// Worker validation
	if err := c.Worker.Validate(); err != nil {
		return err
	}

	// HTTP validation
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	return nil
}

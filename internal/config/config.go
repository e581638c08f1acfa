// Package config loads server configuration from YAML files with sane
// defaults, and supports hot reload of the file while the server runs.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is the full server configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Log      LogConfig      `mapstructure:"log"`
	Query    QueryConfig    `mapstructure:"query"`
}

// ServerConfig configures the sync endpoint.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DatabaseConfig locates the event log database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LogConfig configures file logging. An empty Path logs to stderr only.
type LogConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// QueryConfig tunes search evaluation.
type QueryConfig struct {
	// Timezone decides where days start for date comparisons
	// (default: the process's local zone).
	Timezone string `mapstructure:"timezone"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Server:   ServerConfig{Port: 8092},
		Database: DatabaseConfig{Path: defaultDatabasePath()},
		Log:      LogConfig{MaxSizeMB: 50, MaxBackups: 3, MaxAgeDays: 30},
	}
}

func defaultDatabasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "risuto.db"
	}
	return filepath.Join(home, ".risuto", "risuto.db")
}

// DefaultPath returns where Load looks when no explicit path is given.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "risuto.yaml"
	}
	return filepath.Join(home, ".risuto", "config.yaml")
}

// Load reads the configuration file at path, or the default location when
// path is empty. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := DefaultConfig()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

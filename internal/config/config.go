// Package config loads engine settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all engine configuration
type Config struct {
	// DBPath is the SQLite database file; ":memory:" for a private
	// in-memory database.
	DBPath string
	// LockPath is the schema-import lock file. Empty derives it from
	// DBPath; in-memory databases take no lock.
	LockPath string
	// LogLevel is a zerolog level name.
	LogLevel string
	// ValidateSQL lints every generated statement before it is prepared.
	ValidateSQL bool
}

// Load reads configuration from the environment, after merging a .env file
// from the working directory when one exists. Variables already set win
// over .env entries.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// LoadFile is Load with an explicit env file.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return FromEnv()
}

// FromEnv reads configuration from the process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		DBPath:      getEnv("CLASSMAP_DB", "classmap.db"),
		LockPath:    getEnv("CLASSMAP_LOCK", ""),
		LogLevel:    getEnv("CLASSMAP_LOG_LEVEL", "info"),
		ValidateSQL: getEnvAsBool("CLASSMAP_VALIDATE_SQL", false),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field values.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("CLASSMAP_DB is required")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("CLASSMAP_LOG_LEVEL: %w", err)
	}
	return nil
}

// Level returns the zerolog level of LogLevel, info when unparsable.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || c.LogLevel == "" {
		return zerolog.InfoLevel
	}
	return lvl
}

// InMemory reports whether DBPath names a private in-memory database.
func (c *Config) InMemory() bool {
	return c.DBPath == ":memory:" || strings.HasPrefix(c.DBPath, "file::memory:")
}

// SchemaLock returns the lock file path, or "" when no lock is taken.
func (c *Config) SchemaLock() string {
	if c.LockPath != "" {
		return c.LockPath
	}
	if c.InMemory() {
		return ""
	}
	return c.DBPath + ".lock"
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bronzeline-io/bronzeline/internal/config"
)

// Sentinel errors for migrator configuration.
var (
	errDatabaseURLEmpty    = errors.New("DATABASE_URL cannot be empty")
	errMigrationTableEmpty = errors.New("MIGRATION_TABLE cannot be empty")
)

// Config holds all configuration for the migration tool. Migrations are
// embedded in the binary, so only the target database is configurable.
type Config struct {
	// DatabaseURL is the PostgreSQL connection string
	DatabaseURL string

	// MigrationTable is the name of the table to track migrations
	MigrationTable string
}

// LoadConfig loads configuration from environment variables with sensible defaults.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		DatabaseURL:    config.GetEnvStr("DATABASE_URL", ""),
		MigrationTable: config.GetEnvStr("MIGRATION_TABLE", "schema_migrations"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errDatabaseURLEmpty
	}

	if c.MigrationTable == "" {
		return errMigrationTableEmpty
	}

	return nil
}

// String returns a log-safe description of the configuration.
func (c *Config) String() string {
	return fmt.Sprintf("Config{MigrationTable: %s, DatabaseURL: %s}",
		c.MigrationTable, maskURL(c.DatabaseURL))
}

// maskURL hides credentials in a database URL for logging.
func maskURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at == -1 {
		return url
	}

	schemeEnd := strings.Index(url, "://")
	if schemeEnd == -1 {
		return "***" + url[at:]
	}

	return url[:schemeEnd+3] + "***" + url[at:]
}

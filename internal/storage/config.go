package storage

import (
	"errors"
	"strings"
	"time"

	"github.com/bronzeline-io/bronzeline/internal/config"
)

const (
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 10 * time.Minute

	// DriverPostgres is the production backend.
	DriverPostgres = "postgres"
	// DriverSQLite is the zero-dependency local development backend.
	DriverSQLite = "sqlite"
)

var (
	// ErrDatabaseURLEmpty is returned when the database url is an empty string.
	ErrDatabaseURLEmpty = errors.New("database URL cannot be empty")

	// ErrUnknownDriver is returned when the database URL scheme matches no
	// supported backend.
	ErrUnknownDriver = errors.New("unknown database driver")
)

// Config holds database connection configuration with production-ready defaults.
type Config struct {
	databaseURL     string
	MaxOpenConns    int           // Maximum number of open connections
	MaxIdleConns    int           // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of connections
	ConnMaxIdleTime time.Duration // Maximum idle time for connections
}

// LoadConfig loads database configuration from environment variables with
// fallback to defaults.
func LoadConfig() *Config {
	return &Config{
		databaseURL:     config.GetEnvStr("DATABASE_URL", ""), // databaseURL is private for obvious reasons.
		MaxOpenConns:    config.GetEnvInt("DATABASE_MAX_OPEN_CONNS", defaultMaxOpenConns),
		MaxIdleConns:    config.GetEnvInt("DATABASE_MAX_IDLE_CONNS", defaultMaxIdleConns),
		ConnMaxLifetime: config.GetEnvDuration("DATABASE_CONN_MAX_LIFETIME", defaultConnMaxLifetime),
		ConnMaxIdleTime: config.GetEnvDuration("DATABASE_CONN_MAX_IDLE_TIME", defaultConnMaxIdleTime),
	}
}

// NewConfig creates a Config for an explicit database URL, keeping the
// production pool defaults. Used by tests and the migrator CLI.
func NewConfig(databaseURL string) *Config {
	return &Config{
		databaseURL:     databaseURL,
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
	}
}

// Validate checks if the database configuration is valid.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.databaseURL) == "" {
		return ErrDatabaseURLEmpty
	}

	if _, err := c.Driver(); err != nil {
		return err
	}

	return nil
}

// Driver derives the sql driver name from the database URL scheme.
//
// postgres:// and postgresql:// select lib/pq; sqlite:// and file:// select
// the embedded SQLite backend used for local development.
func (c *Config) Driver() (string, error) {
	switch {
	case strings.HasPrefix(c.databaseURL, "postgres://"),
		strings.HasPrefix(c.databaseURL, "postgresql://"):
		return DriverPostgres, nil
	case strings.HasPrefix(c.databaseURL, "sqlite://"),
		strings.HasPrefix(c.databaseURL, "file:"):
		return DriverSQLite, nil
	default:
		return "", ErrUnknownDriver
	}
}

// DatabaseURL returns the raw database URL for driver use. Never log this
// value; use MaskDatabaseURL instead.
func (c *Config) DatabaseURL() string {
	return c.databaseURL
}

// MaskDatabaseURL returns a masked databaseURL safe for logging.
func (c *Config) MaskDatabaseURL() string {
	if c.databaseURL == "" {
		return ""
	}

	schemeEnd := strings.Index(c.databaseURL, "://")
	if schemeEnd == -1 {
		return c.databaseURL
	}

	afterScheme := c.databaseURL[schemeEnd+3:]

	lastAtIndex := strings.LastIndex(afterScheme, "@")
	if lastAtIndex == -1 {
		// No userinfo to mask.
		return c.databaseURL
	}

	userInfo := afterScheme[:lastAtIndex]

	colonIndex := strings.Index(userInfo, ":")
	if colonIndex == -1 {
		// No password to mask.
		return c.databaseURL
	}

	masked := userInfo[:colonIndex] + ":***"

	return c.databaseURL[:schemeEnd+3] + masked + afterScheme[lastAtIndex:]
}

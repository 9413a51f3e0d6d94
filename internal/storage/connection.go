package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	// PostgreSQL driver, registered as "postgres".
	_ "github.com/lib/pq"
	// Embedded SQLite driver, registered as "sqlite".
	_ "modernc.org/sqlite"

	"github.com/bronzeline-io/bronzeline/internal/config"
)

// connectTimeout bounds the initial connectivity check in NewConnection.
const connectTimeout = 10 * time.Second

// ErrConnectionFailed is returned when the database cannot be reached.
var ErrConnectionFailed = errors.New("database connection failed")

// Connection wraps a pooled sql.DB with configuration-driven pool settings
// and an initial health check. Safe for concurrent use.
type Connection struct {
	db     *sql.DB
	driver string
	logger *slog.Logger
}

// NewConnection opens a pooled connection to the configured database and
// verifies connectivity before returning.
func NewConnection(cfg *Config) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	driver, err := cfg.Driver()
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, dsn(driver, cfg.DatabaseURL()))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	conn := &Connection{
		db:     db,
		driver: driver,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}

	conn.logger.Info("database connection established",
		slog.String("driver", driver),
		slog.String("url", cfg.MaskDatabaseURL()),
	)

	return conn, nil
}

// dsn maps the configured URL onto the driver's DSN format. lib/pq accepts
// the URL verbatim; the sqlite driver wants a file path or file: URI.
func dsn(driver, databaseURL string) string {
	if driver == DriverSQLite {
		return strings.TrimPrefix(databaseURL, "sqlite://")
	}

	return databaseURL
}

// Driver returns the active sql driver name.
func (c *Connection) Driver() string {
	return c.driver
}

// DB exposes the underlying pool for libraries that require it, such as the
// migration runner.
func (c *Connection) DB() *sql.DB {
	return c.db
}

// QueryContext executes a query that returns rows.
func (c *Connection) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return c.db.QueryContext(ctx, query, args...)
}

// QueryRowContext executes a query expected to return at most one row.
func (c *Connection) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return c.db.QueryRowContext(ctx, query, args...)
}

// ExecContext executes a statement without returning rows.
func (c *Connection) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return c.db.ExecContext(ctx, query, args...)
}

// BeginTx starts a transaction.
func (c *Connection) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	return c.db.BeginTx(ctx, opts)
}

// HealthCheck verifies the database is reachable.
func (c *Connection) HealthCheck(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return nil
}

// Close closes the connection pool gracefully. Safe to call multiple times.
func (c *Connection) Close() error {
	if c.db == nil {
		return nil
	}

	return c.db.Close()
}

package main

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	_ "github.com/lib/pq" // PostgreSQL driver

	migrate "github.com/golang-migrate/migrate/v4"

	"github.com/bronzeline-io/bronzeline/migrations"
)

type (
	// MigrationRunner defines the interface for running database migrations
	MigrationRunner interface {
		// Up applies all pending migrations
		Up() error

		// Down rollbacks the last migration
		Down() error

		// Status shows the current migration status
		Status() error

		// Version shows the current migration version
		Version() error

		// Drop drops all tables (destructive operation)
		Drop() error

		// Close closes any open connections
		Close() error
	}

	// migrationRunner implements MigrationRunner using golang-migrate with
	// migrations embedded in the binary.
	migrationRunner struct {
		config  *Config
		migrate *migrate.Migrate
		db      *sql.DB
	}

	// migrateLogger implements the migrate.Logger interface
	migrateLogger struct{}
)

// Ensure we implement the interface at compile time
var _ migrate.Logger = (*migrateLogger)(nil)

// Add io.Writer interface compliance for broader compatibility
var _ io.Writer = (*migrateLogger)(nil)

// NewMigrationRunner creates a new migration runner with the given configuration.
func NewMigrationRunner(config *Config) (MigrationRunner, error) {
	log.Printf("Initializing migration runner with config: %s", config.String())

	if err := migrations.Validate(); err != nil {
		return nil, fmt.Errorf("embedded migrations invalid: %w", err)
	}

	db, err := sql.Open("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Database connection established successfully")

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: config.MigrationTable,
	})
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	source, err := iofs.New(migrations.FS(), ".")
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	m.Log = &migrateLogger{}

	log.Println("Migration runner initialized successfully")

	return &migrationRunner{
		config:  config,
		migrate: m,
		db:      db,
	}, nil
}

// Up applies all pending migrations.
func (r *migrationRunner) Up() error {
	log.Println("Starting migration up...")

	err := r.migrate.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		log.Println("No new migrations to apply")
	} else {
		log.Println("All migrations applied successfully")
	}

	return nil
}

// Down rollbacks the last migration.
func (r *migrationRunner) Down() error {
	log.Println("Rolling back last migration...")

	err := r.migrate.Steps(-1)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}

	log.Println("Rollback complete")

	return nil
}

// Status shows the current migration status.
func (r *migrationRunner) Status() error {
	version, dirty, err := r.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("No migrations applied yet")

			return nil
		}

		return fmt.Errorf("failed to get migration status: %w", err)
	}

	state := "clean"
	if dirty {
		state = "dirty"
	}

	fmt.Printf("Current version: %d (%s)\n", version, state)

	embedded, err := migrations.List()
	if err != nil {
		return fmt.Errorf("failed to list embedded migrations: %w", err)
	}

	fmt.Printf("Embedded migrations: %v\n", embedded)

	return nil
}

// Version shows the current migration version.
func (r *migrationRunner) Version() error {
	version, dirty, err := r.migrate.Version()
	if err != nil {
		if errors.Is(err, migrate.ErrNilVersion) {
			fmt.Println("No migrations applied yet")

			return nil
		}

		return fmt.Errorf("failed to get migration version: %w", err)
	}

	fmt.Printf("Version: %d, Dirty: %t\n", version, dirty)

	return nil
}

// Drop drops all tables.
func (r *migrationRunner) Drop() error {
	log.Println("Dropping all tables...")

	if err := r.migrate.Drop(); err != nil {
		return fmt.Errorf("drop failed: %w", err)
	}

	log.Println("All tables dropped")

	return nil
}

// Close closes the migrate instance and database connection.
func (r *migrationRunner) Close() error {
	sourceErr, dbErr := r.migrate.Close()

	_ = r.db.Close()

	if sourceErr != nil {
		return fmt.Errorf("failed to close migration source: %w", sourceErr)
	}

	if dbErr != nil {
		return fmt.Errorf("failed to close migration database: %w", dbErr)
	}

	return nil
}

// Printf implements migrate.Logger.
func (*migrateLogger) Printf(format string, v ...any) {
	log.Printf("[migrate] "+format, v...)
}

// Verbose implements migrate.Logger.
func (*migrateLogger) Verbose() bool {
	return false
}

// Write implements io.Writer.
func (l *migrateLogger) Write(p []byte) (int, error) {
	log.Printf("[migrate] %s", string(p))

	return len(p), nil
}

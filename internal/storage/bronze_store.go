// Package storage provides the persistent backends for the bronze layer:
// a pooled SQL connection, the append-only record store, and the load
// attempt audit store. PostgreSQL is the production backend; an embedded
// SQLite backend serves local development.
package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"

	"github.com/lib/pq"

	"github.com/bronzeline-io/bronzeline/internal/canonical"
	"github.com/bronzeline-io/bronzeline/internal/config"
	"github.com/bronzeline-io/bronzeline/internal/pipeline"
)

// ErrBronzeStoreFailed is returned when a record storage operation fails for
// a reason other than duplication or lost connectivity.
var ErrBronzeStoreFailed = errors.New("bronze record storage failed")

// Compile-time interface assertion: BronzeStore satisfies the loader ports.
var _ pipeline.BronzeStore = (*BronzeStore)(nil)

// uniqueViolation is the PostgreSQL error code for unique constraint violations.
const uniqueViolation = "23505"

// BronzeStore is the append-only record store backed by PostgreSQL or SQLite.
// Records are inserted once and never updated or deleted; record_hash carries
// a uniqueness constraint so concurrent runs cannot double-insert.
type BronzeStore struct {
	conn   *Connection
	table  string
	logger *slog.Logger
}

// NewBronzeStore creates a record store over an established connection.
// On the SQLite backend the schema is bootstrapped in-place, since the
// migration runner only targets PostgreSQL.
func NewBronzeStore(conn *Connection) (*BronzeStore, error) {
	s := &BronzeStore{
		conn:  conn,
		table: "bronze.retail_raw",
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}

	if conn.Driver() == DriverSQLite {
		s.table = "bronze_retail_raw"

		if err := s.ensureSQLiteSchema(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// ExistingHashes returns the set of content hashes already present in the
// store. Read once per run, before any writes.
func (s *BronzeStore) ExistingHashes(ctx context.Context) (map[string]struct{}, error) {
	query := "SELECT record_hash FROM " + s.table

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, s.translateError(err, "hash snapshot")
	}

	defer func() {
		_ = rows.Close()
	}()

	hashes := make(map[string]struct{})

	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("%w: scan hash: %w", ErrBronzeStoreFailed, err)
		}

		hashes[hash] = struct{}{}
	}

	if err := rows.Err(); err != nil {
		return nil, s.translateError(err, "hash snapshot")
	}

	return hashes, nil
}

// WriteRecords inserts a chunk of records inside one transaction.
// All-or-nothing: any insert failure rolls the chunk back, and the caller is
// expected to retry the chunk row by row via WriteRecord.
func (s *BronzeStore) WriteRecords(ctx context.Context, records []canonical.Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return s.translateError(err, "begin bulk write")
	}

	defer func() {
		_ = tx.Rollback() // Safe to call even after commit
	}()

	stmt, err := tx.PrepareContext(ctx, s.insertQuery())
	if err != nil {
		return s.translateError(err, "prepare bulk write")
	}

	defer func() {
		_ = stmt.Close()
	}()

	for i := range records {
		if _, err := stmt.ExecContext(ctx, s.insertArgs(&records[i])...); err != nil {
			return s.translateError(err, "bulk write")
		}
	}

	if err := tx.Commit(); err != nil {
		return s.translateError(err, "commit bulk write")
	}

	s.logger.Debug("bulk write committed", slog.Int("records", len(records)))

	return nil
}

// WriteRecord inserts a single record, used for row-level fallback within a
// failing chunk.
func (s *BronzeStore) WriteRecord(ctx context.Context, record canonical.Record) error {
	if _, err := s.conn.ExecContext(ctx, s.insertQuery(), s.insertArgs(&record)...); err != nil {
		return s.translateError(err, "row write")
	}

	return nil
}

func (s *BronzeStore) insertQuery() string {
	return `
		INSERT INTO ` + s.table + ` (
			invoice, stock_code, description, quantity, invoice_date,
			unit_price, customer_id, country,
			load_timestamp, source_file, source_system, batch_id,
			record_hash, load_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
}

// insertArgs maps a record onto the insert placeholders. Empty source values
// are stored as SQL NULL to keep downstream null-profiling honest.
func (s *BronzeStore) insertArgs(record *canonical.Record) []any {
	source := record.SourceFieldValues()
	args := make([]any, 0, len(source)+6)

	for _, value := range source {
		args = append(args, nullable(value))
	}

	return append(args,
		record.IngestionTime,
		record.SourceFile,
		record.SourceSystem,
		record.BatchID,
		record.ContentHash,
		record.LoadID,
	)
}

// translateError maps backend errors onto the loader port taxonomy.
func (s *BronzeStore) translateError(err error, operation string) error {
	switch {
	case isUniqueViolation(err):
		return fmt.Errorf("%w: %s", pipeline.ErrDuplicateRecord, operation)
	case isConnectionError(err):
		return fmt.Errorf("%w: %s: %w", pipeline.ErrStoreUnavailable, operation, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrBronzeStoreFailed, operation, err)
	}
}

// sqliteSchema bootstraps the local development tables. Column names must
// stay aligned with the PostgreSQL migration so insertQuery serves both
// backends.
const sqliteSchema = `
		CREATE TABLE IF NOT EXISTS bronze_retail_raw (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			invoice TEXT, stock_code TEXT, description TEXT,
			quantity TEXT, invoice_date TEXT, unit_price TEXT,
			customer_id TEXT, country TEXT,
			load_timestamp TIMESTAMP NOT NULL,
			source_file TEXT NOT NULL,
			source_system TEXT NOT NULL DEFAULT 'UCI_ML_REPO',
			batch_id TEXT NOT NULL,
			record_hash TEXT NOT NULL UNIQUE,
			load_id TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS bronze_load_metadata (
			load_id TEXT PRIMARY KEY,
			source_name TEXT NOT NULL,
			file_path TEXT NOT NULL,
			load_start_time TIMESTAMP NOT NULL,
			load_end_time TIMESTAMP,
			load_status TEXT NOT NULL,
			records_loaded INTEGER NOT NULL DEFAULT 0,
			records_failed INTEGER NOT NULL DEFAULT 0,
			error_message TEXT
		);
	`

// ensureSQLiteSchema creates the local development tables if absent.
func (s *BronzeStore) ensureSQLiteSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if _, err := s.conn.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("%w: sqlite schema bootstrap: %w", ErrBronzeStoreFailed, err)
	}

	return nil
}

// nullable maps the empty-string null marker onto SQL NULL.
func nullable(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}

// isUniqueViolation checks for the record_hash uniqueness constraint on
// either backend.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}

	// The SQLite driver exposes no typed error for constraint violations.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// isConnectionError checks if an error indicates database connection failure.
// Uses PostgreSQL error codes (Class 08 = Connection Exception) and standard
// database/sql errors for robust detection.
func isConnectionError(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return strings.HasPrefix(string(pqErr.Code), "08")
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, ErrConnectionFailed)
}

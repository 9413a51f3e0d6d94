package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/bronzeline-io/bronzeline/internal/config"
	"github.com/bronzeline-io/bronzeline/internal/pipeline"
)

// Sentinel errors for load attempt audit operations.
var (
	// ErrAttemptStoreFailed is returned when an audit storage operation fails.
	ErrAttemptStoreFailed = errors.New("load attempt storage failed")

	// ErrAttemptNotFound is returned when finalizing an attempt that was
	// never created.
	ErrAttemptNotFound = errors.New("load attempt not found")

	// ErrAttemptAlreadyFinal is returned when finalizing an attempt that has
	// already reached a terminal status. Terminal statuses are immutable.
	ErrAttemptAlreadyFinal = errors.New("load attempt already finalized")
)

// Compile-time interface assertion.
var _ pipeline.AttemptStore = (*AttemptStore)(nil)

// AttemptStore persists the load attempt audit trail. Attempts are created
// in STARTED and updated exactly once to a terminal status; the terminal
// update is guarded in SQL so a stale writer can never overwrite a final row.
type AttemptStore struct {
	conn   *Connection
	table  string
	logger *slog.Logger
}

// NewAttemptStore creates an audit store over an established connection.
func NewAttemptStore(conn *Connection) *AttemptStore {
	table := "bronze.load_metadata"
	if conn.Driver() == DriverSQLite {
		table = "bronze_load_metadata"
	}

	return &AttemptStore{
		conn:  conn,
		table: table,
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
		})),
	}
}

// CreateAttempt persists a new attempt in STARTED status.
func (s *AttemptStore) CreateAttempt(ctx context.Context, attempt *pipeline.LoadAttempt) error {
	if attempt == nil {
		return fmt.Errorf("%w: attempt is nil", ErrAttemptStoreFailed)
	}

	query := `
		INSERT INTO ` + s.table + ` (
			load_id, source_name, file_path, load_start_time, load_status,
			records_loaded, records_failed
		) VALUES ($1, $2, $3, $4, $5, 0, 0)
	`

	_, err := s.conn.ExecContext(ctx, query,
		attempt.LoadID,
		attempt.SourceName,
		attempt.FilePath,
		attempt.StartTime,
		attempt.Status.String(),
	)
	if err != nil {
		if isConnectionError(err) {
			return fmt.Errorf("%w: create attempt: %w", pipeline.ErrStoreUnavailable, err)
		}

		return fmt.Errorf("%w: create attempt: %w", ErrAttemptStoreFailed, err)
	}

	s.logger.Info("load attempt created",
		slog.String("load_id", attempt.LoadID),
		slog.String("source_name", attempt.SourceName),
	)

	return nil
}

// FinalizeAttempt records the single terminal update for an attempt. The
// target status is checked against the lifecycle state machine before any
// SQL runs; the WHERE clause then only matches rows still in STARTED, so a
// concurrent finalize of an already terminal attempt affects zero rows and
// is rejected.
func (s *AttemptStore) FinalizeAttempt(ctx context.Context, attempt *pipeline.LoadAttempt) error {
	if attempt == nil {
		return fmt.Errorf("%w: attempt is nil", ErrAttemptStoreFailed)
	}

	if err := pipeline.ValidateTransition(pipeline.StatusStarted, attempt.Status); err != nil {
		return fmt.Errorf("%w: finalize attempt: %w", ErrAttemptStoreFailed, err)
	}

	query := `
		UPDATE ` + s.table + `
		SET load_end_time = $1,
		    load_status = $2,
		    records_loaded = $3,
		    records_failed = $4,
		    error_message = $5
		WHERE load_id = $6 AND load_status = $7
	`

	result, err := s.conn.ExecContext(ctx, query,
		attempt.EndTime,
		attempt.Status.String(),
		attempt.RecordsLoaded,
		attempt.RecordsFailed,
		nullable(attempt.ErrorMessage),
		attempt.LoadID,
		pipeline.StatusStarted.String(),
	)
	if err != nil {
		if isConnectionError(err) {
			return fmt.Errorf("%w: finalize attempt: %w", pipeline.ErrStoreUnavailable, err)
		}

		return fmt.Errorf("%w: finalize attempt: %w", ErrAttemptStoreFailed, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: finalize attempt: %w", ErrAttemptStoreFailed, err)
	}

	if affected == 0 {
		return s.classifyFinalizeMiss(ctx, attempt.LoadID)
	}

	s.logger.Info("load attempt finalized",
		slog.String("load_id", attempt.LoadID),
		slog.String("status", attempt.Status.String()),
		slog.Int("records_loaded", attempt.RecordsLoaded),
		slog.Int("records_failed", attempt.RecordsFailed),
	)

	return nil
}

// GetAttempt retrieves one attempt by load ID, used by the CLI status command
// and tests.
func (s *AttemptStore) GetAttempt(ctx context.Context, loadID string) (*pipeline.LoadAttempt, error) {
	query := `
		SELECT load_id, source_name, file_path, load_start_time, load_end_time,
		       load_status, records_loaded, records_failed, error_message
		FROM ` + s.table + `
		WHERE load_id = $1
	`

	var (
		attempt  pipeline.LoadAttempt
		status   string
		endTime  sql.NullTime
		errorMsg sql.NullString
	)

	err := s.conn.QueryRowContext(ctx, query, loadID).Scan(
		&attempt.LoadID,
		&attempt.SourceName,
		&attempt.FilePath,
		&attempt.StartTime,
		&endTime,
		&status,
		&attempt.RecordsLoaded,
		&attempt.RecordsFailed,
		&errorMsg,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrAttemptNotFound, loadID)
		}

		return nil, fmt.Errorf("%w: get attempt: %w", ErrAttemptStoreFailed, err)
	}

	attempt.Status = pipeline.Status(status)
	if endTime.Valid {
		end := endTime.Time
		attempt.EndTime = &end
	}

	attempt.ErrorMessage = errorMsg.String

	return &attempt, nil
}

// StatusTotals returns the count of attempts per terminal status within the
// audit table, used for operational reporting.
func (s *AttemptStore) StatusTotals(ctx context.Context) (map[pipeline.Status]int, error) {
	query := `
		SELECT load_status, COUNT(*)
		FROM ` + s.table + `
		GROUP BY load_status
	`

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: status totals: %w", ErrAttemptStoreFailed, err)
	}

	defer func() {
		_ = rows.Close()
	}()

	totals := make(map[pipeline.Status]int)

	for rows.Next() {
		var (
			status string
			count  int
		)

		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("%w: status totals: %w", ErrAttemptStoreFailed, err)
		}

		totals[pipeline.Status(status)] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: status totals: %w", ErrAttemptStoreFailed, err)
	}

	return totals, nil
}

// classifyFinalizeMiss distinguishes a missing attempt from one already in a
// terminal status after a zero-row finalize update.
func (s *AttemptStore) classifyFinalizeMiss(ctx context.Context, loadID string) error {
	var status string

	query := "SELECT load_status FROM " + s.table + " WHERE load_id = $1"

	err := s.conn.QueryRowContext(ctx, query, loadID).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s", ErrAttemptNotFound, loadID)
		}

		return fmt.Errorf("%w: finalize attempt: %w", ErrAttemptStoreFailed, err)
	}

	return fmt.Errorf("%w: %s is %s", ErrAttemptAlreadyFinal, loadID, status)
}

// Touch is a cheap connectivity probe used by readiness checks.
func (s *AttemptStore) Touch(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return s.conn.HealthCheck(ctx)
}

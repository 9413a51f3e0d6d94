package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"

	"github.com/bronzeline-io/bronzeline/internal/canonical"
	"github.com/bronzeline-io/bronzeline/internal/config"
	"github.com/bronzeline-io/bronzeline/internal/pipeline"
)

// setupStores provisions a migrated PostgreSQL container and opens the record
// and audit stores over one pooled connection.
func setupStores(ctx context.Context, t *testing.T) (*BronzeStore, *AttemptStore) {
	t.Helper()

	testDB := config.SetupTestDatabase(ctx, t)
	t.Cleanup(func() {
		_ = testDB.Connection.Close()
		_ = testcontainers.TerminateContainer(testDB.Container)
	})

	conn, err := NewConnection(NewConfig(testDB.URL))
	require.NoError(t, err, "Failed to open storage connection")
	t.Cleanup(func() {
		_ = conn.Close()
	})

	bronze, err := NewBronzeStore(conn)
	require.NoError(t, err, "Failed to create bronze store")

	return bronze, NewAttemptStore(conn)
}

func TestBronzeStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	bronze, attempts := setupStores(ctx, t)

	attempt := pipeline.NewLoadAttempt("online_retail", "/data/retail.csv",
		time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, attempts.CreateAttempt(ctx, attempt), "Failed to create attempt")

	t.Run("bulk write and snapshot round-trip", func(t *testing.T) {
		records := []canonical.Record{testRecord("hash-bulk-1"), testRecord("hash-bulk-2")}
		for i := range records {
			records[i].LoadID = attempt.LoadID
		}

		require.NoError(t, bronze.WriteRecords(ctx, records))

		hashes, err := bronze.ExistingHashes(ctx)
		require.NoError(t, err)

		assert.Contains(t, hashes, "hash-bulk-1")
		assert.Contains(t, hashes, "hash-bulk-2")
	})

	t.Run("duplicate hash maps to port error", func(t *testing.T) {
		record := testRecord("hash-dup")
		record.LoadID = attempt.LoadID

		require.NoError(t, bronze.WriteRecord(ctx, record))

		err := bronze.WriteRecord(ctx, record)
		require.ErrorIs(t, err, pipeline.ErrDuplicateRecord)
	})

	t.Run("bulk chunk rolls back atomically", func(t *testing.T) {
		fresh := testRecord("hash-atomic-new")
		fresh.LoadID = attempt.LoadID
		dup := testRecord("hash-dup") // already written above
		dup.LoadID = attempt.LoadID

		err := bronze.WriteRecords(ctx, []canonical.Record{fresh, dup})
		require.Error(t, err, "chunk with a duplicate must fail")

		hashes, err := bronze.ExistingHashes(ctx)
		require.NoError(t, err)
		assert.NotContains(t, hashes, "hash-atomic-new", "failed chunk must not persist partial rows")
	})

	t.Run("empty source values are stored as NULL", func(t *testing.T) {
		record := testRecord("hash-nulls")
		record.LoadID = attempt.LoadID
		record.CustomerID = ""
		record.Description = ""

		require.NoError(t, bronze.WriteRecord(ctx, record))

		var customerID, description any
		err := bronze.conn.QueryRowContext(ctx,
			"SELECT customer_id, description FROM bronze.retail_raw WHERE record_hash = $1",
			"hash-nulls",
		).Scan(&customerID, &description)
		require.NoError(t, err)

		assert.Nil(t, customerID)
		assert.Nil(t, description)
	})
}

func TestAttemptStoreIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	_, attempts := setupStores(ctx, t)

	start := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("create finalize and read back", func(t *testing.T) {
		attempt := pipeline.NewLoadAttempt("online_retail", "/data/retail.csv", start)
		require.NoError(t, attempts.CreateAttempt(ctx, attempt))

		end := start.Add(30 * time.Second)
		attempt.EndTime = &end
		attempt.Status = pipeline.StatusCompletedWithErrors
		attempt.RecordsLoaded = 98
		attempt.RecordsFailed = 2
		attempt.ErrorMessage = "2 records failed to load"

		require.NoError(t, attempts.FinalizeAttempt(ctx, attempt))

		stored, err := attempts.GetAttempt(ctx, attempt.LoadID)
		require.NoError(t, err)

		assert.Equal(t, pipeline.StatusCompletedWithErrors, stored.Status)
		assert.Equal(t, 98, stored.RecordsLoaded)
		assert.Equal(t, 2, stored.RecordsFailed)
		assert.Equal(t, "2 records failed to load", stored.ErrorMessage)
		require.NotNil(t, stored.EndTime)
	})

	t.Run("terminal status is immutable in SQL", func(t *testing.T) {
		attempt := pipeline.NewLoadAttempt("online_retail", "/data/retail.csv", start)
		require.NoError(t, attempts.CreateAttempt(ctx, attempt))

		end := start.Add(time.Second)
		attempt.EndTime = &end
		attempt.Status = pipeline.StatusFailed
		require.NoError(t, attempts.FinalizeAttempt(ctx, attempt))

		attempt.Status = pipeline.StatusCompleted
		err := attempts.FinalizeAttempt(ctx, attempt)
		require.ErrorIs(t, err, ErrAttemptAlreadyFinal)

		stored, err := attempts.GetAttempt(ctx, attempt.LoadID)
		require.NoError(t, err)
		assert.Equal(t, pipeline.StatusFailed, stored.Status, "terminal status must not change")
	})

	t.Run("finalize rejects a non-terminal status", func(t *testing.T) {
		attempt := pipeline.NewLoadAttempt("online_retail", "/data/retail.csv", start)
		require.NoError(t, attempts.CreateAttempt(ctx, attempt))

		err := attempts.FinalizeAttempt(ctx, attempt) // still STARTED
		require.ErrorIs(t, err, pipeline.ErrNotTerminal)
	})

	t.Run("finalize unknown attempt", func(t *testing.T) {
		attempt := pipeline.NewLoadAttempt("online_retail", "/data/retail.csv", start)
		end := start.Add(time.Second)
		attempt.EndTime = &end
		attempt.Status = pipeline.StatusCompleted

		err := attempts.FinalizeAttempt(ctx, attempt)
		require.ErrorIs(t, err, ErrAttemptNotFound)
	})

	t.Run("status totals", func(t *testing.T) {
		totals, err := attempts.StatusTotals(ctx)
		require.NoError(t, err)

		var finished int
		for status, count := range totals {
			require.True(t, status.IsValid(), "unknown status %q in audit table", status)
			finished += count
		}

		assert.Positive(t, finished)
	})
}

func TestSQLiteBackend(t *testing.T) {
	ctx := t.Context()

	conn, err := NewConnection(NewConfig("file:" + t.TempDir() + "/bronze.db"))
	require.NoError(t, err, "Failed to open sqlite connection")
	t.Cleanup(func() {
		_ = conn.Close()
	})

	bronze, err := NewBronzeStore(conn)
	require.NoError(t, err, "Failed to bootstrap sqlite schema")

	attempts := NewAttemptStore(conn)

	attempt := pipeline.NewLoadAttempt("online_retail", "/data/retail.csv",
		time.Now().UTC().Truncate(time.Second))
	require.NoError(t, attempts.CreateAttempt(ctx, attempt))

	record := testRecord("sqlite-hash-1")
	record.LoadID = attempt.LoadID
	require.NoError(t, bronze.WriteRecord(ctx, record))

	err = bronze.WriteRecord(ctx, record)
	require.ErrorIs(t, err, pipeline.ErrDuplicateRecord, "sqlite unique violation must map to port error")

	hashes, err := bronze.ExistingHashes(ctx)
	require.NoError(t, err)
	assert.Contains(t, hashes, "sqlite-hash-1")

	end := time.Now().UTC()
	attempt.EndTime = &end
	attempt.Status = pipeline.StatusCompleted
	attempt.RecordsLoaded = 1
	require.NoError(t, attempts.FinalizeAttempt(ctx, attempt))

	stored, err := attempts.GetAttempt(ctx, attempt.LoadID)
	require.NoError(t, err)
	assert.Equal(t, pipeline.StatusCompleted, stored.Status)
}

// Package pipeline provides the bronze ingestion domain models, the
// load-attempt state machine, validation gating, and the run orchestrator.
//
// This package defines the storage ports (HashReader, RecordWriter,
// AttemptStore) which represent what the domain needs for persistence,
// following the Dependency Inversion Principle. Concrete implementations
// (PostgreSQL, SQLite, in-memory) live in the internal/storage package.
package pipeline

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Sentinel errors forming the run-level failure taxonomy. Everything below a
// pipeline invocation (row and chunk failures) is recovered locally with
// counts; only these surface to the caller.
var (
	// ErrValidationBlocked is returned when blocking validation issues abort the run.
	ErrValidationBlocked = errors.New("validation failed with blocking issues")

	// ErrMetadataPersistence is returned when the load attempt audit record
	// cannot be created or finalized. Always fatal: a silent audit gap is
	// unacceptable.
	ErrMetadataPersistence = errors.New("load attempt persistence failed")

	// ErrDuplicateRecord is returned by RecordWriter implementations when a
	// write hits the record_hash uniqueness constraint. The dedup loader
	// counts it as a skipped duplicate rather than a failure; this is the
	// backstop for hashes inserted by a concurrent run after the snapshot.
	ErrDuplicateRecord = errors.New("record already exists")

	// ErrStoreUnavailable is returned by storage implementations when the
	// backend is unreachable (connection failure, timeout). Recovered per
	// row/chunk unless it recurs across every chunk.
	ErrStoreUnavailable = errors.New("bronze store unavailable")
)

// batchIDSuffixLen is the number of UUID characters appended to a batch ID.
const batchIDSuffixLen = 8

type (
	// LoadAttempt is the audit entity for one pipeline execution. Created once
	// in StatusStarted, mutated exactly once to a terminal status by the load
	// tracker, never deleted.
	LoadAttempt struct {
		LoadID        string
		SourceName    string
		FilePath      string
		StartTime     time.Time
		EndTime       *time.Time
		Status        Status
		RecordsLoaded int
		RecordsFailed int
		ErrorMessage  string
	}

	// Summary is the result of one pipeline invocation.
	Summary struct {
		Status           Status
		LoadID           string
		BatchID          string
		SourceFile       string
		RecordsProcessed int
		RecordsLoaded    int
		RecordsFailed    int
		SkippedDuplicate int
		Duration         time.Duration
		Issues           []string
		Warnings         []string
		ErrorMessage     string
	}

	// LoadResult aggregates the dedup loader counts for one run. The invariant
	// Loaded + Failed + SkippedDuplicate == records presented always holds.
	LoadResult struct {
		Loaded           int
		Failed           int
		SkippedDuplicate int
	}
)

// NewLoadAttempt creates a load attempt in StatusStarted with a fresh load ID.
func NewLoadAttempt(sourceName, filePath string, startTime time.Time) *LoadAttempt {
	return &LoadAttempt{
		LoadID:     uuid.NewString(),
		SourceName: sourceName,
		FilePath:   filePath,
		StartTime:  startTime,
		Status:     StatusStarted,
	}
}

// NewBatchID generates a batch identifier for one ingestion run.
//
// Format: BATCH_YYYYMMDD_HHMMSS_<8 uuid chars>, human-sortable by start time.
func NewBatchID(now time.Time) string {
	return "BATCH_" + now.Format("20060102_150405") + "_" + uuid.NewString()[:batchIDSuffixLen]
}

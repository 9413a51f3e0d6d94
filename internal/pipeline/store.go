package pipeline

import (
	"context"
	"time"

	"github.com/bronzeline-io/bronzeline/internal/canonical"
)

type (
	// HashReader is the narrow read port used by the dedup loader to snapshot
	// the content hashes already present in the bronze store.
	//
	// The snapshot is read once, before any writes, and never refreshed
	// mid-run. A full read is acceptable because the store is append-only and
	// hashes are short.
	HashReader interface {
		ExistingHashes(ctx context.Context) (map[string]struct{}, error)
	}

	// RecordWriter is the narrow write port used by the dedup loader.
	//
	// Implementations translate backend errors into the port taxonomy:
	// uniqueness violations on record_hash become ErrDuplicateRecord,
	// connectivity failures become ErrStoreUnavailable. All calls carry a
	// bounded timeout via ctx.
	RecordWriter interface {
		// WriteRecords performs one bulk write of a chunk. All-or-nothing:
		// on error the chunk is retried row by row via WriteRecord.
		WriteRecords(ctx context.Context, records []canonical.Record) error

		// WriteRecord writes a single record, used for row-level fallback
		// within a failing chunk.
		WriteRecord(ctx context.Context, record canonical.Record) error
	}

	// BronzeStore combines the two loader ports. The dedup loader is the sole
	// writer of the bronze store; records are never updated or deleted.
	BronzeStore interface {
		HashReader
		RecordWriter
	}

	// AttemptStore persists the load attempt audit trail. Owned exclusively
	// by the load tracker; attempts are append-only (created once, finalized
	// once, never deleted).
	AttemptStore interface {
		// CreateAttempt persists a new attempt in StatusStarted.
		CreateAttempt(ctx context.Context, attempt *LoadAttempt) error

		// FinalizeAttempt persists the single terminal update: end time,
		// status, counts, and error message. Implementations must reject
		// updates to attempts already in a terminal status.
		FinalizeAttempt(ctx context.Context, attempt *LoadAttempt) error
	}

	// Loader is the dedup load stage as seen by the orchestrator.
	// Implemented by load.DedupLoader.
	Loader interface {
		// Load deduplicates and writes the records, returning per-run counts.
		// A non-nil error means the run must finalize FAILED (cancellation or
		// backend-wide unavailability); row and chunk failures are absorbed
		// into the counts instead.
		Load(ctx context.Context, records []canonical.Record) (LoadResult, error)
	}

	// AttemptEvent is the lifecycle notification published when a load
	// attempt starts or reaches a terminal status.
	AttemptEvent struct {
		LoadID           string    `json:"load_id"`
		BatchID          string    `json:"batch_id"`
		SourceFile       string    `json:"source_file"`
		Status           Status    `json:"status"`
		RecordsLoaded    int       `json:"records_loaded"`
		RecordsFailed    int       `json:"records_failed"`
		SkippedDuplicate int       `json:"skipped_duplicate"`
		Timestamp        time.Time `json:"timestamp"`
	}

	// EventPublisher publishes attempt lifecycle events for downstream
	// monitoring. Publishing is best effort: the orchestrator logs publish
	// errors and continues, it never fails a run over them.
	EventPublisher interface {
		Publish(ctx context.Context, event AttemptEvent) error
	}
)

// NoopPublisher discards lifecycle events. Used when no event transport is
// configured.
type NoopPublisher struct{}

// Publish implements EventPublisher.
func (NoopPublisher) Publish(_ context.Context, _ AttemptEvent) error {
	return nil
}

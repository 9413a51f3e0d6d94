// Package load implements the deduplicating bulk loader for the bronze store.
//
// The loader snapshots the store's existing content hashes once per run,
// partitions the incoming records into fresh and duplicate sets, and writes
// the fresh set in bounded-parallel chunks. A failing chunk degrades to
// rate-limited row-by-row writes so one bad record never discards its
// chunk-mates.
package load

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bronzeline-io/bronzeline/internal/canonical"
	"github.com/bronzeline-io/bronzeline/internal/pipeline"
)

const (
	// defaultChunkSize balances transaction size against fallback cost: a
	// failing chunk is retried row by row, so oversized chunks make isolated
	// bad rows expensive.
	defaultChunkSize = 10000

	// defaultParallelChunks bounds concurrent bulk writes against the store.
	defaultParallelChunks = 4

	// defaultFallbackRate caps row-by-row fallback writes per second, keeping
	// a degraded chunk from hammering a store that may already be struggling.
	defaultFallbackRate = 200
)

type (
	// DedupLoader writes canonical records to a bronze store, skipping
	// records whose content hash is already present. Safe for concurrent use
	// across distinct Load calls; a single Load manages its own parallelism.
	DedupLoader struct {
		store     pipeline.BronzeStore
		chunkSize int
		parallel  int
		limiter   *rate.Limiter
		logger    *slog.Logger
	}

	// Option configures optional DedupLoader behavior.
	Option func(*DedupLoader)
)

// WithChunkSize sets the bulk write chunk size. Values below 1 are ignored.
func WithChunkSize(size int) Option {
	return func(l *DedupLoader) {
		if size > 0 {
			l.chunkSize = size
		}
	}
}

// WithParallelChunks sets the number of chunks written concurrently.
// Values below 1 are ignored.
func WithParallelChunks(n int) Option {
	return func(l *DedupLoader) {
		if n > 0 {
			l.parallel = n
		}
	}
}

// WithFallbackRate sets the row-by-row fallback write rate in rows per second.
func WithFallbackRate(rowsPerSecond float64) Option {
	return func(l *DedupLoader) {
		if rowsPerSecond > 0 {
			l.limiter = rate.NewLimiter(rate.Limit(rowsPerSecond), 1)
		}
	}
}

// New creates a DedupLoader over the given store. A nil logger falls back to
// slog.Default().
func New(store pipeline.BronzeStore, logger *slog.Logger, opts ...Option) *DedupLoader {
	if logger == nil {
		logger = slog.Default()
	}

	l := &DedupLoader{
		store:     store,
		chunkSize: defaultChunkSize,
		parallel:  defaultParallelChunks,
		limiter:   rate.NewLimiter(rate.Limit(defaultFallbackRate), 1),
		logger:    logger,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Load deduplicates and writes records, returning per-run counts. The counts
// always satisfy Loaded + Failed + SkippedDuplicate == len(records).
//
// A non-nil error is fatal for the run: the hash snapshot failed, the context
// was cancelled, or every chunk found the store unavailable. Individual row
// and chunk failures are absorbed into the Failed count instead.
func (l *DedupLoader) Load(ctx context.Context, records []canonical.Record) (pipeline.LoadResult, error) {
	if len(records) == 0 {
		return pipeline.LoadResult{}, nil
	}

	existing, err := l.store.ExistingHashes(ctx)
	if err != nil {
		return pipeline.LoadResult{Failed: len(records)},
			fmt.Errorf("hash snapshot failed: %w", err)
	}

	fresh, skippedSnapshot := partition(records, existing)

	l.logger.Info("dedup partition complete",
		slog.Int("records", len(records)),
		slog.Int("fresh", len(fresh)),
		slog.Int("skipped_duplicate", skippedSnapshot),
	)

	var (
		loaded      atomic.Int64
		skippedRace atomic.Int64
		unavailable atomic.Int64
	)

	chunks := chunk(fresh, l.chunkSize)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(l.parallel)

	for i, c := range chunks {
		group.Go(func() error {
			// Cancellation is honored at chunk boundaries; an in-flight
			// chunk finishes or fails on its own writes.
			if err := groupCtx.Err(); err != nil {
				return err
			}

			chunkLoaded, chunkSkipped, chunkUnavailable := l.writeChunk(groupCtx, i, c)
			loaded.Add(int64(chunkLoaded))
			skippedRace.Add(int64(chunkSkipped))

			if chunkUnavailable {
				unavailable.Add(1)
			}

			return nil
		})
	}

	groupErr := group.Wait()

	skipped := skippedSnapshot + int(skippedRace.Load())
	result := pipeline.LoadResult{
		Loaded:           int(loaded.Load()),
		SkippedDuplicate: skipped,
	}
	// Failed is derived so the count invariant holds even when cancellation
	// leaves chunks unprocessed.
	result.Failed = len(records) - result.Loaded - result.SkippedDuplicate

	if groupErr != nil {
		return result, fmt.Errorf("load cancelled: %w", groupErr)
	}

	// An isolated unavailable chunk is a transient blip worth absorbing;
	// every chunk unavailable means the store is down for good.
	if n := int(unavailable.Load()); len(chunks) > 0 && n == len(chunks) {
		return result, fmt.Errorf("all %d chunks failed: %w", n, pipeline.ErrStoreUnavailable)
	}

	return result, nil
}

// writeChunk attempts one bulk write, degrading to rate-limited row-by-row
// writes on failure. Returns the loaded and skipped counts for the chunk and
// whether the whole chunk failed on store unavailability.
func (l *DedupLoader) writeChunk(
	ctx context.Context,
	index int,
	records []canonical.Record,
) (loaded, skipped int, chunkUnavailable bool) {
	bulkErr := l.store.WriteRecords(ctx, records)
	if bulkErr == nil {
		return len(records), 0, false
	}

	l.logger.Warn("bulk write failed, falling back to row-by-row",
		slog.Int("chunk", index),
		slog.Int("chunk_size", len(records)),
		slog.String("error", bulkErr.Error()),
	)

	allUnavailable := true

	for _, record := range records {
		if err := l.limiter.Wait(ctx); err != nil {
			// Cancelled mid-fallback: remaining rows count as failed.
			return loaded, skipped, false
		}

		err := l.store.WriteRecord(ctx, record)

		switch {
		case err == nil:
			loaded++
			allUnavailable = false
		case errors.Is(err, pipeline.ErrDuplicateRecord):
			// Another run inserted this hash after our snapshot.
			skipped++
			allUnavailable = false
		case errors.Is(err, pipeline.ErrStoreUnavailable):
			l.logger.Error("row write failed: store unavailable",
				slog.Int("chunk", index),
				slog.String("record_hash", record.ContentHash),
			)
		default:
			allUnavailable = false

			l.logger.Error("row write failed",
				slog.Int("chunk", index),
				slog.String("record_hash", record.ContentHash),
				slog.String("error", err.Error()),
			)
		}
	}

	return loaded, skipped, allUnavailable && len(records) > 0
}

// partition splits records into fresh ones and duplicates of the existing
// hash set. Repeated hashes within the input itself also count as duplicates;
// the first occurrence wins.
func partition(
	records []canonical.Record,
	existing map[string]struct{},
) (fresh []canonical.Record, skipped int) {
	seen := make(map[string]struct{}, len(records))

	for _, record := range records {
		if _, ok := existing[record.ContentHash]; ok {
			skipped++

			continue
		}

		if _, ok := seen[record.ContentHash]; ok {
			skipped++

			continue
		}

		seen[record.ContentHash] = struct{}{}
		fresh = append(fresh, record)
	}

	return fresh, skipped
}

// chunk splits records into slices of at most size records each.
func chunk(records []canonical.Record, size int) [][]canonical.Record {
	if len(records) == 0 {
		return nil
	}

	chunks := make([][]canonical.Record, 0, (len(records)+size-1)/size)

	for start := 0; start < len(records); start += size {
		end := min(start+size, len(records))
		chunks = append(chunks, records[start:end])
	}

	return chunks
}

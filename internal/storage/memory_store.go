package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bronzeline-io/bronzeline/internal/canonical"
	"github.com/bronzeline-io/bronzeline/internal/pipeline"
)

// Compile-time interface assertions.
var (
	_ pipeline.BronzeStore  = (*MemoryBronzeStore)(nil)
	_ pipeline.AttemptStore = (*MemoryAttemptStore)(nil)
)

// MemoryBronzeStore is an in-memory record store for tests and local
// experiments. Thread-safe. Supports failure injection so loader recovery
// paths can be exercised without a real backend.
type MemoryBronzeStore struct {
	mu      sync.RWMutex
	records map[string]canonical.Record // keyed by content hash

	// Failure injection knobs.
	failBulk     bool                        // every bulk write fails
	failHashes   error                       // returned by ExistingHashes
	failByHash   map[string]error            // per-record write failures
	bulkAttempts int                         // number of WriteRecords calls observed
	writeLog     []string                    // hashes in row-write order
}

// NewMemoryBronzeStore creates an empty in-memory record store.
func NewMemoryBronzeStore() *MemoryBronzeStore {
	return &MemoryBronzeStore{
		records:    make(map[string]canonical.Record),
		failByHash: make(map[string]error),
	}
}

// FailBulkWrites makes every WriteRecords call fail, forcing row fallback.
func (s *MemoryBronzeStore) FailBulkWrites() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failBulk = true
}

// FailHashSnapshot makes ExistingHashes return err.
func (s *MemoryBronzeStore) FailHashSnapshot(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failHashes = err
}

// FailRecord makes writes of the record with the given content hash fail
// with err, on both the bulk and row paths.
func (s *MemoryBronzeStore) FailRecord(hash string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failByHash[hash] = err
}

// ExistingHashes implements pipeline.HashReader.
func (s *MemoryBronzeStore) ExistingHashes(_ context.Context) (map[string]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failHashes != nil {
		return nil, s.failHashes
	}

	hashes := make(map[string]struct{}, len(s.records))
	for hash := range s.records {
		hashes[hash] = struct{}{}
	}

	return hashes, nil
}

// WriteRecords implements pipeline.RecordWriter with all-or-nothing chunk
// semantics: a single injected failure rejects the whole chunk untouched.
func (s *MemoryBronzeStore) WriteRecords(_ context.Context, records []canonical.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bulkAttempts++

	if s.failBulk {
		return fmt.Errorf("%w: bulk write disabled", ErrBronzeStoreFailed)
	}

	for i := range records {
		if err := s.writeError(&records[i]); err != nil {
			return err
		}
	}

	for i := range records {
		s.records[records[i].ContentHash] = records[i]
	}

	return nil
}

// WriteRecord implements pipeline.RecordWriter.
func (s *MemoryBronzeStore) WriteRecord(_ context.Context, record canonical.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeLog = append(s.writeLog, record.ContentHash)

	if err := s.writeError(&record); err != nil {
		return err
	}

	s.records[record.ContentHash] = record

	return nil
}

// writeError returns the injected or duplicate error for a record, if any.
// Callers must hold the lock.
func (s *MemoryBronzeStore) writeError(record *canonical.Record) error {
	if err, ok := s.failByHash[record.ContentHash]; ok {
		return err
	}

	if _, exists := s.records[record.ContentHash]; exists {
		return fmt.Errorf("%w: %s", pipeline.ErrDuplicateRecord, record.ContentHash)
	}

	return nil
}

// Count returns the number of stored records.
func (s *MemoryBronzeStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}

// Record returns the stored record for a content hash.
func (s *MemoryBronzeStore) Record(hash string) (canonical.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[hash]

	return record, ok
}

// BulkAttempts returns the number of WriteRecords calls observed.
func (s *MemoryBronzeStore) BulkAttempts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.bulkAttempts
}

// RowWrites returns the content hashes written through the row path, in order.
func (s *MemoryBronzeStore) RowWrites() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, len(s.writeLog))
	copy(out, s.writeLog)

	return out
}

// MemoryAttemptStore is an in-memory audit store for tests. Thread-safe, and
// enforces the same terminal-status guard as the SQL implementation.
type MemoryAttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]pipeline.LoadAttempt

	failCreate   error
	failFinalize error
}

// NewMemoryAttemptStore creates an empty in-memory audit store.
func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{
		attempts: make(map[string]pipeline.LoadAttempt),
	}
}

// FailCreate makes CreateAttempt return err.
func (s *MemoryAttemptStore) FailCreate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCreate = err
}

// FailFinalize makes FinalizeAttempt return err.
func (s *MemoryAttemptStore) FailFinalize(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFinalize = err
}

// CreateAttempt implements pipeline.AttemptStore.
func (s *MemoryAttemptStore) CreateAttempt(_ context.Context, attempt *pipeline.LoadAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCreate != nil {
		return s.failCreate
	}

	if attempt == nil {
		return fmt.Errorf("%w: attempt is nil", ErrAttemptStoreFailed)
	}

	if _, exists := s.attempts[attempt.LoadID]; exists {
		return fmt.Errorf("%w: duplicate load_id %s", ErrAttemptStoreFailed, attempt.LoadID)
	}

	s.attempts[attempt.LoadID] = *attempt

	return nil
}

// FinalizeAttempt implements pipeline.AttemptStore.
func (s *MemoryAttemptStore) FinalizeAttempt(_ context.Context, attempt *pipeline.LoadAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failFinalize != nil {
		return s.failFinalize
	}

	if attempt == nil {
		return fmt.Errorf("%w: attempt is nil", ErrAttemptStoreFailed)
	}

	stored, exists := s.attempts[attempt.LoadID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrAttemptNotFound, attempt.LoadID)
	}

	if err := pipeline.ValidateTransition(stored.Status, attempt.Status); err != nil {
		if errors.Is(err, pipeline.ErrTerminalStatusImmutable) {
			return fmt.Errorf("%w: %s is %s", ErrAttemptAlreadyFinal, attempt.LoadID, stored.Status)
		}

		return fmt.Errorf("%w: finalize attempt: %w", ErrAttemptStoreFailed, err)
	}

	s.attempts[attempt.LoadID] = *attempt

	return nil
}

// Attempt returns a copy of the stored attempt for a load ID.
func (s *MemoryAttemptStore) Attempt(loadID string) (pipeline.LoadAttempt, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	attempt, ok := s.attempts[loadID]

	return attempt, ok
}

// StatusTotals returns the count of attempts per status.
func (s *MemoryAttemptStore) StatusTotals() map[pipeline.Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := make(map[pipeline.Status]int)
	for _, attempt := range s.attempts {
		totals[attempt.Status]++
	}

	return totals
}

// WaitForTerminal polls until the attempt reaches a terminal status or the
// deadline passes. Convenience for concurrency tests.
func (s *MemoryAttemptStore) WaitForTerminal(loadID string, timeout time.Duration) (pipeline.LoadAttempt, bool) {
	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if attempt, ok := s.Attempt(loadID); ok && attempt.Status.IsTerminal() {
			return attempt, true
		}

		time.Sleep(5 * time.Millisecond)
	}

	attempt, ok := s.Attempt(loadID)

	return attempt, ok && attempt.Status.IsTerminal()
}

package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bronzeline-io/bronzeline/internal/canonical"
	"github.com/bronzeline-io/bronzeline/internal/extract"
	"github.com/bronzeline-io/bronzeline/internal/load"
	"github.com/bronzeline-io/bronzeline/internal/pipeline"
	"github.com/bronzeline-io/bronzeline/internal/storage"
)

// capturePublisher records published lifecycle events in order.
type capturePublisher struct {
	mu     sync.Mutex
	events []pipeline.AttemptEvent
}

func (p *capturePublisher) Publish(_ context.Context, event pipeline.AttemptEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *capturePublisher) statuses() []pipeline.Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]pipeline.Status, 0, len(p.events))
	for _, event := range p.events {
		out = append(out, event.Status)
	}

	return out
}

// writeRetailCSV writes n valid retail rows with distinct invoices.
func writeRetailCSV(t *testing.T, dir, name string, n int) string {
	t.Helper()

	var b strings.Builder

	b.WriteString("InvoiceNo,StockCode,Description,Quantity,InvoiceDate,UnitPrice,CustomerID,Country\n")

	for i := range n {
		fmt.Fprintf(&b, "5363%02d,85123A,WHITE HANGING HEART,6,2010-12-01 08:26:00,2.55,17850,United Kingdom\n", i)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		t.Fatal(err)
	}

	return path
}

type harness struct {
	bronze    *storage.MemoryBronzeStore
	attempts  *storage.MemoryAttemptStore
	publisher *capturePublisher
	orch      *pipeline.Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	bronze := storage.NewMemoryBronzeStore()
	attempts := storage.NewMemoryAttemptStore()
	publisher := &capturePublisher{}

	cfg := pipeline.DefaultValidationConfig()
	cfg.MinRecords = 3

	orch := pipeline.NewOrchestrator(
		nil,
		pipeline.NewValidator(cfg, nil, nil),
		nil,
		load.New(bronze, nil, load.WithChunkSize(4)),
		attempts,
		pipeline.WithPublisher(publisher),
	)

	return &harness{bronze: bronze, attempts: attempts, publisher: publisher, orch: orch}
}

func TestRunFirstLoad(t *testing.T) {
	h := newHarness(t)
	path := writeRetailCSV(t, t.TempDir(), "retail.csv", 10)

	summary, err := h.orch.Run(t.Context(), "online_retail", path)
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}

	if summary.Status != pipeline.StatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", summary.Status)
	}

	if summary.RecordsLoaded != 10 || summary.RecordsFailed != 0 || summary.SkippedDuplicate != 0 {
		t.Errorf("counts = %d/%d/%d, want 10/0/0",
			summary.RecordsLoaded, summary.RecordsFailed, summary.SkippedDuplicate)
	}

	if h.bronze.Count() != 10 {
		t.Errorf("stored records = %d, want 10", h.bronze.Count())
	}

	attempt, ok := h.attempts.Attempt(summary.LoadID)
	if !ok {
		t.Fatal("attempt not persisted")
	}

	if attempt.Status != pipeline.StatusCompleted {
		t.Errorf("attempt Status = %s, want COMPLETED", attempt.Status)
	}

	if attempt.EndTime == nil {
		t.Error("attempt EndTime not set")
	}

	statuses := h.publisher.statuses()
	if len(statuses) != 2 || statuses[0] != pipeline.StatusStarted || statuses[1] != pipeline.StatusCompleted {
		t.Errorf("published statuses = %v, want [STARTED COMPLETED]", statuses)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	h := newHarness(t)
	path := writeRetailCSV(t, t.TempDir(), "retail.csv", 10)

	if _, err := h.orch.Run(t.Context(), "online_retail", path); err != nil {
		t.Fatalf("first Run() unexpected error: %v", err)
	}

	summary, err := h.orch.Run(t.Context(), "online_retail", path)
	if err != nil {
		t.Fatalf("second Run() unexpected error: %v", err)
	}

	if summary.Status != pipeline.StatusCompleted {
		t.Errorf("Status = %s, want COMPLETED", summary.Status)
	}

	if summary.RecordsLoaded != 0 {
		t.Errorf("RecordsLoaded = %d, want 0 on re-run", summary.RecordsLoaded)
	}

	if summary.SkippedDuplicate != 10 {
		t.Errorf("SkippedDuplicate = %d, want 10", summary.SkippedDuplicate)
	}

	if h.bronze.Count() != 10 {
		t.Errorf("stored records = %d, want 10 after re-run", h.bronze.Count())
	}
}

func TestRunLoadsOnlyNewRecords(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()

	first := writeRetailCSV(t, dir, "day1.csv", 10)
	if _, err := h.orch.Run(t.Context(), "online_retail", first); err != nil {
		t.Fatalf("first Run() unexpected error: %v", err)
	}

	// Same ten rows plus two genuinely new ones.
	second := writeRetailCSV(t, dir, "day2.csv", 12)

	summary, err := h.orch.Run(t.Context(), "online_retail", second)
	if err != nil {
		t.Fatalf("second Run() unexpected error: %v", err)
	}

	if summary.RecordsLoaded != 2 {
		t.Errorf("RecordsLoaded = %d, want 2", summary.RecordsLoaded)
	}

	if summary.SkippedDuplicate != 10 {
		t.Errorf("SkippedDuplicate = %d, want 10", summary.SkippedDuplicate)
	}

	if h.bronze.Count() != 12 {
		t.Errorf("stored records = %d, want 12", h.bronze.Count())
	}
}

func TestRunBlockedByValidation(t *testing.T) {
	h := newHarness(t)

	// Country column missing entirely.
	content := "InvoiceNo,StockCode,Quantity,InvoiceDate,UnitPrice\n" +
		strings.Repeat("536365,85123A,6,2010-12-01 08:26:00,2.55\n", 5)
	path := filepath.Join(t.TempDir(), "broken.csv")

	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	summary, err := h.orch.Run(t.Context(), "online_retail", path)
	if !errors.Is(err, pipeline.ErrValidationBlocked) {
		t.Fatalf("Run() error = %v, want ErrValidationBlocked", err)
	}

	if summary.Status != pipeline.StatusFailed {
		t.Errorf("Status = %s, want FAILED", summary.Status)
	}

	if h.bronze.Count() != 0 {
		t.Errorf("stored records = %d, want 0 for blocked run", h.bronze.Count())
	}

	attempt, _ := h.attempts.Attempt(summary.LoadID)
	if attempt.Status != pipeline.StatusFailed {
		t.Errorf("attempt Status = %s, want FAILED", attempt.Status)
	}

	if attempt.ErrorMessage == "" {
		t.Error("attempt ErrorMessage empty for blocked run")
	}
}

func TestRunExtractionFailure(t *testing.T) {
	h := newHarness(t)

	summary, err := h.orch.Run(t.Context(), "online_retail", filepath.Join(t.TempDir(), "absent.csv"))
	if err == nil {
		t.Fatal("Run() succeeded for a missing file")
	}

	if summary == nil {
		t.Fatal("Run() returned nil summary; attempt was created")
	}

	if summary.Status != pipeline.StatusFailed {
		t.Errorf("Status = %s, want FAILED", summary.Status)
	}

	attempt, ok := h.attempts.Attempt(summary.LoadID)
	if !ok || attempt.Status != pipeline.StatusFailed {
		t.Errorf("attempt Status = %v, want FAILED", attempt.Status)
	}
}

func TestRunFaultIsolation(t *testing.T) {
	h := newHarness(t)
	path := writeRetailCSV(t, t.TempDir(), "retail.csv", 10)

	// Poison one record: its bulk chunk degrades to row writes, the chunk
	// mates survive, and the run completes with errors.
	poisoned := recordHashFor(t, path, 3)
	h.bronze.FailRecord(poisoned, errors.New("value too long for column"))

	summary, err := h.orch.Run(t.Context(), "online_retail", path)
	if err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}

	if summary.Status != pipeline.StatusCompletedWithErrors {
		t.Errorf("Status = %s, want COMPLETED_WITH_ERRORS", summary.Status)
	}

	if summary.RecordsLoaded != 9 || summary.RecordsFailed != 1 {
		t.Errorf("counts = %d loaded / %d failed, want 9/1",
			summary.RecordsLoaded, summary.RecordsFailed)
	}

	total := summary.RecordsLoaded + summary.RecordsFailed + summary.SkippedDuplicate
	if total != summary.RecordsProcessed {
		t.Errorf("count invariant broken: %d != %d", total, summary.RecordsProcessed)
	}
}

func TestRunAttemptPersistenceFailures(t *testing.T) {
	t.Run("create failure aborts before extraction", func(t *testing.T) {
		h := newHarness(t)
		h.attempts.FailCreate(errors.New("audit database down"))

		path := writeRetailCSV(t, t.TempDir(), "retail.csv", 5)

		summary, err := h.orch.Run(t.Context(), "online_retail", path)
		if !errors.Is(err, pipeline.ErrMetadataPersistence) {
			t.Fatalf("Run() error = %v, want ErrMetadataPersistence", err)
		}

		if summary != nil {
			t.Error("Run() returned a summary without an audit record")
		}

		if h.bronze.Count() != 0 {
			t.Errorf("stored records = %d, want 0", h.bronze.Count())
		}
	})

	t.Run("finalize failure surfaces after load", func(t *testing.T) {
		h := newHarness(t)
		h.attempts.FailFinalize(errors.New("audit database down"))

		path := writeRetailCSV(t, t.TempDir(), "retail.csv", 5)

		summary, err := h.orch.Run(t.Context(), "online_retail", path)
		if !errors.Is(err, pipeline.ErrMetadataPersistence) {
			t.Fatalf("Run() error = %v, want ErrMetadataPersistence", err)
		}

		// Records were written; only the audit trail is broken.
		if h.bronze.Count() != 5 {
			t.Errorf("stored records = %d, want 5", h.bronze.Count())
		}

		if summary == nil {
			t.Fatal("Run() returned nil summary after load stage")
		}
	})
}

func TestRunStatusTotals(t *testing.T) {
	h := newHarness(t)
	dir := t.TempDir()

	good := writeRetailCSV(t, dir, "good.csv", 5)
	if _, err := h.orch.Run(t.Context(), "online_retail", good); err != nil {
		t.Fatalf("Run() unexpected error: %v", err)
	}

	if _, err := h.orch.Run(t.Context(), "online_retail", filepath.Join(dir, "absent.csv")); err == nil {
		t.Fatal("Run() succeeded for a missing file")
	}

	totals := h.attempts.StatusTotals()

	if totals[pipeline.StatusStarted] != 0 {
		t.Errorf("STARTED total = %d, want 0 after runs settle", totals[pipeline.StatusStarted])
	}

	finished := totals[pipeline.StatusCompleted] +
		totals[pipeline.StatusCompletedWithErrors] +
		totals[pipeline.StatusFailed]
	if finished != 2 {
		t.Errorf("terminal total = %d, want 2", finished)
	}
}

// recordHashFor extracts and canonicalizes the file to learn the content
// hash of row i, so a single record can be poisoned in the store.
func recordHashFor(t *testing.T, path string, i int) string {
	t.Helper()

	rows, _, err := extract.New(nil).Extract(t.Context(), path)
	if err != nil {
		t.Fatal(err)
	}

	records := canonical.NewCanonicalizer(nil).Canonicalize(rows, canonical.Lineage{})
	if i >= len(records) {
		t.Fatalf("file has %d records, need index %d", len(records), i)
	}

	return records[i].ContentHash
}

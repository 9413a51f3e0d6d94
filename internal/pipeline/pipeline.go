package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bronzeline-io/bronzeline/internal/canonical"
	"github.com/bronzeline-io/bronzeline/internal/extract"
)

// defaultSourceSystem tags records from the standard retail export source.
const defaultSourceSystem = "UCI_ML_REPO"

type (
	// Orchestrator wires the ingestion stages into one run: extract, validate,
	// canonicalize, load, finalize. Stage failures in extract or validation
	// abort before any record write; the audit attempt is always finalized
	// unless its own persistence fails.
	Orchestrator struct {
		extractor    *extract.Extractor
		validator    *Validator
		canonical    *canonical.Canonicalizer
		loader       Loader
		attempts     AttemptStore
		publisher    EventPublisher
		logger       *slog.Logger
		sourceSystem string
		now          func() time.Time
	}

	// OrchestratorOption configures optional Orchestrator behavior.
	OrchestratorOption func(*Orchestrator)
)

// WithPublisher sets the lifecycle event publisher. Default is NoopPublisher.
func WithPublisher(publisher EventPublisher) OrchestratorOption {
	return func(o *Orchestrator) {
		o.publisher = publisher
	}
}

// WithLogger sets the structured logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithSourceSystem overrides the source system tag attached to every record.
func WithSourceSystem(sourceSystem string) OrchestratorOption {
	return func(o *Orchestrator) {
		o.sourceSystem = sourceSystem
	}
}

// NewOrchestrator creates an Orchestrator over the given stages. A nil
// extractor, validator, or canonicalizer falls back to defaults; loader and
// attempts are required.
func NewOrchestrator(
	extractor *extract.Extractor,
	validator *Validator,
	canonicalizer *canonical.Canonicalizer,
	loader Loader,
	attempts AttemptStore,
	opts ...OrchestratorOption,
) *Orchestrator {
	if extractor == nil {
		extractor = extract.New(nil)
	}

	if validator == nil {
		validator = NewValidator(DefaultValidationConfig(), nil, nil)
	}

	if canonicalizer == nil {
		canonicalizer = canonical.NewCanonicalizer(nil)
	}

	o := &Orchestrator{
		extractor:    extractor,
		validator:    validator,
		canonical:    canonicalizer,
		loader:       loader,
		attempts:     attempts,
		publisher:    NoopPublisher{},
		logger:       slog.Default(),
		sourceSystem: defaultSourceSystem,
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Run executes one full ingestion of the file at filePath.
//
// The returned Summary is non-nil whenever the audit attempt was created,
// terminal status included, so callers can report partial progress even on
// error. Only attempt persistence failures return a nil Summary.
func (o *Orchestrator) Run(ctx context.Context, sourceName, filePath string) (*Summary, error) {
	start := o.now().UTC()
	attempt := NewLoadAttempt(sourceName, filePath, start)
	batchID := NewBatchID(start)

	logger := o.logger.With(
		slog.String("load_id", attempt.LoadID),
		slog.String("batch_id", batchID),
		slog.String("source_file", filePath),
	)

	if err := o.attempts.CreateAttempt(ctx, attempt); err != nil {
		logger.Error("failed to create load attempt", slog.String("error", err.Error()))

		return nil, fmt.Errorf("%w: %w", ErrMetadataPersistence, err)
	}

	logger.Info("ingestion started", slog.String("source_name", sourceName))
	o.publish(ctx, attempt, batchID, 0)

	summary := &Summary{
		Status:     StatusStarted,
		LoadID:     attempt.LoadID,
		BatchID:    batchID,
		SourceFile: filePath,
	}

	// Stage 1: extract.
	records, meta, err := o.extractor.Extract(ctx, filePath)
	if err != nil {
		logger.Error("extraction failed", slog.String("error", err.Error()))

		return o.finalize(ctx, attempt, batchID, summary, StatusFailed,
			fmt.Sprintf("extraction failed: %v", err), err)
	}

	summary.RecordsProcessed = meta.RecordCount
	logger.Info("extraction complete",
		slog.Int("records", meta.RecordCount),
		slog.Int64("file_size_bytes", meta.FileSizeBytes),
	)

	// Stage 2: validate. Blocking issues abort before any write.
	validation := o.validator.Validate(records)
	summary.Issues = validation.Issues
	summary.Warnings = validation.Warnings

	for _, warning := range validation.Warnings {
		logger.Warn("validation warning", slog.String("warning", warning))
	}

	if !validation.IsValid {
		for _, issue := range validation.Issues {
			logger.Error("validation issue", slog.String("issue", issue))
		}

		return o.finalize(ctx, attempt, batchID, summary, StatusFailed,
			fmt.Sprintf("validation failed: %d blocking issues", len(validation.Issues)),
			ErrValidationBlocked)
	}

	// Stage 3: canonicalize and hash.
	canonicalRecords := o.canonical.Canonicalize(records, canonical.Lineage{
		BatchID:       batchID,
		LoadID:        attempt.LoadID,
		SourceFile:    meta.FileName,
		SourceSystem:  o.sourceSystem,
		IngestionTime: start,
	})

	// Stage 4: dedup load.
	result, err := o.loader.Load(ctx, canonicalRecords)
	summary.RecordsLoaded = result.Loaded
	summary.RecordsFailed = result.Failed
	summary.SkippedDuplicate = result.SkippedDuplicate
	attempt.RecordsLoaded = result.Loaded
	attempt.RecordsFailed = result.Failed

	if err != nil {
		logger.Error("load failed", slog.String("error", err.Error()))

		return o.finalize(ctx, attempt, batchID, summary, StatusFailed,
			fmt.Sprintf("load failed: %v", err), err)
	}

	// Stage 5: finalize with the terminal status derived from the counts.
	status := TerminalStatus(result.Failed)

	var errMsg string
	if result.Failed > 0 {
		errMsg = fmt.Sprintf("%d records failed to load", result.Failed)
	}

	summary, ferr := o.finalize(ctx, attempt, batchID, summary, status, errMsg, nil)
	if ferr != nil {
		return summary, ferr
	}

	logger.Info("ingestion complete",
		slog.String("status", status.String()),
		slog.Int("records_loaded", result.Loaded),
		slog.Int("records_failed", result.Failed),
		slog.Int("skipped_duplicate", result.SkippedDuplicate),
		slog.Duration("duration", summary.Duration),
	)

	return summary, nil
}

// finalize records the terminal status on the attempt, publishes the terminal
// lifecycle event, and completes the summary. The passed runErr (possibly nil)
// is returned unless finalization itself fails, in which case the
// finalization error wins: audit gaps must never pass silently.
func (o *Orchestrator) finalize(
	ctx context.Context,
	attempt *LoadAttempt,
	batchID string,
	summary *Summary,
	status Status,
	errMsg string,
	runErr error,
) (*Summary, error) {
	end := o.now().UTC()
	attempt.EndTime = &end
	attempt.Status = status
	attempt.ErrorMessage = errMsg

	summary.Status = status
	summary.Duration = end.Sub(attempt.StartTime)
	summary.ErrorMessage = errMsg

	// Finalization must proceed even when the run context was cancelled, so
	// the audit trail never records a cancelled run as still running.
	finalizeCtx := ctx
	if ctx.Err() != nil {
		finalizeCtx = context.WithoutCancel(ctx)
	}

	if err := o.attempts.FinalizeAttempt(finalizeCtx, attempt); err != nil {
		o.logger.Error("failed to finalize load attempt",
			slog.String("load_id", attempt.LoadID),
			slog.String("error", err.Error()),
		)

		return summary, fmt.Errorf("%w: %w", ErrMetadataPersistence, err)
	}

	o.publish(finalizeCtx, attempt, batchID, summary.SkippedDuplicate)

	return summary, runErr
}

// publish sends a lifecycle event, best effort.
func (o *Orchestrator) publish(ctx context.Context, attempt *LoadAttempt, batchID string, skipped int) {
	event := AttemptEvent{
		LoadID:           attempt.LoadID,
		BatchID:          batchID,
		SourceFile:       attempt.FilePath,
		Status:           attempt.Status,
		RecordsLoaded:    attempt.RecordsLoaded,
		RecordsFailed:    attempt.RecordsFailed,
		SkippedDuplicate: skipped,
		Timestamp:        o.now().UTC(),
	}

	if err := o.publisher.Publish(ctx, event); err != nil {
		o.logger.Warn("failed to publish lifecycle event",
			slog.String("load_id", attempt.LoadID),
			slog.String("status", attempt.Status.String()),
			slog.String("error", err.Error()),
		)
	}
}

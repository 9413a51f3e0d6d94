// Package main provides the bronzeline ingestion CLI.
//
// One invocation ingests one source file into the bronze layer: extract,
// validate, canonicalize, dedup load, and audit. Re-running the same file is
// safe; already-ingested records are skipped by content hash.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bronzeline-io/bronzeline/internal/canonical"
	"github.com/bronzeline-io/bronzeline/internal/config"
	"github.com/bronzeline-io/bronzeline/internal/events"
	"github.com/bronzeline-io/bronzeline/internal/extract"
	"github.com/bronzeline-io/bronzeline/internal/load"
	"github.com/bronzeline-io/bronzeline/internal/pipeline"
	"github.com/bronzeline-io/bronzeline/internal/storage"
)

// Version information.
const (
	version = "1.0.0-dev"
	name    = "bronzeline"
)

func main() {
	var (
		filePath    = flag.String("file", "", "source file to ingest (.csv, .parquet, .xlsx)")
		sourceName  = flag.String("source", "online_retail", "logical source name for the audit trail")
		chunkSize   = flag.Int("chunk-size", 0, "bulk write chunk size (0 = default)")
		encoding    = flag.String("encoding", "", "CSV character encoding (windows-1252, latin-1, utf-8)")
		versionFlag = flag.Bool("version", false, "show version information")
	)

	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo),
	}))
	slog.SetDefault(logger)

	if *filePath == "" {
		fmt.Fprintln(os.Stderr, "usage: bronzeline -file <path> [-source <name>] [-chunk-size <n>] [-encoding <name>]")
		os.Exit(2)
	}

	logger.Info("starting ingestion",
		slog.String("service", name),
		slog.String("version", version),
		slog.String("file", *filePath),
		slog.String("source", *sourceName),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, logger, *filePath, *sourceName, *chunkSize, *encoding))
}

// run wires the pipeline and executes one ingestion. Split from main so
// deferred cleanup runs before the exit code is returned.
func run(ctx context.Context, logger *slog.Logger, filePath, sourceName string, chunkSize int, encoding string) int {
	storageConfig := storage.LoadConfig()

	conn, err := storage.NewConnection(storageConfig)
	if err != nil {
		logger.Error("failed to connect to database",
			slog.String("url", storageConfig.MaskDatabaseURL()),
			slog.String("error", err.Error()),
		)

		return 1
	}

	defer func() {
		_ = conn.Close()
	}()

	bronzeStore, err := storage.NewBronzeStore(conn)
	if err != nil {
		logger.Error("failed to initialize bronze store", slog.String("error", err.Error()))

		return 1
	}

	attemptStore := storage.NewAttemptStore(conn)

	var extractOpts []extract.Option
	if encoding != "" {
		extractOpts = append(extractOpts, extract.WithCSVEncoding(encoding))
	}

	extractor := extract.New(logger, extractOpts...)
	validator := pipeline.NewValidator(pipeline.LoadValidationConfig(), nil, logger)

	aliasConfig, _ := canonical.LoadAliasConfigFromEnv()
	canonicalizer := canonical.NewCanonicalizer(canonical.NewResolver(aliasConfig))

	var loadOpts []load.Option
	if chunkSize > 0 {
		loadOpts = append(loadOpts, load.WithChunkSize(chunkSize))
	}

	loader := load.New(bronzeStore, logger, loadOpts...)

	var publisher pipeline.EventPublisher = pipeline.NoopPublisher{}

	eventsConfig := events.LoadPublisherConfig()
	if eventsConfig.Enabled {
		kafkaPublisher := events.NewKafkaPublisher(eventsConfig, logger)
		defer func() {
			_ = kafkaPublisher.Close()
		}()

		publisher = kafkaPublisher

		logger.Info("lifecycle events enabled",
			slog.String("topic", eventsConfig.Topic),
			slog.Any("brokers", eventsConfig.Brokers),
		)
	}

	orchestrator := pipeline.NewOrchestrator(
		extractor, validator, canonicalizer, loader, attemptStore,
		pipeline.WithPublisher(publisher),
		pipeline.WithLogger(logger),
	)

	summary, err := orchestrator.Run(ctx, sourceName, filePath)
	if summary != nil {
		printSummary(summary)
	}

	if err != nil {
		logger.Error("ingestion failed", slog.String("error", err.Error()))

		return 1
	}

	return 0
}

// printSummary writes the human-readable run report to stdout.
func printSummary(summary *pipeline.Summary) {
	fmt.Printf("\nIngestion summary\n")
	fmt.Printf("  status:             %s\n", summary.Status)
	fmt.Printf("  load id:            %s\n", summary.LoadID)
	fmt.Printf("  batch id:           %s\n", summary.BatchID)
	fmt.Printf("  source file:        %s\n", summary.SourceFile)
	fmt.Printf("  records processed:  %d\n", summary.RecordsProcessed)
	fmt.Printf("  records loaded:     %d\n", summary.RecordsLoaded)
	fmt.Printf("  records failed:     %d\n", summary.RecordsFailed)
	fmt.Printf("  skipped duplicate:  %d\n", summary.SkippedDuplicate)
	fmt.Printf("  duration:           %s\n", summary.Duration)

	if seconds := summary.Duration.Seconds(); seconds > 0 && summary.RecordsLoaded > 0 {
		fmt.Printf("  throughput:         %.0f records/sec\n", float64(summary.RecordsLoaded)/seconds)
	}

	for _, issue := range summary.Issues {
		fmt.Printf("  issue:              %s\n", issue)
	}

	for _, warning := range summary.Warnings {
		fmt.Printf("  warning:            %s\n", warning)
	}

	if summary.ErrorMessage != "" {
		fmt.Printf("  error:              %s\n", summary.ErrorMessage)
	}
}

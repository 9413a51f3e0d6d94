// Package extract reads source files into in-memory tabular records.
//
// The extractor is format-polymorphic: dispatch happens on the file extension,
// and every format yields the same shape (a sequence of records plus file-level
// metadata). Column names are preserved verbatim so the validator can inspect
// raw source naming conventions ("InvoiceNo", "Customer ID", ...); nothing is
// renamed or coerced here.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Sentinel errors for extraction failures.
var (
	// ErrUnsupportedFormat is returned for file extensions with no registered reader.
	ErrUnsupportedFormat = errors.New("unsupported source file format")

	// ErrExtractionIO is returned when a source file is unreadable or corrupt.
	ErrExtractionIO = errors.New("source file extraction failed")
)

type (
	// Record is one row of raw input exactly as received. Keys are the source
	// column names verbatim; a missing key means the value was absent in the
	// source row. No validity constraints apply at this stage.
	Record map[string]string

	// Metadata describes the extracted file. Immutable once produced.
	Metadata struct {
		FileName      string
		FilePath      string
		FileSizeBytes int64
		RecordCount   int
	}

	// Extractor reads source files into records, dispatching on extension.
	Extractor struct {
		logger *slog.Logger

		// csvEncoding selects the character encoding for delimited files.
		// UCI retail exports are Windows-1252; empty means plain UTF-8.
		csvEncoding string
	}

	// Option configures optional Extractor behavior.
	Option func(*Extractor)
)

// WithCSVEncoding sets the character encoding used to decode delimited files.
// Supported values: "windows-1252", "latin-1", "utf-8" (default).
func WithCSVEncoding(encoding string) Option {
	return func(e *Extractor) {
		e.csvEncoding = encoding
	}
}

// New creates an Extractor. A nil logger falls back to slog.Default().
func New(logger *slog.Logger, opts ...Option) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}

	e := &Extractor{logger: logger}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Extract reads the file at path into records plus file-level metadata.
//
// Supported formats:
//   - .csv          tabular-delimited (encoding/csv, optional charset decode)
//   - .parquet      columnar-binary (parquet-go)
//   - .xlsx, .xlsm  spreadsheet (excelize)
//
// Returns ErrUnsupportedFormat for unrecognized extensions and ErrExtractionIO
// for unreadable or corrupt files. The context bounds the read; cancellation
// is checked between row batches.
func (e *Extractor) Extract(ctx context.Context, path string) ([]Record, *Metadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: stat %s: %w", ErrExtractionIO, path, err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	var records []Record

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		records, err = e.extractCSV(ctx, path)
	case ".parquet":
		records, err = e.extractParquet(ctx, path, info.Size())
	case ".xlsx", ".xlsm":
		records, err = e.extractXLSX(ctx, path)
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Ext(path))
	}

	if err != nil {
		return nil, nil, err
	}

	meta := &Metadata{
		FileName:      filepath.Base(path),
		FilePath:      absPath,
		FileSizeBytes: info.Size(),
		RecordCount:   len(records),
	}

	e.logger.Info("extraction complete",
		slog.String("file", meta.FileName),
		slog.Int("records", meta.RecordCount),
		slog.Int64("size_bytes", meta.FileSizeBytes),
	)

	return records, meta, nil
}

// rowToRecord zips a header with one data row. Short rows leave trailing
// columns absent; extra cells beyond the header are dropped.
func rowToRecord(header []string, row []string) Record {
	record := make(Record, len(header))

	for i, name := range header {
		if i >= len(row) {
			break
		}

		record[name] = row[i]
	}

	return record
}

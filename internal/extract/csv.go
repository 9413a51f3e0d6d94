package extract

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/text/encoding/charmap"
)

// ctxCheckInterval is how many rows are read between context checks.
const ctxCheckInterval = 1000

// extractCSV reads a delimited file with a header row. Rows may be ragged
// (FieldsPerRecord is disabled): legacy retail exports routinely drop trailing
// cells, and validity is the validator's concern, not the extractor's.
func (e *Extractor) extractCSV(ctx context.Context, path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrExtractionIO, path, err)
	}

	defer func() {
		_ = f.Close()
	}()

	var src io.Reader = f

	switch e.csvEncoding {
	case "", "utf-8", "utf8":
		// Already UTF-8.
	case "windows-1252":
		src = charmap.Windows1252.NewDecoder().Reader(f)
	case "latin-1", "iso-8859-1":
		src = charmap.ISO8859_1.NewDecoder().Reader(f)
	default:
		return nil, fmt.Errorf("%w: unknown csv encoding %q", ErrExtractionIO, e.csvEncoding)
	}

	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: %s is empty", ErrExtractionIO, path)
		}

		return nil, fmt.Errorf("%w: read header of %s: %w", ErrExtractionIO, path, err)
	}

	var records []Record

	for {
		if len(records)%ctxCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", ErrExtractionIO, ctx.Err())
			default:
			}
		}

		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("%w: read row %d of %s: %w", ErrExtractionIO, len(records)+2, path, err)
		}

		records = append(records, rowToRecord(header, row))
	}

	return records, nil
}

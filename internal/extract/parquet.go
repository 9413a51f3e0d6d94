package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"
)

// parquetReadBatch is the number of rows decoded per ReadRows call.
const parquetReadBatch = 1024

// extractParquet reads a flat columnar file. Only flat (non-nested) schemas
// are supported: the bronze layer ingests tabular exports, and every value is
// coerced to its text representation exactly as the CSV path does.
func (e *Extractor) extractParquet(ctx context.Context, path string, size int64) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrExtractionIO, path, err)
	}

	defer func() {
		_ = f.Close()
	}()

	pf, err := parquet.OpenFile(f, size)
	if err != nil {
		return nil, fmt.Errorf("%w: open parquet %s: %w", ErrExtractionIO, path, err)
	}

	fields := pf.Schema().Fields()
	columns := make([]string, len(fields))

	for i, field := range fields {
		if !field.Leaf() {
			return nil, fmt.Errorf("%w: nested parquet schemas are not supported (%s)", ErrExtractionIO, field.Name())
		}

		columns[i] = field.Name()
	}

	var records []Record

	for _, rowGroup := range pf.RowGroups() {
		rows := rowGroup.Rows()
		buf := make([]parquet.Row, parquetReadBatch)

		for {
			select {
			case <-ctx.Done():
				_ = rows.Close()

				return nil, fmt.Errorf("%w: %w", ErrExtractionIO, ctx.Err())
			default:
			}

			n, err := rows.ReadRows(buf)

			for _, row := range buf[:n] {
				record := make(Record, len(columns))

				for _, value := range row {
					col := value.Column()
					if col < 0 || col >= len(columns) || value.IsNull() {
						continue
					}

					record[columns[col]] = value.String()
				}

				records = append(records, record)
			}

			if errors.Is(err, io.EOF) {
				break
			}

			if err != nil {
				_ = rows.Close()

				return nil, fmt.Errorf("%w: read parquet rows from %s: %w", ErrExtractionIO, path, err)
			}
		}

		if err := rows.Close(); err != nil {
			return nil, fmt.Errorf("%w: close parquet row reader: %w", ErrExtractionIO, err)
		}
	}

	return records, nil
}

package extract

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"
)

// extractXLSX reads the first worksheet of a spreadsheet. The first row is the
// header; cell values arrive as excelize's formatted strings, matching how the
// original export displayed them.
func (e *Extractor) extractXLSX(ctx context.Context, path string) ([]Record, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open spreadsheet %s: %w", ErrExtractionIO, path, err)
	}

	defer func() {
		_ = f.Close()
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: %s has no worksheets", ErrExtractionIO, path)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: read worksheet %s of %s: %w", ErrExtractionIO, sheets[0], path, err)
	}

	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: worksheet %s of %s is empty", ErrExtractionIO, sheets[0], path)
	}

	header := rows[0]
	records := make([]Record, 0, len(rows)-1)

	for i, row := range rows[1:] {
		if i%ctxCheckInterval == 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %w", ErrExtractionIO, ctx.Err())
			default:
			}
		}

		records = append(records, rowToRecord(header, row))
	}

	return records, nil
}

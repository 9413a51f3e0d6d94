package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatal(err)
	}

	return path
}

func TestExtractCSV(t *testing.T) {
	e := New(nil)

	t.Run("reads header and rows", func(t *testing.T) {
		csv := "InvoiceNo,StockCode,Quantity,UnitPrice\n536365,85123A,6,2.55\n536366,71053,4,3.39\n"
		path := writeTempFile(t, "retail.csv", []byte(csv))

		records, meta, err := e.Extract(t.Context(), path)
		if err != nil {
			t.Fatalf("Extract() unexpected error: %v", err)
		}

		if len(records) != 2 {
			t.Fatalf("Extract() returned %d records, want 2", len(records))
		}

		if records[0]["InvoiceNo"] != "536365" {
			t.Errorf("InvoiceNo = %q, want %q", records[0]["InvoiceNo"], "536365")
		}

		if records[1]["UnitPrice"] != "3.39" {
			t.Errorf("UnitPrice = %q, want %q", records[1]["UnitPrice"], "3.39")
		}

		if meta.RecordCount != 2 {
			t.Errorf("Metadata.RecordCount = %d, want 2", meta.RecordCount)
		}

		if meta.FileName != "retail.csv" {
			t.Errorf("Metadata.FileName = %q, want %q", meta.FileName, "retail.csv")
		}

		if meta.FileSizeBytes <= 0 {
			t.Errorf("Metadata.FileSizeBytes = %d, want > 0", meta.FileSizeBytes)
		}
	})

	t.Run("short rows leave trailing columns absent", func(t *testing.T) {
		csv := "InvoiceNo,StockCode,Quantity\n536365,85123A\n"
		path := writeTempFile(t, "ragged.csv", []byte(csv))

		records, _, err := e.Extract(t.Context(), path)
		if err != nil {
			t.Fatalf("Extract() unexpected error: %v", err)
		}

		if _, ok := records[0]["Quantity"]; ok {
			t.Error("short row should leave Quantity absent")
		}

		if records[0]["StockCode"] != "85123A" {
			t.Errorf("StockCode = %q, want %q", records[0]["StockCode"], "85123A")
		}
	})

	t.Run("windows-1252 bytes are decoded", func(t *testing.T) {
		// 0xE9 is "é" in Windows-1252; invalid as bare UTF-8.
		raw := append([]byte("Description,Country\nCAF"), 0xE9)
		raw = append(raw, []byte(" SET,France\n")...)
		path := writeTempFile(t, "legacy.csv", raw)

		decoder := New(nil, WithCSVEncoding("windows-1252"))

		records, _, err := decoder.Extract(t.Context(), path)
		if err != nil {
			t.Fatalf("Extract() unexpected error: %v", err)
		}

		if records[0]["Description"] != "CAFé SET" {
			t.Errorf("Description = %q, want %q", records[0]["Description"], "CAFé SET")
		}
	})

	t.Run("unknown encoding is rejected", func(t *testing.T) {
		path := writeTempFile(t, "enc.csv", []byte("A\n1\n"))

		bad := New(nil, WithCSVEncoding("ebcdic"))

		_, _, err := bad.Extract(t.Context(), path)
		if !errors.Is(err, ErrExtractionIO) {
			t.Errorf("Extract() error = %v, want ErrExtractionIO", err)
		}
	})

	t.Run("empty file is an extraction error", func(t *testing.T) {
		path := writeTempFile(t, "empty.csv", nil)

		_, _, err := e.Extract(t.Context(), path)
		if !errors.Is(err, ErrExtractionIO) {
			t.Errorf("Extract() error = %v, want ErrExtractionIO", err)
		}
	})

	t.Run("cancelled context aborts the read", func(t *testing.T) {
		csv := "A\n1\n"
		path := writeTempFile(t, "cancel.csv", []byte(csv))

		ctx, cancel := context.WithCancel(t.Context())
		cancel()

		_, _, err := e.Extract(ctx, path)
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Extract() error = %v, want context.Canceled", err)
		}
	})
}

func TestExtractDispatch(t *testing.T) {
	e := New(nil)

	t.Run("unsupported extension", func(t *testing.T) {
		path := writeTempFile(t, "export.json", []byte("{}"))

		_, _, err := e.Extract(t.Context(), path)
		if !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("Extract() error = %v, want ErrUnsupportedFormat", err)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, _, err := e.Extract(t.Context(), filepath.Join(t.TempDir(), "absent.csv"))
		if !errors.Is(err, ErrExtractionIO) {
			t.Errorf("Extract() error = %v, want ErrExtractionIO", err)
		}
	})

	t.Run("extension matching is case-insensitive", func(t *testing.T) {
		path := writeTempFile(t, "UPPER.CSV", []byte("A\n1\n"))

		records, _, err := e.Extract(t.Context(), path)
		if err != nil {
			t.Fatalf("Extract() unexpected error: %v", err)
		}

		if len(records) != 1 {
			t.Errorf("Extract() returned %d records, want 1", len(records))
		}
	})
}

func TestRowToRecord(t *testing.T) {
	header := []string{"A", "B", "C"}

	t.Run("full row", func(t *testing.T) {
		record := rowToRecord(header, []string{"1", "2", "3"})
		if record["A"] != "1" || record["C"] != "3" {
			t.Errorf("rowToRecord() = %v", record)
		}
	})

	t.Run("extra cells are dropped", func(t *testing.T) {
		record := rowToRecord(header, []string{"1", "2", "3", "4"})
		if len(record) != 3 {
			t.Errorf("rowToRecord() kept %d cells, want 3", len(record))
		}
	})

	t.Run("short row", func(t *testing.T) {
		record := rowToRecord(header, []string{"1"})
		if _, ok := record["B"]; ok {
			t.Error("rowToRecord() should omit missing cells")
		}
	})
}

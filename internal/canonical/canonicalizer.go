package canonical

import (
	"strings"
	"time"

	"github.com/bronzeline-io/bronzeline/internal/extract"
)

type (
	// Record is a source record mapped onto the fixed bronze column set plus
	// derived lineage fields. Source field values are kept as text exactly as
	// extracted; an empty string is the null marker for absent values.
	//
	// Identity for dedup purposes is ContentHash: two Records with equal hash
	// are the same logical event.
	Record struct {
		Invoice     string
		StockCode   string
		Description string
		Quantity    string
		InvoiceDate string
		UnitPrice   string
		CustomerID  string
		Country     string

		// ContentHash is the dedup identity, derived from the canonical
		// source fields only (never from the lineage fields below).
		ContentHash string

		// Lineage and audit fields.
		BatchID       string
		LoadID        string
		SourceFile    string
		SourceSystem  string
		IngestionTime time.Time
	}

	// Lineage carries the audit context attached to every canonical record
	// produced by one pipeline run.
	Lineage struct {
		BatchID      string
		LoadID       string
		SourceFile   string
		SourceSystem string

		// IngestionTime is passed in rather than read from the clock so the
		// transform stays pure. It is excluded from the hash input.
		IngestionTime time.Time
	}

	// Canonicalizer is the pure transform from raw source records to canonical
	// records. Stateless and safe for concurrent use.
	Canonicalizer struct {
		resolver *Resolver
	}
)

// NewCanonicalizer creates a Canonicalizer. A nil resolver falls back to the
// built-in alias table.
func NewCanonicalizer(resolver *Resolver) *Canonicalizer {
	if resolver == nil {
		resolver = NewResolver(nil)
	}

	return &Canonicalizer{resolver: resolver}
}

// Canonicalize maps raw records onto the canonical column set, computes each
// record's content hash, and attaches lineage. Absent canonical columns are
// filled with the null marker (empty string), never silently dropped.
//
// Given the same source records and lineage context, the output is identical
// on every call; only Lineage.IngestionTime varies between runs, and it is
// excluded from the hash input.
func (c *Canonicalizer) Canonicalize(records []extract.Record, lineage Lineage) []Record {
	out := make([]Record, 0, len(records))

	for _, src := range records {
		out = append(out, c.canonicalizeOne(src, lineage))
	}

	return out
}

func (c *Canonicalizer) canonicalizeOne(src extract.Record, lineage Lineage) Record {
	// Lowercase view of the source row for case-insensitive header matching.
	lowered := make(map[string]string, len(src))
	for key, value := range src {
		lowered[strings.ToLower(strings.TrimSpace(key))] = value
	}

	fields := Fields()
	values := make([]string, len(fields))
	hashInput := make([]string, len(fields))

	for i, field := range fields {
		raw, ok := c.lookup(lowered, field)
		if !ok {
			raw = "" // null marker
		}

		values[i] = raw
		hashInput[i] = normalizeField(field, raw)
	}

	return Record{
		Invoice:       values[0],
		StockCode:     values[1],
		Description:   values[2],
		Quantity:      values[3],
		InvoiceDate:   values[4],
		UnitPrice:     values[5],
		CustomerID:    values[6],
		Country:       values[7],
		ContentHash:   ContentHash(hashInput),
		BatchID:       lineage.BatchID,
		LoadID:        lineage.LoadID,
		SourceFile:    lineage.SourceFile,
		SourceSystem:  lineage.SourceSystem,
		IngestionTime: lineage.IngestionTime,
	}
}

// lookup finds the first alias variant of field present in the lowered row.
// Variant order is fixed, so a row carrying two headers that alias the same
// canonical field resolves deterministically.
func (c *Canonicalizer) lookup(lowered map[string]string, field string) (string, bool) {
	for _, variant := range c.resolver.Variants(field) {
		if value, ok := lowered[variant]; ok {
			return value, true
		}
	}

	return "", false
}

// SourceFieldValues returns the canonical source field values in canonical
// field order, matching the storage column order.
func (r *Record) SourceFieldValues() []string {
	return []string{
		r.Invoice,
		r.StockCode,
		r.Description,
		r.Quantity,
		r.InvoiceDate,
		r.UnitPrice,
		r.CustomerID,
		r.Country,
	}
}

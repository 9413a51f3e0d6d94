package canonical

import (
	"math"
	"strconv"
	"strings"
)

// NormalizeNumeric canonicalizes the text representation of a numeric value so
// that "5", "5.0", and " 5.00 " hash identically when they denote the same
// logical quantity. Non-numeric or non-finite input is returned trimmed but
// otherwise untouched.
//
// This is applied only to the fields that are numeric by schema (quantity,
// unit_price). Identifier-like fields keep their exact text: a stock code of
// "084509" must not collapse to "84509".
func NormalizeNumeric(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return trimmed
	}

	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return trimmed
	}

	return strconv.FormatFloat(f, 'f', -1, 64)
}

// normalizeField canonicalizes one field value for hashing: whitespace is
// trimmed everywhere, numeric formatting only on numeric-by-schema fields.
func normalizeField(field, value string) string {
	switch field {
	case FieldQuantity, FieldUnitPrice:
		return NormalizeNumeric(value)
	default:
		return strings.TrimSpace(value)
	}
}

package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// hashSeparator joins canonical field values in the hash input. Field values
// are normalized before joining, so the separator cannot be confused with
// content in practice for this schema (none of the source fields contain "|").
const hashSeparator = "|"

// ContentHash computes the dedup identity of a record from its canonical
// source field values, in canonical field order. Lineage and audit fields are
// deliberately excluded: identical logical records hash identically regardless
// of when or how they are loaded.
//
// Formula: SHA256(invoice | stock_code | description | quantity | invoice_date
// | unit_price | customer_id | country) over normalized text values.
//
// Returns: 64-character lowercase hex string.
func ContentHash(values []string) string {
	sum := sha256.Sum256([]byte(strings.Join(values, hashSeparator)))

	return hex.EncodeToString(sum[:])
}

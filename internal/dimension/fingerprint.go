package dimension

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/ShrinivasVish/Shrinivas-Data-Migration-Micro-Finance/internal/document"
)

const fieldSep = "\x1f"

// Fingerprint is a stable hex SHA-256 of a dimension value combination:
// "table" then "col=value" per value column, joined by 0x1f. Integral floats
// hash like ints so 5 and 5.0 share a fingerprint, as they share a row.
func Fingerprint(table string, columns []string, values []document.Value) string {
	var b strings.Builder
	b.Grow(len(table) + len(columns)*24)
	b.WriteString(table)
	for i, c := range columns {
		b.WriteString(fieldSep)
		b.WriteString(c)
		b.WriteByte('=')
		if i >= len(values) || document.IsNull(values[i]) {
			b.WriteByte('\x00')
			continue
		}
		b.WriteString(document.KeyString(values[i]))
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

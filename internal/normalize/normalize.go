package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// ocrCollapse maps characters that plate OCR routinely confuses onto a
// single representative, so visually similar plates share a fuzzy key.
// The collapse is one-way and lossy on purpose.
var ocrCollapse = map[rune]rune{
	'O': '0',
	'D': '0',
	'I': '1',
	'L': '1',
	'S': '5',
	'B': '8',
	'G': '6',
}

// Plate strips everything except letters and digits and uppercases the
// rest. Empty or garbage input normalizes to "".
func Plate(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToUpper(raw) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PlateFuzzy returns the exact key with OCR-confusable characters
// collapsed to their class representative.
func PlateFuzzy(raw string) string {
	exact := Plate(raw)
	var b strings.Builder
	b.Grow(len(exact))
	for _, r := range exact {
		if rep, ok := ocrCollapse[r]; ok {
			r = rep
		}
		b.WriteRune(r)
	}
	return b.String()
}

// State trims and uppercases a state/region code.
func State(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// DedupKey derives the at-most-once ingestion key for a logical event.
// The timestamp is truncated to the minute so camera clock jitter and
// duplicate frames within the same minute collapse to one key.
func DedupKey(zone, cameraID, direction string, ts time.Time, plateNorm, stateNorm string) string {
	parts := strings.Join([]string{
		zone,
		cameraID,
		direction,
		ts.UTC().Truncate(time.Minute).Format(time.RFC3339),
		plateNorm,
		stateNorm,
	}, "|")
	sum := sha256.Sum256([]byte(parts))
	return hex.EncodeToString(sum[:16])
}

package mapping

import (
	"strings"
	"unicode"
)

// Clean trims a free-text field, strips control characters, and collapses
// internal whitespace runs to a single space.
func Clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := false
	for _, r := range s {
		// Whitespace first: tabs and newlines are control characters too,
		// but they collapse rather than disappear.
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return strings.TrimSpace(b.String())
}

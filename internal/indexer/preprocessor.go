package indexer

import (
	"strings"
	"unicode"
)

// Preprocess normalizes chunk text before it is embedded and stored. Control
// and format characters and invalid UTF-8 are dropped. Whitespace runs
// collapse to one space and the ends are trimmed.
func Preprocess(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case r == unicode.ReplacementChar, unicode.IsControl(r), unicode.Is(unicode.Cf, r):
		default:
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

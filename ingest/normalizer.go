package ingest

import (
	"regexp"
	"strings"
	"unicode"
)

// Converter sidecars leave html comment markers ("<!-- image -->") and
// horizontal rules in the markdown they emit.
var (
	boilerplateRe = regexp.MustCompile(`<!--[^>]*-->`)
	hruleRe       = regexp.MustCompile(`(?m)^\s*(?:-{3,}|\*{3,}|_{3,})\s*$`)
)

// CleanText prepares chunk text for embedding: boilerplate markers and
// control characters are removed, whitespace runs collapse to single spaces.
// Total and deterministic; may return "" for whitespace-only input.
func CleanText(s string) string {
	s = boilerplateRe.ReplaceAllString(s, " ")
	s = hruleRe.ReplaceAllString(s, " ")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\uFFFD' || r == '\u200B' || r == '\uFEFF':
			// replacement char and zero-width junk
		case unicode.IsControl(r) || unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

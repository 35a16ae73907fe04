// Package namenorm produces the normalized form of a person name used as the
// per-library deduplication key for persons.
package namenorm

import (
	"strings"
	"unicode"
)

// Normalize lowercases the name, strips punctuation, and collapses runs of
// whitespace, so cosmetic variants of the same name ("J.R.R. Tolkien",
// "j.r.r. tolkien") map to one key. It does not attempt transliteration;
// names in different scripts stay distinct.
func Normalize(name string) string {
	var b strings.Builder
	b.Grow(len(name))

	lastSpace := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		case r == '.' || r == ',' || r == '\'' || r == '"' || r == '-':
			// Punctuation common in names is dropped entirely. A period
			// between initials should not split the name into words.
		default:
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		}
	}

	return strings.TrimSpace(b.String())
}

// Package models defines the data structures shared by the pmchat engine.
package models

import (
	"strings"
	"unicode"
)

// NormalizeName folds an identifying field for comparison and fingerprinting:
// surrounding whitespace is trimmed, inner whitespace runs collapse to one
// space, and letters are lower-cased.
func NormalizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.TrimSpace(s) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// SameName reports whether two identifying fields are equal after NormalizeName.
func SameName(a, b string) bool {
	return NormalizeName(a) == NormalizeName(b)
}

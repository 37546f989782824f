// Package textfmt normalizes free-text input before it is persisted.
package textfmt

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// EnforceCase rewrites text typed entirely in upper case to title case.
// Mixed or lower case input is returned unchanged.
func EnforceCase(s string) string {
	if !isAllUpper(s) {
		return s
	}
	return TitleCase(s)
}

// TitleCase upper-cases the first letter of every space separated word and lower-cases the rest.
func TitleCase(s string) string {
	words := strings.Split(s, " ")
	for i, w := range words {
		if w == "" {
			continue
		}
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + strings.ToLower(w[size:])
	}
	return strings.Join(words, " ")
}

// LowerEmail trims and lower-cases an email address.
func LowerEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func isAllUpper(s string) bool {
	if s == "" {
		return false
	}
	return strings.ToUpper(s) == s && strings.ToLower(s) != s
}

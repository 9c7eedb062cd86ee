package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var searchTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// FoldForSearch lowercases and strips diacritics so prefix searches match
// regardless of case or accents.
func FoldForSearch(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return ""
	}
	stripped, _, err := transform.String(searchTransformer, trimmed)
	if err != nil {
		stripped = trimmed
	}
	return cases.Fold().String(stripped)
}

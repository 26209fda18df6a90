// Package similarity provides a generic edit-distance based string
// similarity primitive, independent of the reconciliation domain.
package similarity

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
)

// Score returns a normalized similarity between two strings in [0, 1]:
//
//	similarity = (longerLen - editDistance(longer, shorter)) / longerLen
//
// Two empty strings are defined as identical (1.0).
func Score(a, b string) float64 {
	longer, shorter := a, b
	if utf8.RuneCountInString(b) > utf8.RuneCountInString(a) {
		longer, shorter = b, a
	}

	longerLen := utf8.RuneCountInString(longer)
	if longerLen == 0 {
		return 1.0
	}

	distance := levenshtein.ComputeDistance(longer, shorter)
	return float64(longerLen-distance) / float64(longerLen)
}

// ScoreFold compares two strings case-insensitively after trimming
// surrounding whitespace. Merchant names from provider feeds and vendor
// text from expense claims rarely agree on casing.
func ScoreFold(a, b string) float64 {
	return Score(normalize(a), normalize(b))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

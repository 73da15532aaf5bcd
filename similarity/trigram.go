// Package similarity implements trigram similarity compatible with
// PostgreSQL's pg_trgm similarity() function, so the SQLite store and the
// Postgres store rank titles the same way.
package similarity

import (
	"strings"
	"unicode"
)

// Set is the set of distinct trigrams extracted from a string
type Set map[string]struct{}

// Trigrams lowercases s (Turkish casing), splits it into words made of
// letters and digits, pads every word with two leading and one trailing
// space and collects all 3-rune windows.
func Trigrams(s string) Set {
	set := make(Set)
	for _, word := range words(s) {
		padded := []rune("  " + word + " ")
		for i := 0; i+3 <= len(padded); i++ {
			set[string(padded[i:i+3])] = struct{}{}
		}
	}
	return set
}

// Similarity returns |A∩B| / |A∪B| over the trigram sets of a and b, in [0,1].
// Strings without any word score 0.
func Similarity(a, b string) float64 {
	return Compare(Trigrams(a), Trigrams(b))
}

// Compare scores two precomputed trigram sets
func Compare(left, right Set) float64 {
	if len(left) == 0 || len(right) == 0 {
		return 0
	}

	shared := 0
	for t := range left {
		if _, ok := right[t]; ok {
			shared++
		}
	}
	if shared == 0 {
		return 0
	}

	union := len(left) + len(right) - shared
	return float64(shared) / float64(union)
}

func words(s string) []string {
	lowered := strings.ToLowerSpecial(unicode.TurkishCase, s)
	return strings.FieldsFunc(lowered, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

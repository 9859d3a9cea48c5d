package matcher

import (
	"strings"
	"unicode/utf8"

	"github.com/agnivade/levenshtein"
	"github.com/sahilm/fuzzy"
)

// levenshteinRatio is 1 - distance/maxLen over runes.
func levenshteinRatio(a, b string) float64 {
	longest := max(utf8.RuneCountInString(a), utf8.RuneCountInString(b))
	if longest == 0 {
		return 0
	}
	return 1 - float64(levenshtein.ComputeDistance(a, b))/float64(longest)
}

// jaccard compares whitespace token sets.
func jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	inter := 0
	for t := range setA {
		if setB[t] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	fields := strings.Fields(s)
	set := make(map[string]bool, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}

// subsequenceCoverage reports how much of the longer string is covered when the
// shorter one appears in it as an ordered subsequence, 0 otherwise.
func subsequenceCoverage(a, b string) float64 {
	short, long := a, b
	if utf8.RuneCountInString(short) > utf8.RuneCountInString(long) {
		short, long = long, short
	}
	if short == "" {
		return 0
	}
	if len(fuzzy.Find(short, []string{long})) == 0 {
		return 0
	}
	return float64(utf8.RuneCountInString(short)) / float64(utf8.RuneCountInString(long))
}

// similarity is the best of the three string signals.
func similarity(a, b string) float64 {
	return max(levenshteinRatio(a, b), jaccard(a, b), subsequenceCoverage(a, b))
}

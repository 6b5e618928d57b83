package admission

import (
	"strings"
	"unicode"
)

// DefaultSimilarityThreshold is the word-set overlap above which two bodies count as duplicates.
const DefaultSimilarityThreshold = 0.8

// normalize lowercases text and collapses runs of whitespace.
func normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// wordSet splits text into lowercase words, dropping punctuation.
func wordSet(text string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// Similarity returns the Jaccard overlap of the two texts' word sets. Texts
// without words share nothing; IsDuplicate compares them verbatim instead.
func Similarity(a, b string) float64 {
	sa, sb := wordSet(a), wordSet(b)
	shared := 0
	for w := range sa {
		if _, ok := sb[w]; ok {
			shared++
		}
	}
	union := len(sa) + len(sb) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// IsDuplicate reports an exact (normalized) match or similarity above threshold.
func IsDuplicate(candidate, previous string, threshold float64) bool {
	if normalize(candidate) == normalize(previous) {
		return true
	}
	return Similarity(candidate, previous) > threshold
}

// Package score compares a reference phrase against a typed submission at
// word level. Matching is multiset membership, never position: word order is
// not penalized, case and whitespace differences are normalized away.
package score

import (
	"math"
	"strings"

	"wfd-room-service/internal/domain"
)

// Score diffs submission against reference and returns the structured result.
// It is total over any two strings; there are no error conditions.
func Score(reference, submission string) domain.AccuracyResult {
	refWords := tokenize(reference)
	subWords := tokenize(submission)

	refCounts := countWords(refWords)
	subCounts := countWords(subWords)

	result := domain.AccuracyResult{
		Correct:   []string{},
		Incorrect: []string{},
		Missing:   []string{},
		Extra:     []string{},
	}

	// Correct and missing follow reference word order, one entry per
	// occurrence. matched tracks how many occurrences of each word have
	// already been credited while walking the reference.
	matched := make(map[string]int, len(refCounts))
	for _, w := range refWords {
		if matched[w] < min(refCounts[w], subCounts[w]) {
			result.Correct = append(result.Correct, w)
			matched[w]++
			continue
		}
		result.Missing = append(result.Missing, w)
	}

	// Extra: submission occurrences beyond the reference count. Incorrect:
	// submission words absent from the reference entirely. A word with zero
	// reference count lands in both lists; an over-supplied reference word
	// is extra only.
	seen := make(map[string]int, len(subCounts))
	for _, w := range subWords {
		seen[w]++
		if seen[w] > refCounts[w] {
			result.Extra = append(result.Extra, w)
		}
		if refCounts[w] == 0 {
			result.Incorrect = append(result.Incorrect, w)
		}
	}

	if len(refWords) > 0 {
		result.Accuracy = round2(100 * float64(len(result.Correct)) / float64(len(refWords)))
	}
	result.IsFullyCorrect = len(result.Missing) == 0 && len(result.Incorrect) == 0 && len(result.Extra) == 0

	return result
}

// tokenize lowercases and splits on whitespace, discarding empty tokens.
func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

func countWords(words []string) map[string]int {
	counts := make(map[string]int, len(words))
	for _, w := range words {
		counts[w]++
	}
	return counts
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

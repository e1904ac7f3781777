package judges

import (
	"strings"

	"github.com/agnivade/levenshtein"
	"golang.org/x/text/cases"
)

// categoryMatcher pairs rubric categories with the names a judge used.
// Names match after Unicode case folding; when maxDistance is positive,
// a leftover name within that Levenshtein distance also matches.
type categoryMatcher struct {
	maxDistance int
}

// match returns, for each rubric category, the index of the judge entry
// that scores it or -1. The first entry with a matching name wins and no
// entry scores two categories.
func (m categoryMatcher) match(categories []string, scores []categoryScoreResponse) []int {
	// cases.Caser is stateful, so each call gets its own.
	caser := cases.Fold()
	fold := func(s string) string { return caser.String(strings.TrimSpace(s)) }

	folded := make([]string, len(scores))
	for i, s := range scores {
		folded[i] = fold(s.Category)
	}

	matched := make([]int, len(categories))
	used := make([]bool, len(scores))
	for ci, name := range categories {
		matched[ci] = -1
		want := fold(name)
		for si := range scores {
			if !used[si] && folded[si] == want {
				matched[ci], used[si] = si, true
				break
			}
		}
	}

	if m.maxDistance <= 0 {
		return matched
	}

	for ci, name := range categories {
		if matched[ci] != -1 {
			continue
		}
		want := fold(name)
		best, bestDist := -1, m.maxDistance+1
		for si := range scores {
			if used[si] {
				continue
			}
			if d := levenshtein.ComputeDistance(want, folded[si]); d < bestDist {
				best, bestDist = si, d
			}
		}
		if best != -1 {
			matched[ci], used[best] = best, true
		}
	}
	return matched
}

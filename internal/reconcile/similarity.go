package reconcile

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// TokenSortRatio scores the similarity of two strings on a 0-100 scale,
// invariant to word order: both sides are lower-cased, split on
// whitespace, token-sorted and rejoined before a normalized edit-distance
// comparison. "Juma OBrien" and "OBrien Juma" score 100.
func TokenSortRatio(a, b string) int {
	na := sortTokens(a)
	nb := sortTokens(b)
	if na == nb {
		return 100
	}
	if na == "" || nb == "" {
		return 0
	}
	dist := levenshtein.ComputeDistance(na, nb)
	longest := len([]rune(na))
	if l := len([]rune(nb)); l > longest {
		longest = l
	}
	return int(100*(float64(longest)-float64(dist))/float64(longest) + 0.5)
}

func sortTokens(s string) string {
	tokens := strings.Fields(strings.ToLower(s))
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// stripApostrophes removes apostrophes before name comparison, so
// "O'Brien" and "OBrien" are the same name.
func stripApostrophes(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "'", ""), "’", "")
}

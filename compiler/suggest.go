package compiler

import (
	"sort"
	"strings"
)

// maxSuggestDistance bounds how different a suggestion may be.
const maxSuggestDistance = 2

// suggest returns up to three names from candidates closest to name by
// edit distance, nearest first.
func suggest(name string, candidates []string) []string {
	type scored struct {
		dist int
		name string
	}
	var best []scored
	for _, c := range candidates {
		if c == name {
			continue
		}
		if d := levenshtein(name, c); d <= maxSuggestDistance {
			best = append(best, scored{d, c})
		}
	}
	sort.SliceStable(best, func(i, j int) bool {
		if best[i].dist != best[j].dist {
			return best[i].dist < best[j].dist
		}
		return best[i].name < best[j].name
	})

	var out []string
	for i := 0; i < len(best) && i < 3; i++ {
		out = append(out, best[i].name)
	}
	return out
}

// didYouMean formats suggestions as a message suffix, or "" if there are
// none.
func didYouMean(name string, candidates []string) string {
	s := suggest(name, candidates)
	if len(s) == 0 {
		return ""
	}
	return " (did you mean " + strings.Join(s, ", ") + "?)"
}

func levenshtein(a, b string) int {
	prev := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur := make([]int, len(b)+1)
		cur[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(prev[j]+1, cur[j-1]+1, prev[j-1]+cost)
		}
		prev = cur
	}
	return prev[len(b)]
}

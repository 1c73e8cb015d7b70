// Package suggest ranks candidate identifiers by closeness to a misspelled one.
package suggest

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"
)

// DefaultLimit is the number of names returned when callers pass 0.
const DefaultLimit = 3

type ranked struct {
	name    string
	related bool
	dist    int
	fuzzy   int
}

// Nearest returns up to limit candidates ordered by closeness to target.
// Candidates that are an edit or two away, or that contain target as a
// subsequence, rank ahead of the rest. Exact matches are excluded.
func Nearest(target string, candidates []string, limit int) []string {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if len(candidates) == 0 {
		return nil
	}

	lowerTarget := strings.ToLower(unqualify(target))
	lower := make([]string, len(candidates))
	for i, c := range candidates {
		lower[i] = strings.ToLower(c)
	}

	fuzzyScore := make(map[int]int)
	if lowerTarget != "" {
		for _, m := range fuzzy.Find(lowerTarget, lower) {
			fuzzyScore[m.Index] = m.Score
		}
	}

	threshold := max(2, len(lowerTarget)/3)
	seen := make(map[string]bool, len(candidates))
	items := make([]ranked, 0, len(candidates))
	for i, c := range candidates {
		if lower[i] == lowerTarget || seen[lower[i]] {
			continue
		}
		seen[lower[i]] = true
		dist := Levenshtein(lowerTarget, lower[i])
		score, fuzzyHit := fuzzyScore[i]
		items = append(items, ranked{
			name:    c,
			related: dist <= threshold || fuzzyHit || strings.Contains(lower[i], lowerTarget) || strings.Contains(lowerTarget, lower[i]),
			dist:    dist,
			fuzzy:   score,
		})
	}

	sort.Slice(items, func(i, j int) bool {
		a, b := items[i], items[j]
		if a.related != b.related {
			return a.related
		}
		if a.dist != b.dist {
			return a.dist < b.dist
		}
		if a.fuzzy != b.fuzzy {
			return a.fuzzy > b.fuzzy
		}
		return a.name < b.name
	})

	out := make([]string, 0, min(limit, len(items)))
	for _, it := range items {
		if len(out) == limit {
			break
		}
		out = append(out, it.name)
	}
	return out
}

func unqualify(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}

// Levenshtein calculates the edit distance between two strings.
func Levenshtein(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(s1); i++ {
		curr[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			curr[j] = min(
				prev[j]+1,      // deletion
				curr[j-1]+1,    // insertion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(s2)]
}

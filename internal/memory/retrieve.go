package memory

import (
	"cmp"
	"slices"
)

type scored struct {
	id    string
	score float64
}

// rank sorts by score descending, then id ascending, and returns at most k
// ids.
func rank(candidates []scored, k int) []string {
	slices.SortFunc(candidates, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.id, b.id)
	})
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.id
	}
	return out
}

// Retrieve ranks long-term motifs by weight × similarity(query, candidate)
// and returns the topK with a positive score. With excludeIfInShortTerm
// false, short-term motifs are ranked too.
func (m *Memory) Retrieve(query string, topK int, excludeIfInShortTerm bool) []string {
	if topK <= 0 {
		return []string{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	q := []string{query}
	var candidates []scored
	collect := func(tier map[string]float64) {
		for id, w := range tier {
			if s := w * m.sim(q, []string{id}); s > 0 {
				candidates = append(candidates, scored{id: id, score: s})
			}
		}
	}
	collect(m.long)
	if !excludeIfInShortTerm {
		collect(m.short)
	}
	return rank(candidates, topK)
}

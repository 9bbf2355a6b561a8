package memory

// CompleteDyad resolves the pair (m1, m2) to up to topK motifs that
// co-occur with both in the archive. A cached pair returns its single best
// completion without rescanning. An unresolvable pair returns an empty
// slice and is counted.
func (m *Memory) CompleteDyad(m1, m2 string, topK int) []string {
	if topK <= 0 {
		topK = 1
	}
	clusters, changed := m.archive.snapshot()

	m.mu.Lock()
	defer m.mu.Unlock()

	if changed {
		m.dyads.Purge()
	}

	key := newDyadKey(m1, m2)
	if best, ok := m.dyads.Get(key); ok {
		m.metrics.DyadCacheHits.Inc()
		return []string{best}
	}
	m.metrics.DyadCacheMisses.Inc()

	if len(clusters) == 0 {
		m.metrics.DyadUnresolved.Inc()
		return []string{}
	}

	m.scans++
	pair := []string{key.a, key.b}
	best := make(map[string]float64)
	for _, cluster := range clusters {
		if !containsAll(cluster, key.a, key.b) {
			continue
		}
		sim := m.sim(cluster, pair)
		for _, candidate := range cluster {
			if candidate == key.a || candidate == key.b {
				continue
			}
			score := sim + m.long[candidate]
			if prev, ok := best[candidate]; !ok || score > prev {
				best[candidate] = score
			}
		}
	}
	if len(best) == 0 {
		m.metrics.DyadUnresolved.Inc()
		return []string{}
	}

	candidates := make([]scored, 0, len(best))
	for id, s := range best {
		candidates = append(candidates, scored{id: id, score: s})
	}
	out := rank(candidates, topK)
	m.dyads.Add(key, out[0])
	return out
}

func containsAll(cluster []string, a, b string) bool {
	var hasA, hasB bool
	for _, m := range cluster {
		hasA = hasA || m == a
		hasB = hasB || m == b
	}
	return hasA && hasB
}

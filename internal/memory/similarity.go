package memory

// SimilarityFunc scores how alike two motif sets are, in [0,1].
type SimilarityFunc func(a, b []string) float64

// Jaccard returns |a ∩ b| / |a ∪ b| over the distinct elements of a and b.
// Two empty sets score 0.
func Jaccard(a, b []string) float64 {
	set := make(map[string]uint8, len(a)+len(b))
	for _, s := range a {
		set[s] |= 1
	}
	for _, s := range b {
		set[s] |= 2
	}
	if len(set) == 0 {
		return 0
	}
	inter := 0
	for _, v := range set {
		if v == 3 {
			inter++
		}
	}
	return float64(inter) / float64(len(set))
}

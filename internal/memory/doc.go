// Package memory implements the two-tier decaying motif cache.
//
// Weights live in exactly one of two tiers: short-term (fast decay) or
// long-term (slow decay). Access boosts a motif into the short-term tier;
// UpdateCycle decays both tiers and then moves motifs between them with a
// promotion threshold and a lower demotion threshold. The gap between the
// two thresholds keeps a motif sitting at the boundary from flapping.
//
// Dyad completion resolves a pair of motifs to a third through an archive
// of co-occurrence clusters read from a line-oriented index file:
//
//	# comment
//	REEF joy grief awe
//	REEF joy wonder
//
// Resolved pairs are cached in a bounded LRU keyed by the sorted pair. A
// reload of the archive purges the cache.
package memory

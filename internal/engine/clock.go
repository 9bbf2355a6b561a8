package engine

import "sync"

// Clock is an emitter's per-motif Lamport counter.
//
// Each agent owns one Clock. Values are monotonic per motif and carry no
// cross-agent causal meaning: ordering is per motif, per emitter.
//
// A floor function, when set, seeds a motif's counter the first time that
// motif is used, so a fresh emitter starts past the ledger's high-water mark
// instead of replaying stale lamports.
//
// Thread-safety: Clock is safe for concurrent use.
type Clock struct {
	mu    sync.Mutex
	seq   map[string]uint64
	floor func(motifID string) uint64
}

// NewClock creates a clock whose counters start at 0.
func NewClock() *Clock {
	return &Clock{seq: make(map[string]uint64)}
}

// NewClockWithFloor creates a clock seeded lazily from floor.
func NewClockWithFloor(floor func(motifID string) uint64) *Clock {
	c := NewClock()
	c.floor = floor
	return c
}

// Next returns the next lamport value for motifID. The first call returns
// floor(motifID)+1, or 1 without a floor.
func (c *Clock) Next(motifID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.seq[motifID]
	if !ok && c.floor != nil {
		cur = c.floor(motifID)
	}
	cur++
	c.seq[motifID] = cur
	return cur
}

// Current returns the last value handed out for motifID without
// incrementing.
func (c *Clock) Current(motifID string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq[motifID]
}

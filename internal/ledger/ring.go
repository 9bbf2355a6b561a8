package ledger

import "github.com/roach88/motifcore/internal/tick"

// Epoch aggregates records that rotated out of a motif's ring buffer, so
// long-run statistics survive buffer rotation.
type Epoch struct {
	MinLamport uint64 `json:"min_lamport"`
	MaxLamport uint64 `json:"max_lamport"`
	Count      int    `json:"count"`
}

func (e *Epoch) fold(rec tick.Record) {
	if e.Count == 0 || rec.Lamport < e.MinLamport {
		e.MinLamport = rec.Lamport
	}
	if e.Count == 0 || rec.Lamport > e.MaxLamport {
		e.MaxLamport = rec.Lamport
	}
	e.Count++
}

// ring is a bounded circular buffer of records, oldest first. The backing
// slice grows on demand, so a motif seen once holds one slot rather than the
// full capacity.
type ring struct {
	buf   []tick.Record
	size  int
	start int
}

func newRing(capacity int) *ring {
	return &ring{size: capacity}
}

// push appends rec. When the ring is full the oldest record is returned as
// evicted with ok=true.
func (r *ring) push(rec tick.Record) (evicted tick.Record, ok bool) {
	if len(r.buf) < r.size {
		r.buf = append(r.buf, rec)
		return tick.Record{}, false
	}
	evicted = r.buf[r.start]
	r.buf[r.start] = rec
	r.start = (r.start + 1) % r.size
	return evicted, true
}

// last returns the newest record.
func (r *ring) last() (tick.Record, bool) {
	n := len(r.buf)
	if n == 0 {
		return tick.Record{}, false
	}
	return r.buf[(r.start+n-1)%n], true
}

// items returns a copy of the buffered records, oldest first.
func (r *ring) items() []tick.Record {
	n := len(r.buf)
	out := make([]tick.Record, n)
	for i := range n {
		out[i] = r.buf[(r.start+i)%n]
	}
	return out
}

func (r *ring) len() int {
	return len(r.buf)
}

package engine

import (
	"sync"

	"github.com/roach88/motifcore/internal/tick"
)

// Emission is one tick an agent wants to emit, plus the reward signals that
// accompany it into the feedback loop.
type Emission struct {
	MotifID    string            `yaml:"motif" json:"motif"`
	Stage      tick.Stage        `yaml:"stage,omitempty" json:"stage,omitempty"`
	Annotation map[string]string `yaml:"annotation,omitempty" json:"annotation,omitempty"`

	// Boost overrides the configured access boost when positive.
	Boost float64 `yaml:"boost,omitempty" json:"boost,omitempty"`

	CtxRatio        float64 `yaml:"ctx_ratio,omitempty" json:"ctx_ratio,omitempty"`
	RewardEntropy   float64 `yaml:"reward_entropy,omitempty" json:"reward_entropy,omitempty"`
	HarmHits        int     `yaml:"harm_hits,omitempty" json:"harm_hits,omitempty"`
	IntuitionWeight float64 `yaml:"intuition_weight,omitempty" json:"intuition_weight,omitempty"`
}

// MotifSource supplies emissions to RunAgent. Next returns false when the
// source is exhausted.
type MotifSource interface {
	Next() (Emission, bool)
}

// SliceSource yields a fixed list of emissions once.
//
// Thread-safety: SliceSource is safe for concurrent use; concurrent agents
// share the list without repeats.
type SliceSource struct {
	mu    sync.Mutex
	items []Emission
	idx   int
}

// NewSliceSource creates a source over ems.
func NewSliceSource(ems ...Emission) *SliceSource {
	return &SliceSource{items: ems}
}

// Next returns the next emission.
func (s *SliceSource) Next() (Emission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.idx >= len(s.items) {
		return Emission{}, false
	}
	em := s.items[s.idx]
	s.idx++
	return em, true
}

// CycleSource walks a motif list round-robin. A count <= 0 never exhausts.
type CycleSource struct {
	mu     sync.Mutex
	motifs []string
	count  int
	n      int
	stage  tick.Stage
}

// NewCycleSource creates a source emitting count ticks over motifs.
func NewCycleSource(motifs []string, count int, stage tick.Stage) *CycleSource {
	return &CycleSource{motifs: motifs, count: count, stage: stage}
}

// Next returns the next emission.
func (s *CycleSource) Next() (Emission, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.motifs) == 0 || (s.count > 0 && s.n >= s.count) {
		return Emission{}, false
	}
	em := Emission{MotifID: s.motifs[s.n%len(s.motifs)], Stage: s.stage}
	s.n++
	return em, true
}

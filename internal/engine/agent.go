package engine

import (
	"context"
	"sync/atomic"
	"time"
)

// State is an agent's position in the emission loop.
type State int32

const (
	StateIdle State = iota
	StateAdmitting
	StateIngesting
	StateFeedback
	StateSleeping
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAdmitting:
		return "admitting"
	case StateIngesting:
		return "ingesting"
	case StateFeedback:
		return "feedback"
	case StateSleeping:
		return "sleeping"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Agent is one emitter: an id, a per-motif Lamport clock and the last two
// distinct motifs it emitted.
//
// Thread-safety: an Agent is driven by one goroutine at a time. State may be
// read from any goroutine.
type Agent struct {
	ID    string
	clock *Clock
	state atomic.Int32

	recent    []string
	lastRatio float64
}

func newAgent(id string, clock *Clock) *Agent {
	return &Agent{ID: id, clock: clock, recent: make([]string, 0, 2)}
}

// State returns the agent's current state.
func (a *Agent) State() State {
	return State(a.state.Load())
}

// Clock returns the agent's Lamport clock.
func (a *Agent) Clock() *Clock {
	return a.clock
}

func (a *Agent) setState(s State) {
	a.state.Store(int32(s))
}

// observe records an accepted motif and returns the dyad formed by the last
// two distinct motifs, oldest first. A repeat of the newest motif does not
// shift the window.
func (a *Agent) observe(motifID string) (dyad [2]string, ok bool) {
	if n := len(a.recent); n == 0 || a.recent[n-1] != motifID {
		a.recent = append(a.recent, motifID)
		if len(a.recent) > 2 {
			a.recent = a.recent[len(a.recent)-2:]
		}
	}
	if len(a.recent) < 2 {
		return dyad, false
	}
	return [2]string{a.recent[0], a.recent[1]}, true
}

// sleep blocks for d in the Sleeping state. Returns ctx.Err() if ctx ends
// first, leaving the agent Cancelled.
func (a *Agent) sleep(ctx context.Context, d time.Duration) error {
	a.setState(StateSleeping)
	if d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		a.setState(StateCancelled)
		return err
	}
	a.setState(StateIdle)
	return nil
}

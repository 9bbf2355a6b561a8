package harness

// Trace event kinds.
const (
	KindEmit  = "emit"
	KindTick  = "tick"
	KindCycle = "cycle"
	KindGate  = "gate"
)

// TraceEvent records what one scenario step did. Fields that depend on
// wall time or hashing (coherence hashes, intervals, latency) are left out
// so traces are stable across runs.
type TraceEvent struct {
	Seq       int      `json:"seq"`
	Kind      string   `json:"kind"`
	Agent     string   `json:"agent,omitempty"`
	Motif     string   `json:"motif,omitempty"`
	Lamport   uint64   `json:"lamport,omitempty"`
	Admission string   `json:"admission,omitempty"`
	Outcome   string   `json:"outcome,omitempty"`
	Reason    string   `json:"reason,omitempty"`
	Cause     string   `json:"cause,omitempty"`
	Dyad      []string `json:"dyad,omitempty"`
	Tier      string   `json:"tier,omitempty"`
	Weight    float64  `json:"weight,omitempty"`
	Cycles    int      `json:"cycles,omitempty"`
	Backoff   float64  `json:"backoff,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every assertion held.
	Pass bool `json:"pass"`

	// Trace contains one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Histogram is the ledger's per-motif tick count after the last step.
	Histogram map[string]int `json:"histogram"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Trace:     []TraceEvent{},
		Errors:    []string{},
		Histogram: map[string]int{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// addEvent appends ev with the next sequence number.
func (r *Result) addEvent(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}

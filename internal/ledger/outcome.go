package ledger

// Outcome is the typed result of an ingestion attempt.
type Outcome int

const (
	Accepted Outcome = iota + 1
	Duplicate
	Rejected
)

// String returns the lowercase outcome name.
func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// RejectReason qualifies a Rejected outcome.
type RejectReason string

const (
	ReasonSchema RejectReason = "schema"
	ReasonAuth   RejectReason = "auth"
)

// DuplicateCause qualifies a Duplicate outcome.
type DuplicateCause string

const (
	CauseStaleLamport DuplicateCause = "stale_lamport"
	CauseSeenHash     DuplicateCause = "seen_hash"
)

// Result describes what Ingest did with a tick.
type Result struct {
	Outcome Outcome

	// Reason is set for Rejected outcomes.
	Reason RejectReason

	// Cause is set for Duplicate outcomes.
	Cause DuplicateCause

	// Hash is the coherence hash of the submitted record.
	Hash string
}

// String renders the result as "outcome" or "outcome(qualifier)".
func (r Result) String() string {
	switch {
	case r.Reason != "":
		return r.Outcome.String() + "(" + string(r.Reason) + ")"
	case r.Cause != "":
		return r.Outcome.String() + "(" + string(r.Cause) + ")"
	default:
		return r.Outcome.String()
	}
}

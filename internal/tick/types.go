package tick

import "fmt"

// CoherenceHashLen is the fixed width of a coherence hash in hex characters.
const CoherenceHashLen = 12

// MaxIDLen bounds motif and agent identifiers in bytes.
const MaxIDLen = 256

// Stage names the phase of agent activity a tick describes.
// Stages are enum-like: the constants below are the ones this module emits,
// but any non-empty stage is accepted on ingest.
type Stage string

const (
	StageSeed    Stage = "seed"
	StageEcho    Stage = "echo"
	StageDyad    Stage = "dyad"
	StageResolve Stage = "resolve"
)

// Record is an immutable, authenticatable tick on a motif.
type Record struct {
	MotifID       string `json:"motif_id"`
	Lamport       uint64 `json:"lamport"`
	HLCTimestamp  string `json:"hlc_timestamp"`
	CoherenceHash string `json:"coherence_hash"`
	AgentID       string `json:"agent_id"`
	Stage         Stage  `json:"stage"`
	MAC           []byte `json:"mac,omitempty"`
}

// Authenticated reports whether the record carries a MAC.
func (r Record) Authenticated() bool {
	return len(r.MAC) > 0
}

// String returns a short human-readable form used in logs.
func (r Record) String() string {
	return fmt.Sprintf("%s@%d[%s]", r.MotifID, r.Lamport, r.CoherenceHash)
}

package tick

import (
	"crypto/hmac"
	"crypto/sha256"
	"strconv"
	"time"
)

// Mint creates a tick stamped with the current wall clock.
// See MintAt.
func Mint(motifID, agentID string, stage Stage, lamport uint64, secret []byte) Record {
	return MintAt(time.Now(), motifID, agentID, stage, lamport, secret)
}

// MintAt creates a tick using now as the wall-clock half of the hybrid
// timestamp. It is a pure function of its inputs; the caller supplies a
// monotonically increasing lamport value per motif.
//
// If secret is non-empty the record carries an HMAC-SHA256 MAC.
func MintAt(now time.Time, motifID, agentID string, stage Stage, lamport uint64, secret []byte) Record {
	hlc := HLCTimestamp(now, lamport)
	rec := Record{
		MotifID:       motifID,
		Lamport:       lamport,
		HLCTimestamp:  hlc,
		CoherenceHash: mustCoherenceHash(motifID, agentID, stage, lamport, hlc),
		AgentID:       agentID,
		Stage:         stage,
	}
	if len(secret) > 0 {
		rec.MAC = computeMAC(secret, rec)
	}
	return rec
}

// HLCTimestamp composes the wall-clock milliseconds and the logical lamport
// value as "<unix-millis>:<lamport>".
func HLCTimestamp(now time.Time, lamport uint64) string {
	return strconv.FormatInt(now.UnixMilli(), 10) + ":" + strconv.FormatUint(lamport, 10)
}

// Verify recomputes the record's MAC under secret and compares it in
// constant time. It returns false when the record has no MAC or the secret
// is empty.
func Verify(rec Record, secret []byte) bool {
	if len(rec.MAC) == 0 || len(secret) == 0 {
		return false
	}
	return hmac.Equal(rec.MAC, computeMAC(secret, rec))
}

func computeMAC(secret []byte, rec Record) []byte {
	mac := hmac.New(sha256.New, secret)
	fields := []string{
		rec.MotifID,
		rec.CoherenceHash,
		strconv.FormatUint(rec.Lamport, 10),
		rec.HLCTimestamp,
		rec.AgentID,
		string(rec.Stage),
	}
	for i, f := range fields {
		if i > 0 {
			mac.Write([]byte{0x00})
		}
		mac.Write([]byte(f))
	}
	return mac.Sum(nil)
}

// mustCoherenceHash panics if the identity cannot be canonically marshaled,
// which cannot happen for string and uint64 fields.
func mustCoherenceHash(motifID, agentID string, stage Stage, lamport uint64, hlc string) string {
	h, err := CoherenceHash(motifID, agentID, stage, lamport, hlc)
	if err != nil {
		panic(err)
	}
	return h
}

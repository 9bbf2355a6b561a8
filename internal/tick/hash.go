package tick

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed digests.
// Version suffix enables future algorithm migration.
const (
	DomainCoherence = "motifcore/coherence/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// CoherenceHash derives the fixed-width dedup fingerprint for a tick from its
// identity fields. The MAC is not part of the identity.
func CoherenceHash(motifID, agentID string, stage Stage, lamport uint64, hlc string) (string, error) {
	obj := map[string]any{
		"motif_id":      motifID,
		"agent_id":      agentID,
		"stage":         string(stage),
		"lamport":       lamport,
		"hlc_timestamp": hlc,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("CoherenceHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainCoherence, canonical)[:CoherenceHashLen], nil
}

// Checksum returns the hex SHA-256 digest of a stored payload.
// Replay verification recomputes exactly this value.
func Checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

package tick

import (
	"math"
	"strconv"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Validate performs the schema check applied before any ledger state is
// touched. motifID is the motif the caller is ingesting under; it must match
// the record.
func Validate(motifID string, rec Record) error {
	if err := validateID("motif_id", motifID, rec.CoherenceHash); err != nil {
		return err
	}
	if rec.MotifID != motifID {
		return newSchemaError("motif_id", "record motif "+strconv.Quote(rec.MotifID)+" does not match "+strconv.Quote(motifID), rec.CoherenceHash)
	}
	if err := validateID("agent_id", rec.AgentID, rec.CoherenceHash); err != nil {
		return err
	}
	if rec.Stage == "" {
		return newSchemaError("stage", "must be non-empty", rec.CoherenceHash)
	}
	if !isCanonical(string(rec.Stage)) {
		return newSchemaError("stage", "must be NFC-normalized UTF-8", rec.CoherenceHash)
	}
	// Lamport values are persisted as signed 64-bit integers.
	if rec.Lamport > math.MaxInt64 {
		return newSchemaError("lamport", "must fit a non-negative int64", rec.CoherenceHash)
	}
	if rec.HLCTimestamp == "" {
		return newSchemaError("hlc_timestamp", "must be non-empty", rec.CoherenceHash)
	}
	if !isHex(rec.CoherenceHash, CoherenceHashLen) {
		return newSchemaError("coherence_hash", "must be 12 lowercase hex characters", "")
	}
	return nil
}

func validateID(field, id, hash string) error {
	if id == "" {
		return newSchemaError(field, "must be non-empty", hash)
	}
	if len(id) > MaxIDLen {
		return newSchemaError(field, "exceeds 256 bytes", hash)
	}
	if !isCanonical(id) {
		return newSchemaError(field, "must be NFC-normalized UTF-8", hash)
	}
	return nil
}

// isCanonical reports whether s survives canonical encoding unchanged.
// Payloads and hashes normalize strings, so any other id would be persisted
// under a different spelling than the one its MAC covers.
func isCanonical(s string) bool {
	return utf8.ValidString(s) && norm.NFC.IsNormalString(s)
}

func isHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

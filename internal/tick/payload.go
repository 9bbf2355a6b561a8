package tick

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// EncodePayload serializes the tick identity plus an optional external
// annotation into the canonical replay blob.
func EncodePayload(rec Record, annotation map[string]string) ([]byte, error) {
	obj := map[string]any{
		"motif_id":       rec.MotifID,
		"lamport":        rec.Lamport,
		"hlc_timestamp":  rec.HLCTimestamp,
		"coherence_hash": rec.CoherenceHash,
		"agent_id":       rec.AgentID,
		"stage":          string(rec.Stage),
	}
	if len(rec.MAC) > 0 {
		obj["mac"] = hex.EncodeToString(rec.MAC)
	}
	if len(annotation) > 0 {
		obj["annotation"] = annotation
	}
	data, err := MarshalCanonical(obj)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// wirePayload mirrors the canonical object produced by EncodePayload.
type wirePayload struct {
	MotifID       string            `json:"motif_id"`
	Lamport       uint64            `json:"lamport"`
	HLCTimestamp  string            `json:"hlc_timestamp"`
	CoherenceHash string            `json:"coherence_hash"`
	AgentID       string            `json:"agent_id"`
	Stage         string            `json:"stage"`
	MAC           string            `json:"mac,omitempty"`
	Annotation    map[string]string `json:"annotation,omitempty"`
}

// DecodePayload parses a replay blob back into the record and annotation.
func DecodePayload(data []byte) (Record, map[string]string, error) {
	var w wirePayload
	if err := json.Unmarshal(data, &w); err != nil {
		return Record{}, nil, fmt.Errorf("decode payload: %w", err)
	}
	rec := Record{
		MotifID:       w.MotifID,
		Lamport:       w.Lamport,
		HLCTimestamp:  w.HLCTimestamp,
		CoherenceHash: w.CoherenceHash,
		AgentID:       w.AgentID,
		Stage:         Stage(w.Stage),
	}
	if w.MAC != "" {
		mac, err := hex.DecodeString(w.MAC)
		if err != nil {
			return Record{}, nil, fmt.Errorf("decode payload: mac: %w", err)
		}
		rec.MAC = mac
	}
	return rec, w.Annotation, nil
}

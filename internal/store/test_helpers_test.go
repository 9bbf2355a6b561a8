package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/motifcore/internal/tick"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, opts...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// createTestEntry mints a tick and wraps it as a store entry.
func createTestEntry(t *testing.T, motifID string, lamport uint64) Entry {
	t.Helper()
	rec := tick.MintAt(testNow, motifID, "agent-test", tick.StageSeed, lamport, nil)
	payload, err := tick.EncodePayload(rec, nil)
	if err != nil {
		t.Fatalf("EncodePayload() failed: %v", err)
	}
	return Entry{
		CoherenceHash: rec.CoherenceHash,
		MotifID:       motifID,
		Lamport:       lamport,
		Payload:       payload,
		Checksum:      tick.Checksum(payload),
		StoredAt:      testNow,
	}
}

package store

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/roach88/motifcore/internal/tick"
)

// VerifyAll recomputes the checksum of every stored payload and returns the
// coherence hashes whose checksum no longer matches, in seq order.
// An empty result means the store is intact.
func (s *Store) VerifyAll(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "store.verify_all")
	defer span.End()

	rows, err := s.db.QueryContext(ctx, `
		SELECT coherence_hash, payload, checksum
		FROM replay_entries
		ORDER BY seq ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("verify all: query: %w", err)
	}
	defer rows.Close()

	corrupt := []string{}
	var checked int64
	for rows.Next() {
		var (
			hash     string
			payload  []byte
			checksum string
		)
		if err := rows.Scan(&hash, &payload, &checksum); err != nil {
			return nil, fmt.Errorf("verify all: scan: %w", err)
		}
		checked++
		if tick.Checksum(payload) != checksum {
			corrupt = append(corrupt, hash)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("verify all: iterate: %w", err)
	}

	span.SetAttributes(
		attribute.Int64("store.checked", checked),
		attribute.Int("store.corrupt", len(corrupt)),
	)
	return corrupt, nil
}

// RestorePoint is the ordering and dedup state recoverable from the store
// after a restart.
type RestorePoint struct {
	// LastLamport is the highest stored lamport per motif.
	LastLamport map[string]uint64

	// RecentHashes holds up to the requested number of most recently stored
	// coherence hashes, oldest first.
	RecentHashes []string
}

// RestorePoint reads the per-motif high-water lamport and the most recent
// coherence hashes (at most recent of them).
func (s *Store) RestorePoint(ctx context.Context, recent int) (RestorePoint, error) {
	rp := RestorePoint{LastLamport: make(map[string]uint64)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT motif_id, MAX(lamport)
		FROM replay_entries
		GROUP BY motif_id
	`)
	if err != nil {
		return rp, fmt.Errorf("restore point: lamports: %w", err)
	}
	for rows.Next() {
		var (
			motif string
			max   int64
		)
		if err := rows.Scan(&motif, &max); err != nil {
			rows.Close()
			return rp, fmt.Errorf("restore point: scan lamport: %w", err)
		}
		rp.LastLamport[motif] = uint64(max)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return rp, fmt.Errorf("restore point: iterate lamports: %w", err)
	}
	rows.Close()

	if recent <= 0 {
		return rp, nil
	}

	hashRows, err := s.db.QueryContext(ctx, `
		SELECT coherence_hash FROM (
			SELECT seq, coherence_hash FROM replay_entries
			ORDER BY seq DESC LIMIT ?
		)
		ORDER BY seq ASC
	`, recent)
	if err != nil {
		return rp, fmt.Errorf("restore point: hashes: %w", err)
	}
	defer hashRows.Close()

	for hashRows.Next() {
		var h string
		if err := hashRows.Scan(&h); err != nil {
			return rp, fmt.Errorf("restore point: scan hash: %w", err)
		}
		rp.RecentHashes = append(rp.RecentHashes, h)
	}
	if err := hashRows.Err(); err != nil {
		return rp, fmt.Errorf("restore point: iterate hashes: %w", err)
	}
	return rp, nil
}

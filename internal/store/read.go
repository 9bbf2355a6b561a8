package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when no entry exists for a coherence hash.
var ErrNotFound = errors.New("replay entry not found")

const entryColumns = `seq, coherence_hash, motif_id, lamport, payload, checksum, stored_at`

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (Entry, error) {
	var (
		e        Entry
		lamport  int64
		storedAt string
	)
	if err := row.Scan(&e.Seq, &e.CoherenceHash, &e.MotifID, &lamport, &e.Payload, &e.Checksum, &storedAt); err != nil {
		return Entry{}, err
	}
	e.Lamport = uint64(lamport)
	t, err := time.Parse(time.RFC3339Nano, storedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parse stored_at %q: %w", storedAt, err)
	}
	e.StoredAt = t
	return e, nil
}

// Get returns the entry stored under a coherence hash (replay-by-hash).
// Returns ErrNotFound if the hash was never stored or has been pruned.
func (s *Store) Get(ctx context.Context, coherenceHash string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+entryColumns+`
		FROM replay_entries
		WHERE coherence_hash = ?
	`, coherenceHash)

	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

// MotifEntries returns the stored entries for one motif ordered by lamport.
// Returns an empty slice (not nil) if none exist.
func (s *Store) MotifEntries(ctx context.Context, motifID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM replay_entries
		WHERE motif_id = ?
		ORDER BY lamport ASC, seq ASC
	`, motifID)
	if err != nil {
		return nil, fmt.Errorf("query motif entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan motif entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate motif entries: %w", err)
	}
	return entries, nil
}

// Count returns the number of stored entries.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM replay_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

// MotifCounts returns the number of stored entries per motif.
func (s *Store) MotifCounts(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT motif_id, COUNT(*)
		FROM replay_entries
		GROUP BY motif_id
		ORDER BY motif_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query motif counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var (
			motif string
			n     int64
		)
		if err := rows.Scan(&motif, &n); err != nil {
			return nil, fmt.Errorf("scan motif count: %w", err)
		}
		counts[motif] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate motif counts: %w", err)
	}
	return counts, nil
}

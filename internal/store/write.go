package store

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("github.com/roach88/motifcore/internal/store")

// Entry is one persisted tick: the coherence hash, the canonical payload
// blob and its checksum. Entries are never mutated after Append.
type Entry struct {
	Seq           int64
	CoherenceHash string
	MotifID       string
	Lamport       uint64
	Payload       []byte
	Checksum      string
	StoredAt      time.Time
}

// AppendResult reports what an Append did.
type AppendResult struct {
	// Inserted is false when the coherence hash was already stored.
	Inserted bool

	// Pruned is the number of oldest rows removed to honor the row cap.
	Pruned int64

	// Rows is the table size after the append.
	Rows int64
}

// Append inserts an entry and prunes the oldest rows once the table exceeds
// rowCap. Both happen in one transaction. A rowCap <= 0 disables pruning.
//
// Uses ON CONFLICT(coherence_hash) DO NOTHING for idempotency - a duplicate
// hash is reported as Inserted=false, not as an error.
func (s *Store) Append(ctx context.Context, e Entry, rowCap int) (res AppendResult, err error) {
	ctx, span := tracer.Start(ctx, "store.append")
	defer func() {
		span.SetAttributes(
			attribute.String("motif.id", e.MotifID),
			attribute.Bool("store.inserted", res.Inserted),
			attribute.Int64("store.pruned", res.Pruned),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	storedAt := e.StoredAt
	if storedAt.IsZero() {
		storedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("append entry: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO replay_entries
		(coherence_hash, motif_id, lamport, payload, checksum, stored_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(coherence_hash) DO NOTHING
	`,
		e.CoherenceHash,
		e.MotifID,
		int64(e.Lamport),
		e.Payload,
		e.Checksum,
		storedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return res, fmt.Errorf("append entry: insert: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return res, fmt.Errorf("append entry: rows affected: %w", err)
	}
	res.Inserted = affected > 0

	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM replay_entries`).Scan(&res.Rows); err != nil {
		return res, fmt.Errorf("append entry: count: %w", err)
	}

	if rowCap > 0 && res.Rows > int64(rowCap) {
		excess := res.Rows - int64(rowCap)
		pruned, err := tx.ExecContext(ctx, `
			DELETE FROM replay_entries
			WHERE seq IN (
				SELECT seq FROM replay_entries ORDER BY seq ASC LIMIT ?
			)
		`, excess)
		if err != nil {
			return res, fmt.Errorf("append entry: prune: %w", err)
		}
		res.Pruned, err = pruned.RowsAffected()
		if err != nil {
			return res, fmt.Errorf("append entry: prune rows affected: %w", err)
		}
		res.Rows -= res.Pruned
	}

	if err := tx.Commit(); err != nil {
		return res, fmt.Errorf("append entry: commit: %w", err)
	}

	return res, nil
}

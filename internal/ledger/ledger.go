package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/motifcore/internal/metrics"
	"github.com/roach88/motifcore/internal/store"
	"github.com/roach88/motifcore/internal/tick"
)

var tracer = otel.Tracer("github.com/roach88/motifcore/internal/ledger")

// ErrCorrupt is returned by Replay when a stored payload fails its checksum.
var ErrCorrupt = errors.New("replay entry checksum mismatch")

// Defaults for Config.
const (
	DefaultBufferSize    = 128
	DefaultRowCap        = 10000
	DefaultDedupCapacity = 4096
)

// Config sizes the ledger's bounded structures.
type Config struct {
	// BufferSize is the per-motif ring buffer capacity (tick_buffer_size).
	BufferSize int

	// RowCap bounds the replay store (ledger_row_cap). <= 0 disables pruning.
	RowCap int

	// DedupCapacity bounds the recent coherence-hash set.
	DedupCapacity int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		BufferSize:    DefaultBufferSize,
		RowCap:        DefaultRowCap,
		DedupCapacity: DefaultDedupCapacity,
	}
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithAuthenticator enables MAC verification. Without it (or with a nil
// authenticator) the ledger runs in unauthenticated mode.
func WithAuthenticator(auth tick.Authenticator) Option {
	return func(l *Ledger) {
		l.auth = auth
	}
}

// WithStore attaches the durable replay store. Without one, step 6 of
// ingestion is skipped and the ledger is memory-only.
func WithStore(s *store.Store) Option {
	return func(l *Ledger) {
		l.store = s
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Ledger) {
		l.metrics = m
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		l.logger = logger
	}
}

// WithClock overrides the wall clock used for stored_at.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) {
		l.now = now
	}
}

type motifState struct {
	ring    *ring
	epoch   Epoch
	last    uint64
	hasLast bool
}

// Ledger is the per-motif bounded tick history.
//
// Thread-safety: Ingest and Restore take the exclusive lock for their whole
// duration; Latest, Entries, Epoch and ExportHistogram take the shared lock.
type Ledger struct {
	mu     sync.RWMutex
	cfg    Config
	motifs map[string]*motifState
	recent *lru.Cache[string, struct{}]

	auth    tick.Authenticator
	store   *store.Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Ledger. It logs a configuration warning once when no
// authenticator is configured.
func New(cfg Config, opts ...Option) (*Ledger, error) {
	if cfg.BufferSize <= 0 {
		return nil, fmt.Errorf("ledger: buffer size must be positive, got %d", cfg.BufferSize)
	}
	if cfg.DedupCapacity <= 0 {
		return nil, fmt.Errorf("ledger: dedup capacity must be positive, got %d", cfg.DedupCapacity)
	}

	recent, err := lru.New[string, struct{}](cfg.DedupCapacity)
	if err != nil {
		return nil, fmt.Errorf("ledger: recent-hash set: %w", err)
	}

	l := &Ledger{
		cfg:    cfg,
		motifs: make(map[string]*motifState),
		recent: recent,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.metrics = metrics.OrNew(l.metrics)

	if l.auth == nil {
		l.logger.Warn("ledger running in unauthenticated mode: no hmac secret configured")
	}
	return l, nil
}

// IngestOption configures a single Ingest call.
type IngestOption func(*ingestOptions)

type ingestOptions struct {
	annotation map[string]string
}

// WithAnnotation attaches an external annotation to the persisted payload.
func WithAnnotation(annotation map[string]string) IngestOption {
	return func(o *ingestOptions) {
		o.annotation = annotation
	}
}

// Ingest admits rec under motifID. See the package documentation for the
// step order. The returned error is non-nil only for schema rejections and
// is then a *tick.SchemaError.
func (l *Ledger) Ingest(ctx context.Context, motifID string, rec tick.Record, opts ...IngestOption) (Result, error) {
	var o ingestOptions
	for _, opt := range opts {
		opt(&o)
	}

	ctx, span := tracer.Start(ctx, "ledger.ingest", trace.WithAttributes(
		attribute.String("motif.id", motifID),
		attribute.Int64("tick.lamport", int64(rec.Lamport)),
	))
	defer span.End()

	l.mu.Lock()
	defer l.mu.Unlock()

	res, err := l.admit(ctx, motifID, rec, o)
	span.SetAttributes(attribute.String("ledger.outcome", res.String()))
	return res, err
}

// admit runs the ingestion steps. Caller holds l.mu.
func (l *Ledger) admit(ctx context.Context, motifID string, rec tick.Record, o ingestOptions) (Result, error) {
	res := Result{Hash: rec.CoherenceHash}

	// 1. Schema
	if err := tick.Validate(motifID, rec); err != nil {
		l.metrics.TicksRejected.WithLabelValues(metrics.ReasonSchema).Inc()
		res.Outcome, res.Reason = Rejected, ReasonSchema
		return res, err
	}

	// 2. Authentication
	if l.auth != nil && !l.auth.Verify(rec) {
		l.metrics.AuthFailures.Inc()
		l.metrics.TicksRejected.WithLabelValues(metrics.ReasonAuth).Inc()
		res.Outcome, res.Reason = Rejected, ReasonAuth
		return res, nil
	}

	// 3. Ordering
	st := l.motifs[motifID]
	if st != nil && st.hasLast && rec.Lamport <= st.last {
		l.metrics.TicksDuplicate.Inc()
		res.Outcome, res.Cause = Duplicate, CauseStaleLamport
		return res, nil
	}

	// 4. Dedup
	if _, seen := l.recent.Get(rec.CoherenceHash); seen {
		l.metrics.TicksDuplicate.Inc()
		res.Outcome, res.Cause = Duplicate, CauseSeenHash
		return res, nil
	}

	// 5. Ring buffer
	if st == nil {
		st = &motifState{ring: newRing(l.cfg.BufferSize)}
		l.motifs[motifID] = st
	}
	if evicted, ok := st.ring.push(rec); ok {
		st.epoch.fold(evicted)
	}
	st.last, st.hasLast = rec.Lamport, true
	l.recent.Add(rec.CoherenceHash, struct{}{})

	// 6. Persist
	l.persist(ctx, rec, o.annotation)

	// 7. Accepted
	l.metrics.TicksAccepted.Inc()
	res.Outcome = Accepted
	return res, nil
}

// persist writes the accepted tick to the replay store. Failures are logged
// and counted; the tick stays accepted. Caller holds l.mu.
func (l *Ledger) persist(ctx context.Context, rec tick.Record, annotation map[string]string) {
	if l.store == nil {
		return
	}

	payload, err := tick.EncodePayload(rec, annotation)
	if err != nil {
		l.metrics.PersistFailures.Inc()
		l.logger.Error("encode replay payload", "motif", rec.MotifID, "hash", rec.CoherenceHash, "error", err)
		return
	}

	res, err := l.store.Append(ctx, store.Entry{
		CoherenceHash: rec.CoherenceHash,
		MotifID:       rec.MotifID,
		Lamport:       rec.Lamport,
		Payload:       payload,
		Checksum:      tick.Checksum(payload),
		StoredAt:      l.now(),
	}, l.cfg.RowCap)
	if err != nil {
		l.metrics.PersistFailures.Inc()
		l.logger.Error("persist tick", "motif", rec.MotifID, "hash", rec.CoherenceHash, "error", err)
		return
	}
	l.metrics.LedgerRows.Set(float64(res.Rows))
	if res.Pruned > 0 {
		l.logger.Debug("replay store pruned", "rows", res.Rows, "pruned", res.Pruned)
	}
}

// Latest returns the newest accepted record for a motif.
func (l *Ledger) Latest(motifID string) (tick.Record, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st, ok := l.motifs[motifID]
	if !ok {
		return tick.Record{}, false
	}
	return st.ring.last()
}

// Entries returns the buffered records for a motif, oldest first.
func (l *Ledger) Entries(motifID string) []tick.Record {
	l.mu.RLock()
	defer l.mu.RUnlock()

	st, ok := l.motifs[motifID]
	if !ok {
		return []tick.Record{}
	}
	return st.ring.items()
}

// Epoch returns the aggregate of records rotated out of a motif's buffer.
func (l *Ledger) Epoch(motifID string) Epoch {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if st, ok := l.motifs[motifID]; ok {
		return st.epoch
	}
	return Epoch{}
}

// ExportHistogram returns the number of accepted ticks per motif, counting
// both buffered records and those folded into epochs.
func (l *Ledger) ExportHistogram() map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[string]int, len(l.motifs))
	for id, st := range l.motifs {
		out[id] = st.epoch.Count + st.ring.len()
	}
	return out
}

// VerifyAll returns the coherence hashes of persisted blobs whose checksum
// no longer matches. A memory-only ledger has nothing to verify.
func (l *Ledger) VerifyAll(ctx context.Context) ([]string, error) {
	if l.store == nil {
		return []string{}, nil
	}
	corrupt, err := l.store.VerifyAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger verify: %w", err)
	}
	if len(corrupt) > 0 {
		l.logger.Warn("replay store corruption detected", "count", len(corrupt))
	}
	return corrupt, nil
}

// Replay returns the persisted record and annotation for a coherence hash.
// Returns store.ErrNotFound for unknown or pruned hashes and ErrCorrupt when
// the stored checksum no longer matches.
func (l *Ledger) Replay(ctx context.Context, coherenceHash string) (tick.Record, map[string]string, error) {
	if l.store == nil {
		return tick.Record{}, nil, store.ErrNotFound
	}
	e, err := l.store.Get(ctx, coherenceHash)
	if err != nil {
		return tick.Record{}, nil, err
	}
	if tick.Checksum(e.Payload) != e.Checksum {
		return tick.Record{}, nil, fmt.Errorf("replay %s: %w", coherenceHash, ErrCorrupt)
	}
	rec, ann, err := tick.DecodePayload(e.Payload)
	if err != nil {
		return tick.Record{}, nil, fmt.Errorf("replay %s: %w", coherenceHash, err)
	}
	return rec, ann, nil
}

// Restore rebuilds ordering and dedup state from the replay store after a
// restart: the per-motif high-water lamport, the newest BufferSize records
// per motif (older stored ones fold into the epoch) and the recent-hash set.
// Corrupt rows are skipped. Call before the first Ingest.
func (l *Ledger) Restore(ctx context.Context) error {
	if l.store == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rp, err := l.store.RestorePoint(ctx, l.cfg.DedupCapacity)
	if err != nil {
		return fmt.Errorf("ledger restore: %w", err)
	}

	for motifID, last := range rp.LastLamport {
		entries, err := l.store.MotifEntries(ctx, motifID)
		if err != nil {
			return fmt.Errorf("ledger restore: %w", err)
		}
		st := &motifState{ring: newRing(l.cfg.BufferSize), last: last, hasLast: true}
		for _, e := range entries {
			if tick.Checksum(e.Payload) != e.Checksum {
				l.logger.Warn("skipping corrupt replay entry", "hash", e.CoherenceHash)
				continue
			}
			rec, _, err := tick.DecodePayload(e.Payload)
			if err != nil {
				l.logger.Warn("skipping undecodable replay entry", "hash", e.CoherenceHash, "error", err)
				continue
			}
			if evicted, ok := st.ring.push(rec); ok {
				st.epoch.fold(evicted)
			}
		}
		l.motifs[motifID] = st
	}

	for _, h := range rp.RecentHashes {
		l.recent.Add(h, struct{}{})
	}

	l.logger.Info("ledger restored", "motifs", len(rp.LastLamport), "recent_hashes", len(rp.RecentHashes))
	return nil
}

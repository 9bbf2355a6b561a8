package memory

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/roach88/motifcore/internal/metrics"
)

// Epsilon is the weight below which a motif is forgotten.
const Epsilon = 1e-6

// Defaults for Config.
const (
	DefaultShortHalfLife      = 25
	DefaultLongHalfLife       = 10000
	DefaultPromotionThreshold = 0.90
	DefaultDemotionDelta      = 0.05
	DefaultSoftCap            = 50000
	DefaultDyadCacheSize      = 10000
	DefaultArchiveRetryDelay  = 50 * time.Millisecond
)

// Tier identifies where a motif's weight lives.
type Tier int

const (
	TierNone Tier = iota
	TierShort
	TierLong
)

func (t Tier) String() string {
	switch t {
	case TierShort:
		return "short"
	case TierLong:
		return "long"
	default:
		return "none"
	}
}

// Config holds the tier and cache parameters. Half-lives are expressed in
// cycles, i.e. calls to UpdateCycle.
type Config struct {
	ShortHalfLife      float64
	LongHalfLife       float64
	PromotionThreshold float64
	DemotionDelta      float64

	// SoftCap bounds the combined size of both tiers.
	SoftCap int

	DyadCacheSize int

	// ArchivePath is the cluster index file. Empty disables dyad completion.
	ArchivePath       string
	ArchiveReload     bool
	ArchiveRetryDelay time.Duration
}

// DefaultConfig returns the documented defaults with no archive.
func DefaultConfig() Config {
	return Config{
		ShortHalfLife:      DefaultShortHalfLife,
		LongHalfLife:       DefaultLongHalfLife,
		PromotionThreshold: DefaultPromotionThreshold,
		DemotionDelta:      DefaultDemotionDelta,
		SoftCap:            DefaultSoftCap,
		DyadCacheSize:      DefaultDyadCacheSize,
		ArchiveReload:      true,
		ArchiveRetryDelay:  DefaultArchiveRetryDelay,
	}
}

// Validate reports every invalid parameter.
func (c Config) Validate() error {
	var errs []error
	if !(c.ShortHalfLife > 0) {
		errs = append(errs, fmt.Errorf("short half-life must be positive, got %v", c.ShortHalfLife))
	}
	if !(c.LongHalfLife > 0) {
		errs = append(errs, fmt.Errorf("long half-life must be positive, got %v", c.LongHalfLife))
	}
	if !(c.PromotionThreshold > 0 && c.PromotionThreshold <= 1) {
		errs = append(errs, fmt.Errorf("promotion threshold must be in (0,1], got %v", c.PromotionThreshold))
	}
	if !(c.DemotionDelta > 0 && c.DemotionDelta < c.PromotionThreshold) {
		errs = append(errs, fmt.Errorf("demotion delta must be in (0,%v), got %v", c.PromotionThreshold, c.DemotionDelta))
	}
	if c.SoftCap <= 0 {
		errs = append(errs, fmt.Errorf("soft cap must be positive, got %d", c.SoftCap))
	}
	if c.DyadCacheSize <= 0 {
		errs = append(errs, fmt.Errorf("dyad cache size must be positive, got %d", c.DyadCacheSize))
	}
	if c.ArchiveRetryDelay < 0 {
		errs = append(errs, fmt.Errorf("archive retry delay must not be negative, got %v", c.ArchiveRetryDelay))
	}
	return errors.Join(errs...)
}

// Option configures a Memory.
type Option func(*Memory)

// WithSimilarity replaces the default Jaccard similarity.
func WithSimilarity(fn SimilarityFunc) Option {
	return func(m *Memory) {
		if fn != nil {
			m.sim = fn
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Memory) {
		m.metrics = mt
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Memory) {
		m.logger = logger
	}
}

type dyadKey struct {
	a, b string
}

func newDyadKey(m1, m2 string) dyadKey {
	if m2 < m1 {
		m1, m2 = m2, m1
	}
	return dyadKey{a: m1, b: m2}
}

// Memory is the two-tier motif cache. All tier mutation, decay included,
// happens under one mutex, so a decay sweep never tears a concurrent boost.
type Memory struct {
	mu    sync.Mutex
	cfg   Config
	short map[string]float64
	long  map[string]float64

	decayShort float64
	decayLong  float64

	sim     SimilarityFunc
	dyads   *lru.Cache[dyadKey, string]
	archive *archive

	// scans counts archive scans performed by CompleteDyad.
	scans int

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Memory. Decay factors are derived once from the half-lives.
func New(cfg Config, opts ...Option) (*Memory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("memory config: %w", err)
	}

	dyads, err := lru.New[dyadKey, string](cfg.DyadCacheSize)
	if err != nil {
		return nil, fmt.Errorf("memory: dyad cache: %w", err)
	}

	m := &Memory{
		cfg:        cfg,
		short:      make(map[string]float64),
		long:       make(map[string]float64),
		decayShort: math.Pow(0.5, 1/cfg.ShortHalfLife),
		decayLong:  math.Pow(0.5, 1/cfg.LongHalfLife),
		sim:        Jaccard,
		dyads:      dyads,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.metrics = metrics.OrNew(m.metrics)
	m.archive = newArchive(cfg.ArchivePath, cfg.ArchiveReload, cfg.ArchiveRetryDelay, m.logger, m.metrics)
	return m, nil
}

// Access boosts a motif into the short-term tier. A motif held long-term is
// moved to short-term carrying the larger of its two weights. Adding a new
// motif when the combined tier size has reached the soft cap is a counted
// no-op.
func (m *Memory) Access(motifID string, boost float64) {
	boost = clamp01(boost)

	m.mu.Lock()
	defer m.mu.Unlock()

	sw, inShort := m.short[motifID]
	lw, inLong := m.long[motifID]
	if !inShort && !inLong && len(m.short)+len(m.long) >= m.cfg.SoftCap {
		m.metrics.CapacityGuard.Inc()
		m.logger.Debug("memory soft cap reached, access skipped", "motif", motifID, "cap", m.cfg.SoftCap)
		return
	}

	w := sw
	if inLong {
		w = math.Max(w, lw)
		delete(m.long, motifID)
	}
	m.short[motifID] = clamp01(w + boost)
	m.observeSizes()
}

// UpdateCycle decays both tiers, forgets weights below Epsilon, then
// promotes short-term motifs at or above the promotion threshold and demotes
// long-term motifs below promotion threshold minus demotion delta.
func (m *Memory) UpdateCycle() {
	m.mu.Lock()
	defer m.mu.Unlock()

	decay(m.short, m.decayShort)
	decay(m.long, m.decayLong)

	promoted := 0
	for id, w := range m.short {
		if w >= m.cfg.PromotionThreshold {
			m.long[id] = math.Max(m.long[id], w)
			delete(m.short, id)
			promoted++
		}
	}

	demoteBelow := m.cfg.PromotionThreshold - m.cfg.DemotionDelta
	demoted := 0
	for id, w := range m.long {
		if w < demoteBelow {
			m.short[id] = math.Max(m.short[id], w)
			delete(m.long, id)
			demoted++
		}
	}

	m.metrics.Promotions.Add(float64(promoted))
	m.metrics.Demotions.Add(float64(demoted))
	m.observeSizes()
}

func decay(tier map[string]float64, factor float64) {
	for id, w := range tier {
		w *= factor
		if w < Epsilon {
			delete(tier, id)
			continue
		}
		tier[id] = w
	}
}

// Weight returns a motif's weight and the tier holding it.
func (m *Memory) Weight(motifID string) (float64, Tier) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if w, ok := m.short[motifID]; ok {
		return w, TierShort
	}
	if w, ok := m.long[motifID]; ok {
		return w, TierLong
	}
	return 0, TierNone
}

// Sizes returns the number of motifs in each tier.
func (m *Memory) Sizes() (short, long int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.short), len(m.long)
}

// ExportState returns copies of both tiers for read-only introspection.
func (m *Memory) ExportState() (short, long map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyTier(m.short), copyTier(m.long)
}

func copyTier(tier map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(tier))
	for id, w := range tier {
		out[id] = w
	}
	return out
}

// observeSizes publishes tier sizes. Caller holds m.mu.
func (m *Memory) observeSizes() {
	m.metrics.TierSize.WithLabelValues(metrics.TierShort).Set(float64(len(m.short)))
	m.metrics.TierSize.WithLabelValues(metrics.TierLong).Set(float64(len(m.long)))
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

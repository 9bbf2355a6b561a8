// Package gate bounds how many ticks are in flight and backs the emission
// loop off after repeated failures.
package gate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/roach88/motifcore/internal/metrics"
)

const (
	// FailureThreshold is the number of consecutive failures after which
	// each further failure doubles the back-off multiplier.
	FailureThreshold = 3

	// MaxBackoff caps the back-off multiplier.
	MaxBackoff = 4.0

	DefaultMaxParallel = 8
)

// Admission is the outcome of TryAdmit.
type Admission int

const (
	Admitted Admission = iota + 1
	TimedOut
	Cancelled
)

func (a Admission) String() string {
	switch a {
	case Admitted:
		return "admitted"
	case TimedOut:
		return "timed_out"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Option configures a Gate.
type Option func(*Gate)

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// Gate is a counting semaphore of maxParallel slots plus a circuit-breaker
// style back-off multiplier.
type Gate struct {
	sem         *semaphore.Weighted
	maxParallel int

	mu       sync.Mutex
	inFlight int
	failures int
	backoff  float64

	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a Gate with maxParallel slots.
func New(maxParallel int, opts ...Option) (*Gate, error) {
	if maxParallel <= 0 {
		return nil, fmt.Errorf("gate: max parallel must be positive, got %d", maxParallel)
	}
	g := &Gate{
		sem:         semaphore.NewWeighted(int64(maxParallel)),
		maxParallel: maxParallel,
		backoff:     1.0,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	g.metrics = metrics.OrNew(g.metrics)
	g.metrics.BackoffMultiplier.Set(g.backoff)
	return g, nil
}

// TryAdmit acquires a slot, waiting at most timeout. TimedOut leaves the
// failure state untouched. If ctx ends first the result is Cancelled with
// ctx.Err().
func (g *Gate) TryAdmit(ctx context.Context, timeout time.Duration) (Admission, error) {
	if err := ctx.Err(); err != nil {
		return Cancelled, err
	}

	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := g.sem.Acquire(actx, 1); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Cancelled, ctxErr
		}
		g.metrics.AdmissionTimeouts.Inc()
		return TimedOut, nil
	}

	g.mu.Lock()
	g.inFlight++
	g.metrics.GateInFlight.Set(float64(g.inFlight))
	g.mu.Unlock()
	return Admitted, nil
}

// Release frees a slot and records the outcome of the admitted work.
// A failure increments the consecutive failure count; from FailureThreshold
// on, every failure doubles the back-off multiplier up to MaxBackoff. Any
// success resets both.
func (g *Gate) Release(success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.inFlight == 0 {
		g.logger.Warn("gate release without a held slot")
		return
	}
	g.inFlight--
	g.sem.Release(1)
	g.metrics.GateInFlight.Set(float64(g.inFlight))

	if success {
		if g.failures > 0 || g.backoff != 1.0 {
			g.logger.Debug("gate back-off reset", "failures", g.failures)
		}
		g.failures = 0
		g.backoff = 1.0
		g.metrics.BackoffMultiplier.Set(g.backoff)
		return
	}

	g.failures++
	if g.failures >= FailureThreshold {
		g.backoff = min(g.backoff*2, MaxBackoff)
		g.metrics.BackoffEvents.Inc()
		g.metrics.BackoffMultiplier.Set(g.backoff)
		g.logger.Warn("gate backing off", "consecutive_failures", g.failures, "multiplier", g.backoff)
	}
}

// InFlight returns the number of held slots.
func (g *Gate) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// MaxParallel returns the slot count.
func (g *Gate) MaxParallel() int {
	return g.maxParallel
}

// Backoff returns the current back-off multiplier.
func (g *Gate) Backoff() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.backoff
}

// ConsecutiveFailures returns the current failure streak.
func (g *Gate) ConsecutiveFailures() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failures
}

// NextInterval computes the emission interval with the current back-off
// multiplier applied. See Interval.
func (g *Gate) NextInterval(base time.Duration, rewardEMA, lastLatencyRatio float64, minInterval, maxInterval time.Duration) time.Duration {
	return Interval(base, rewardEMA, lastLatencyRatio, g.Backoff(), minInterval, maxInterval)
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/motifcore/internal/feedback"
	"github.com/roach88/motifcore/internal/gate"
	"github.com/roach88/motifcore/internal/ledger"
	"github.com/roach88/motifcore/internal/memory"
	"github.com/roach88/motifcore/internal/tick"
)

// Defaults for Config.
const (
	DefaultAdmitTimeout = 250 * time.Millisecond
	DefaultBaseInterval = 100 * time.Millisecond
	DefaultMinInterval  = 10 * time.Millisecond
	DefaultMaxInterval  = 5 * time.Second
	DefaultBoost        = 0.1
)

// Config holds the emission loop parameters.
type Config struct {
	AdmitTimeout time.Duration
	BaseInterval time.Duration
	MinInterval  time.Duration
	MaxInterval  time.Duration

	// Boost is the memory access boost applied per accepted tick.
	Boost float64

	// Secret signs minted ticks. Empty mints unauthenticated ticks.
	Secret []byte

	// QueueCapacity bounds pending watcher notifications.
	QueueCapacity int
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		AdmitTimeout:  DefaultAdmitTimeout,
		BaseInterval:  DefaultBaseInterval,
		MinInterval:   DefaultMinInterval,
		MaxInterval:   DefaultMaxInterval,
		Boost:         DefaultBoost,
		QueueCapacity: DefaultQueueCapacity,
	}
}

// Components are the explicitly constructed collaborators the engine
// drives. All are required.
type Components struct {
	Ledger   *ledger.Ledger
	Memory   *memory.Memory
	Feedback *feedback.Coordinator
	Gate     *gate.Gate
}

// Watcher observes accepted ticks. Calls are best-effort and made from the
// dispatch goroutine.
type Watcher interface {
	RegisterTick(motifID string, rec tick.Record)
}

// WatcherFunc adapts a function to Watcher.
type WatcherFunc func(motifID string, rec tick.Record)

// RegisterTick calls f.
func (f WatcherFunc) RegisterTick(motifID string, rec tick.Record) {
	f(motifID, rec)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithIDGenerator sets the agent id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithNow overrides the wall clock used for tick timestamps and step
// latency.
func WithNow(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithWatcher registers a watcher at construction.
func WithWatcher(w Watcher) EngineOption {
	return func(e *Engine) {
		e.watchers = append(e.watchers, w)
	}
}

// Engine wires the gate, ledger, memory and feedback coordinator into the
// emission pipeline.
//
// Thread-safety model:
//   - Step/RunAgent: safe from many goroutines, one per Agent
//   - RunCycles: one goroutine; shares memory's exclusive section with Step
//   - Run: exactly one goroutine drains watcher notifications
type Engine struct {
	cfg      Config
	ledger   *ledger.Ledger
	memory   *memory.Memory
	feedback *feedback.Coordinator
	gate     *gate.Gate

	ids    IDGenerator
	now    func() time.Time
	logger *slog.Logger

	mu       sync.RWMutex
	watchers []Watcher
	queue    *notifyQueue
}

// New creates an Engine over the given components.
func New(cfg Config, c Components, opts ...EngineOption) (*Engine, error) {
	if c.Ledger == nil || c.Memory == nil || c.Feedback == nil || c.Gate == nil {
		return nil, errors.New("engine: ledger, memory, feedback and gate are required")
	}
	if cfg.MinInterval <= 0 || cfg.MaxInterval < cfg.MinInterval {
		return nil, fmt.Errorf("engine: interval bounds [%v, %v] invalid", cfg.MinInterval, cfg.MaxInterval)
	}
	if cfg.AdmitTimeout <= 0 {
		return nil, fmt.Errorf("engine: admit timeout must be positive, got %v", cfg.AdmitTimeout)
	}

	e := &Engine{
		cfg:      cfg,
		ledger:   c.Ledger,
		memory:   c.Memory,
		feedback: c.Feedback,
		gate:     c.Gate,
		ids:      UUIDv7Generator{},
		now:      time.Now,
		logger:   slog.Default(),
		queue:    newNotifyQueue(cfg.QueueCapacity),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Ledger returns the engine's ledger.
func (e *Engine) Ledger() *ledger.Ledger { return e.ledger }

// Memory returns the engine's motif memory.
func (e *Engine) Memory() *memory.Memory { return e.memory }

// Feedback returns the engine's feedback coordinator.
func (e *Engine) Feedback() *feedback.Coordinator { return e.feedback }

// Gate returns the engine's concurrency gate.
func (e *Engine) Gate() *gate.Gate { return e.gate }

// RegisterWatcher adds a watcher for accepted ticks.
// Thread-safe: may be called from any goroutine.
func (e *Engine) RegisterWatcher(w Watcher) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.watchers = append(e.watchers, w)
}

// NewAgent creates an agent with a fresh id. Its clock is seeded per motif
// from the ledger's latest accepted lamport.
func (e *Engine) NewAgent() *Agent {
	floor := func(motifID string) uint64 {
		if rec, ok := e.ledger.Latest(motifID); ok {
			return rec.Lamport
		}
		return 0
	}
	return newAgent(e.ids.Generate(), NewClockWithFloor(floor))
}

// StepResult reports what one Step did.
type StepResult struct {
	Admission gate.Admission
	Record    tick.Record
	Ingest    ledger.Result
	Feedback  feedback.Result

	// Dyad is the completion of the agent's last two distinct motifs, set
	// only for accepted ticks once the agent has emitted two motifs.
	Dyad []string

	// Interval is how long the agent should sleep before its next emission.
	Interval time.Duration
}

// Step carries one emission through the pipeline. A timed-out admission is
// not an error: the result has Admission TimedOut and the interval to wait.
// Errors are *RuntimeError: cancellation at the admission wait, a schema
// rejection, or an invalid emission.
func (e *Engine) Step(ctx context.Context, a *Agent, em Emission) (res StepResult, err error) {
	if em.MotifID == "" {
		return res, newInvalidEmissionError(a.ID, "", "empty motif id")
	}
	stage := em.Stage
	if stage == "" {
		stage = tick.StageSeed
	}

	a.setState(StateAdmitting)
	res.Admission, err = e.gate.TryAdmit(ctx, e.cfg.AdmitTimeout)
	if err != nil {
		a.setState(StateCancelled)
		return res, newCancelledError(a.ID, err)
	}
	if res.Admission == gate.TimedOut {
		e.logger.Debug("admission timed out", "agent", a.ID, "motif", em.MotifID)
		res.Interval = e.nextInterval(a)
		a.setState(StateIdle)
		return res, nil
	}

	released := false
	release := func(success bool) {
		if !released {
			released = true
			e.gate.Release(success)
		}
	}
	defer release(false)

	a.setState(StateIngesting)
	start := e.now()
	rec := tick.MintAt(start, em.MotifID, a.ID, stage, a.clock.Next(em.MotifID), e.cfg.Secret)
	res.Record = rec

	res.Ingest, err = e.ledger.Ingest(ctx, em.MotifID, rec, ledger.WithAnnotation(em.Annotation))
	latency := e.now().Sub(start)
	if err != nil {
		release(false)
		res.Interval = e.nextInterval(a)
		a.setState(StateIdle)
		return res, newRejectedError(a.ID, em.MotifID, err)
	}

	if res.Ingest.Outcome == ledger.Accepted {
		boost := e.cfg.Boost
		if em.Boost > 0 {
			boost = em.Boost
		}
		e.memory.Access(em.MotifID, boost)
		e.notify(em.MotifID, rec)
		if dyad, ok := a.observe(em.MotifID); ok {
			res.Dyad = e.memory.CompleteDyad(dyad[0], dyad[1], 1)
		}
	}

	a.setState(StateFeedback)
	res.Feedback = e.feedback.OnIngest(feedback.Signals{
		CtxRatio:        em.CtxRatio,
		RewardEntropy:   em.RewardEntropy,
		HarmHits:        em.HarmHits,
		StepLatency:     latency,
		IntuitionWeight: em.IntuitionWeight,
		ParallelRunning: e.gate.InFlight(),
		MaxParallel:     e.gate.MaxParallel(),
	})
	if !res.Feedback.Fault {
		a.lastRatio = res.Feedback.LatencyRatio
	}

	// Duplicates are normal traffic; auth rejections and feedback faults
	// count toward back-off.
	release(res.Ingest.Outcome != ledger.Rejected && !res.Feedback.Fault)

	res.Interval = e.nextInterval(a)
	a.setState(StateIdle)
	return res, nil
}

func (e *Engine) nextInterval(a *Agent) time.Duration {
	return e.gate.NextInterval(e.cfg.BaseInterval, e.feedback.RewardEMA(), a.lastRatio, e.cfg.MinInterval, e.cfg.MaxInterval)
}

// RunAgent runs the emission loop for a until src is exhausted or ctx ends.
// Schema rejections and invalid emissions are logged and the loop goes on.
// Returns nil when src is exhausted and a cancellation *RuntimeError when
// ctx ends.
func (e *Engine) RunAgent(ctx context.Context, a *Agent, src MotifSource) error {
	e.logger.Debug("agent starting", "agent", a.ID)
	for {
		if err := ctx.Err(); err != nil {
			a.setState(StateCancelled)
			return newCancelledError(a.ID, err)
		}

		em, ok := src.Next()
		if !ok {
			a.setState(StateIdle)
			e.logger.Debug("agent source exhausted", "agent", a.ID)
			return nil
		}

		res, err := e.Step(ctx, a, em)
		if err != nil {
			if IsCancelled(err) {
				return err
			}
			e.logger.Warn("emission failed", "agent", a.ID, "motif", em.MotifID, "error", err)
		}

		if err := a.sleep(ctx, res.Interval); err != nil {
			return newCancelledError(a.ID, err)
		}
	}
}

// Cycle runs one decay sweep.
func (e *Engine) Cycle() {
	e.memory.UpdateCycle()
}

// RunCycles runs a decay sweep every interval until ctx ends.
// Returns ctx.Err().
func (e *Engine) RunCycles(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		return fmt.Errorf("engine: cycle interval must be positive, got %v", every)
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.memory.UpdateCycle()
		}
	}
}

// notify queues an accepted tick for the watchers.
func (e *Engine) notify(motifID string, rec tick.Record) {
	e.mu.RLock()
	n := len(e.watchers)
	e.mu.RUnlock()
	if n == 0 {
		return
	}
	if !e.queue.Enqueue(notification{MotifID: motifID, Record: rec}) {
		e.logger.Debug("watcher queue full or closed, dropping notification", "motif", motifID, "hash", rec.CoherenceHash)
	}
}

// Run drains watcher notifications until ctx ends or Stop is called.
//
// CRITICAL: Must be called from exactly ONE goroutine.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Debug("watcher dispatch starting")

	for {
		if n, ok := e.queue.TryDequeue(); ok {
			e.dispatch(n)
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Debug("watcher dispatch stopping: context cancelled")
			e.queue.Close()
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel closes with the queue; an empty queue
			// after a wake-up then means shutdown.
			if e.queue.Len() == 0 && e.queue.Closed() {
				e.logger.Debug("watcher dispatch stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop closes the notification queue, which makes Run return.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) dispatch(n notification) {
	e.mu.RLock()
	watchers := make([]Watcher, len(e.watchers))
	copy(watchers, e.watchers)
	e.mu.RUnlock()

	for _, w := range watchers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Warn("watcher panicked", "motif", n.MotifID, "panic", r)
				}
			}()
			w.RegisterTick(n.MotifID, n.Record)
		}()
	}
}

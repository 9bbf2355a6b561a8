package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/motifcore/internal/engine"
	"github.com/roach88/motifcore/internal/feedback"
	"github.com/roach88/motifcore/internal/gate"
	"github.com/roach88/motifcore/internal/ledger"
	"github.com/roach88/motifcore/internal/memory"
	"github.com/roach88/motifcore/internal/metrics"
	"github.com/roach88/motifcore/internal/store"
	"github.com/roach88/motifcore/internal/testutil"
	"github.com/roach88/motifcore/internal/tick"
)

// ClockStart is the first wall-clock reading of every scenario run.
var ClockStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// ClockStep is how far the scenario clock advances per reading.
const ClockStep = 5 * time.Millisecond

// Harness executes one scenario against a fresh set of components.
type Harness struct {
	engine  *engine.Engine
	agents  []*engine.Agent
	clock   *testutil.SteppingClock
	secret  []byte
	timeout time.Duration
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh in-memory replay store with a stepping
// clock and sequential agent ids, so the same scenario always produces the
// same trace. The returned error covers setup and unexpected engine errors;
// assertion failures are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	if err := validateScenario(scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := scenario.Config

	if scenario.Archive != "" {
		dir, err := os.MkdirTemp("", "motifcore-scenario-")
		if err != nil {
			return nil, fmt.Errorf("failed to create archive dir: %w", err)
		}
		defer os.RemoveAll(dir)

		cfg.ArchivePath = filepath.Join(dir, "archive.idx")
		if err := os.WriteFile(cfg.ArchivePath, []byte(scenario.Archive), 0o644); err != nil {
			return nil, fmt.Errorf("failed to write archive: %w", err)
		}
	}

	st, err := store.Open(":memory:", store.WithDriver(cfg.DBDriver))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	m := metrics.New(nil)
	clock := testutil.NewSteppingClock(ClockStart, ClockStep)

	l, err := ledger.New(cfg.Ledger(),
		ledger.WithAuthenticator(tick.NewAuthenticator(cfg.Secret())),
		ledger.WithStore(st),
		ledger.WithMetrics(m),
		ledger.WithLogger(logger),
		ledger.WithClock(clock.Now),
	)
	if err != nil {
		return nil, err
	}
	mem, err := memory.New(cfg.Memory(), memory.WithMetrics(m), memory.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	fb, err := feedback.New(cfg.Feedback(), feedback.WithMetrics(m), feedback.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	g, err := gate.New(cfg.MaxParallel, gate.WithMetrics(m), gate.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(cfg.Engine(), engine.Components{Ledger: l, Memory: mem, Feedback: fb, Gate: g},
		engine.WithIDGenerator(testutil.NewSequentialIDs("agent")),
		engine.WithNow(clock.Now),
		engine.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		engine:  eng,
		clock:   clock,
		secret:  cfg.Secret(),
		timeout: cfg.AdmitTimeout,
	}
	for range scenario.Agents {
		h.agents = append(h.agents, eng.NewAgent())
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		if err := h.execute(ctx, step, result); err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	result.Histogram = l.ExportHistogram()

	for _, errMsg := range EvaluateAssertions(result, scenario.Assertions, eng) {
		result.AddError(errMsg)
	}
	return result, nil
}

// execute runs one step and appends its trace event.
func (h *Harness) execute(ctx context.Context, st Step, result *Result) error {
	switch {
	case st.Emit != nil:
		return h.emit(ctx, st.Emit, result)
	case st.Tick != nil:
		return h.tick(ctx, st.Tick, result)
	case st.Cycle > 0:
		for range st.Cycle {
			h.engine.Cycle()
		}
		result.addEvent(TraceEvent{Kind: KindCycle, Cycles: st.Cycle})
		return nil
	default:
		return h.gate(ctx, st.Gate == GateSuccess, result)
	}
}

func (h *Harness) emit(ctx context.Context, es *EmitStep, result *Result) error {
	agent := h.agents[es.Agent-1]
	res, err := h.engine.Step(ctx, agent, es.Emission)
	if err != nil && !engine.IsRejected(err) {
		return err
	}

	ev := TraceEvent{
		Kind:      KindEmit,
		Agent:     agent.ID,
		Motif:     es.MotifID,
		Lamport:   res.Record.Lamport,
		Admission: res.Admission.String(),
		Dyad:      res.Dyad,
		Backoff:   h.engine.Gate().Backoff(),
	}
	if res.Admission == gate.Admitted {
		ev.Outcome = res.Ingest.Outcome.String()
		ev.Reason = string(res.Ingest.Reason)
		ev.Cause = string(res.Ingest.Cause)
	}
	w, tier := h.engine.Memory().Weight(es.MotifID)
	if tier != memory.TierNone {
		ev.Tier = tier.String()
		ev.Weight = round4(w)
	}
	result.addEvent(ev)
	return nil
}

func (h *Harness) tick(ctx context.Context, ts *TickStep, result *Result) error {
	secret := h.secret
	if ts.Secret != nil {
		secret = []byte(*ts.Secret)
	}
	rec := tick.MintAt(h.clock.Now(), ts.Motif, ts.Agent, ts.Stage, ts.Lamport, secret)

	res, err := h.engine.Ledger().Ingest(ctx, ts.Motif, rec)
	if err != nil && !tick.IsSchemaError(err) {
		return err
	}
	result.addEvent(TraceEvent{
		Kind:    KindTick,
		Agent:   ts.Agent,
		Motif:   ts.Motif,
		Lamport: ts.Lamport,
		Outcome: res.Outcome.String(),
		Reason:  string(res.Reason),
		Cause:   string(res.Cause),
	})
	return nil
}

func (h *Harness) gate(ctx context.Context, success bool, result *Result) error {
	g := h.engine.Gate()
	adm, err := g.TryAdmit(ctx, h.timeout)
	if err != nil {
		return err
	}
	if adm == gate.Admitted {
		g.Release(success)
	}

	ev := TraceEvent{Kind: KindGate, Admission: adm.String(), Backoff: g.Backoff()}
	if adm == gate.Admitted {
		ev.Outcome = GateFailure
		if success {
			ev.Outcome = GateSuccess
		}
	}
	result.addEvent(ev)
	return nil
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

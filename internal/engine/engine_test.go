package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/motifcore/internal/feedback"
	"github.com/roach88/motifcore/internal/gate"
	"github.com/roach88/motifcore/internal/ledger"
	"github.com/roach88/motifcore/internal/memory"
	"github.com/roach88/motifcore/internal/metrics"
	"github.com/roach88/motifcore/internal/store"
	"github.com/roach88/motifcore/internal/testutil"
	"github.com/roach88/motifcore/internal/tick"
)

var (
	quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
	testStart   = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
)

type fixtureConfig struct {
	engine      Config
	memory      memory.Config
	feedback    feedback.Config
	maxParallel int
	ledgerKey   []byte
	store       *store.Store
}

type fixture struct {
	engine   *Engine
	ledger   *ledger.Ledger
	memory   *memory.Memory
	feedback *feedback.Coordinator
	gate     *gate.Gate
	metrics  *metrics.Metrics
}

func defaultFixtureConfig() fixtureConfig {
	return fixtureConfig{
		engine:      DefaultConfig(),
		memory:      memory.DefaultConfig(),
		feedback:    feedback.DefaultConfig(),
		maxParallel: 8,
	}
}

func newFixture(t *testing.T, mutate ...func(*fixtureConfig)) *fixture {
	t.Helper()
	fc := defaultFixtureConfig()
	for _, fn := range mutate {
		fn(&fc)
	}

	m := metrics.New(nil)
	ledgerOpts := []ledger.Option{
		ledger.WithMetrics(m),
		ledger.WithLogger(quietLogger),
		ledger.WithAuthenticator(tick.NewAuthenticator(fc.ledgerKey)),
	}
	if fc.store != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithStore(fc.store))
	}
	l, err := ledger.New(ledger.DefaultConfig(), ledgerOpts...)
	require.NoError(t, err)

	mem, err := memory.New(fc.memory, memory.WithMetrics(m), memory.WithLogger(quietLogger))
	require.NoError(t, err)

	fb, err := feedback.New(fc.feedback, feedback.WithMetrics(m), feedback.WithLogger(quietLogger))
	require.NoError(t, err)

	g, err := gate.New(fc.maxParallel, gate.WithMetrics(m), gate.WithLogger(quietLogger))
	require.NoError(t, err)

	clock := testutil.NewSteppingClock(testStart, 5*time.Millisecond)
	e, err := New(fc.engine, Components{Ledger: l, Memory: mem, Feedback: fb, Gate: g},
		WithIDGenerator(testutil.NewSequentialIDs("agent")),
		WithNow(clock.Now),
		WithLogger(quietLogger),
	)
	require.NoError(t, err)

	return &fixture{engine: e, ledger: l, memory: mem, feedback: fb, gate: g, metrics: m}
}

func TestNew_RequiresComponents(t *testing.T) {
	_, err := New(DefaultConfig(), Components{})
	assert.Error(t, err)
}

func TestStep_Accepted(t *testing.T) {
	f := newFixture(t)
	a := f.engine.NewAgent()
	assert.Equal(t, "agent-1", a.ID)

	res, err := f.engine.Step(context.Background(), a, Emission{MotifID: "joy"})
	require.NoError(t, err)

	assert.Equal(t, gate.Admitted, res.Admission)
	assert.Equal(t, ledger.Accepted, res.Ingest.Outcome)
	assert.Equal(t, uint64(1), res.Record.Lamport)
	assert.Equal(t, tick.StageSeed, res.Record.Stage)
	assert.Equal(t, "agent-1", res.Record.AgentID)

	w, tier := f.memory.Weight("joy")
	assert.Equal(t, memory.TierShort, tier)
	assert.InDelta(t, DefaultBoost, w, 1e-12)

	// 5ms step against a 50ms budget, one slot of eight held:
	// bias = −(0.1 + 0.125), reward sample 1.0, no back-off.
	assert.InDelta(t, -0.225, res.Feedback.Bias, 1e-9)
	assert.Equal(t, DefaultBaseInterval, res.Interval)

	assert.Equal(t, 0, f.gate.InFlight())
	assert.Equal(t, StateIdle, a.State())
	assert.Nil(t, res.Dyad)
}

func TestStep_EmissionBoostOverridesDefault(t *testing.T) {
	f := newFixture(t)
	a := f.engine.NewAgent()

	_, err := f.engine.Step(context.Background(), a, Emission{MotifID: "joy", Boost: 0.4})
	require.NoError(t, err)

	w, _ := f.memory.Weight("joy")
	assert.InDelta(t, 0.4, w, 1e-12)
}

func TestStep_SignedTicksAccepted(t *testing.T) {
	f := newFixture(t, func(fc *fixtureConfig) {
		fc.ledgerKey = []byte("s3cr3t")
		fc.engine.Secret = []byte("s3cr3t")
	})
	a := f.engine.NewAgent()

	res, err := f.engine.Step(context.Background(), a, Emission{MotifID: "joy"})
	require.NoError(t, err)
	assert.Equal(t, ledger.Accepted, res.Ingest.Outcome)
	assert.True(t, res.Record.Authenticated())
}

func TestStep_AuthRejectionsBackOff(t *testing.T) {
	f := newFixture(t, func(fc *fixtureConfig) {
		fc.ledgerKey = []byte("ledger-key")
		fc.engine.Secret = []byte("other-key")
	})
	a := f.engine.NewAgent()
	ctx := context.Background()

	var res StepResult
	for i := 0; i < 3; i++ {
		var err error
		res, err = f.engine.Step(ctx, a, Emission{MotifID: "joy"})
		require.NoError(t, err, "auth failures are absorbed")
		assert.Equal(t, ledger.Rejected, res.Ingest.Outcome)
	}

	assert.Equal(t, 2.0, f.gate.Backoff())
	assert.Equal(t, 2*DefaultBaseInterval, res.Interval)
	assert.Equal(t, 3.0, promtest.ToFloat64(f.metrics.AuthFailures))
	_, tier := f.memory.Weight("joy")
	assert.Equal(t, memory.TierNone, tier, "rejected ticks never touch memory")
}

func TestStep_SchemaRejection(t *testing.T) {
	f := newFixture(t)
	a := f.engine.NewAgent()

	_, err := f.engine.Step(context.Background(), a, Emission{MotifID: strings.Repeat("x", tick.MaxIDLen+1)})
	require.Error(t, err)
	assert.True(t, IsRejected(err))
	assert.True(t, tick.IsSchemaError(err))

	assert.Equal(t, 0, f.gate.InFlight())
	assert.Equal(t, 1, f.gate.ConsecutiveFailures())
}

func TestStep_InvalidEmission(t *testing.T) {
	f := newFixture(t)
	a := f.engine.NewAgent()

	_, err := f.engine.Step(context.Background(), a, Emission{})
	assert.True(t, IsInvalidEmission(err))
	assert.Equal(t, 0, f.gate.InFlight())
}

func TestStep_TimedOut(t *testing.T) {
	f := newFixture(t, func(fc *fixtureConfig) {
		fc.maxParallel = 1
		fc.engine.AdmitTimeout = 5 * time.Millisecond
	})
	ctx := context.Background()
	_, err := f.gate.TryAdmit(ctx, time.Second)
	require.NoError(t, err)
	defer f.gate.Release(true)

	a := f.engine.NewAgent()
	res, err := f.engine.Step(ctx, a, Emission{MotifID: "joy"})
	require.NoError(t, err)

	assert.Equal(t, gate.TimedOut, res.Admission)
	assert.Positive(t, res.Interval)
	assert.Empty(t, f.ledger.ExportHistogram())
	assert.Equal(t, 0, f.gate.ConsecutiveFailures())
}

func TestStep_CancelledWhileAdmitting(t *testing.T) {
	f := newFixture(t, func(fc *fixtureConfig) {
		fc.maxParallel = 1
		fc.engine.AdmitTimeout = time.Minute
	})
	_, err := f.gate.TryAdmit(context.Background(), time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	a := f.engine.NewAgent()
	_, err = f.engine.Step(ctx, a, Emission{MotifID: "joy"})
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, StateCancelled, a.State())
	assert.Equal(t, 1, f.gate.InFlight(), "only the externally held slot remains")
}

func TestStep_FeedbackFaultsBackOff(t *testing.T) {
	f := newFixture(t, func(fc *fixtureConfig) {
		fc.feedback.EntropyWeight = 10
	})
	a := f.engine.NewAgent()

	for i := 0; i < 3; i++ {
		res, err := f.engine.Step(context.Background(), a, Emission{MotifID: "joy", RewardEntropy: math.MaxFloat64})
		require.NoError(t, err)
		assert.True(t, res.Feedback.Fault)
		assert.Equal(t, ledger.Accepted, res.Ingest.Outcome)
	}

	assert.Equal(t, 2.0, f.gate.Backoff())
	assert.Equal(t, 3.0, promtest.ToFloat64(f.metrics.FeedbackFaults))
	assert.Equal(t, feedback.DefaultLatencyBudget, f.feedback.Budget())
}

func TestStep_DyadFromLastTwoDistinctMotifs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reef.idx")
	require.NoError(t, os.WriteFile(path, []byte("REEF a b c\n"), 0o644))
	f := newFixture(t, func(fc *fixtureConfig) {
		fc.memory.ArchivePath = path
	})
	a := f.engine.NewAgent()
	ctx := context.Background()

	res, err := f.engine.Step(ctx, a, Emission{MotifID: "a"})
	require.NoError(t, err)
	assert.Nil(t, res.Dyad)

	res, err = f.engine.Step(ctx, a, Emission{MotifID: "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, res.Dyad)

	res, err = f.engine.Step(ctx, a, Emission{MotifID: "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, res.Dyad, "a repeat keeps the same pair")
	assert.Equal(t, 1.0, promtest.ToFloat64(f.metrics.DyadCacheHits))
}

func TestNewAgent_ClockSeededFromLedger(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.engine.NewAgent()
	for i := 0; i < 3; i++ {
		_, err := f.engine.Step(ctx, first, Emission{MotifID: "joy"})
		require.NoError(t, err)
	}

	late := f.engine.NewAgent()
	res, err := f.engine.Step(ctx, late, Emission{MotifID: "joy"})
	require.NoError(t, err)
	assert.Equal(t, uint64(4), res.Record.Lamport)
	assert.Equal(t, ledger.Accepted, res.Ingest.Outcome)
}

func TestStep_PersistsAnnotation(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "engine.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	f := newFixture(t, func(fc *fixtureConfig) { fc.store = s })
	a := f.engine.NewAgent()

	res, err := f.engine.Step(context.Background(), a, Emission{
		MotifID:    "joy",
		Annotation: map[string]string{"verse": "iv"},
	})
	require.NoError(t, err)

	_, ann, err := f.ledger.Replay(context.Background(), res.Record.CoherenceHash)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"verse": "iv"}, ann)
}

func TestRunAgent_ExhaustsSource(t *testing.T) {
	f := newFixture(t, func(fc *fixtureConfig) {
		fc.engine.MinInterval = time.Millisecond
		fc.engine.MaxInterval = 2 * time.Millisecond
	})
	a := f.engine.NewAgent()

	src := NewSliceSource(
		Emission{MotifID: "joy"},
		Emission{MotifID: "grief"},
		Emission{MotifID: "joy"},
	)
	require.NoError(t, f.engine.RunAgent(context.Background(), a, src))

	assert.Equal(t, map[string]int{"joy": 2, "grief": 1}, f.ledger.ExportHistogram())
	assert.Equal(t, StateIdle, a.State())
}

func TestRunAgent_SkipsRejectedEmissions(t *testing.T) {
	f := newFixture(t, func(fc *fixtureConfig) {
		fc.engine.MinInterval = time.Millisecond
		fc.engine.MaxInterval = 2 * time.Millisecond
	})
	a := f.engine.NewAgent()

	src := NewSliceSource(Emission{}, Emission{MotifID: "joy"})
	require.NoError(t, f.engine.RunAgent(context.Background(), a, src))
	assert.Equal(t, map[string]int{"joy": 1}, f.ledger.ExportHistogram())
}

func TestRunAgent_CancelledWhileSleeping(t *testing.T) {
	f := newFixture(t, func(fc *fixtureConfig) {
		fc.engine.BaseInterval = time.Hour
		fc.engine.MinInterval = time.Hour
		fc.engine.MaxInterval = time.Hour
	})
	a := f.engine.NewAgent()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.engine.RunAgent(ctx, a, NewCycleSource([]string{"joy"}, 0, tick.StageEcho))
	}()

	require.Eventually(t, func() bool { return a.State() == StateSleeping }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.True(t, IsCancelled(err))
	case <-time.After(time.Second):
		t.Fatal("agent did not observe cancellation while sleeping")
	}
	assert.Equal(t, StateCancelled, a.State())
	assert.Equal(t, 0, f.gate.InFlight())
	assert.Len(t, f.ledger.Entries("joy"), 1)
}

func TestRunAgent_ConcurrentAgentsReleaseEverySlot(t *testing.T) {
	f := newFixture(t, func(fc *fixtureConfig) {
		fc.maxParallel = 2
		fc.engine.AdmitTimeout = 5 * time.Second
		fc.engine.MinInterval = time.Millisecond
		fc.engine.MaxInterval = 2 * time.Millisecond
	})

	ems := make([]Emission, 0, 40)
	for i := 0; i < 40; i++ {
		ems = append(ems, Emission{MotifID: []string{"joy", "grief", "awe", "dusk"}[i%4]})
	}
	src := NewSliceSource(ems...)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		a := f.engine.NewAgent()
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.engine.RunAgent(context.Background(), a, src))
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, f.gate.InFlight())
	accepted := promtest.ToFloat64(f.metrics.TicksAccepted)
	duplicate := promtest.ToFloat64(f.metrics.TicksDuplicate)
	assert.Equal(t, 40.0, accepted+duplicate)
}

func TestRun_DeliversToWatchers(t *testing.T) {
	f := newFixture(t)
	got := make(chan tick.Record, 1)

	f.engine.RegisterWatcher(WatcherFunc(func(string, tick.Record) {
		panic("broken watcher")
	}))
	f.engine.RegisterWatcher(WatcherFunc(func(motifID string, rec tick.Record) {
		got <- rec
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.engine.Run(ctx) }()

	a := f.engine.NewAgent()
	res, err := f.engine.Step(ctx, a, Emission{MotifID: "joy"})
	require.NoError(t, err)

	select {
	case rec := <-got:
		assert.Equal(t, res.Record, rec)
	case <-time.After(time.Second):
		t.Fatal("watcher not notified")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRun_StopReturnsNil(t *testing.T) {
	f := newFixture(t)

	done := make(chan error, 1)
	go func() { done <- f.engine.Run(context.Background()) }()

	f.engine.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestNotify_NoWatchersQueuesNothing(t *testing.T) {
	f := newFixture(t)
	a := f.engine.NewAgent()

	_, err := f.engine.Step(context.Background(), a, Emission{MotifID: "joy"})
	require.NoError(t, err)
	assert.Equal(t, 0, f.engine.queue.Len())
}

func TestRunCycles_DecaysMemory(t *testing.T) {
	f := newFixture(t)
	f.memory.Access("joy", 0.5)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := f.engine.RunCycles(ctx, time.Millisecond)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	w, _ := f.memory.Weight("joy")
	assert.Less(t, w, 0.5)
}

func TestRunCycles_RejectsNonPositiveInterval(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.engine.RunCycles(context.Background(), 0))
}

func TestAgent_Observe(t *testing.T) {
	a := newAgent("a", NewClock())

	_, ok := a.observe("x")
	assert.False(t, ok)

	_, ok = a.observe("x")
	assert.False(t, ok, "a repeat is not a second motif")

	dyad, ok := a.observe("y")
	require.True(t, ok)
	assert.Equal(t, [2]string{"x", "y"}, dyad)

	dyad, ok = a.observe("z")
	require.True(t, ok)
	assert.Equal(t, [2]string{"y", "z"}, dyad)
}

func TestRuntimeError_Format(t *testing.T) {
	err := newRejectedError("agent-1", "joy", errors.New("bad hash"))
	assert.Equal(t, "TICK_REJECTED: ledger rejected tick (agent=agent-1, motif=joy): bad hash", err.Error())
	assert.False(t, IsCancelled(err))
	assert.True(t, IsRejected(err))
}

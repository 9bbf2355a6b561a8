package gate

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/motifcore/internal/metrics"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestGate(t *testing.T, n int) (*Gate, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(nil)
	g, err := New(n, WithMetrics(m), WithLogger(quietLogger))
	require.NoError(t, err)
	return g, m
}

func TestNew_RejectsNonPositive(t *testing.T) {
	_, err := New(0)
	assert.Error(t, err)
}

func TestBackoffScenario(t *testing.T) {
	g, m := newTestGate(t, 4)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		a, err := g.TryAdmit(ctx, time.Second)
		require.NoError(t, err)
		require.Equal(t, Admitted, a)
		g.Release(false)
	}
	assert.Equal(t, 2.0, g.Backoff())
	assert.Equal(t, 3, g.ConsecutiveFailures())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackoffEvents))

	_, err := g.TryAdmit(ctx, time.Second)
	require.NoError(t, err)
	g.Release(true)

	assert.Equal(t, 1.0, g.Backoff())
	assert.Equal(t, 0, g.ConsecutiveFailures())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackoffMultiplier))
}

func TestBackoffCapped(t *testing.T) {
	g, m := newTestGate(t, 1)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := g.TryAdmit(ctx, time.Second)
		require.NoError(t, err)
		g.Release(false)
	}
	assert.Equal(t, MaxBackoff, g.Backoff())
	assert.Equal(t, 8.0, testutil.ToFloat64(m.BackoffEvents))
}

func TestTryAdmit_TimedOutLeavesFailureState(t *testing.T) {
	g, m := newTestGate(t, 1)
	ctx := context.Background()

	a, err := g.TryAdmit(ctx, time.Second)
	require.NoError(t, err)
	require.Equal(t, Admitted, a)

	a, err = g.TryAdmit(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, TimedOut, a)
	assert.Equal(t, 0, g.ConsecutiveFailures())
	assert.Equal(t, 1.0, g.Backoff())
	assert.Equal(t, 1, g.InFlight())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AdmissionTimeouts))
}

func TestTryAdmit_Cancelled(t *testing.T) {
	g, _ := newTestGate(t, 1)

	_, err := g.TryAdmit(context.Background(), time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	a, err := g.TryAdmit(ctx, time.Minute)
	assert.Equal(t, Cancelled, a)
	assert.ErrorIs(t, err, context.Canceled)

	a, err = g.TryAdmit(ctx, time.Minute)
	assert.Equal(t, Cancelled, a, "an already cancelled context never admits")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRelease_WithoutSlotIsIgnored(t *testing.T) {
	g, _ := newTestGate(t, 2)

	g.Release(false)

	assert.Equal(t, 0, g.InFlight())
	assert.Equal(t, 0, g.ConsecutiveFailures())
}

func TestConcurrencyBound(t *testing.T) {
	const n = 3
	g, _ := newTestGate(t, n)
	ctx := context.Background()

	var (
		current atomic.Int32
		peak    atomic.Int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 24; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := g.TryAdmit(ctx, 5*time.Second)
			if err != nil || a != Admitted {
				return
			}
			c := current.Add(1)
			for {
				p := peak.Load()
				if c <= p || peak.CompareAndSwap(p, c) {
					break
				}
			}
			assert.LessOrEqual(t, g.InFlight(), n)
			time.Sleep(2 * time.Millisecond)
			current.Add(-1)
			g.Release(true)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(n))
	assert.Equal(t, 0, g.InFlight())
}

func TestInterval(t *testing.T) {
	base := 100 * time.Millisecond
	lo, hi := 10*time.Millisecond, 5*time.Second

	tests := []struct {
		name    string
		ema     float64
		ratio   float64
		backoff float64
		want    time.Duration
	}{
		{"neutral", 1, 1, 1, 100 * time.Millisecond},
		{"good reward shortens", 1.5, 1, 1, 50 * time.Millisecond},
		{"reward adjustment capped", 3, 1, 1, 50 * time.Millisecond},
		{"poor reward lengthens", 0.5, 1, 1, 150 * time.Millisecond},
		{"slow step lengthens", 1, 1.5, 1, 150 * time.Millisecond},
		{"fast step does not shorten", 1, 0.2, 1, 100 * time.Millisecond},
		{"latency adjustment capped", 1, 9, 1, 200 * time.Millisecond},
		{"backoff multiplies", 1, 1, 4, 400 * time.Millisecond},
		{"non-finite is neutral", math.NaN(), math.NaN(), 1, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Interval(base, tt.ema, tt.ratio, tt.backoff, lo, hi)
			assert.InDelta(t, float64(tt.want), float64(got), float64(time.Microsecond))
		})
	}
}

func TestInterval_Clamped(t *testing.T) {
	assert.Equal(t, 10*time.Millisecond, Interval(time.Millisecond, 1, 1, 1, 10*time.Millisecond, time.Second))
	assert.Equal(t, time.Second, Interval(time.Minute, 1, 1, 4, 10*time.Millisecond, time.Second))
}

func TestNextInterval_UsesBackoff(t *testing.T) {
	g, _ := newTestGate(t, 1)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := g.TryAdmit(ctx, time.Second)
		require.NoError(t, err)
		g.Release(false)
	}

	got := g.NextInterval(100*time.Millisecond, 1, 1, time.Millisecond, time.Minute)
	assert.Equal(t, 200*time.Millisecond, got)
}

func TestAdmission_String(t *testing.T) {
	assert.Equal(t, "admitted", Admitted.String())
	assert.Equal(t, "timed_out", TimedOut.String())
	assert.Equal(t, "cancelled", Cancelled.String())
}

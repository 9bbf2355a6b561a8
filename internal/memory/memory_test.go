package memory

import (
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/motifcore/internal/metrics"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestMemory(t *testing.T, cfg Config, opts ...Option) (*Memory, *metrics.Metrics) {
	t.Helper()
	m := metrics.New(nil)
	opts = append([]Option{WithMetrics(m), WithLogger(quietLogger)}, opts...)
	mem, err := New(cfg, opts...)
	require.NoError(t, err)
	return mem, m
}

func TestNew_RejectsMissingHysteresis(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DemotionDelta = 0
	_, err := New(cfg)
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.ShortHalfLife = 0
	cfg.SoftCap = -1
	_, err = New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "half-life")
	assert.Contains(t, err.Error(), "soft cap")
}

func TestAccess_AccumulatesBoost(t *testing.T) {
	mem, _ := newTestMemory(t, DefaultConfig())

	for i := 0; i < 4; i++ {
		mem.Access("x", 0.2)
	}

	w, tier := mem.Weight("x")
	assert.Equal(t, TierShort, tier)
	assert.InDelta(t, 0.8, w, 1e-12)
}

func TestAccess_ClampsToOne(t *testing.T) {
	mem, _ := newTestMemory(t, DefaultConfig())

	mem.Access("x", 0.7)
	mem.Access("x", 0.7)
	mem.Access("y", 5)
	mem.Access("z", -1)

	w, _ := mem.Weight("x")
	assert.Equal(t, 1.0, w)
	w, _ = mem.Weight("y")
	assert.Equal(t, 1.0, w)
	w, tier := mem.Weight("z")
	assert.Equal(t, 0.0, w)
	assert.Equal(t, TierShort, tier, "a zero boost still registers the motif")
}

func TestAccess_MovesLongTermMotifToShortTerm(t *testing.T) {
	mem, _ := newTestMemory(t, DefaultConfig())

	mem.Access("x", 1.0)
	mem.UpdateCycle()
	lw, tier := mem.Weight("x")
	require.Equal(t, TierLong, tier)

	mem.Access("x", 0.01)

	w, tier := mem.Weight("x")
	assert.Equal(t, TierShort, tier)
	assert.InDelta(t, lw+0.01, w, 1e-12)

	short, long := mem.ExportState()
	assert.Contains(t, short, "x")
	assert.NotContains(t, long, "x", "a motif lives in one tier at a time")
}

func TestAccess_SoftCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SoftCap = 2
	mem, m := newTestMemory(t, cfg)

	mem.Access("a", 0.1)
	mem.Access("b", 0.1)
	mem.Access("c", 0.1)
	mem.Access("a", 0.1)

	_, tier := mem.Weight("c")
	assert.Equal(t, TierNone, tier)
	w, _ := mem.Weight("a")
	assert.InDelta(t, 0.2, w, 1e-12, "existing motifs are still boosted at the cap")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CapacityGuard))
}

func TestUpdateCycle_DecayDeterminism(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShortHalfLife = 25
	cfg.LongHalfLife = 25
	mem, _ := newTestMemory(t, cfg)

	mem.Access("x", 1.0)
	for i := 0; i < 25; i++ {
		mem.UpdateCycle()
	}

	w, _ := mem.Weight("x")
	assert.InDelta(t, 0.5, w, 1e-9)
}

func TestUpdateCycle_ForgetsBelowEpsilon(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShortHalfLife = 1
	mem, _ := newTestMemory(t, cfg)

	mem.Access("x", 0.5)
	for i := 0; i < 20; i++ {
		mem.UpdateCycle()
	}
	_, tier := mem.Weight("x")
	assert.Equal(t, TierNone, tier)
}

func TestUpdateCycle_PromotesAndDemotes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LongHalfLife = 2
	mem, m := newTestMemory(t, cfg)

	mem.Access("x", 1.0)
	mem.UpdateCycle()
	_, tier := mem.Weight("x")
	require.Equal(t, TierLong, tier)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Promotions))

	// 0.97 halves every two cycles; below 0.85 after one more cycle.
	mem.UpdateCycle()
	w, tier := mem.Weight("x")
	assert.Equal(t, TierShort, tier)
	assert.Less(t, w, 0.85)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Demotions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TierSize.WithLabelValues(metrics.TierShort)))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TierSize.WithLabelValues(metrics.TierLong)))
}

func TestUpdateCycle_NoFlappingAtThreshold(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShortHalfLife = math.Inf(1)
	cfg.LongHalfLife = math.Inf(1)
	mem, m := newTestMemory(t, cfg)

	mem.Access("x", cfg.PromotionThreshold)
	for i := 0; i < 50; i++ {
		mem.UpdateCycle()
		w, tier := mem.Weight("x")
		require.Equal(t, TierLong, tier, "cycle %d", i)
		require.Equal(t, cfg.PromotionThreshold, w)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Promotions))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Demotions))
}

func TestUpdateCycle_HoldsLongTierInsideDemotionBand(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ShortHalfLife = math.Inf(1)
	cfg.LongHalfLife = 40 // factor ~0.9828: three cycles inside [0.85, 0.90)
	mem, m := newTestMemory(t, cfg)
	demoteBelow := cfg.PromotionThreshold - cfg.DemotionDelta

	mem.Access("x", cfg.PromotionThreshold)
	mem.UpdateCycle()
	_, tier := mem.Weight("x")
	require.Equal(t, TierLong, tier)

	for i := 1; i <= 3; i++ {
		mem.UpdateCycle()
		w, tier := mem.Weight("x")
		require.Less(t, w, cfg.PromotionThreshold, "cycle %d", i)
		require.GreaterOrEqual(t, w, demoteBelow, "cycle %d", i)
		assert.Equal(t, TierLong, tier, "below promotion but above the demotion line stays long (cycle %d)", i)
	}
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Demotions))

	mem.UpdateCycle()
	w, tier := mem.Weight("x")
	assert.Less(t, w, demoteBelow)
	assert.Equal(t, TierShort, tier)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Demotions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Promotions), "a demoted weight below threshold is not re-promoted")
}

func TestUpdateCycle_ConcurrentWithAccess(t *testing.T) {
	mem, _ := newTestMemory(t, DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				mem.Access("x", 0.01)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				mem.UpdateCycle()
			}
		}()
	}
	wg.Wait()

	short, long := mem.ExportState()
	_, inShort := short["x"]
	_, inLong := long["x"]
	assert.False(t, inShort && inLong)
	for _, w := range short {
		assert.True(t, w >= 0 && w <= 1)
	}
}

func TestRetrieve(t *testing.T) {
	cfg := DefaultConfig()
	mem, _ := newTestMemory(t, cfg, WithSimilarity(func(a, b []string) float64 {
		return 1
	}))

	mem.Access("a", 1.0)
	mem.Access("b", 0.95)
	mem.UpdateCycle()
	mem.Access("c", 0.5)

	assert.Equal(t, []string{"a", "b"}, mem.Retrieve("q", 5, true))
	assert.Equal(t, []string{"a"}, mem.Retrieve("q", 1, true))
	assert.Equal(t, []string{"a", "b", "c"}, mem.Retrieve("q", 5, false))
	assert.Empty(t, mem.Retrieve("q", 0, true))
}

func TestRetrieve_DefaultJaccardMatchesOnlyQuery(t *testing.T) {
	mem, _ := newTestMemory(t, DefaultConfig())

	mem.Access("joy", 1.0)
	mem.Access("grief", 1.0)
	mem.UpdateCycle()

	assert.Equal(t, []string{"joy"}, mem.Retrieve("joy", 3, true))
	assert.Empty(t, mem.Retrieve("awe", 3, true))
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 1.0, Jaccard([]string{"a"}, []string{"a"}))
	assert.Equal(t, 0.0, Jaccard([]string{"a"}, []string{"b"}))
	assert.InDelta(t, 2.0/3.0, Jaccard([]string{"a", "b", "c"}, []string{"a", "b"}), 1e-12)
	assert.InDelta(t, 0.5, Jaccard([]string{"a", "a", "b"}, []string{"a"}), 1e-12)
	assert.Equal(t, 0.0, Jaccard(nil, nil))
}

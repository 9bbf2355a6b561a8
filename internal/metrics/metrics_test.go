package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RegistersContractNames(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.TicksAccepted.Inc()
	m.TicksRejected.WithLabelValues(ReasonAuth).Inc()
	m.TierSize.WithLabelValues(TierShort).Set(3)

	families, err := reg.Gather()
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, want := range []string{
		"motifcore_ticks_accepted_total",
		"motifcore_ticks_rejected_total",
		"motifcore_tier_size",
		"motifcore_latency_budget_seconds",
		"motifcore_intuition_alpha",
		"motifcore_backoff_events_total",
	} {
		assert.True(t, names[want], "missing metric %s", want)
	}
}

func TestNew_NilRegistryIsUsable(t *testing.T) {
	m := New(nil)
	m.Promotions.Add(2)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Promotions))
}

func TestOrNew(t *testing.T) {
	m := New(nil)
	assert.Same(t, m, OrNew(m))
	assert.NotNil(t, OrNew(nil))
}

func TestNew_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

// Package metrics defines the counters and gauges the memory core exports.
//
// Metric names are the contract dashboards bind to; changing one is a
// breaking change. Every component accepts a *Metrics and falls back to an
// unregistered set when none is supplied, so library users and tests never
// touch the global prometheus registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "motifcore"

// Rejection reasons used as the "reason" label of TicksRejected.
const (
	ReasonSchema = "schema"
	ReasonAuth   = "auth"
)

// Tier labels used by TierSize.
const (
	TierShort = "short"
	TierLong  = "long"
)

// Metrics holds every collector of the memory core.
type Metrics struct {
	TicksAccepted      prometheus.Counter
	TicksDuplicate     prometheus.Counter
	TicksRejected      *prometheus.CounterVec
	AuthFailures       prometheus.Counter
	PersistFailures    prometheus.Counter
	DyadCacheHits      prometheus.Counter
	DyadCacheMisses    prometheus.Counter
	DyadUnresolved     prometheus.Counter
	ArchiveUnavailable prometheus.Counter
	Promotions         prometheus.Counter
	Demotions          prometheus.Counter
	CapacityGuard      prometheus.Counter
	FeedbackFaults     prometheus.Counter
	BackoffEvents      prometheus.Counter
	AdmissionTimeouts  prometheus.Counter

	LatencyBudget     prometheus.Gauge
	IntuitionAlpha    prometheus.Gauge
	GateInFlight      prometheus.Gauge
	BackoffMultiplier prometheus.Gauge
	TierSize          *prometheus.GaugeVec
	LedgerRows        prometheus.Gauge
}

// New creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksAccepted:      counter("ticks_accepted_total", "Ticks admitted by the ledger."),
		TicksDuplicate:     counter("ticks_duplicate_total", "Ticks dropped as stale lamport or seen coherence hash."),
		AuthFailures:       counter("auth_failures_total", "Ticks whose MAC failed verification."),
		PersistFailures:    counter("persist_failures_total", "Accepted ticks the replay store failed to persist."),
		DyadCacheHits:      counter("dyad_cache_hits_total", "Dyad completions served from the LRU cache."),
		DyadCacheMisses:    counter("dyad_cache_misses_total", "Dyad completions that missed the LRU cache."),
		DyadUnresolved:     counter("dyad_unresolved_total", "Dyad completions with no archive cluster superset."),
		ArchiveUnavailable: counter("archive_unavailable_total", "Archive index loads that failed after retry."),
		Promotions:         counter("promotions_total", "Motifs promoted from short-term to long-term memory."),
		Demotions:          counter("demotions_total", "Motifs demoted from long-term to short-term memory."),
		CapacityGuard:      counter("capacity_guard_total", "Accesses skipped because the soft tier cap was reached."),
		FeedbackFaults:     counter("feedback_faults_total", "Bias computations that faulted and fell back to zero bias."),
		BackoffEvents:      counter("backoff_events_total", "Times the concurrency gate doubled its back-off multiplier."),
		AdmissionTimeouts:  counter("admission_timeouts_total", "Admission attempts that timed out waiting for a slot."),
		TicksRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_rejected_total",
			Help:      "Ticks rejected by the ledger, by reason.",
		}, []string{"reason"}),

		LatencyBudget:     gauge("latency_budget_seconds", "Current admission latency budget."),
		IntuitionAlpha:    gauge("intuition_alpha", "Current intuition confidence parameter."),
		GateInFlight:      gauge("gate_in_flight", "Ticks currently holding an admission slot."),
		BackoffMultiplier: gauge("backoff_multiplier", "Current emission back-off multiplier."),
		LedgerRows:        gauge("ledger_rows", "Rows held by the replay store after the last write."),
		TierSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tier_size",
			Help:      "Motifs held per memory tier.",
		}, []string{"tier"}),
	}

	if reg != nil {
		reg.MustRegister(m.collectors()...)
	}
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.TicksAccepted, m.TicksDuplicate, m.TicksRejected, m.AuthFailures,
		m.PersistFailures, m.DyadCacheHits, m.DyadCacheMisses, m.DyadUnresolved,
		m.ArchiveUnavailable, m.Promotions, m.Demotions, m.CapacityGuard,
		m.FeedbackFaults, m.BackoffEvents, m.AdmissionTimeouts,
		m.LatencyBudget, m.IntuitionAlpha, m.GateInFlight, m.BackoffMultiplier,
		m.TierSize, m.LedgerRows,
	}
}

// OrNew returns m, or an unregistered set if m is nil.
func OrNew(m *Metrics) *Metrics {
	if m != nil {
		return m
	}
	return New(nil)
}

func counter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
}

package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/roach88/motifcore/internal/config"
	"github.com/roach88/motifcore/internal/engine"
	"github.com/roach88/motifcore/internal/feedback"
	"github.com/roach88/motifcore/internal/gate"
	"github.com/roach88/motifcore/internal/ledger"
	"github.com/roach88/motifcore/internal/memory"
	"github.com/roach88/motifcore/internal/metrics"
	"github.com/roach88/motifcore/internal/store"
	"github.com/roach88/motifcore/internal/tick"
)

// runtime is a fully wired memory core sharing one metrics registry.
type runtime struct {
	store    *store.Store
	registry *prometheus.Registry
	engine   *engine.Engine
}

// openStore opens the configured replay store.
func openStore(cfg config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.DBPath, store.WithDriver(cfg.DBDriver))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// newLedger creates a ledger over st with the configured secret.
func newLedger(cfg config.Config, st *store.Store, m *metrics.Metrics, logger *slog.Logger) (*ledger.Ledger, error) {
	return ledger.New(cfg.Ledger(),
		ledger.WithAuthenticator(tick.NewAuthenticator(cfg.Secret())),
		ledger.WithStore(st),
		ledger.WithMetrics(m),
		ledger.WithLogger(logger),
	)
}

// newRuntime opens the store, restores the ledger from it and wires the
// remaining components. ids may be nil for UUIDv7 agent ids.
func newRuntime(ctx context.Context, cfg config.Config, logger *slog.Logger, ids engine.IDGenerator) (_ *runtime, err error) {
	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			st.Close()
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	l, err := newLedger(cfg, st, m, logger)
	if err != nil {
		return nil, err
	}
	if err := l.Restore(ctx); err != nil {
		return nil, fmt.Errorf("restore ledger: %w", err)
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

	opts := []engine.EngineOption{engine.WithLogger(logger)}
	if ids != nil {
		opts = append(opts, engine.WithIDGenerator(ids))
	}
	eng, err := engine.New(cfg.Engine(), engine.Components{Ledger: l, Memory: mem, Feedback: fb, Gate: g}, opts...)
	if err != nil {
		return nil, err
	}

	return &runtime{store: st, registry: reg, engine: eng}, nil
}

// Close closes the replay store.
func (r *runtime) Close() error {
	return r.store.Close()
}

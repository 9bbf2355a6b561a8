package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/motifcore/internal/engine"
	"github.com/roach88/motifcore/internal/server"
	"github.com/roach88/motifcore/internal/tick"
)

// shutdownTimeout bounds the introspection server's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Agents int
	Count  int
	Stage  string

	// IDs allows overriding the agent id generator (for testing).
	// If nil, defaults to UUIDv7 ids.
	IDs engine.IDGenerator
}

// RunSummary is printed when the engine stops.
type RunSummary struct {
	Agents    int            `json:"agents"`
	Histogram map[string]int `json:"histogram"`
	ShortTerm int            `json:"short_term"`
	LongTerm  int            `json:"long_term"`
	Backoff   float64        `json:"backoff"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <motif>...",
		Short: "Run agents emitting ticks on the given motifs",
		Long: `Start the memory core and run agents that emit ticks round-robin over
the given motifs.

The ledger is restored from the replay store (created if missing), the
decay sweep runs every cycle_interval and, when metrics_addr is set, the
introspection server serves /healthz, /metrics, /state, /histogram,
/ticks/{hash} and /verify. With --count the run ends once the agents have
emitted that many ticks in total; otherwise it runs until interrupted.

Example:
  motifd run --db ./motifcore.db joy awe calm
  motifd run -c motifd.yaml --agents 4 --count 1000 joy awe`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(opts, args, cmd)
		},
	}

	rootOpts.addDBFlag(cmd)
	cmd.Flags().IntVar(&opts.Agents, "agents", 1, "number of emitting agents")
	cmd.Flags().IntVar(&opts.Count, "count", 0, "total ticks to emit (0 = until interrupted)")
	cmd.Flags().StringVar(&opts.Stage, "stage", string(tick.StageSeed), "stage of emitted ticks")

	return cmd
}

func runEngine(opts *RunOptions, motifs []string, cmd *cobra.Command) error {
	if opts.Agents <= 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--agents must be positive, got %d", opts.Agents))
	}
	logger := opts.newLogger(cmd.ErrOrStderr())

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	slog.Info("opening replay store", "path", cfg.DBPath, "driver", cfg.DBDriver)
	rt, err := newRuntime(ctx, cfg, logger, opts.IDs)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start memory core", err)
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			slog.Error("error closing replay store", "error", closeErr)
		}
	}()
	eng := rt.engine

	eng.RegisterWatcher(engine.WatcherFunc(func(motifID string, rec tick.Record) {
		logger.Debug("tick accepted", "motif", motifID, "lamport", rec.Lamport, "agent", rec.AgentID, "hash", rec.CoherenceHash)
	}))

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ignoreCancel(eng.Run(gctx)) })
	g.Go(func() error { return ignoreCancel(eng.RunCycles(gctx, cfg.CycleInterval)) })

	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           server.New(eng, rt.registry, Version),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			slog.Info("introspection server listening", "addr", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("introspection server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
			defer stop()
			return srv.Shutdown(shutdownCtx)
		})
	}

	src := engine.NewCycleSource(motifs, opts.Count, tick.Stage(opts.Stage))
	var agents sync.WaitGroup
	for range opts.Agents {
		a := eng.NewAgent()
		agents.Add(1)
		g.Go(func() error {
			defer agents.Done()
			if err := eng.RunAgent(gctx, a, src); err != nil && !engine.IsCancelled(err) {
				return err
			}
			return nil
		})
	}
	if opts.Count > 0 {
		g.Go(func() error {
			agents.Wait()
			slog.Info("agents finished", "ticks", opts.Count)
			cancel()
			return nil
		})
	}

	slog.Info("engine starting", "agents", opts.Agents, "motifs", motifs)
	fmt.Fprintln(cmd.ErrOrStderr(), "Engine started. Press Ctrl-C to stop.")

	if err := g.Wait(); err != nil {
		return WrapExitError(ExitFailure, "engine error", err)
	}
	slog.Info("engine stopped gracefully")

	short, long := eng.Memory().Sizes()
	summary := RunSummary{
		Agents:    opts.Agents,
		Histogram: eng.Ledger().ExportHistogram(),
		ShortTerm: short,
		LongTerm:  long,
		Backoff:   eng.Gate().Backoff(),
	}
	return opts.formatter(cmd).Success(summary, func(w io.Writer) {
		fmt.Fprintf(w, "Agents: %d\n", summary.Agents)
		fmt.Fprintf(w, "Memory: %d short-term, %d long-term\n", summary.ShortTerm, summary.LongTerm)
		fmt.Fprintf(w, "Back-off: %.1fx\n", summary.Backoff)
		writeCounts(w, summary.Histogram)
	})
}

// ignoreCancel maps context cancellation to a clean exit.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

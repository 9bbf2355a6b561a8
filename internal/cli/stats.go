package cli

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"

	"github.com/spf13/cobra"
)

// StatsResult summarizes the replay store.
type StatsResult struct {
	Rows   int64            `json:"rows"`
	Motifs map[string]int64 `json:"motifs"`
}

// NewStatsCommand creates the stats command.
func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show persisted tick counts per motif",
		Long: `Report the number of rows in the replay store and the persisted tick
count of every motif.

Examples:
  motifd stats --db ./motifcore.db
  motifd stats --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStats(rootOpts, cmd)
		},
	}
	rootOpts.addDBFlag(cmd)
	return cmd
}

func runStats(opts *RootOptions, cmd *cobra.Command) error {
	ctx := context.Background()

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	rows, err := st.Count(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count rows", err)
	}
	motifs, err := st.MotifCounts(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to count motifs", err)
	}

	result := StatsResult{Rows: rows, Motifs: motifs}
	return opts.formatter(cmd).Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "Rows: %d\n", result.Rows)
		writeCounts(w, result.Motifs)
	})
}

// writeCounts prints one "motif: n" line per motif in name order.
func writeCounts[V int | int64](w io.Writer, counts map[string]V) {
	if len(counts) == 0 {
		fmt.Fprintln(w, "No motifs.")
		return
	}
	fmt.Fprintf(w, "Motifs (%d):\n", len(counts))
	for _, id := range slices.Sorted(maps.Keys(counts)) {
		fmt.Fprintf(w, "  %s: %d\n", id, counts[id])
	}
}

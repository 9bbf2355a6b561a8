package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// VerifyResult reports a replay store integrity check.
type VerifyResult struct {
	Rows    int64    `json:"rows"`
	Corrupt []string `json:"corrupt"`
	OK      bool     `json:"ok"`
}

// NewVerifyCommand creates the verify command.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify replay store checksums",
		Long: `Recompute the checksum of every persisted tick payload and report the
coherence hashes whose stored checksum no longer matches.

Exit codes:
  0 - Every row is intact
  1 - Corrupt rows were found
  2 - Command error (bad config, database not found, etc.)

Examples:
  motifd verify --db ./motifcore.db
  motifd verify -c motifd.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVerify(rootOpts, cmd)
		},
	}
	rootOpts.addDBFlag(cmd)
	return cmd
}

func runVerify(opts *RootOptions, cmd *cobra.Command) error {
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
	corrupt, err := st.VerifyAll(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to verify store", err)
	}

	result := VerifyResult{Rows: rows, Corrupt: corrupt, OK: len(corrupt) == 0}
	f := opts.formatter(cmd)
	if result.OK {
		return f.Success(result, func(w io.Writer) {
			fmt.Fprintf(w, "OK: %d rows verified\n", result.Rows)
		})
	}

	if err := f.Error(CodeCorrupt, fmt.Sprintf("%d of %d rows corrupt", len(corrupt), rows), result); err != nil {
		return err
	}
	if opts.Format == "text" {
		for _, h := range corrupt {
			fmt.Fprintf(f.Writer, "  %s\n", h)
		}
	}
	return NewExitError(ExitFailure, "replay store corrupt")
}

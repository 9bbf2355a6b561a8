package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/motifcore/internal/harness"
)

// ScenarioOptions holds flags for the scenario command.
type ScenarioOptions struct {
	*RootOptions
	Trace bool
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenario <file-or-dir>",
		Short: "Run deterministic YAML scenarios",
		Long: `Run one scenario file, or every .yaml/.yml file under a directory, against
a fresh in-memory memory core and report which scenarios pass.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (path not found, etc.)

Examples:
  motifd scenario ./internal/harness/testdata/scenarios
  motifd scenario joy_ordering.yaml --trace`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}
	cmd.Flags().BoolVar(&opts.Trace, "trace", false, "print the trace of each scenario")

	return cmd
}

func runScenarios(opts *ScenarioOptions, path string, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	f := opts.formatter(cmd)

	if opts.Trace {
		if err := printTraces(path, f); err != nil {
			return err
		}
	}

	result, err := harness.RunSuite(ctx, path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to run scenarios", err)
	}

	if !result.Pass() {
		msg := fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.TotalScenarios)
		if opts.Format == "json" {
			if err := f.Error(CodeScenario, msg, result); err != nil {
				return err
			}
		} else {
			for _, fail := range result.Failures {
				fmt.Fprintf(f.Writer, "FAIL %s\n  %s\n", fail.ScenarioPath, fail.Error)
			}
			fmt.Fprintln(f.Writer, msg)
		}
		return NewExitError(ExitFailure, msg)
	}

	return f.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "PASS: %d scenarios\n", result.Passed)
	})
}

// printTraces writes each scenario's trace snapshot to the diagnostic
// stream. Scenarios that fail to load or run are skipped here and reported
// by the suite run.
func printTraces(path string, f *OutputFormatter) error {
	paths, err := harness.FindScenarios(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	for _, p := range paths {
		s, err := harness.LoadScenario(p)
		if err != nil {
			continue
		}
		res, err := harness.Run(s)
		if err != nil {
			continue
		}
		data, err := harness.MarshalSnapshot(s.Name, res)
		if err != nil {
			return err
		}
		w.Write(data)
	}
	return nil
}

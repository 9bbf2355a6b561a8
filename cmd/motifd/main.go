// Command motifd runs the adaptive memory core.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/motifcore/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}

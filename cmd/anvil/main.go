// Command anvil drives several AI coding agents at once against the same
// issue, each in its own isolated worktree, then scores and selects a
// winner from the evidence its artifacts leave behind.
package main

import (
	"os"

	"github.com/anvil-run/anvil/internal/cli/cobra"
	"github.com/anvil-run/anvil/internal/errors"
)

func main() {
	if err := cobra.Execute(os.Stdout, os.Stderr); err != nil {
		errors.PrintWithOptions(os.Stderr, err, errors.PrintOptions{Verbose: cobra.GetGlobalOpts().Verbose})
		os.Exit(errors.ExitCode(err))
	}
}

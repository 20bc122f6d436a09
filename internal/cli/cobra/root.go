// Package cobra provides the Cobra-based CLI command tree for anvil.
package cobra

import (
	"io"

	"github.com/spf13/cobra"
)

// GlobalOpts holds global options parsed before subcommand dispatch.
type GlobalOpts struct {
	Verbose bool
}

var globalOpts GlobalOpts

// GetGlobalOpts returns the parsed global options.
func GetGlobalOpts() GlobalOpts {
	return globalOpts
}

// NewRootCmd creates the root cobra command for anvil.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "anvil",
		Short: "Concurrent multi-agent debugging and hardening harness",
		Long: `anvil drives several AI coding agents at once against the same issue,
each in its own isolated worktree, then scores and selects a winner from
the evidence its artifacts leave behind.`,
		SilenceErrors: true, // main.go handles error printing
		SilenceUsage:  true,
	}

	rootCmd.PersistentFlags().BoolVar(&globalOpts.Verbose, "verbose", false, "show detailed error context")
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(
		newDebugCmd(),
		newHardenCmd(),
		newCleanupCmd(),
	)

	return rootCmd
}

// Execute runs the root command with the given output writers.
func Execute(stdout, stderr io.Writer) error {
	rootCmd := NewRootCmd()
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)
	return rootCmd.Execute()
}

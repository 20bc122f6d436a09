package cobra

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/anvil-run/anvil/internal/commands"
	"github.com/anvil-run/anvil/internal/execrunner"
	"github.com/anvil-run/anvil/internal/fs"
)

func newDebugCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Debug-mode sessions: fix a reported issue",
	}
	cmd.AddCommand(newDebugRunCmd(), newDebugResumeCmd())
	return cmd
}

func newDebugRunCmd() *cobra.Command {
	var repo, issue, tracksPath, verifyContractPath, parent string
	var autoApply bool
	var concurrency int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a new debug session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := commands.DebugOpts{
				RepoPath: repo, Issue: issue, TracksPath: tracksPath,
				VerifyContractPath: verifyContractPath, AutoApply: autoApply,
				ParentBranch: parent, Concurrency: concurrency,
			}
			return commands.Debug(context.Background(), execrunner.New(), fs.OSFS{}, opts,
				cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "target repo (default: current directory)")
	cmd.Flags().StringVar(&issue, "issue", "", "issue text describing the bug to fix")
	cmd.Flags().StringVar(&tracksPath, "tracks", "", "path to the tracks YAML file (required)")
	cmd.Flags().StringVar(&verifyContractPath, "verify-contract", "", "path to a verify-contract YAML override")
	cmd.Flags().StringVar(&parent, "parent", "", "parent branch worktrees fork from (default: HEAD)")
	cmd.Flags().BoolVar(&autoApply, "auto-apply", false, "apply the winning patch to the repo after judging")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "max tracks run concurrently (0 = unbounded)")

	return cmd
}

func newDebugResumeCmd() *cobra.Command {
	var repo, runID, tracksPath, verifyContractPath, parent string
	var autoApply bool
	var concurrency int

	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume an interrupted debug session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := commands.DebugOpts{
				RepoPath: repo, TracksPath: tracksPath, VerifyContractPath: verifyContractPath,
				AutoApply: autoApply, ParentBranch: parent, Resume: true, RunID: runID,
				Concurrency: concurrency,
			}
			return commands.Debug(context.Background(), execrunner.New(), fs.OSFS{}, opts,
				cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "target repo (default: current directory)")
	cmd.Flags().StringVar(&runID, "run", "", "run id to resume (required)")
	cmd.Flags().StringVar(&tracksPath, "tracks", "", "path to the tracks YAML file (required)")
	cmd.Flags().StringVar(&verifyContractPath, "verify-contract", "", "path to a verify-contract YAML override")
	cmd.Flags().StringVar(&parent, "parent", "", "parent branch worktrees fork from (default: HEAD)")
	cmd.Flags().BoolVar(&autoApply, "auto-apply", false, "apply the winning patch to the repo after judging")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "max tracks run concurrently (0 = unbounded)")

	return cmd
}

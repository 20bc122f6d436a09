package cobra

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/anvil-run/anvil/internal/commands"
	"github.com/anvil-run/anvil/internal/execrunner"
	"github.com/anvil-run/anvil/internal/fs"
)

func newCleanupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Archive and remove run worktrees",
	}
	cmd.AddCommand(newCleanupRunCmd(), newCleanupListCmd(), newCleanupStaleCmd(), newCleanupAllCmd())
	return cmd
}

func newCleanupRunCmd() *cobra.Command {
	var repo, runRef string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Archive and remove the worktrees of a single run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := commands.CleanupOpts{RepoPath: repo, RunRef: runRef}
			return commands.CleanupRun(context.Background(), execrunner.New(), fs.OSFS{}, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "target repo (default: current directory)")
	cmd.Flags().StringVar(&runRef, "run", "", "run id or unique prefix (required)")
	return cmd
}

func newCleanupListCmd() *cobra.Command {
	var repo string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List every discovered run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return commands.CleanupList(context.Background(), commands.CleanupOpts{RepoPath: repo}, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "target repo (default: current directory)")
	return cmd
}

func newCleanupStaleCmd() *cobra.Command {
	var repo string
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "stale",
		Short: "Archive and remove worktrees for runs older than a threshold",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := commands.CleanupOpts{RepoPath: repo, OlderThan: olderThan}
			return commands.CleanupStale(context.Background(), execrunner.New(), fs.OSFS{}, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "target repo (default: current directory)")
	cmd.Flags().DurationVar(&olderThan, "older-than", 24*time.Hour, "treat runs started before now minus this duration as stale")
	return cmd
}

func newCleanupAllCmd() *cobra.Command {
	var repo string

	cmd := &cobra.Command{
		Use:   "all",
		Short: "Archive and remove worktrees for every discovered run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := commands.CleanupOpts{RepoPath: repo}
			return commands.CleanupAll(context.Background(), execrunner.New(), fs.OSFS{}, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&repo, "repo", "", "target repo (default: current directory)")
	return cmd
}

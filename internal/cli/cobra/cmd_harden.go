package cobra

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/anvil-run/anvil/internal/commands"
	"github.com/anvil-run/anvil/internal/execrunner"
	"github.com/anvil-run/anvil/internal/fs"
)

func newHardenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harden",
		Short: "Harden-mode sessions: hunt for undisclosed weaknesses",
	}
	cmd.AddCommand(newHardenRunCmd())
	return cmd
}

func newHardenRunCmd() *cobra.Command {
	var repo, tracksPath, verifyContractPath, parent string
	var verifyPatches bool
	var concurrency int

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a new harden session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := commands.HardenOpts{
				RepoPath: repo, TracksPath: tracksPath, VerifyContractPath: verifyContractPath,
				VerifyPatches: verifyPatches, ParentBranch: parent, Concurrency: concurrency,
			}
			return commands.Harden(context.Background(), execrunner.New(), fs.OSFS{}, opts,
				cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "target repo (default: current directory)")
	cmd.Flags().StringVar(&tracksPath, "tracks", "", "path to the tracks YAML file (required)")
	cmd.Flags().StringVar(&verifyContractPath, "verify-contract", "", "path to a verify-contract YAML override")
	cmd.Flags().StringVar(&parent, "parent", "", "parent branch worktrees fork from (default: HEAD)")
	cmd.Flags().BoolVar(&verifyPatches, "verify-patches", false, "run the verify contract against any patch a breaker produces")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "max tracks run concurrently (0 = unbounded)")

	return cmd
}

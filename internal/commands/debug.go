// Package commands implements anvil CLI commands: thin glue that turns
// parsed flags into a session.Driver invocation and renders the result.
package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/anvil-run/anvil/internal/agent"
	"github.com/anvil-run/anvil/internal/artifact"
	"github.com/anvil-run/anvil/internal/config"
	"github.com/anvil-run/anvil/internal/core"
	"github.com/anvil-run/anvil/internal/errors"
	"github.com/anvil-run/anvil/internal/execrunner"
	"github.com/anvil-run/anvil/internal/fs"
	"github.com/anvil-run/anvil/internal/repro"
	"github.com/anvil-run/anvil/internal/scan"
	"github.com/anvil-run/anvil/internal/session"
	"github.com/anvil-run/anvil/internal/worktree"
)

// DebugOpts holds the flags for `anvil debug run`.
type DebugOpts struct {
	RepoPath           string
	Issue              string
	TracksPath         string
	VerifyContractPath string
	AutoApply          bool
	ParentBranch       string
	Resume             bool
	RunID              string // required when Resume is true; ignored otherwise
	Concurrency        int
}

// Debug runs `anvil debug run` (or `anvil debug resume` when opts.Resume is
// set) to completion, printing a short human-readable summary to stdout.
func Debug(ctx context.Context, cr execrunner.CommandRunner, fsys fs.FS, opts DebugOpts, stdout, stderr io.Writer) error {
	return runSession(ctx, cr, fsys, config.ModeDebug, sessionOpts{
		RepoPath:           opts.RepoPath,
		Issue:              opts.Issue,
		TracksPath:         opts.TracksPath,
		VerifyContractPath: opts.VerifyContractPath,
		AutoApply:          opts.AutoApply,
		ParentBranch:       opts.ParentBranch,
		Resume:             opts.Resume,
		RunID:              opts.RunID,
		Concurrency:        opts.Concurrency,
	}, stdout, stderr)
}

// HardenOpts holds the flags for `anvil harden run`.
type HardenOpts struct {
	RepoPath           string
	TracksPath         string
	VerifyContractPath string
	VerifyPatches      bool
	ParentBranch       string
	Concurrency        int
}

// Harden runs `anvil harden run` to completion.
func Harden(ctx context.Context, cr execrunner.CommandRunner, fsys fs.FS, opts HardenOpts, stdout, stderr io.Writer) error {
	return runSession(ctx, cr, fsys, config.ModeHarden, sessionOpts{
		RepoPath:           opts.RepoPath,
		TracksPath:         opts.TracksPath,
		VerifyContractPath: opts.VerifyContractPath,
		VerifyPatches:      opts.VerifyPatches,
		ParentBranch:       opts.ParentBranch,
		Concurrency:        opts.Concurrency,
	}, stdout, stderr)
}

// sessionOpts is the union of fields either mode needs to build a
// config.SessionConfig; the CLI-facing Debug/Harden opts stay mode-specific
// so `--help` only ever shows flags relevant to that mode.
type sessionOpts struct {
	RepoPath           string
	Issue              string
	TracksPath         string
	VerifyContractPath string
	AutoApply          bool
	VerifyPatches      bool
	ParentBranch       string
	Resume             bool
	RunID              string
	Concurrency        int
}

func runSession(ctx context.Context, cr execrunner.CommandRunner, fsys fs.FS, mode config.Mode, opts sessionOpts, stdout, stderr io.Writer) error {
	repoPath := opts.RepoPath
	if repoPath == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return errors.Wrap(errors.EInternal, "get working directory", err)
		}
		repoPath = cwd
	}

	tracks, err := loadTracks(opts.TracksPath)
	if err != nil {
		return err
	}

	toggles := config.DefaultEnvToggles()
	verifyContractPath := opts.VerifyContractPath
	if verifyContractPath == "" {
		verifyContractPath = toggles.VerifyContractPath
	}
	vc, err := loadVerifyContract(verifyContractPath)
	if err != nil {
		return err
	}
	if !opts.AutoApply {
		opts.AutoApply = toggles.AutoApplyDefault
	}

	runID := opts.RunID
	if !opts.Resume {
		runID = core.NewRunID()
	}
	if runID == "" {
		return errors.New(errors.EUsage, "--run is required with --resume")
	}

	dbgRoot := filepath.Join(repoPath, ".dbg")
	runRoot := filepath.Join(dbgRoot, "runs", runID)
	worktreesRoot := filepath.Join(dbgRoot, "worktrees")

	if !opts.Resume {
		if err := os.MkdirAll(runRoot, 0o755); err != nil {
			return errors.Wrap(errors.EInternal, "create run directory", err)
		}
	}

	store, err := artifact.New(runRoot, fsys)
	if err != nil {
		return err
	}

	cfg := config.SessionConfig{
		RunID: runID, RunRoot: runRoot, RepoPath: repoPath,
		Mode: mode, IssueText: opts.Issue, Resume: opts.Resume,
		AutoApply: opts.AutoApply, VerifyPatches: opts.VerifyPatches,
		ParentBranch: opts.ParentBranch, Tracks: tracks,
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	registry := agent.NewRegistry()
	registry.Register(string(config.ProviderCLI), agent.NewCLIAdapter(cr))

	driver := &session.Driver{
		Store:          store,
		Worktree:       worktree.New(cr, fsys, repoPath, worktreesRoot, runID),
		Registry:       registry,
		Exec:           cr,
		Concurrency:    opts.Concurrency,
		CleanupOnCrash: false,
	}

	summary, err := driver.Run(ctx, cfg, vc, scan.BuildContext, repro.BuildPlan)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "run %s complete\n", runID)
	if summary.Scorecard.Winner != "" {
		fmt.Fprintf(stdout, "winner: %s\n", summary.Scorecard.Winner)
	} else {
		fmt.Fprintln(stdout, "winner: none")
	}
	if mode == config.ModeDebug {
		fmt.Fprintf(stdout, "applied: %t\n", summary.Applied)
	}
	fmt.Fprintf(stdout, "artifacts: %s\n", runRoot)
	return nil
}

func loadTracks(path string) ([]config.TrackConfig, error) {
	if path == "" {
		return nil, errors.New(errors.EUsage, "--tracks is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.EUsage, "read tracks file", err)
	}
	tf, err := config.ParseTracksFile(data)
	if err != nil {
		return nil, err
	}
	return tf.Tracks, nil
}

func loadVerifyContract(path string) (config.VerifyContract, error) {
	if path == "" {
		return config.DefaultVerifyContract(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return config.VerifyContract{}, errors.Wrap(errors.EUsage, "read verify contract", err)
	}
	return config.ParseVerifyContract(data)
}

// Package worktree provides isolated per-track git worktrees for anvil
// runs: one worktree per track, on a deterministic branch, created and
// torn down through the Command Runner.
package worktree

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/anvil-run/anvil/internal/core"
	"github.com/anvil-run/anvil/internal/errors"
	"github.com/anvil-run/anvil/internal/execrunner"
	"github.com/anvil-run/anvil/internal/fs"
)

// Manager owns the worktrees for a single run.
type Manager struct {
	cr       execrunner.CommandRunner
	fsys     fs.FS
	repoRoot string
	runsRoot string // directory holding worktrees/<run-id>/
	runID    string
}

// New returns a Manager for the given run. repoRoot is the target
// repository's working tree; worktreesRoot is the directory under which
// per-track worktrees are created (worktrees/<run-id>/<track>/ per
// spec.md §6's persisted layout).
func New(cr execrunner.CommandRunner, fsys fs.FS, repoRoot, worktreesRoot, runID string) *Manager {
	return &Manager{cr: cr, fsys: fsys, repoRoot: repoRoot, runsRoot: worktreesRoot, runID: runID}
}

// Path returns the deterministic worktree path for track, independent of
// whether it has been created yet. Repeated calls return the same path.
func (m *Manager) Path(track string) string {
	return filepath.Join(m.runsRoot, m.runID, track)
}

// CreateResult holds the outcome of a successful Create.
type CreateResult struct {
	Branch string
	Path   string
}

// Create provisions an isolated worktree for track, branched from
// parentBranch. Fails with WorktreeConflict if the branch already exists
// (spec.md §4.2); fails with RepoNotVersionControlled if repoRoot is not a
// git working tree.
func (m *Manager) Create(ctx context.Context, track, parentBranch string) (*CreateResult, error) {
	if err := m.requireVersionControlled(ctx); err != nil {
		return nil, err
	}

	branch := core.BranchName(m.runID, track)
	path := m.Path(track)

	if m.branchExists(ctx, branch) {
		return nil, errors.NewWithDetails(errors.EWorktreeConflict,
			"branch already exists: "+branch,
			map[string]string{"branch": branch, "track": track})
	}

	args := []string{"-C", m.repoRoot, "worktree", "add", "-b", branch, path, parentBranch}
	result, err := m.cr.Run(ctx, "git", args, execrunner.RunOpts{})
	if err != nil {
		return nil, errors.WrapWithDetails(errors.EWorktreeFailure,
			"failed to execute git worktree add", err,
			map[string]string{"command": "git " + strings.Join(args, " ")})
	}
	if result.ExitCode != 0 {
		return nil, errors.NewWithDetails(errors.EWorktreeFailure,
			"git worktree add failed: "+strings.TrimSpace(result.Stderr),
			map[string]string{
				"command":   "git " + strings.Join(args, " "),
				"exit_code": fmt.Sprintf("%d", result.ExitCode),
				"stderr":    truncate(result.Stderr, 32*1024),
			})
	}

	return &CreateResult{Branch: branch, Path: path}, nil
}

// ArchiveAndCleanup renames track's branch to its archive name and removes
// the worktree (spec.md §4.2). Idempotent: once the worktree is gone and
// the branch renamed, a repeated call is a no-op.
func (m *Manager) ArchiveAndCleanup(ctx context.Context, track string, ts time.Time) error {
	path := m.Path(track)
	branch := core.BranchName(m.runID, track)
	archiveBranch := core.ArchiveBranchName(m.runID, track, ts)

	if m.branchExists(ctx, branch) {
		args := []string{"-C", m.repoRoot, "branch", "-m", branch, archiveBranch}
		result, err := m.cr.Run(ctx, "git", args, execrunner.RunOpts{})
		if err != nil {
			return errors.Wrap(errors.EWorktreeFailure, "failed to execute git branch rename", err)
		}
		if result.ExitCode != 0 {
			return errors.NewWithDetails(errors.EWorktreeFailure,
				"git branch rename failed: "+strings.TrimSpace(result.Stderr),
				map[string]string{"branch": branch, "archive_branch": archiveBranch})
		}
	}

	return m.removeWorktree(ctx, path)
}

// CleanupAll archives and removes every track's worktree under this run.
// Errors for individual tracks are collected; CleanupAll keeps going so one
// stuck worktree does not block cleanup of the others.
func (m *Manager) CleanupAll(ctx context.Context, tracks []string, ts time.Time) error {
	var failures []string
	for _, t := range tracks {
		if err := m.ArchiveAndCleanup(ctx, t, ts); err != nil {
			failures = append(failures, t+": "+err.Error())
		}
	}
	if len(failures) > 0 {
		return errors.NewWithDetails(errors.EWorktreeFailure,
			"cleanup failed for one or more tracks",
			map[string]string{"failures": strings.Join(failures, "; ")})
	}
	return nil
}

// removeWorktree removes the worktree at path. Tries `git worktree remove
// --force` first; if that fails (stale registration, worktree already
// deleted on disk) falls back to a prefix-guarded recursive delete plus
// `git worktree prune`, mirroring the fallback pattern used elsewhere for
// best-effort teardown.
func (m *Manager) removeWorktree(ctx context.Context, path string) error {
	args := []string{"-C", m.repoRoot, "worktree", "remove", "--force", path}
	result, err := m.cr.Run(ctx, "git", args, execrunner.RunOpts{})
	if err == nil && result.ExitCode == 0 {
		return nil
	}

	if rmErr := fs.SafeRemoveAll(path, m.runsRoot); rmErr != nil {
		return errors.Wrap(errors.EWorktreeFailure, "failed to remove worktree directory", rmErr)
	}
	_, _ = m.cr.Run(ctx, "git", []string{"-C", m.repoRoot, "worktree", "prune"}, execrunner.RunOpts{})
	return nil
}

func (m *Manager) branchExists(ctx context.Context, branch string) bool {
	args := []string{"-C", m.repoRoot, "show-ref", "--verify", "--quiet", "refs/heads/" + branch}
	result, err := m.cr.Run(ctx, "git", args, execrunner.RunOpts{})
	return err == nil && result.ExitCode == 0
}

func (m *Manager) requireVersionControlled(ctx context.Context) error {
	args := []string{"-C", m.repoRoot, "rev-parse", "--is-inside-work-tree"}
	result, err := m.cr.Run(ctx, "git", args, execrunner.RunOpts{})
	if err != nil || result.ExitCode != 0 || strings.TrimSpace(result.Stdout) != "true" {
		return errors.NewWithDetails(errors.ERepoNotVCS,
			"repository is not a version-controlled tree", map[string]string{"repo": m.repoRoot})
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

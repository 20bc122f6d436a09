package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/anvil-run/anvil/internal/errors"
	"github.com/anvil-run/anvil/internal/execrunner"
	"github.com/anvil-run/anvil/internal/fs"
	"github.com/anvil-run/anvil/internal/ids"
	"github.com/anvil-run/anvil/internal/session"
	"github.com/anvil-run/anvil/internal/worktree"
)

// CleanupOpts holds the flags shared by every `anvil cleanup` subcommand.
type CleanupOpts struct {
	RepoPath  string
	RunRef    string        // run id or unique prefix; required for "run", ignored otherwise
	OlderThan time.Duration // for "stale"; a run counts as stale once this old
}

// runEntry is one discovered run directory plus its metadata, used by list
// and stale to decide what to print or archive.
type runEntry struct {
	ref   ids.RunRef
	meta  session.Metadata
	phase string
}

func discoverRuns(dbgRoot string) ([]runEntry, error) {
	runsDir := filepath.Join(dbgRoot, "runs")
	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(errors.EInternal, "list runs directory", err)
	}

	var runs []runEntry
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		re := runEntry{ref: ids.RunRef{RunID: e.Name()}}
		raw, err := os.ReadFile(filepath.Join(runsDir, e.Name(), "RUN.json"))
		if err != nil {
			re.ref.Broken = true
			runs = append(runs, re)
			continue
		}
		if err := json.Unmarshal(raw, &re.meta); err != nil {
			re.ref.Broken = true
		}
		runs = append(runs, re)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].ref.RunID < runs[j].ref.RunID })
	return runs, nil
}

// CleanupList implements `anvil cleanup list`: prints every discovered run
// with its mode and start time.
func CleanupList(_ context.Context, opts CleanupOpts, stdout io.Writer) error {
	runs, err := discoverRuns(filepath.Join(opts.RepoPath, ".dbg"))
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(stdout, "no runs found")
		return nil
	}
	for _, r := range runs {
		if r.ref.Broken {
			fmt.Fprintf(stdout, "%s\t(unreadable metadata)\n", r.ref.RunID)
			continue
		}
		fmt.Fprintf(stdout, "%s\t%s\t%s\n", r.ref.RunID, r.meta.Mode, r.meta.StartedAt)
	}
	return nil
}

// CleanupRun implements `anvil cleanup run`: archives and removes every
// track worktree for a single resolved run.
func CleanupRun(ctx context.Context, cr execrunner.CommandRunner, fsys fs.FS, opts CleanupOpts, stdout io.Writer) error {
	dbgRoot := filepath.Join(opts.RepoPath, ".dbg")
	runs, err := discoverRuns(dbgRoot)
	if err != nil {
		return err
	}

	refs := make([]ids.RunRef, len(runs))
	byID := make(map[string]runEntry, len(runs))
	for i, r := range runs {
		refs[i] = r.ref
		byID[r.ref.RunID] = r
	}

	resolved, err := ids.ResolveRunRef(opts.RunRef, refs)
	if err != nil {
		return errors.Wrap(errors.ERunNotFound, "resolve run reference", err)
	}

	entry := byID[resolved.RunID]
	wt := worktree.New(cr, fsys, opts.RepoPath, filepath.Join(dbgRoot, "worktrees"), resolved.RunID)
	if err := wt.CleanupAll(ctx, entry.meta.Tracks, time.Now()); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "cleaned up %s\n", resolved.RunID)
	return nil
}

// CleanupStale implements `anvil cleanup stale`: archives every run whose
// RUN.json start time is older than opts.OlderThan.
func CleanupStale(ctx context.Context, cr execrunner.CommandRunner, fsys fs.FS, opts CleanupOpts, stdout io.Writer) error {
	dbgRoot := filepath.Join(opts.RepoPath, ".dbg")
	runs, err := discoverRuns(dbgRoot)
	if err != nil {
		return err
	}

	cutoff := time.Now().Add(-opts.OlderThan)
	cleaned := 0
	for _, r := range runs {
		if r.ref.Broken {
			continue
		}
		started, err := time.Parse(time.RFC3339Nano, r.meta.StartedAt)
		if err != nil || started.After(cutoff) {
			continue
		}
		wt := worktree.New(cr, fsys, opts.RepoPath, filepath.Join(dbgRoot, "worktrees"), r.ref.RunID)
		if err := wt.CleanupAll(ctx, r.meta.Tracks, time.Now()); err != nil {
			fmt.Fprintf(stdout, "%s: cleanup failed: %v\n", r.ref.RunID, err)
			continue
		}
		fmt.Fprintf(stdout, "cleaned up %s\n", r.ref.RunID)
		cleaned++
	}
	fmt.Fprintf(stdout, "%d run(s) cleaned\n", cleaned)
	return nil
}

// CleanupAll implements `anvil cleanup all`: archives every discovered run
// regardless of age, for a full reset of a repo's anvil state.
func CleanupAll(ctx context.Context, cr execrunner.CommandRunner, fsys fs.FS, opts CleanupOpts, stdout io.Writer) error {
	opts.OlderThan = 0
	return CleanupStale(ctx, cr, fsys, opts, stdout)
}

package worktree

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/anvil-run/anvil/internal/errors"
	"github.com/anvil-run/anvil/internal/execrunner"
	"github.com/anvil-run/anvil/internal/fs"
)

// fakeRunner is a scripted execrunner.CommandRunner for exercising the
// Manager without invoking a real git binary.
type fakeRunner struct {
	calls     []string
	responses map[string]execrunner.Result // keyed by name+" "+joined args
	errs      map[string]error
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{responses: map[string]execrunner.Result{}, errs: map[string]error{}}
}

func (f *fakeRunner) key(name string, args []string) string {
	return name + " " + strings.Join(args, " ")
}

func (f *fakeRunner) on(name string, args []string, result execrunner.Result) {
	f.responses[f.key(name, args)] = result
}

func (f *fakeRunner) Run(_ context.Context, name string, args []string, _ execrunner.RunOpts) (execrunner.Result, error) {
	k := f.key(name, args)
	f.calls = append(f.calls, k)
	if err, ok := f.errs[k]; ok {
		return execrunner.Result{}, err
	}
	if r, ok := f.responses[k]; ok {
		return r, nil
	}
	// Default: any show-ref / rev-parse / prune call not explicitly
	// scripted is treated as "succeeded with a generic zero exit".
	return execrunner.Result{ExitCode: 0}, nil
}

func TestCreate_Success(t *testing.T) {
	repoRoot := t.TempDir()
	worktreesRoot := t.TempDir()
	fr := newFakeRunner()
	fr.on("git", []string{"-C", repoRoot, "rev-parse", "--is-inside-work-tree"},
		execrunner.Result{ExitCode: 0, Stdout: "true\n"})
	fr.on("git", []string{"-C", repoRoot, "show-ref", "--verify", "--quiet", "refs/heads/dbg/run-1/fixer-a"},
		execrunner.Result{ExitCode: 1})

	m := New(fr, fs.OSFS{}, repoRoot, worktreesRoot, "run-1")
	res, err := m.Create(context.Background(), "fixer-a", "main")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if res.Branch != "dbg/run-1/fixer-a" {
		t.Errorf("Branch = %q, want dbg/run-1/fixer-a", res.Branch)
	}
	if res.Path != m.Path("fixer-a") {
		t.Errorf("Path = %q, want %q", res.Path, m.Path("fixer-a"))
	}
}

func TestCreate_BranchConflict(t *testing.T) {
	repoRoot := t.TempDir()
	worktreesRoot := t.TempDir()
	fr := newFakeRunner()
	fr.on("git", []string{"-C", repoRoot, "rev-parse", "--is-inside-work-tree"},
		execrunner.Result{ExitCode: 0, Stdout: "true\n"})
	fr.on("git", []string{"-C", repoRoot, "show-ref", "--verify", "--quiet", "refs/heads/dbg/run-1/fixer-a"},
		execrunner.Result{ExitCode: 0})

	m := New(fr, fs.OSFS{}, repoRoot, worktreesRoot, "run-1")
	_, err := m.Create(context.Background(), "fixer-a", "main")
	if errors.GetCode(err) != errors.EWorktreeConflict {
		t.Fatalf("code = %v, want EWorktreeConflict", errors.GetCode(err))
	}
}

func TestCreate_RepoNotVersionControlled(t *testing.T) {
	repoRoot := t.TempDir()
	worktreesRoot := t.TempDir()
	fr := newFakeRunner()
	fr.on("git", []string{"-C", repoRoot, "rev-parse", "--is-inside-work-tree"},
		execrunner.Result{ExitCode: 128, Stderr: "not a git repository"})

	m := New(fr, fs.OSFS{}, repoRoot, worktreesRoot, "run-1")
	_, err := m.Create(context.Background(), "fixer-a", "main")
	if errors.GetCode(err) != errors.ERepoNotVCS {
		t.Fatalf("code = %v, want ERepoNotVCS", errors.GetCode(err))
	}
}

func TestCreate_WorktreeAddFailure(t *testing.T) {
	repoRoot := t.TempDir()
	worktreesRoot := t.TempDir()
	fr := newFakeRunner()
	fr.on("git", []string{"-C", repoRoot, "rev-parse", "--is-inside-work-tree"},
		execrunner.Result{ExitCode: 0, Stdout: "true\n"})
	fr.on("git", []string{"-C", repoRoot, "show-ref", "--verify", "--quiet", "refs/heads/dbg/run-1/fixer-a"},
		execrunner.Result{ExitCode: 1})
	path := New(fr, fs.OSFS{}, repoRoot, worktreesRoot, "run-1").Path("fixer-a")
	fr.on("git", []string{"-C", repoRoot, "worktree", "add", "-b", "dbg/run-1/fixer-a", path, "main"},
		execrunner.Result{ExitCode: 1, Stderr: "fatal: boom"})

	m := New(fr, fs.OSFS{}, repoRoot, worktreesRoot, "run-1")
	_, err := m.Create(context.Background(), "fixer-a", "main")
	if errors.GetCode(err) != errors.EWorktreeFailure {
		t.Fatalf("code = %v, want EWorktreeFailure", errors.GetCode(err))
	}
}

func TestPath_Deterministic(t *testing.T) {
	m := New(newFakeRunner(), fs.OSFS{}, "/repo", "/runs", "run-1")
	a := m.Path("fixer-a")
	b := m.Path("fixer-a")
	if a != b {
		t.Errorf("Path() not deterministic: %q != %q", a, b)
	}
}

func TestArchiveAndCleanup_RenamesAndRemoves(t *testing.T) {
	repoRoot := t.TempDir()
	worktreesRoot := t.TempDir()
	fr := newFakeRunner()
	fr.on("git", []string{"-C", repoRoot, "show-ref", "--verify", "--quiet", "refs/heads/dbg/run-1/fixer-a"},
		execrunner.Result{ExitCode: 0})

	m := New(fr, fs.OSFS{}, repoRoot, worktreesRoot, "run-1")
	ts := time.Date(2026, 1, 9, 1, 32, 7, 0, time.UTC)
	if err := m.ArchiveAndCleanup(context.Background(), "fixer-a", ts); err != nil {
		t.Fatalf("ArchiveAndCleanup() error = %v", err)
	}

	found := false
	for _, c := range fr.calls {
		if strings.Contains(c, "branch -m dbg/run-1/fixer-a archive/anvil-run-1-fixer-a-20260109013207") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected branch rename call, got calls: %v", fr.calls)
	}
}

func TestArchiveAndCleanup_NoBranchIsNoop(t *testing.T) {
	repoRoot := t.TempDir()
	worktreesRoot := t.TempDir()
	fr := newFakeRunner()
	fr.on("git", []string{"-C", repoRoot, "show-ref", "--verify", "--quiet", "refs/heads/dbg/run-1/fixer-a"},
		execrunner.Result{ExitCode: 1})

	m := New(fr, fs.OSFS{}, repoRoot, worktreesRoot, "run-1")
	ts := time.Now()
	if err := m.ArchiveAndCleanup(context.Background(), "fixer-a", ts); err != nil {
		t.Fatalf("ArchiveAndCleanup() error = %v", err)
	}
	for _, c := range fr.calls {
		if strings.Contains(c, "branch -m") {
			t.Errorf("did not expect branch rename call, got: %v", fr.calls)
		}
	}
}

func TestCleanupAll_ToleratesMissingBranches(t *testing.T) {
	repoRoot := t.TempDir()
	worktreesRoot := t.TempDir()
	fr := newFakeRunner()
	fr.on("git", []string{"-C", repoRoot, "show-ref", "--verify", "--quiet", "refs/heads/dbg/run-1/fixer-a"},
		execrunner.Result{ExitCode: 1})
	fr.on("git", []string{"-C", repoRoot, "show-ref", "--verify", "--quiet", "refs/heads/dbg/run-1/breaker-a"},
		execrunner.Result{ExitCode: 1})

	m := New(fr, fs.OSFS{}, repoRoot, worktreesRoot, "run-1")
	err := m.CleanupAll(context.Background(), []string{"fixer-a", "breaker-a"}, time.Now())
	if err != nil {
		t.Fatalf("CleanupAll() error = %v", err)
	}
}

package track

import (
	"context"
	"strings"
	"testing"

	"github.com/anvil-run/anvil/internal/agent"
	"github.com/anvil-run/anvil/internal/artifact"
	"github.com/anvil-run/anvil/internal/config"
	"github.com/anvil-run/anvil/internal/execrunner"
	"github.com/anvil-run/anvil/internal/fs"
	"github.com/anvil-run/anvil/internal/worktree"
)

// gitFake answers every git invocation the worktree manager issues: no
// branch ever exists yet, and every mutation succeeds, unless failAdd is set.
type gitFake struct {
	failAdd bool
}

func (g *gitFake) Run(_ context.Context, name string, args []string, _ execrunner.RunOpts) (execrunner.Result, error) {
	joined := strings.Join(args, " ")
	switch {
	case strings.Contains(joined, "is-inside-work-tree"):
		return execrunner.Result{ExitCode: 0, Stdout: "true"}, nil
	case strings.Contains(joined, "show-ref"):
		return execrunner.Result{ExitCode: 1}, nil
	case strings.Contains(joined, "worktree add"):
		if g.failAdd {
			return execrunner.Result{ExitCode: 1, Stderr: "fatal: could not add worktree"}, nil
		}
		return execrunner.Result{ExitCode: 0}, nil
	default:
		return execrunner.Result{ExitCode: 0}, nil
	}
}

// shFake scripts the sh -c commands the Verifier issues.
type shFake struct {
	exitCode int
	stdout   string
}

func (s *shFake) Run(_ context.Context, _ string, _ []string, _ execrunner.RunOpts) (execrunner.Result, error) {
	return execrunner.Result{ExitCode: s.exitCode, Stdout: s.stdout}, nil
}

// scriptedAdapter returns one envelope string per call, repeating the last
// entry once exhausted, and records how many times it was invoked.
type scriptedAdapter struct {
	envelopes []string
	calls     int
}

func (s *scriptedAdapter) RunIteration(_ context.Context, _ agent.Context) (agent.Result, error) {
	idx := s.calls
	if idx >= len(s.envelopes) {
		idx = len(s.envelopes) - 1
	}
	s.calls++
	return agent.Result{RawText: s.envelopes[idx]}, nil
}

// flakyAdapter times out on its first call and returns a valid envelope on
// every call after that, modeling a transient agent hang.
type flakyAdapter struct {
	calls int
}

func (a *flakyAdapter) RunIteration(_ context.Context, _ agent.Context) (agent.Result, error) {
	a.calls++
	if a.calls == 1 {
		return agent.Result{TimedOut: true}, nil
	}
	return agent.Result{RawText: continueNoPatchEnvelope}, nil
}

// alwaysTimeoutAdapter times out on every call, modeling an agent that never
// recovers within the iteration budget.
type alwaysTimeoutAdapter struct {
	calls int
}

func (a *alwaysTimeoutAdapter) RunIteration(_ context.Context, _ agent.Context) (agent.Result, error) {
	a.calls++
	return agent.Result{TimedOut: true}, nil
}

// verifyAfterApplyFake stands in for r.Exec across both the patch-apply
// sequence and the Verifier's own "sh -c" commands, so a test can tell
// whether the Verifier actually ran against a patched tree. It only reports
// the verify command as passing once a (still unreverted) apply has
// happened first.
type verifyAfterApplyFake struct {
	applied bool
	calls   []string
}

func (f *verifyAfterApplyFake) Run(_ context.Context, name string, args []string, _ execrunner.RunOpts) (execrunner.Result, error) {
	joined := strings.Join(args, " ")
	f.calls = append(f.calls, name+" "+joined)
	switch {
	case strings.Contains(joined, "apply --check"):
		return execrunner.Result{ExitCode: 0}, nil
	case strings.Contains(joined, "apply --whitespace"):
		f.applied = true
		return execrunner.Result{ExitCode: 0}, nil
	case strings.Contains(joined, "checkout --"):
		f.applied = false
		return execrunner.Result{ExitCode: 0}, nil
	case name == "sh":
		if !f.applied {
			return execrunner.Result{ExitCode: 1, Stdout: "not applied"}, nil
		}
		return execrunner.Result{ExitCode: 0, Stdout: "tests passed"}, nil
	default:
		return execrunner.Result{ExitCode: 0}, nil
	}
}

func newTestRunner(t *testing.T, gitRunner execrunner.CommandRunner, verifyRunner execrunner.CommandRunner) (*Runner, *artifact.Store) {
	t.Helper()
	store, err := artifact.New(t.TempDir(), fs.OSFS{})
	if err != nil {
		t.Fatalf("artifact.New() error = %v", err)
	}
	wt := worktree.New(gitRunner, fs.OSFS{}, t.TempDir(), t.TempDir(), "run-1")
	return &Runner{Store: store, Worktree: wt, Registry: agent.NewRegistry(), Exec: verifyRunner}, store
}

func baseTrack(name string, role config.Role, maxIters int) config.TrackConfig {
	return config.TrackConfig{
		Name:     name,
		Role:     role,
		Provider: "scripted",
		Budget:   config.Budget{MaxIters: maxIters, PerIterTimeoutS: 5},
	}
}

const donePatchEnvelope = "```diff\n" +
	"--- a/x.go\n+++ b/x.go\n@@ -1,1 +1,1 @@\n-old\n+new\n" +
	"```\n" +
	`{"hypothesis":"h","experiments":[],"proposed_changes":[],"confidence":0.9,"status_signal":"DONE","observations":["fixed it"]}`

const continueNoPatchEnvelope = `{"hypothesis":"h","experiments":[],"proposed_changes":[],"confidence":0.2,"status_signal":"CONTINUE","observations":["still looking"]}`

func TestRun_FixerProducesPatchAndVerifiesThenDone(t *testing.T) {
	r, store := newTestRunner(t, &gitFake{}, &shFake{exitCode: 0, stdout: "1 tests passed"})
	r.Registry.Register("scripted", func(map[string]any) (agent.Adapter, error) {
		return &scriptedAdapter{envelopes: []string{donePatchEnvelope}}, nil
	})

	track := baseTrack("fixer-a", config.RoleFixer, 3)
	in := Inputs{
		AllTracks:      []string{"fixer-a"},
		VerifyContract: config.VerifyContract{Commands: []config.VerifyCommand{{Name: "unit", Cmd: "go test ./...", Required: true}}},
		Verify:         true,
	}

	res := r.Run(context.Background(), track, in)
	if res.Disqualified {
		t.Fatalf("Disqualified = true, reason %q", res.DisqualifyReason)
	}
	if !res.HasPatch {
		t.Error("HasPatch = false, want true")
	}
	if !res.HasVerify || !strings.HasPrefix(res.VerifyMD, "PASS") {
		t.Errorf("HasVerify/VerifyMD = %v/%q, want true/PASS...", res.HasVerify, res.VerifyMD)
	}
	if res.LatestConfidence != 0.9 {
		t.Errorf("LatestConfidence = %v, want 0.9", res.LatestConfidence)
	}
	if !store.Exists("tracks/fixer-a/iter_01/PATCH.diff") {
		t.Error("expected PATCH.diff to be persisted")
	}
}

func TestRun_FixerNeverPatchingIsDisqualifiedNoPatch(t *testing.T) {
	r, _ := newTestRunner(t, &gitFake{}, &shFake{exitCode: 0, stdout: "ok"})
	r.Registry.Register("scripted", func(map[string]any) (agent.Adapter, error) {
		return &scriptedAdapter{envelopes: []string{continueNoPatchEnvelope}}, nil
	})

	track := baseTrack("fixer-b", config.RoleFixer, 2)
	res := r.Run(context.Background(), track, Inputs{AllTracks: []string{"fixer-b"}})

	if !res.Disqualified || res.DisqualifyReason != "NoPatch" {
		t.Fatalf("Disqualified/Reason = %v/%q, want true/NoPatch", res.Disqualified, res.DisqualifyReason)
	}
}

func TestRun_BreakerNeverPatchingIsNotDisqualified(t *testing.T) {
	r, _ := newTestRunner(t, &gitFake{}, &shFake{exitCode: 0, stdout: "ok"})
	r.Registry.Register("scripted", func(map[string]any) (agent.Adapter, error) {
		return &scriptedAdapter{envelopes: []string{continueNoPatchEnvelope}}, nil
	})

	track := baseTrack("breaker-a", config.RoleBreaker, 1)
	res := r.Run(context.Background(), track, Inputs{AllTracks: []string{"breaker-a"}})

	if res.Disqualified {
		t.Fatalf("Disqualified = true, reason %q, want false for a breaker with no patch", res.DisqualifyReason)
	}
}

func TestRun_SchemaDriftDisqualifies(t *testing.T) {
	r, store := newTestRunner(t, &gitFake{}, &shFake{})
	r.Registry.Register("scripted", func(map[string]any) (agent.Adapter, error) {
		return &scriptedAdapter{envelopes: []string{"not json at all, no braces here"}}, nil
	})

	track := baseTrack("fixer-c", config.RoleFixer, 2)
	res := r.Run(context.Background(), track, Inputs{AllTracks: []string{"fixer-c"}})

	if !res.Disqualified || res.DisqualifyReason != "SchemaDrift" {
		t.Fatalf("Disqualified/Reason = %v/%q, want true/SchemaDrift", res.Disqualified, res.DisqualifyReason)
	}
	if !store.Exists("tracks/fixer-c/CRASH.txt") {
		t.Error("expected CRASH.txt to be written")
	}
}

func TestRun_WorktreeFailureDisqualifies(t *testing.T) {
	r, _ := newTestRunner(t, &gitFake{failAdd: true}, &shFake{})
	r.Registry.Register("scripted", func(map[string]any) (agent.Adapter, error) {
		return &scriptedAdapter{envelopes: []string{donePatchEnvelope}}, nil
	})

	track := baseTrack("fixer-d", config.RoleFixer, 1)
	res := r.Run(context.Background(), track, Inputs{AllTracks: []string{"fixer-d"}})

	if !res.Disqualified || res.DisqualifyReason != "WorktreeFailure" {
		t.Fatalf("Disqualified/Reason = %v/%q, want true/WorktreeFailure", res.Disqualified, res.DisqualifyReason)
	}
}

func TestRun_TimeoutOnFirstIterationRecoversOnSecond(t *testing.T) {
	r, store := newTestRunner(t, &gitFake{}, &shFake{})
	adapter := &flakyAdapter{}
	r.Registry.Register("scripted", func(map[string]any) (agent.Adapter, error) {
		return adapter, nil
	})

	track := baseTrack("breaker-b", config.RoleBreaker, 2)
	res := r.Run(context.Background(), track, Inputs{AllTracks: []string{"breaker-b"}})

	if res.Disqualified {
		t.Fatalf("Disqualified = true, reason %q, want eligible after iteration 2 recovers", res.DisqualifyReason)
	}
	if adapter.calls != 2 {
		t.Errorf("adapter called %d times, want 2", adapter.calls)
	}
	if !store.Exists("tracks/breaker-b/iter_01/ITERATION.txt") {
		t.Error("expected iter_01 to record the TimeoutFailure")
	}
	if store.Exists("tracks/breaker-b/iter_01/ITERATION.json") {
		t.Error("iter_01 should have no validated envelope, it timed out")
	}
	if !store.Exists("tracks/breaker-b/iter_02/ITERATION.json") {
		t.Error("expected iter_02 to have recorded a valid envelope")
	}
}

func TestRun_AllIterationsTimingOutDisqualifies(t *testing.T) {
	r, _ := newTestRunner(t, &gitFake{}, &shFake{})
	adapter := &alwaysTimeoutAdapter{}
	r.Registry.Register("scripted", func(map[string]any) (agent.Adapter, error) {
		return adapter, nil
	})

	track := baseTrack("fixer-g", config.RoleFixer, 2)
	res := r.Run(context.Background(), track, Inputs{AllTracks: []string{"fixer-g"}})

	if !res.Disqualified || res.DisqualifyReason != "TimeoutFailure" {
		t.Fatalf("Disqualified/Reason = %v/%q, want true/TimeoutFailure", res.Disqualified, res.DisqualifyReason)
	}
	if adapter.calls != 2 {
		t.Errorf("adapter called %d times, want 2 (every budgeted iteration attempted before disqualifying)", adapter.calls)
	}
}

func TestRun_VerifyRunsAgainstAppliedPatch(t *testing.T) {
	verifier := &verifyAfterApplyFake{}
	r, _ := newTestRunner(t, &gitFake{}, verifier)
	r.Registry.Register("scripted", func(map[string]any) (agent.Adapter, error) {
		return &scriptedAdapter{envelopes: []string{donePatchEnvelope}}, nil
	})

	track := baseTrack("fixer-f", config.RoleFixer, 1)
	in := Inputs{
		AllTracks:      []string{"fixer-f"},
		VerifyContract: config.VerifyContract{Commands: []config.VerifyCommand{{Name: "unit", Cmd: "go test ./...", Required: true}}},
		Verify:         true,
	}

	res := r.Run(context.Background(), track, in)
	if !res.HasVerify || !strings.HasPrefix(res.VerifyMD, "PASS") {
		t.Fatalf("HasVerify/VerifyMD = %v/%q, want true/PASS... (the verify contract must run against the applied patch, not the pristine tree)",
			res.HasVerify, res.VerifyMD)
	}

	reverted := false
	for _, c := range verifier.calls {
		if strings.Contains(c, "checkout --") {
			reverted = true
		}
	}
	if !reverted {
		t.Error("expected the patch to be reverted after verification")
	}
}

func TestRun_ResumeSkipsAlreadyValidIteration(t *testing.T) {
	r, store := newTestRunner(t, &gitFake{}, &shFake{exitCode: 0, stdout: "ok"})
	adapter := &scriptedAdapter{envelopes: []string{donePatchEnvelope}}
	r.Registry.Register("scripted", func(map[string]any) (agent.Adapter, error) {
		return adapter, nil
	})

	priorEnvelope := `{"hypothesis":"h","experiments":[],"proposed_changes":[],"confidence":0.3,` +
		`"status_signal":"CONTINUE","observations":["from a previous run"]}`
	if err := store.Write("tracks/fixer-e/iter_01/ITERATION.json", []byte(priorEnvelope)); err != nil {
		t.Fatalf("seed prior iteration: %v", err)
	}

	track := baseTrack("fixer-e", config.RoleFixer, 2)
	res := r.Run(context.Background(), track, Inputs{AllTracks: []string{"fixer-e"}})

	if adapter.calls != 1 {
		t.Errorf("adapter called %d times, want exactly 1 (iteration 1 should be skipped on resume)", adapter.calls)
	}
	if res.Disqualified {
		t.Fatalf("Disqualified = true, reason %q", res.DisqualifyReason)
	}
	if !res.HasPatch {
		t.Error("HasPatch = false, want true from iteration 2")
	}
}

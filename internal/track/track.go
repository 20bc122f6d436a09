// Package track implements the Track Runner: the per-track state machine
// that drives one agent through its iteration loop inside an isolated
// worktree (spec.md §4.7).
package track

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/anvil-run/anvil/internal/agent"
	"github.com/anvil-run/anvil/internal/artifact"
	"github.com/anvil-run/anvil/internal/blackboard"
	"github.com/anvil-run/anvil/internal/config"
	"github.com/anvil-run/anvil/internal/events"
	"github.com/anvil-run/anvil/internal/execrunner"
	"github.com/anvil-run/anvil/internal/patch"
	"github.com/anvil-run/anvil/internal/redact"
	"github.com/anvil-run/anvil/internal/schema"
	"github.com/anvil-run/anvil/internal/verify"
	"github.com/anvil-run/anvil/internal/worktree"
)

// Inputs bundles the per-session context shared by every track.
type Inputs struct {
	IssueText      string
	ContextSummary string
	ReproPlan      string
	ParentBranch   string
	AllTracks      []string // every track name in the session, for blackboard refresh
	VerifyContract config.VerifyContract
	Verify         bool // whether to run the Verifier opportunistically after a patch
}

// Result is what the Session Driver and Judge need about a finished track.
type Result struct {
	Name             string
	Role             config.Role
	Disqualified     bool
	DisqualifyReason string
	HasPatch         bool
	LatestConfidence float64
	HasVerify        bool
	VerifyMD         string
	ProvisionedAt    time.Time
}

// Runner drives one track's INIT -> PROVISION -> ITERATE -> [VERIFY] ->
// DONE/DISQUALIFY state machine.
type Runner struct {
	Store      *artifact.Store
	Worktree   *worktree.Manager
	Registry   *agent.Registry
	Exec       execrunner.CommandRunner
	RunID      string // for event log correlation; empty disables event logging
	EventsPath string
}

func (r *Runner) logEvent(track, name string, data map[string]any) {
	if r.EventsPath == "" {
		return
	}
	_ = events.Append(r.EventsPath, events.New(r.RunID, track, name, data))
}

// Run executes track to completion. It never panics outward: any unhandled
// failure inside the runner is caught, written as CRASH.txt under the
// track's artifact directory, and converted into a disqualified Result — it
// never propagates to sibling tracks (spec.md §4.7).
func (r *Runner) Run(ctx context.Context, track config.TrackConfig, in Inputs) (res Result) {
	res = Result{Name: track.Name, Role: track.Role}

	defer func() {
		if rec := recover(); rec != nil {
			res.Disqualified = true
			res.DisqualifyReason = "Crash"
			_ = r.Store.Write(filepath.Join("tracks", track.Name, "CRASH.txt"),
				[]byte(fmt.Sprintf("panic: %v\n\n%s", rec, debug.Stack())))
		}
	}()

	r.logEvent(track.Name, "track_phase", events.TrackPhaseData("provision"))
	provisionedAt, err := r.provision(ctx, track, in)
	res.ProvisionedAt = provisionedAt
	if err != nil {
		res.Disqualified = true
		res.DisqualifyReason = "WorktreeFailure"
		r.writeCrash(track.Name, err)
		r.logEvent(track.Name, "track_disqualified", events.TrackDisqualifiedData(res.DisqualifyReason))
		return res
	}

	workDir := r.Worktree.Path(track.Name)
	adapter := r.Registry.Build(string(track.Provider), track.ProviderOptions)

	var hasPatch, hasVerify, hadSuccess bool
	var latestConfidence float64
	var verifyMD string

	for k := 1; k <= track.Budget.MaxIters; k++ {
		iterDir := filepath.Join("tracks", track.Name, fmt.Sprintf("iter_%02d", k))

		if env, ok := r.loadValidIteration(iterDir); ok {
			hadSuccess = true
			latestConfidence = env.Confidence
			if r.Store.Exists(filepath.Join(iterDir, "PATCH.diff")) {
				hasPatch = true
			}
			if vmd, verr := r.Store.Read(filepath.Join(iterDir, "VERIFY.md")); verr == nil {
				hasVerify = true
				verifyMD = string(vmd)
			}
			if env.StatusSignal == schema.StatusDone {
				break
			}
			continue
		}

		actx := agent.Context{
			Track:          track.Name,
			Role:           string(track.Role),
			Iteration:      k,
			IssueText:      in.IssueText,
			ContextSummary: in.ContextSummary,
			ReproPlan:      in.ReproPlan,
			Blackboard:     r.readBlackboard(),
			Directives:     track.Directives,
			Model:          track.Model,
			WorkDir:        workDir,
			Timeout:        track.PerIterTimeout(),
			IterationDir:   r.Store.Path(iterDir),
		}

		r.logEvent(track.Name, "iteration_started", events.IterationStartedData(k))
		iterCtx, cancel := context.WithTimeout(ctx, track.PerIterTimeout())
		result, runErr := adapter.RunIteration(iterCtx, actx)
		cancel()
		if runErr != nil || result.TimedOut {
			// A single bad iteration is not fatal to the track (spec.md §5):
			// record it as TimeoutFailure and move on to the next iteration.
			// Only disqualify once every iteration up to max_iters has failed
			// this way — an agent that recovers on a later iteration stays
			// eligible (spec.md §8 Scenario 4).
			reason := "TimeoutFailure"
			r.writeIterationFailure(iterDir, reason, runErr)
			r.logEvent(track.Name, "iteration_failed", events.IterationFailedData(k, reason))
			if k == track.Budget.MaxIters && !hadSuccess {
				res.Disqualified = true
				res.DisqualifyReason = reason
				r.logEvent(track.Name, "track_disqualified", events.TrackDisqualifiedData(res.DisqualifyReason))
			}
			continue
		}
		hadSuccess = true

		_ = r.Store.Write(filepath.Join(iterDir, "ITERATION.txt"), []byte(redact.Text(result.RawText)))

		env, valErr := schema.ValidateIteration(result.RawText)
		if valErr != nil {
			res.Disqualified = true
			res.DisqualifyReason = "SchemaDrift"
			r.writeCrash(track.Name, valErr)
			r.logEvent(track.Name, "track_disqualified", events.TrackDisqualifiedData(res.DisqualifyReason))
			break
		}
		if err := r.Store.WriteJSON(filepath.Join(iterDir, "ITERATION.json"), env); err != nil {
			res.Disqualified = true
			res.DisqualifyReason = "SchemaDrift"
			r.writeCrash(track.Name, err)
			r.logEvent(track.Name, "track_disqualified", events.TrackDisqualifiedData(res.DisqualifyReason))
			break
		}
		latestConfidence = env.Confidence
		r.logEvent(track.Name, "iteration_finished",
			events.IterationFinishedData(k, string(env.StatusSignal), result.DurationMS, env.PatchPresent))

		patchThisIter := false
		if diffText, ok := patch.ExtractUnifiedDiff(result.RawText); ok {
			if _, verr := patch.Validate(diffText); verr == nil {
				if err := r.Store.Write(filepath.Join(iterDir, "PATCH.diff"), []byte(diffText)); err == nil {
					hasPatch = true
					patchThisIter = true
				}
			}
		}

		if patchThisIter && in.Verify {
			if report, ok := r.applyAndVerify(ctx, workDir, iterDir, in.VerifyContract, track.PerIterTimeout()); ok {
				if err := verify.Write(r.Store, iterDir, report); err == nil {
					hasVerify = true
					verifyMD = verify.RenderVerifyMD(report)
				}
			}
		}

		r.refreshBlackboard(in.AllTracks)

		if env.StatusSignal == schema.StatusDone {
			break
		}
	}

	if track.Role == config.RoleFixer && !hasPatch && !res.Disqualified {
		res.Disqualified = true
		res.DisqualifyReason = "NoPatch"
	}

	res.HasPatch = hasPatch
	res.LatestConfidence = latestConfidence
	res.HasVerify = hasVerify
	res.VerifyMD = verifyMD
	return res
}

// provision creates the track's isolated worktree, returning the moment of
// successful provisioning for the Judge's tie-break ordering.
func (r *Runner) provision(ctx context.Context, track config.TrackConfig, in Inputs) (time.Time, error) {
	if _, err := r.Worktree.Create(ctx, track.Name, in.ParentBranch); err != nil {
		return time.Time{}, err
	}
	return time.Now(), nil
}

// loadValidIteration reports whether iterDir already holds a validated
// ITERATION.json from a prior run, per the resume contract: a track resumed
// mid-session skips any iteration that already exists and validates.
func (r *Runner) loadValidIteration(iterDir string) (schema.IterationEnvelope, bool) {
	if !r.Store.Exists(filepath.Join(iterDir, "ITERATION.json")) {
		return schema.IterationEnvelope{}, false
	}
	raw, err := r.Store.Read(filepath.Join(iterDir, "ITERATION.json"))
	if err != nil {
		return schema.IterationEnvelope{}, false
	}
	env, err := schema.ValidateIteration(string(raw))
	if err != nil {
		return schema.IterationEnvelope{}, false
	}
	return env, true
}

func (r *Runner) readBlackboard() string {
	data, err := r.Store.Read("BLACKBOARD.md")
	if err != nil {
		return ""
	}
	return string(data)
}

// refreshBlackboard rebuilds and persists the shared blackboard from every
// track's latest observations. Failure here is not track-fatal: it only
// means this track's newest observations are missing from the shared view
// until the next successful refresh.
func (r *Runner) refreshBlackboard(allTracks []string) {
	bb, err := blackboard.Build(r.Store, allTracks)
	if err != nil {
		return
	}
	_ = blackboard.Write(r.Store, bb)
}

func (r *Runner) writeCrash(track string, cause error) {
	_ = r.Store.Write(filepath.Join("tracks", track, "CRASH.txt"), []byte(cause.Error()))
}

// writeIterationFailure records a non-fatal iteration failure (a timeout or
// an outright adapter invocation error) alongside the iteration directory,
// in place of the ITERATION.txt/ITERATION.json pair a successful iteration
// would have produced.
func (r *Runner) writeIterationFailure(iterDir, reason string, cause error) {
	detail := reason
	if cause != nil {
		detail = fmt.Sprintf("%s: %v", reason, cause)
	}
	_ = r.Store.Write(filepath.Join(iterDir, "ITERATION.txt"), []byte(detail))
}

// applyAndVerify applies iterDir's PATCH.diff to workDir, runs the Verifier
// against the patched tree, then reverts workDir to its pre-apply state so
// the next iteration starts clean. Grounded on the original prototype's
// apply -> Verify -> `git checkout .` sequence (original_source/src/anvil/
// orchestrator.py). ok is false if the patch did not apply, in which case no
// verification was attempted and workDir is untouched.
func (r *Runner) applyAndVerify(ctx context.Context, workDir, iterDir string, contract config.VerifyContract, timeout time.Duration) (verify.Report, bool) {
	patchAbsPath := r.Store.Path(filepath.Join(iterDir, "PATCH.diff"))

	dryRun, err := r.Exec.Run(ctx, "git",
		[]string{"-C", workDir, "apply", "--check", "--whitespace=nowarn", patchAbsPath}, execrunner.RunOpts{})
	if err != nil || dryRun.ExitCode != 0 {
		return verify.Report{}, false
	}

	applied, err := r.Exec.Run(ctx, "git",
		[]string{"-C", workDir, "apply", "--whitespace=nowarn", patchAbsPath}, execrunner.RunOpts{})
	if err != nil || applied.ExitCode != 0 {
		return verify.Report{}, false
	}

	report := verify.Run(ctx, r.Exec, contract, workDir, r.Store.Path(filepath.Join(iterDir, "logs")), timeout)

	_, _ = r.Exec.Run(ctx, "git", []string{"-C", workDir, "checkout", "--", "."}, execrunner.RunOpts{})

	return report, true
}

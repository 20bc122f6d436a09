// Package session implements the Session Driver: the top-level state
// machine for debug and harden mode sessions, including fan-out/fan-in of
// Track Runners, resume, and crash capture (spec.md §4.10).
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/anvil-run/anvil/internal/agent"
	"github.com/anvil-run/anvil/internal/artifact"
	"github.com/anvil-run/anvil/internal/config"
	"github.com/anvil-run/anvil/internal/errors"
	"github.com/anvil-run/anvil/internal/events"
	"github.com/anvil-run/anvil/internal/execrunner"
	"github.com/anvil-run/anvil/internal/judge"
	"github.com/anvil-run/anvil/internal/patch"
	"github.com/anvil-run/anvil/internal/track"
	"github.com/anvil-run/anvil/internal/worktree"
)

// ContextBuilder produces CONTEXT.md and FILES.json from the target repo.
// It is an external collaborator (spec.md §1); the Driver only depends on
// this function signature.
type ContextBuilder func(repoPath string) (contextMD string, filesJSON []byte, err error)

// ReproPlanner produces REPRO.md for debug mode. Also an external
// collaborator.
type ReproPlanner func(repoPath, issueText string) (reproMD string, err error)

// Metadata is RUN.json, persisted once at session start.
type Metadata struct {
	RunID        string   `json:"run_id"`
	Mode         string   `json:"mode"`
	StartedAt    string   `json:"started_at"`
	IssueText    string   `json:"issue_text,omitempty"`
	Tracks       []string `json:"tracks"`
	ConfigDigest string   `json:"config_digest"`
}

// Status is RUN_STATUS.json, the mutable single-writer status record.
type Status struct {
	Status    string `json:"status"` // RUNNING | OK | DONE | FAIL
	Phase     string `json:"phase"`
	UpdatedAt string `json:"updated_at"`
	Reason    string `json:"reason,omitempty"`
}

// Summary is what the CLI layer needs about a finished session.
type Summary struct {
	Scorecard judge.Scorecard
	Applied   bool
}

// Driver owns a single run's orchestration.
type Driver struct {
	Store          *artifact.Store
	Worktree       *worktree.Manager
	Registry       *agent.Registry
	Exec           execrunner.CommandRunner
	Concurrency    int // SetLimit cap on live tracks; 0 means unbounded
	CleanupOnCrash bool
}

// Run executes cfg's full session: context → (debug: repro plan) → fan out
// Track Runners → fan in → Judge → (debug+auto-apply: Apply) or
// (harden: HARDEN.md). On any unhandled failure it writes CRASH.txt at the
// run root and sets RUN_STATUS.json to FAIL rather than propagating a panic.
func (d *Driver) Run(ctx context.Context, cfg config.SessionConfig, vc config.VerifyContract, cb ContextBuilder, rp ReproPlanner) (summary Summary, err error) {
	eventsPath := d.Store.Path("events.jsonl")

	defer func() {
		if rec := recover(); rec != nil {
			crashErr := errors.NewWithDetails(errors.EInternalCrash, "session driver panicked",
				map[string]string{"panic": fmt.Sprintf("%v", rec)})
			d.crash(cfg, crashErr, fmt.Sprintf("panic: %v\n\n%s", rec, debug.Stack()))
			err = crashErr
		}
	}()

	if cfg.Resume {
		cfg, err = d.hydrateResume(cfg)
		if err != nil {
			return summary, err
		}
	} else if err := d.writeRunMetadata(cfg); err != nil {
		return summary, err
	}

	d.writeStatus("RUNNING", "context", "")
	events.Append(eventsPath, events.New(cfg.RunID, "", "session_started",
		events.SessionStartedData(string(cfg.Mode), trackNames(cfg.Tracks))))

	contextMD, filesJSON, err := cb(cfg.RepoPath)
	if err != nil {
		return summary, d.fail(cfg, errors.Wrap(errors.EInternal, "build context", err))
	}
	if err := d.Store.Write("CONTEXT.md", []byte(contextMD)); err != nil {
		return summary, d.fail(cfg, err)
	}
	if err := d.Store.Write("FILES.json", filesJSON); err != nil {
		return summary, d.fail(cfg, err)
	}

	var reproMD string
	if cfg.Mode == config.ModeDebug {
		reproMD, err = rp(cfg.RepoPath, cfg.IssueText)
		if err != nil {
			return summary, d.fail(cfg, errors.Wrap(errors.EInternal, "build reproduction plan", err))
		}
		if err := d.Store.Write("REPRO.md", []byte(reproMD)); err != nil {
			return summary, d.fail(cfg, err)
		}
	}

	d.writeStatus("RUNNING", "tracks", "")
	results := d.fanOut(ctx, cfg, vc, reproMD, eventsPath)

	sc := judge.Judge(toTrackInputs(results))
	if err := d.Store.WriteJSON("SCORECARD.json", sc); err != nil {
		return summary, d.fail(cfg, err)
	}
	if err := d.Store.Write("DECISION.md", []byte(judge.RenderDecisionMD(sc))); err != nil {
		return summary, d.fail(cfg, err)
	}
	events.Append(eventsPath, events.New(cfg.RunID, "", "judge_finished",
		events.JudgeFinishedData(sc.Winner, scoreMap(sc))))
	summary.Scorecard = sc

	if cfg.Mode == config.ModeHarden {
		if err := d.Store.Write("HARDEN.md", []byte(renderHardenMD(sc))); err != nil {
			return summary, d.fail(cfg, err)
		}
		d.writeStatus("OK", "report", "")
		events.Append(eventsPath, events.New(cfg.RunID, "", "session_finished",
			events.SessionFinishedData("OK", sc.Winner)))
		return summary, nil
	}

	if cfg.AutoApply && sc.Winner != "" {
		applied, _ := d.apply(ctx, cfg, sc.Winner)
		summary.Applied = applied
		events.Append(eventsPath, events.New(cfg.RunID, "", "apply_finished", events.ApplyFinishedData(applied, sc.Winner)))
	}

	finalStatus := "DONE"
	if sc.Winner == "" {
		finalStatus = "OK"
	}
	d.writeStatus(finalStatus, "done", "")
	events.Append(eventsPath, events.New(cfg.RunID, "", "session_finished",
		events.SessionFinishedData(finalStatus, sc.Winner)))
	return summary, nil
}

// fanOut runs every track concurrently with partial-failure containment:
// each goroutine recovers its own panic into a disqualified Result before
// returning, so one track's crash never cancels the errgroup's shared
// context for its siblings.
func (d *Driver) fanOut(ctx context.Context, cfg config.SessionConfig, vc config.VerifyContract, reproMD, eventsPath string) []track.Result {
	g, gctx := errgroup.WithContext(ctx)
	if d.Concurrency > 0 {
		g.SetLimit(d.Concurrency)
	}

	results := make([]track.Result, len(cfg.Tracks))
	allTracks := trackNames(cfg.Tracks)
	parentBranch := cfg.ParentBranch
	if parentBranch == "" {
		parentBranch = "HEAD"
	}

	for i, tr := range cfg.Tracks {
		i, tr := i, tr
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					results[i] = track.Result{Name: tr.Name, Role: tr.Role, Disqualified: true, DisqualifyReason: "Crash"}
					_ = d.Store.Write(filepath.Join("tracks", tr.Name, "CRASH.txt"),
						[]byte(fmt.Sprintf("panic: %v\n\n%s", rec, debug.Stack())))
				}
			}()
			runner := &track.Runner{
				Store: d.Store, Worktree: d.Worktree, Registry: d.Registry, Exec: d.Exec,
				RunID: cfg.RunID, EventsPath: eventsPath,
			}
			in := track.Inputs{
				IssueText:      cfg.IssueText,
				ReproPlan:      reproMD,
				ParentBranch:   parentBranch,
				AllTracks:      allTracks,
				VerifyContract: vc,
				Verify:         cfg.Mode == config.ModeDebug || cfg.VerifyPatches,
			}
			results[i] = runner.Run(gctx, tr, in)
			return nil
		})
	}

	_ = g.Wait()
	return results
}

// apply performs the pre-flight dry-run followed by the real apply of the
// winning track's latest patch against the main repository, writing
// APPLY.md with the outcome.
func (d *Driver) apply(ctx context.Context, cfg config.SessionConfig, winner string) (bool, error) {
	patchPath, err := d.latestPatchPath(winner)
	if err != nil {
		_ = d.Store.Write("APPLY.md", []byte("FAIL\n\nno patch found for winning track "+winner+"\n"))
		return false, err
	}

	diffBytes, err := d.Store.Read(patchPath)
	if err != nil {
		_ = d.Store.Write("APPLY.md", []byte("FAIL\n\ncould not read "+patchPath+"\n"))
		return false, err
	}
	if _, verr := patch.Validate(string(diffBytes)); verr != nil {
		_ = d.Store.Write("APPLY.md", []byte("FAIL\n\npatch failed structural validation: "+verr.Error()+"\n"))
		return false, verr
	}

	absPatchPath := d.Store.Path(patchPath)

	dryRun, err := d.Exec.Run(ctx, "git", []string{"-C", cfg.RepoPath, "apply", "--check", absPatchPath}, execrunner.RunOpts{})
	if err != nil || dryRun.ExitCode != 0 {
		_ = d.Store.Write("APPLY.md", []byte("FAIL\n\npre-flight dry run rejected the patch (already applied or conflicts):\n"+dryRun.Stderr+"\n"))
		return false, errors.New(errors.EInternal, "apply pre-flight check failed")
	}

	real, err := d.Exec.Run(ctx, "git", []string{"-C", cfg.RepoPath, "apply", absPatchPath}, execrunner.RunOpts{})
	if err != nil || real.ExitCode != 0 {
		_ = d.Store.Write("APPLY.md", []byte("FAIL\n\napply failed:\n"+real.Stderr+"\n"))
		return false, errors.New(errors.EInternal, "apply failed")
	}

	_ = d.Store.Write("APPLY.md", []byte(fmt.Sprintf("PASS\n\napplied winning track %s's patch (%s) to %s\n", winner, patchPath, cfg.RepoPath)))
	return true, nil
}

func (d *Driver) latestPatchPath(trackName string) (string, error) {
	matches, err := d.Store.Glob(filepath.Join("tracks", trackName, "iter_*", "PATCH.diff"))
	if err != nil || len(matches) == 0 {
		return "", errors.New(errors.ENoPatch, "no PATCH.diff found for track "+trackName)
	}
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// hydrateResume reloads RUN.json and, per the resume contract, recovers
// issue text from it when the caller did not repass --issue.
func (d *Driver) hydrateResume(cfg config.SessionConfig) (config.SessionConfig, error) {
	raw, err := d.Store.Read("RUN.json")
	if err != nil {
		return cfg, errors.Wrap(errors.ERunNotFound, "no RUN.json to resume from", err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return cfg, errors.Wrap(errors.EInternal, "parse RUN.json", err)
	}
	if cfg.IssueText == "" {
		cfg.IssueText = meta.IssueText
	}
	return cfg, nil
}

func (d *Driver) writeRunMetadata(cfg config.SessionConfig) error {
	digest, err := configDigest(cfg.Tracks)
	if err != nil {
		return err
	}
	meta := Metadata{
		RunID:        cfg.RunID,
		Mode:         string(cfg.Mode),
		StartedAt:    time.Now().UTC().Format(time.RFC3339Nano),
		IssueText:    cfg.IssueText,
		Tracks:       trackNames(cfg.Tracks),
		ConfigDigest: digest,
	}
	return d.Store.WriteJSON("RUN.json", meta)
}

func (d *Driver) writeStatus(status, phase, reason string) {
	_ = d.Store.WriteJSON("RUN_STATUS.json", Status{
		Status:    status,
		Phase:     phase,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		Reason:    reason,
	})
}

// fail marks the session FAIL (without a panic having occurred) and returns
// the wrapped error for the caller to propagate.
func (d *Driver) fail(cfg config.SessionConfig, cause error) error {
	d.crash(cfg, cause, cause.Error())
	return cause
}

func (d *Driver) crash(cfg config.SessionConfig, cause error, detail string) {
	_ = d.Store.Write("CRASH.txt", []byte(detail))
	d.writeStatus("FAIL", "crash", cause.Error())
	if d.CleanupOnCrash && d.Worktree != nil {
		_ = d.Worktree.CleanupAll(context.Background(), trackNames(cfg.Tracks), time.Now())
	}
}

func trackNames(tracks []config.TrackConfig) []string {
	names := make([]string, len(tracks))
	for i, t := range tracks {
		names[i] = t.Name
	}
	return names
}

func toTrackInputs(results []track.Result) []judge.TrackInput {
	inputs := make([]judge.TrackInput, len(results))
	for i, r := range results {
		inputs[i] = judge.TrackInput{
			Name:             r.Name,
			Role:             string(r.Role),
			Disqualified:     r.Disqualified,
			DisqualifyReason: r.DisqualifyReason,
			LatestConfidence: r.LatestConfidence,
			HasPatch:         r.HasPatch,
			VerifyMD:         r.VerifyMD,
			HasVerify:        r.HasVerify,
			ProvisionedAt:    r.ProvisionedAt.UTC().Format(time.RFC3339Nano),
		}
	}
	return inputs
}

func scoreMap(sc judge.Scorecard) map[string]float64 {
	m := make(map[string]float64, len(sc.Scores))
	for _, s := range sc.Scores {
		m[s.Name] = s.Score
	}
	return m
}

func configDigest(tracks []config.TrackConfig) (string, error) {
	data, err := json.Marshal(tracks)
	if err != nil {
		return "", errors.Wrap(errors.EInternal, "marshal tracks for digest", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// renderHardenMD renders HARDEN.md. A harden session always produces this
// artifact, even when no breaker track surfaced a finding, so the artifact
// contract holds unconditionally.
func renderHardenMD(sc judge.Scorecard) string {
	var b strings.Builder
	b.WriteString("# Harden Report\n\n")

	findings := 0
	for _, s := range sc.Scores {
		if s.Disqualified || !s.HasPatch {
			continue
		}
		findings++
		fmt.Fprintf(&b, "## Finding from %s (%s)\n\n", s.Name, s.Role)
		fmt.Fprintf(&b, "Score: %.1f, verified: %t\n\n", s.Score, s.Verified)
	}

	if findings == 0 {
		b.WriteString("No breaker track produced a patch-backed finding this run.\n\n")
	}

	b.WriteString("## Verification summary\n\n")
	for _, s := range sc.Scores {
		fmt.Fprintf(&b, "- %s: %s\n", s.Name, verifyWord(s.Verified, s.Disqualified))
	}

	return b.String()
}

func verifyWord(verified, disqualified bool) string {
	switch {
	case disqualified:
		return "disqualified"
	case verified:
		return "verified"
	default:
		return "unverified"
	}
}

package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/anvil-run/anvil/internal/execrunner"
	"github.com/anvil-run/anvil/internal/schema"
)

func TestManualAdapter_ProducesValidEnvelope(t *testing.T) {
	res, err := ManualAdapter{}.RunIteration(context.Background(), Context{Track: "fixer-a", Iteration: 1})
	if err != nil {
		t.Fatalf("RunIteration() error = %v", err)
	}
	env, err := schema.ValidateIteration(res.RawText)
	if err != nil {
		t.Fatalf("manual adapter output does not validate: %v", err)
	}
	if env.StatusSignal != schema.StatusNeedsMoreWork {
		t.Errorf("StatusSignal = %q, want NEEDS_MORE_WORK", env.StatusSignal)
	}
}

func TestErrorAdapter_ProducesBlockedEnvelope(t *testing.T) {
	a := ErrorAdapter{Provider: "nonexistent-vendor"}
	res, err := a.RunIteration(context.Background(), Context{Track: "x"})
	if err != nil {
		t.Fatalf("RunIteration() error = %v", err)
	}
	env, err := schema.ValidateIteration(res.RawText)
	if err != nil {
		t.Fatalf("error adapter output does not validate: %v", err)
	}
	if env.StatusSignal != schema.StatusBlocked {
		t.Errorf("StatusSignal = %q, want BLOCKED", env.StatusSignal)
	}
}

func TestRegistry_UnknownProviderSynthesizesErrorAdapter(t *testing.T) {
	reg := NewRegistry()
	a := reg.Build("made-up-provider", nil)
	if _, ok := a.(ErrorAdapter); !ok {
		t.Fatalf("Build() returned %T, want ErrorAdapter", a)
	}
}

func TestRegistry_ManualIsPrebuilt(t *testing.T) {
	reg := NewRegistry()
	a := reg.Build("manual", nil)
	if _, ok := a.(ManualAdapter); !ok {
		t.Fatalf("Build() returned %T, want ManualAdapter", a)
	}
}

type fakeCR struct {
	lastStdin []byte
	lastArgs  []string
}

func (f *fakeCR) Run(_ context.Context, _ string, args []string, opts execrunner.RunOpts) (execrunner.Result, error) {
	f.lastArgs = args
	f.lastStdin = opts.Stdin
	return execrunner.Result{
		ExitCode: 0,
		Stdout:   `{"hypothesis":"h","experiments":[],"proposed_changes":[],"confidence":0.4,"status_signal":"CONTINUE","observations":[]}`,
	}, nil
}

func TestCLIAdapter_SubstitutesModelAndSendsPrompt(t *testing.T) {
	fr := &fakeCR{}
	ctor := NewCLIAdapter(fr)
	a, err := ctor(map[string]any{"binary": "claude", "args": []any{"--model", "{{model}}"}})
	if err != nil {
		t.Fatalf("ctor() error = %v", err)
	}

	res, err := a.RunIteration(context.Background(), Context{
		Track: "fixer-a", Role: "fixer", Model: "sonnet", IssueText: "fix the bug", Timeout: time.Second,
	})
	if err != nil {
		t.Fatalf("RunIteration() error = %v", err)
	}
	if len(fr.lastArgs) != 2 || fr.lastArgs[1] != "sonnet" {
		t.Errorf("lastArgs = %v, want model substituted", fr.lastArgs)
	}
	if !strings.Contains(string(fr.lastStdin), "fix the bug") {
		t.Error("expected issue text in assembled prompt on stdin")
	}
	if !strings.Contains(res.RawText, "status_signal") {
		t.Error("expected envelope JSON in RawText")
	}
}

func TestNewCLIAdapter_MissingBinary(t *testing.T) {
	ctor := NewCLIAdapter(&fakeCR{})
	if _, err := ctor(map[string]any{}); err == nil {
		t.Fatal("expected error for missing binary option")
	}
}

func TestAssemblePrompt_FixerRequiresPatchLanguage(t *testing.T) {
	p := AssemblePrompt(Context{Role: "fixer", IssueText: "bug"})
	if !strings.Contains(strings.ToLower(p), "patch") {
		t.Error("fixer prompt should mention a patch")
	}
}

func TestAssemblePrompt_BreakerMentionsFindings(t *testing.T) {
	p := AssemblePrompt(Context{Role: "breaker"})
	if !strings.Contains(strings.ToLower(p), "finding") {
		t.Error("breaker prompt should mention findings")
	}
}

// Package agent implements the Agent Adapter: the uniform contract each
// configured agent (manual, a generic CLI invocation, or the synthesized
// error adapter for unknown providers) satisfies.
package agent

import (
	"context"
	"time"
)

// Context bundles the shared inputs an adapter needs to run one iteration
// (spec.md §4.5).
type Context struct {
	Track          string
	Role           string // fixer | breaker | debugger | experimental
	Iteration      int
	IssueText      string
	ContextSummary string
	ReproPlan      string
	Blackboard     string // rendered snapshot
	Directives     string
	Model          string
	WorkDir        string
	Timeout        time.Duration
	IterationDir   string // tracks/<name>/iter_<kk>/, absolute
}

// Result is what an adapter returns for one iteration.
type Result struct {
	RawText    string
	DurationMS int64
	ExitCode   int
	// TimedOut is true when the iteration's own context deadline was hit
	// before the agent process exited. RawText may be empty or truncated
	// in this case and must not be passed to schema validation.
	TimedOut bool
}

// Adapter is the uniform per-provider contract.
type Adapter interface {
	RunIteration(ctx context.Context, actx Context) (Result, error)
}

// Constructor builds an Adapter from a track's provider options.
type Constructor func(options map[string]any) (Adapter, error)

// Registry resolves a provider name to an Adapter constructor.
type Registry struct {
	constructors map[string]Constructor
}

// NewRegistry returns a Registry pre-populated with the built-in manual
// adapter. Callers register additional provider kinds (e.g. "cli") before
// use.
func NewRegistry() *Registry {
	r := &Registry{constructors: map[string]Constructor{}}
	r.Register("manual", func(map[string]any) (Adapter, error) {
		return ManualAdapter{}, nil
	})
	return r
}

// Register adds or replaces the constructor for provider.
func (r *Registry) Register(provider string, ctor Constructor) {
	r.constructors[provider] = ctor
}

// Build resolves provider to an Adapter. An unknown provider name never
// fails Build itself — spec.md §4.5 synthesizes an error adapter instead,
// so a misconfigured track still runs its state machine and is disqualified
// through the normal envelope path rather than crashing the session.
func (r *Registry) Build(provider string, options map[string]any) Adapter {
	ctor, ok := r.constructors[provider]
	if !ok {
		return ErrorAdapter{Provider: provider}
	}
	a, err := ctor(options)
	if err != nil {
		return ErrorAdapter{Provider: provider, ConstructErr: err}
	}
	return a
}

package agent

import (
	"context"
	"fmt"
)

// ErrorAdapter is synthesized when a track's configured provider name is
// unknown (spec.md §4.5). Its envelope always reports BLOCKED with zero
// confidence so the Track Runner's ordinary schema-valid path converts it
// into a disqualification rather than a crash.
type ErrorAdapter struct {
	Provider     string
	ConstructErr error
}

func (e ErrorAdapter) RunIteration(_ context.Context, actx Context) (Result, error) {
	reason := "unknown provider: " + e.Provider
	if e.ConstructErr != nil {
		reason = fmt.Sprintf("provider %q failed to initialize: %v", e.Provider, e.ConstructErr)
	}
	raw := fmt.Sprintf(`{"hypothesis":"adapter unavailable for track %s","experiments":[],`+
		`"proposed_changes":[],"confidence":0.0,"status_signal":"BLOCKED",`+
		`"observations":[%q],"patch_present":false}`, actx.Track, reason)
	return Result{RawText: raw, DurationMS: 0, ExitCode: 1}, nil
}

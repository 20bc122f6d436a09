package agent

import (
	"context"
	"fmt"
)

// ManualAdapter writes a deterministic template without invoking any
// external process, reporting NEEDS_MORE_WORK (spec.md §4.5). It exists so
// a session can run end-to-end — including its full artifact layout —
// with no external agent binary configured at all.
type ManualAdapter struct{}

// RunIteration returns a minimal valid envelope embedded directly in
// RawText; the Schema Validator parses it exactly as it would parse a
// real agent's structured output.
func (ManualAdapter) RunIteration(_ context.Context, actx Context) (Result, error) {
	raw := fmt.Sprintf(`{"hypothesis":"manual track awaiting operator input for %s (iteration %d)",`+
		`"experiments":[],"proposed_changes":[],"confidence":0.1,`+
		`"status_signal":"NEEDS_MORE_WORK","observations":["no automated agent configured for this track"],`+
		`"patch_present":false}`, actx.Track, actx.Iteration)
	return Result{RawText: raw, DurationMS: 0, ExitCode: 0}, nil
}

// Package events provides per-run event logging for anvil.
// Events are stored in an append-only JSONL file at the run root.
package events

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// Event is a single line in events.jsonl.
type Event struct {
	SchemaVersion string         `json:"schema_version"`
	Timestamp     string         `json:"timestamp"` // RFC3339Nano UTC
	RunID         string         `json:"run_id"`
	Track         string         `json:"track,omitempty"`
	Event         string         `json:"event"`
	Data          map[string]any `json:"data,omitempty"`
}

// SchemaVersion is the current events.jsonl schema version.
const SchemaVersion = "1.0"

// New builds an Event with the current timestamp filled in.
func New(runID, track, event string, data map[string]any) Event {
	return Event{
		SchemaVersion: SchemaVersion,
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		RunID:         runID,
		Track:         track,
		Event:         event,
		Data:          data,
	}
}

// Append appends a single event to the events.jsonl file at path, creating
// the file and its parent directory lazily.
//
// This is the one ambient logging mechanism in anvil, hand-rolled rather
// than built on a logging library — see the grounding ledger.
func Append(path string, e Event) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = f.Write(data)
	return err
}

// SessionStartedData is the payload for a session_started event.
func SessionStartedData(mode string, tracks []string) map[string]any {
	return map[string]any{"mode": mode, "tracks": tracks}
}

// SessionFinishedData is the payload for a session_finished event.
func SessionFinishedData(status string, winner string) map[string]any {
	data := map[string]any{"status": status}
	if winner != "" {
		data["winner"] = winner
	}
	return data
}

// TrackPhaseData is the payload for a track entering a Track Runner phase
// (provision, iterate, verify, disqualify, done).
func TrackPhaseData(phase string) map[string]any {
	return map[string]any{"phase": phase}
}

// TrackDisqualifiedData is the payload for a track_disqualified event.
func TrackDisqualifiedData(reason string) map[string]any {
	return map[string]any{"reason": reason}
}

// IterationStartedData is the payload for an iteration_started event.
func IterationStartedData(iteration int) map[string]any {
	return map[string]any{"iteration": iteration}
}

// IterationFailedData is the payload for an iteration_failed event: an
// iteration that timed out or whose adapter invocation errored outright,
// short of disqualifying the whole track.
func IterationFailedData(iteration int, reason string) map[string]any {
	return map[string]any{"iteration": iteration, "reason": reason}
}

// IterationFinishedData is the payload for an iteration_finished event.
func IterationFinishedData(iteration int, statusSignal string, durationMS int64, patchPresent bool) map[string]any {
	return map[string]any{
		"iteration":     iteration,
		"status_signal": statusSignal,
		"duration_ms":   durationMS,
		"patch_present": patchPresent,
	}
}

// VerifyStartedData is the payload for a verify_started event.
func VerifyStartedData(commandCount int) map[string]any {
	return map[string]any{"command_count": commandCount}
}

// VerifyFinishedData is the payload for a verify_finished event.
func VerifyFinishedData(ok bool, durationMS int64) map[string]any {
	return map[string]any{"ok": ok, "duration_ms": durationMS}
}

// JudgeFinishedData is the payload for a judge_finished event.
func JudgeFinishedData(winner string, scores map[string]float64) map[string]any {
	data := map[string]any{"scores": scores}
	if winner != "" {
		data["winner"] = winner
	}
	return data
}

// ApplyFinishedData is the payload for an apply_finished event.
func ApplyFinishedData(ok bool, track string) map[string]any {
	return map[string]any{"ok": ok, "track": track}
}

// WorktreeEventData is the payload for worktree_created / worktree_archived events.
func WorktreeEventData(branch, path string) map[string]any {
	return map[string]any{"branch": branch, "path": path}
}

// Package ids resolves a user-supplied run identifier (full id or unique
// prefix) to a single run, for the cleanup command's run/list/stale/all
// surface (spec.md §6).
package ids

import (
	"fmt"
	"sort"
	"strings"
)

// RunRef is a discovered run under the runs directory.
type RunRef struct {
	// RunID is the run id, taken from the run directory name (canonical identity).
	RunID string

	// Broken indicates RUN.json is unreadable or invalid. The resolver does
	// not refuse broken runs; the command layer decides what to do with them.
	Broken bool
}

// ErrNotFound indicates no run matched the input (exact or prefix).
type ErrNotFound struct{ Input string }

func (e *ErrNotFound) Error() string { return fmt.Sprintf("run not found: %q", e.Input) }

// ErrAmbiguous indicates a prefix matched more than one run.
type ErrAmbiguous struct {
	Input      string
	Candidates []RunRef // sorted by RunID ascending
}

func (e *ErrAmbiguous) Error() string {
	ids := make([]string, len(e.Candidates))
	for i, c := range e.Candidates {
		ids[i] = c.RunID
	}
	return fmt.Sprintf("ambiguous run id %q matches: %s", e.Input, strings.Join(ids, ", "))
}

// ResolveRunRef resolves input to a single run.
//
// Rules: trim whitespace (empty means not found); an exact RunID match wins;
// otherwise input is treated as a prefix, resolving uniquely, failing not
// found on zero matches, and failing ambiguous on more than one.
func ResolveRunRef(input string, refs []RunRef) (RunRef, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return RunRef{}, &ErrNotFound{Input: ""}
	}

	for _, ref := range refs {
		if ref.RunID == input {
			return ref, nil
		}
	}

	var prefixMatches []RunRef
	for _, ref := range refs {
		if strings.HasPrefix(ref.RunID, input) {
			prefixMatches = append(prefixMatches, ref)
		}
	}

	switch len(prefixMatches) {
	case 0:
		return RunRef{}, &ErrNotFound{Input: input}
	case 1:
		return prefixMatches[0], nil
	default:
		sort.Slice(prefixMatches, func(i, j int) bool { return prefixMatches[i].RunID < prefixMatches[j].RunID })
		return RunRef{}, &ErrAmbiguous{Input: input, Candidates: prefixMatches}
	}
}

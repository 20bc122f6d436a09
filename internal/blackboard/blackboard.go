// Package blackboard implements the cross-track shared-observation
// artifact refreshed at each iteration boundary (spec.md §4.6).
package blackboard

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/anvil-run/anvil/internal/artifact"
	"github.com/anvil-run/anvil/internal/schema"
)

// Blackboard is the merged view of every track's latest observations.
type Blackboard struct {
	PerTrack map[string][]string `json:"per_track_latest_observations"`
	Merged   []string            `json:"merged"`
}

// Build reads the highest-numbered valid ITERATION.json for each track and
// collects its observations field. A track with no valid iteration yet
// contributes an empty slice, never an error — a slow-starting track must
// not prevent its siblings' observations from reaching the blackboard.
func Build(store *artifact.Store, tracks []string) (Blackboard, error) {
	bb := Blackboard{PerTrack: make(map[string][]string, len(tracks)), Merged: []string{}}

	sorted := append([]string(nil), tracks...)
	sort.Strings(sorted)

	for _, track := range sorted {
		obs, err := latestObservations(store, track)
		if err != nil || obs == nil {
			obs = []string{}
		}
		bb.PerTrack[track] = obs
		bb.Merged = append(bb.Merged, obs...)
	}

	return bb, nil
}

func latestObservations(store *artifact.Store, track string) ([]string, error) {
	pattern := filepath.Join("tracks", track, "iter_*", "ITERATION.json")
	matches, err := store.Glob(pattern)
	if err != nil || len(matches) == 0 {
		return nil, err
	}

	best := ""
	bestN := -1
	for _, m := range matches {
		n := iterationNumber(m)
		if n > bestN {
			bestN, best = n, m
		}
	}
	if best == "" {
		return nil, nil
	}

	data, err := store.Read(best)
	if err != nil {
		return nil, err
	}
	var env schema.IterationEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return env.Observations, nil
}

// iterationNumber extracts the numeric suffix from a path component like
// "iter_07", returning -1 if it cannot be parsed.
func iterationNumber(path string) int {
	dir := filepath.Base(filepath.Dir(path))
	const prefix = "iter_"
	if !strings.HasPrefix(dir, prefix) {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimPrefix(dir, prefix))
	if err != nil {
		return -1
	}
	return n
}

// Write persists both the structured (BLACKBOARD.json) and human-readable
// (BLACKBOARD.md) forms. With identical inputs the two writes are
// byte-identical across calls: PerTrack is iterated in track-name order
// (never map order) and no timestamp is embedded.
func Write(store *artifact.Store, bb Blackboard) error {
	if err := store.WriteJSON("BLACKBOARD.json", bb); err != nil {
		return err
	}
	return store.Write("BLACKBOARD.md", []byte(renderMarkdown(bb)))
}

func renderMarkdown(bb Blackboard) string {
	var b strings.Builder
	b.WriteString("# Blackboard\n\n")

	tracks := make([]string, 0, len(bb.PerTrack))
	for t := range bb.PerTrack {
		tracks = append(tracks, t)
	}
	sort.Strings(tracks)

	for _, t := range tracks {
		fmt.Fprintf(&b, "## %s\n\n", t)
		obs := bb.PerTrack[t]
		if len(obs) == 0 {
			b.WriteString("- (no observations yet)\n")
		}
		for _, o := range obs {
			fmt.Fprintf(&b, "- %s\n", o)
		}
		b.WriteString("\n")
	}

	return b.String()
}

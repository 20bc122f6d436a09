// Package judge implements the Judge: the deterministic selector that
// computes a scorecard from artifacts alone and picks a winning track
// (spec.md §4.9).
package judge

import (
	"fmt"
	"sort"
	"strings"
)

// TrackInput is everything the Judge needs about one non-disqualified
// track; callers (the Track Runner / Session Driver) assemble this from
// the track's persisted artifacts.
type TrackInput struct {
	Name              string
	Role              string // fixer | breaker | debugger | experimental
	Disqualified      bool
	DisqualifyReason  string
	LatestConfidence  float64
	HasPatch          bool
	VerifyMD          string // contents of the latest VERIFY.md, if any
	HasVerify         bool
	ProvisionedAt     string // RFC3339Nano; earlier sorts first on tie
}

// TrackScore is one track's computed result.
type TrackScore struct {
	Name         string   `json:"name"`
	Role         string   `json:"role"`
	Score        float64  `json:"score"`
	Disqualified bool     `json:"disqualified"`
	Reason       string   `json:"disqualify_reason,omitempty"`
	Verified     bool     `json:"verified"`
	HasPatch     bool     `json:"has_patch"`
	Details      []string `json:"details"`
}

// Scorecard is the full judged result.
type Scorecard struct {
	Scores []TrackScore `json:"scores"`
	Winner string       `json:"winner,omitempty"`
}

// Judge computes each track's score per spec.md §4.9's formula and
// selects the winner: the unique strictly-positive argmax, ties broken by
// (a) verified first, (b) earliest provision timestamp, (c) lexicographic
// name.
func Judge(tracks []TrackInput) Scorecard {
	sorted := append([]TrackInput(nil), tracks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	scores := make([]TrackScore, 0, len(sorted))
	for _, t := range sorted {
		scores = append(scores, score(t))
	}

	sc := Scorecard{Scores: scores}
	sc.Winner = selectWinner(sorted, scores)
	return sc
}

func score(t TrackInput) TrackScore {
	ts := TrackScore{Name: t.Name, Role: t.Role, Disqualified: t.Disqualified, Reason: t.DisqualifyReason, HasPatch: t.HasPatch}

	if t.Disqualified {
		ts.Score = 0
		ts.Details = []string{"disqualified: " + t.DisqualifyReason}
		return ts
	}

	base := 100 * t.LatestConfidence
	ts.Details = append(ts.Details, fmt.Sprintf("confidence %.2f (+%.1f)", t.LatestConfidence, base))
	total := base

	if t.HasPatch {
		total += 10
		ts.Details = append(ts.Details, "patch found (+10)")
	}

	if t.HasVerify {
		if strings.HasPrefix(t.VerifyMD, "PASS") {
			total += 40
			ts.Verified = true
			ts.Details = append(ts.Details, "verify PASS (+40)")
		} else if strings.HasPrefix(t.VerifyMD, "FAIL") {
			total -= 100
			ts.Details = append(ts.Details, "verify FAIL (-100)")
		}
	}

	if !t.HasPatch {
		switch t.Role {
		case "fixer":
			total -= 50
			ts.Details = append(ts.Details, "fixer produced no patch (-50)")
		case "breaker":
			total -= 10
			ts.Details = append(ts.Details, "breaker produced no patch (-10)")
		}
	}

	ts.Score = total
	return ts
}

func selectWinner(tracks []TrackInput, scores []TrackScore) string {
	byName := make(map[string]TrackInput, len(tracks))
	for _, t := range tracks {
		byName[t.Name] = t
	}

	var candidates []TrackScore
	best := 0.0
	for _, s := range scores {
		if s.Disqualified || s.Score <= 0 {
			continue
		}
		if s.Score > best {
			best = s.Score
			candidates = []TrackScore{s}
		} else if s.Score == best {
			candidates = append(candidates, s)
		}
	}

	if len(candidates) == 0 {
		return ""
	}
	if len(candidates) == 1 {
		return candidates[0].Name
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Verified != b.Verified {
			return a.Verified
		}
		at, bt := byName[a.Name].ProvisionedAt, byName[b.Name].ProvisionedAt
		if at != bt {
			return at < bt
		}
		return a.Name < b.Name
	})
	return candidates[0].Name
}

// RenderDecisionMD renders DECISION.md: the winner (or "no winner") and
// each track's score with its contributing-term breakdown.
func RenderDecisionMD(sc Scorecard) string {
	var b strings.Builder
	b.WriteString("# Decision\n\n")
	if sc.Winner != "" {
		fmt.Fprintf(&b, "Winner: **%s**\n\n", sc.Winner)
	} else {
		b.WriteString("No winner.\n\n")
	}

	for _, s := range sc.Scores {
		fmt.Fprintf(&b, "## %s (%s)\n\n", s.Name, s.Role)
		fmt.Fprintf(&b, "Score: %.1f\n\n", s.Score)
		for _, d := range s.Details {
			fmt.Fprintf(&b, "- %s\n", d)
		}
		b.WriteString("\n")
	}

	return b.String()
}

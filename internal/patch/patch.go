// Package patch extracts and validates the unified-diff PATCH.diff
// artifact a track's agent may produce.
package patch

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/anvil-run/anvil/internal/errors"
)

var fencedDiffRe = regexp.MustCompile("(?s)```(?:diff|patch)?\\s*\\n(diff --git.*?|---.*?\\n\\+\\+\\+.*?)\\n```")

// ExtractUnifiedDiff looks for a unified-diff block in raw agent output,
// preferring a fenced ```diff code block and falling back to a bare
// `--- `/`+++ ` pair found anywhere in the text. Returns ok=false if no
// diff-shaped block is present.
func ExtractUnifiedDiff(rawText string) (diff string, ok bool) {
	if m := fencedDiffRe.FindStringSubmatch(rawText); m != nil {
		return strings.TrimSpace(m[1]), true
	}

	lines := strings.Split(rawText, "\n")
	start := -1
	for i, l := range lines {
		if strings.HasPrefix(l, "diff --git ") || strings.HasPrefix(l, "--- ") {
			start = i
			break
		}
	}
	if start < 0 {
		return "", false
	}
	return strings.TrimSpace(strings.Join(lines[start:], "\n")), true
}

// Hunk is one `@@ -old,oldCount +new,newCount @@` range parsed from a
// unified diff.
type Hunk struct {
	OldStart, OldCount int
	NewStart, NewCount int
}

// Validate performs a structural check that diffText is a well-formed
// unified diff: it must contain at least one file header pair and at
// least one syntactically valid hunk header. This does not attempt a
// full patch-application simulation — only enough confidence to let the
// Verifier and Apply step trust the file before touching a worktree.
func Validate(diffText string) ([]Hunk, error) {
	if strings.TrimSpace(diffText) == "" {
		return nil, errors.New(errors.ENoPatch, "patch is empty")
	}

	lines := difflib.SplitLines(diffText)
	var hunks []Hunk
	hasFileHeader := false

	for _, raw := range lines {
		line := strings.TrimRight(raw, "\n")
		switch {
		case strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "+++ "):
			hasFileHeader = true
		case strings.HasPrefix(line, "@@"):
			h, ok := parseHunkHeader(line)
			if !ok {
				return nil, errors.NewWithDetails(errors.ENoPatch,
					"malformed hunk header", map[string]string{"line": line})
			}
			hunks = append(hunks, h)
		}
	}

	if !hasFileHeader {
		return nil, errors.New(errors.ENoPatch, "patch has no --- / +++ file headers")
	}
	if len(hunks) == 0 {
		return nil, errors.New(errors.ENoPatch, "patch has no hunks")
	}
	return hunks, nil
}

func parseHunkHeader(line string) (Hunk, bool) {
	header := strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(line), "@@"), "@@"))
	parts := strings.Fields(header)
	if len(parts) < 2 {
		return Hunk{}, false
	}
	oldStart, oldCount, ok := parseRange(parts[0])
	if !ok {
		return Hunk{}, false
	}
	newStart, newCount, ok := parseRange(parts[1])
	if !ok {
		return Hunk{}, false
	}
	return Hunk{OldStart: oldStart, OldCount: oldCount, NewStart: newStart, NewCount: newCount}, true
}

func parseRange(raw string) (start, count int, ok bool) {
	if raw == "" || (raw[0] != '-' && raw[0] != '+') {
		return 0, 0, false
	}
	raw = raw[1:]
	segs := strings.SplitN(raw, ",", 2)
	start, err := strconv.Atoi(segs[0])
	if err != nil {
		return 0, 0, false
	}
	count = 1
	if len(segs) == 2 {
		c, err := strconv.Atoi(segs[1])
		if err != nil {
			return 0, 0, false
		}
		count = c
	}
	return start, count, true
}

// UnifiedDiffBetween builds a unified diff between two in-memory file
// contents. Used for informational diffs (e.g. DECISION.md excerpts);
// the Apply step's own pre-flight check shells out to `git apply --check`
// against the winning patch rather than reimplementing patch application
// here.
func UnifiedDiffBetween(path, from, to string) (string, error) {
	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(from),
		B:        difflib.SplitLines(to),
		FromFile: path,
		ToFile:   path,
		Context:  3,
	}
	out, err := difflib.GetUnifiedDiffString(diff)
	if err != nil {
		return "", errors.Wrap(errors.EInternal, "compute unified diff", err)
	}
	return out, nil
}

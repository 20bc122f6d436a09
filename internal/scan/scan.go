// Package scan provides the default repository scanner: a pure read-only
// walk over a working tree that produces the shared CONTEXT.md/FILES.json
// artifact the Session Driver hands to every track (spec.md §1's "repo
// scanner" collaborator).
package scan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/anvil-run/anvil/internal/errors"
)

// MaxFiles caps how many files a scan records, so a scan of a very large
// repository still finishes quickly and produces a bounded FILES.json.
const MaxFiles = 2000

// ignoredDirs are never descended into.
var ignoredDirs = map[string]bool{
	".git": true, ".dbg": true, "node_modules": true, "vendor": true,
}

// FileEntry is one row of FILES.json.
type FileEntry struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// BuildContext walks repoPath and returns a short CONTEXT.md summary plus
// the full FILES.json listing, truncated at MaxFiles.
func BuildContext(repoPath string) (string, []byte, error) {
	var entries []FileEntry
	truncated := false

	err := filepath.Walk(repoPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries rather than failing the whole scan
		}
		rel, relErr := filepath.Rel(repoPath, path)
		if relErr != nil {
			return nil
		}
		if info.IsDir() {
			if ignoredDirs[info.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if len(entries) >= MaxFiles {
			truncated = true
			return nil
		}
		entries = append(entries, FileEntry{Path: rel, Size: info.Size()})
		return nil
	})
	if err != nil {
		return "", nil, errors.Wrap(errors.EInternal, "scan repository", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	filesJSON, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return "", nil, errors.Wrap(errors.EInternal, "marshal files.json", err)
	}

	var b strings.Builder
	b.WriteString("# Context\n\n")
	fmt.Fprintf(&b, "%d files scanned under %s", len(entries), repoPath)
	if truncated {
		fmt.Fprintf(&b, " (truncated at %d)", MaxFiles)
	}
	b.WriteString(".\n\n")
	fmt.Fprintf(&b, "Top-level entries: %s\n", strings.Join(topLevel(entries), ", "))

	return b.String(), filesJSON, nil
}

func topLevel(entries []FileEntry) []string {
	seen := map[string]bool{}
	var names []string
	for _, e := range entries {
		top := strings.SplitN(e.Path, string(filepath.Separator), 2)[0]
		if !seen[top] {
			seen[top] = true
			names = append(names, top)
		}
	}
	return names
}

package core

import "time"

// BranchName returns the deterministic per-track worktree branch name,
// "dbg/<run-id>/<track>" (spec.md §4.2). Both inputs are pre-validated by
// ValidateName, so no slugification is needed.
func BranchName(runID, track string) string {
	return "dbg/" + runID + "/" + track
}

// ArchiveBranchName returns the name a track's branch is renamed to during
// archive_and_cleanup, "archive/anvil-<run-id>-<track>-<ts>" (spec.md §4.2).
// ts is a caller-supplied timestamp (UTC, compact) so callers stay in
// control of clock injection for deterministic tests.
func ArchiveBranchName(runID, track string, ts time.Time) string {
	return "archive/anvil-" + runID + "-" + track + "-" + ts.UTC().Format("20060102150405")
}

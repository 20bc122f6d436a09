package errors

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// PrintOptions controls error output formatting.
type PrintOptions struct {
	// Verbose enables detailed error output: every detail key, not just the
	// default whitelist.
	Verbose bool
}

// defaultDetailKeys is the order default (non-verbose) output prints detail
// keys in; everything else is withheld unless Verbose is set.
var defaultDetailKeys = []string{
	"run_id", "track", "repo", "branch", "command", "exit_code",
}

const maxValueLen = 256

// Format renders err for display without performing any I/O.
func Format(err error, opts PrintOptions) string {
	if err == nil {
		return ""
	}

	ae, ok := AsAnvilError(err)
	if !ok {
		return err.Error() + "\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "error_code: %s\n", ae.Code)
	b.WriteString(ae.Msg)
	b.WriteString("\n")

	if len(ae.Details) > 0 {
		b.WriteString("\n")
		printed := make(map[string]bool, len(ae.Details))
		for _, key := range defaultDetailKeys {
			val, ok := ae.Details[key]
			if !ok || val == "" {
				continue
			}
			printed[key] = true
			fmt.Fprintf(&b, "%s: %s\n", key, sanitizeValue(val))
		}
		if opts.Verbose {
			var extra []string
			for key := range ae.Details {
				if !printed[key] {
					extra = append(extra, key)
				}
			}
			sort.Strings(extra)
			for _, key := range extra {
				fmt.Fprintf(&b, "%s: %s\n", key, sanitizeValue(ae.Details[key]))
			}
		}
	}

	if opts.Verbose && ae.Cause != nil {
		fmt.Fprintf(&b, "\ncause: %s\n", ae.Cause.Error())
	}

	for _, try := range deriveTryLines(ae) {
		fmt.Fprintf(&b, "try: %s\n", try)
	}

	return b.String()
}

// PrintWithOptions writes a formatted error to w.
func PrintWithOptions(w io.Writer, err error, opts PrintOptions) {
	if err == nil {
		return
	}
	_, _ = io.WriteString(w, Format(err, opts))
}

func sanitizeValue(val string) string {
	val = strings.TrimRight(val, " \t\r\n")
	val = strings.ReplaceAll(val, "\n", "\\n")
	if len(val) > maxValueLen {
		return val[:maxValueLen] + "…"
	}
	return val
}

// deriveTryLines returns actionable suggestions for common error codes.
func deriveTryLines(ae *AnvilError) []string {
	switch ae.Code {
	case ERunNotFound:
		return []string{"anvil cleanup list"}
	case EUnknownProvider:
		return []string{"check the provider field in your tracks file"}
	case EWorktreeConflict:
		if ae.Details != nil {
			if runID := ae.Details["run_id"]; runID != "" {
				return []string{fmt.Sprintf("anvil cleanup run --run %s", runID)}
			}
		}
	}
	return nil
}

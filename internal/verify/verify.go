// Package verify implements the Verifier: it runs a declarative
// verification contract against a track's worktree and emits a PASS/FAIL
// artifact (spec.md §4.8).
package verify

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/anvil-run/anvil/internal/artifact"
	"github.com/anvil-run/anvil/internal/config"
	"github.com/anvil-run/anvil/internal/execrunner"
)

// CommandResult is one executed verify-contract command's outcome,
// persisted as a line of verify.commands.json.
type CommandResult struct {
	Name        string `json:"name"`
	ExitCode    int    `json:"exit_code"`
	ElapsedMS   int64  `json:"elapsed_ms"`
	StdoutBytes int    `json:"stdout_bytes"`
	StderrBytes int    `json:"stderr_bytes"`
	LogPath     string `json:"log_path"`
	Required    bool   `json:"required"`
	TimedOut    bool   `json:"timed_out"`
}

// Report is the full outcome of running a verify contract once.
type Report struct {
	OK      bool            `json:"ok"`
	Results []CommandResult `json:"results"`
}

// noTestsPatterns are case-insensitive substrings that mark a command as
// having produced no evidence of actual test execution even on exit 0.
var noTestsPatterns = []string{"no tests ran", "0 tests", "no tests collected"}

// Run executes every command in contract against workDir, in order,
// stopping early only in the sense that later required commands still run
// (so the report is complete) but a failing required command already
// determines OK=false. Logs are written under logsDir.
func Run(ctx context.Context, runner execrunner.CommandRunner, contract config.VerifyContract, workDir, logsDir string, perCommandTimeout time.Duration) Report {
	report := Report{OK: true}
	sawEvidence := false

	for _, cmd := range contract.Commands {
		logPath := filepath.Join(logsDir, "verify."+safeName(cmd.Name)+".log")

		result, err := runner.Run(ctx, "sh", []string{"-c", cmd.Cmd}, execrunner.RunOpts{
			Dir:        workDir,
			Timeout:    perCommandTimeout,
			StdoutPath: logPath,
		})

		cmdResult := CommandResult{
			Name:      cmd.Name,
			LogPath:   logPath,
			Required:  cmd.Required,
			ElapsedMS: result.ElapsedMS,
			TimedOut:  result.TimedOut,
		}

		if err != nil {
			cmdResult.ExitCode = -1
		} else {
			cmdResult.ExitCode = result.ExitCode
			cmdResult.StdoutBytes = stdoutByteCount(result.Stdout, logPath)
			cmdResult.StderrBytes = len(result.Stderr)
			stdoutForEvidence := result.Stdout
			if stdoutForEvidence == "" {
				stdoutForEvidence = readLogFile(logPath)
			}
			if cmdResult.ExitCode == 0 && !looksLikeNoTests(stdoutForEvidence) && !looksLikeNoTests(result.Stderr) {
				sawEvidence = true
			}
		}

		report.Results = append(report.Results, cmdResult)

		if cmd.Required && (err != nil || result.TimedOut || cmdResult.ExitCode != 0) {
			report.OK = false
		}
	}

	if !sawEvidence {
		report.OK = false
	}

	return report
}

// stdoutByteCount returns the byte length of a command's stdout. Per
// execrunner's contract, Stdout is only populated in-memory when the caller
// left StdoutPath empty; here StdoutPath is always set, so the bytes live on
// disk at logPath instead and must be stat'd.
func stdoutByteCount(stdout, logPath string) int {
	if stdout != "" {
		return len(stdout)
	}
	info, err := os.Stat(logPath)
	if err != nil {
		return 0
	}
	return int(info.Size())
}

// readLogFile reads back a command's on-disk log, used when result.Stdout
// was left empty because StdoutPath was set (execrunner's contract). Errors
// are swallowed: a missing or unreadable log just yields no evidence either
// way, same as stdoutByteCount's os.Stat fallback.
func readLogFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func looksLikeNoTests(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range noTestsPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func safeName(name string) string {
	s := unsafeNameChars.ReplaceAllString(name, "-")
	if s == "" {
		return "unnamed"
	}
	return s
}

// RenderVerifyMD renders VERIFY.md: the mandatory leading PASS/FAIL token
// followed by a per-command summary table.
func RenderVerifyMD(report Report) string {
	var b strings.Builder
	if report.OK {
		b.WriteString("PASS\n\n")
	} else {
		b.WriteString("FAIL\n\n")
	}
	b.WriteString("| command | exit code | elapsed ms | required |\n")
	b.WriteString("|---|---|---|---|\n")
	for _, r := range report.Results {
		fmt.Fprintf(&b, "| %s | %d | %d | %t |\n", r.Name, r.ExitCode, r.ElapsedMS, r.Required)
	}
	return b.String()
}

// Write persists verify.commands.json and VERIFY.md at relative (typically
// a run-level or per-iteration directory) under store.
func Write(store *artifact.Store, relative string, report Report) error {
	if err := store.WriteJSON(filepath.Join(relative, "verify.commands.json"), report.Results); err != nil {
		return err
	}
	return store.Write(filepath.Join(relative, "VERIFY.md"), []byte(RenderVerifyMD(report)))
}

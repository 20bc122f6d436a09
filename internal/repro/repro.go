// Package repro implements the default reproduction planner: a read-only
// probe of a repository's test infrastructure that produces REPRO.md for
// debug-mode sessions (spec.md §1's "reproduction collaborator").
package repro

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Mode classifies how confidently a bug can be reproduced without a human
// in the loop.
type Mode string

const (
	ModeAuto     Mode = "AUTO"      // a script or test suite reproduces it directly
	ModeSemiAuto Mode = "SEMI_AUTO" // needs manual setup, then an automated check
	ModeManual   Mode = "MANUAL"    // no usable automation found
)

// Plan is the outcome of assessing a repository's reproduction story.
type Plan struct {
	Mode       Mode
	Commands   []string
	Confidence float64
	Details    []string
}

var testNamePattern = regexp.MustCompile(`(?i)test_?[a-z0-9_]+`)

// BuildPlan inspects repoPath for test and build infrastructure and returns
// the rendered REPRO.md. It never fails the session: any inspection error
// falls back to a MANUAL plan, matching the "assessment failure defaults to
// MANUAL" contract this is grounded on.
func BuildPlan(repoPath, issueText string) (string, error) {
	plan := assess(repoPath, issueText)
	return render(plan), nil
}

func assess(repoPath, issueText string) Plan {
	reproScript := firstGlobMatch(repoPath, []string{"repro*.sh", "reproduce*.sh"})
	hasGoTests := anyMatch(repoPath, "*_test.go")
	hasPytest := exists(repoPath, "pyproject.toml") || exists(repoPath, "setup.py")
	hasPytestDir := anyMatch(repoPath, "test_*.py") || exists(repoPath, "tests") || exists(repoPath, "test")
	hasPackageJSON := exists(repoPath, "package.json")
	hasMakefile := exists(repoPath, "Makefile")

	switch {
	case reproScript != "":
		rel, _ := filepath.Rel(repoPath, reproScript)
		return Plan{
			Mode:       ModeAuto,
			Commands:   []string{"./" + rel},
			Confidence: 0.9,
			Details:    []string{"found repro script: " + filepath.Base(reproScript)},
		}

	case hasGoTests:
		cmds := []string{"go test ./...", "go test -run . -v ./..."}
		details := []string{"found Go test files"}
		if m := testNamePattern.FindString(issueText); m != "" {
			cmds = append([]string{fmt.Sprintf("go test -run %s -v ./...", m)}, cmds...)
			details = append(details, "issue mentions test: "+m)
		}
		return Plan{Mode: ModeAuto, Commands: cmds, Confidence: 0.85, Details: details}

	case hasPytest && hasPytestDir:
		cmds := []string{"uv run pytest -q", "uv run pytest -v --tb=short"}
		details := []string{"found pytest test infrastructure"}
		if m := testNamePattern.FindString(issueText); m != "" {
			cmds = append([]string{fmt.Sprintf("uv run pytest -v -k '%s'", m)}, cmds...)
			details = append(details, "issue mentions test: "+m)
		}
		return Plan{Mode: ModeAuto, Commands: cmds, Confidence: 0.8, Details: details}

	case hasPackageJSON:
		if hasNPMTestScript(repoPath) {
			return Plan{Mode: ModeAuto, Commands: []string{"npm test"}, Confidence: 0.7,
				Details: []string{"found npm test script"}}
		}
		return Plan{Mode: ModeSemiAuto, Commands: []string{"npm run dev"}, Confidence: 0.4,
			Details: []string{"package.json found but no test script"}}

	case hasMakefile:
		if hasMakeTarget(repoPath) {
			return Plan{Mode: ModeAuto, Commands: []string{"make test"}, Confidence: 0.6,
				Details: []string{"found Makefile with test target"}}
		}
		return Plan{Mode: ModeSemiAuto, Confidence: 0.3,
			Details: []string{"Makefile found but no test or check target"}}

	default:
		return Plan{Mode: ModeManual, Confidence: 0.1,
			Details: []string{"no automated test infrastructure found"}}
	}
}

func (p Plan) strategy() string {
	switch p.Mode {
	case ModeAuto:
		return "run automated tests: " + strings.Join(p.Commands, ", ")
	case ModeSemiAuto:
		return "manual setup required, then verify with commands"
	default:
		return "manual reproduction required; follow the issue's steps"
	}
}

func render(p Plan) string {
	var b strings.Builder
	b.WriteString("# Reproduction Plan\n\n")
	fmt.Fprintf(&b, "**Mode**: %s\n", p.Mode)
	fmt.Fprintf(&b, "**Confidence**: %.0f%%\n\n", p.Confidence*100)
	b.WriteString("## Strategy\n\n")
	b.WriteString(p.strategy())
	b.WriteString("\n\n## Commands\n\n")
	if len(p.Commands) == 0 {
		b.WriteString("(none; reproduce by hand per the issue)\n")
	}
	for _, cmd := range p.Commands {
		fmt.Fprintf(&b, "```bash\n%s\n```\n", cmd)
	}
	b.WriteString("\n## Details\n\n")
	b.WriteString(strings.Join(p.Details, "; "))
	b.WriteString("\n")
	return b.String()
}

func exists(repoPath, name string) bool {
	_, err := os.Stat(filepath.Join(repoPath, name))
	return err == nil
}

func anyMatch(repoPath, pattern string) bool {
	var found bool
	_ = filepath.Walk(repoPath, func(path string, info os.FileInfo, err error) error {
		if err != nil || found {
			return nil
		}
		if info.IsDir() {
			if info.Name() == ".git" || info.Name() == "vendor" || info.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		if ok, _ := filepath.Match(pattern, info.Name()); ok {
			found = true
		}
		return nil
	})
	return found
}

func firstGlobMatch(repoPath string, patterns []string) string {
	var match string
	_ = filepath.Walk(repoPath, func(path string, info os.FileInfo, err error) error {
		if err != nil || match != "" {
			return nil
		}
		if info.IsDir() {
			if info.Name() == ".git" || info.Name() == "vendor" || info.Name() == "node_modules" {
				return filepath.SkipDir
			}
			return nil
		}
		for _, pat := range patterns {
			if ok, _ := filepath.Match(pat, info.Name()); ok {
				match = path
				return nil
			}
		}
		return nil
	})
	return match
}

func hasNPMTestScript(repoPath string) bool {
	data, err := os.ReadFile(filepath.Join(repoPath, "package.json"))
	if err != nil {
		return false
	}
	return strings.Contains(string(data), `"test"`)
}

func hasMakeTarget(repoPath string) bool {
	data, err := os.ReadFile(filepath.Join(repoPath, "Makefile"))
	if err != nil {
		return false
	}
	s := string(data)
	return strings.Contains(s, "test:") || strings.Contains(s, "check:")
}

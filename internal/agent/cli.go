package agent

import (
	"context"
	"os"

	"github.com/anvil-run/anvil/internal/errors"
	"github.com/anvil-run/anvil/internal/execrunner"
)

// CLIAdapter invokes a single named external binary with the assembled
// prompt on stdin, generalizing the original per-vendor CLI adapters
// (spec.md §4.5) into one parameterized adapter: the binary, its argv
// template, and the model identifier are supplied through provider
// options so new vendors are onboarded by configuration, not code.
type CLIAdapter struct {
	cr     execrunner.CommandRunner
	Binary string
	Args   []string // appended after model substitution, verbatim
}

// NewCLIAdapter builds a CLIAdapter from tracks-file provider options:
// {"binary": "claude", "args": ["--model", "{{model}}"]}. A missing
// "binary" option is a construction error, surfaced through the error
// adapter rather than failing the whole session.
func NewCLIAdapter(cr execrunner.CommandRunner) Constructor {
	return func(options map[string]any) (Adapter, error) {
		binary, _ := options["binary"].(string)
		if binary == "" {
			return nil, errors.New(errors.EInvalidConfig, "cli provider requires a \"binary\" option")
		}
		var args []string
		if raw, ok := options["args"].([]any); ok {
			for _, a := range raw {
				if s, ok := a.(string); ok {
					args = append(args, s)
				}
			}
		}
		return CLIAdapter{cr: cr, Binary: binary, Args: args}, nil
	}
}

func (a CLIAdapter) RunIteration(ctx context.Context, actx Context) (Result, error) {
	prompt := AssemblePrompt(actx)
	args := substituteModel(a.Args, actx.Model)

	opts := execrunner.RunOpts{
		Dir:     actx.WorkDir,
		Timeout: actx.Timeout,
		Stdin:   []byte(prompt),
	}
	if actx.IterationDir != "" {
		opts.StdoutPath = actx.IterationDir + "/agent.stdout.log"
		opts.StderrPath = actx.IterationDir + "/agent.stderr.log"
	}

	res, err := a.cr.Run(ctx, a.Binary, args, opts)
	if err != nil {
		return Result{}, errors.Wrap(errors.ETimeout, "cli adapter invocation failed", err)
	}
	if res.TimedOut {
		// execrunner reports a deadline kill through Result.TimedOut with a
		// nil error, not through err, so RawText here may be empty or
		// truncated mid-write. Surface it as a timeout rather than letting
		// it fall through to schema validation and get mislabeled.
		return Result{TimedOut: true, DurationMS: res.ElapsedMS, ExitCode: res.ExitCode}, nil
	}

	// res.Stdout is only populated in-memory when StdoutPath was left empty;
	// here it's always set, so the agent's output lives on disk instead and
	// must be read back, mirroring verify.stdoutByteCount's fallback.
	rawText := res.Stdout
	if rawText == "" && opts.StdoutPath != "" {
		rawText = readStdout(opts.StdoutPath)
	}
	return Result{RawText: rawText, DurationMS: res.ElapsedMS, ExitCode: res.ExitCode}, nil
}

func readStdout(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return string(data)
}

func substituteModel(args []string, model string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if a == "{{model}}" {
			out[i] = model
		} else {
			out[i] = a
		}
	}
	return out
}

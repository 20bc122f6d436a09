// Package execrunner is the only place in anvil that performs subprocess
// execution. Every external process (git, a verification command, an agent
// CLI) goes through CommandRunner so timeout, signal, and capture behavior
// stay in one place.
package execrunner

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	osexec "os/exec"
	"syscall"
	"time"
)

// GracePeriod is how long a terminated process group is given to exit after
// SIGINT before execrunner escalates to SIGKILL.
const GracePeriod = 3 * time.Second

// RunOpts configures a single Run call.
type RunOpts struct {
	// Dir is the working directory for the process. Defaults to the caller's cwd.
	Dir string

	// Env is the full environment for the process. Nil means inherit os.Environ().
	Env []string

	// Timeout bounds the process; zero means no timeout beyond ctx's own deadline.
	Timeout time.Duration

	// Stdin, if non-nil, is written to the process's standard input.
	// A nil Stdin redirects the process's stdin to /dev/null so it never
	// blocks waiting for interactive input.
	Stdin []byte

	// StdoutPath / StderrPath, if set, capture the respective stream to a file
	// instead of buffering it in memory. Required for long-running verify and
	// agent invocations; optional for short git plumbing calls.
	StdoutPath string
	StderrPath string

	// Container, if non-nil, wraps the command in an isolated container
	// runtime instead of running it directly on the host.
	Container *ContainerOpts
}

// ContainerOpts describes how to wrap a command inside a container runtime.
type ContainerOpts struct {
	// Runtime is the container binary, e.g. "docker" or "podman". Defaults to "docker".
	Runtime string

	// Image is the container image to run the command in.
	Image string

	// Workdir is the in-container path the host Dir is bind-mounted at.
	Workdir string
}

// Result is the outcome of a Run call.
type Result struct {
	ExitCode   int
	ElapsedMS  int64
	Stdout     string // populated only when StdoutPath is empty
	Stderr     string // populated only when StderrPath is empty
	StdoutPath string
	StderrPath string
	TimedOut   bool
}

// CommandRunner executes a named binary with arguments and returns its outcome.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, opts RunOpts) (Result, error)
}

// Runner is the production CommandRunner.
type Runner struct{}

// New returns the production CommandRunner.
func New() Runner { return Runner{} }

// Run executes name(args...), optionally inside a container, captures both
// streams (to files when requested), and enforces opts.Timeout by sending
// SIGINT to the process group, waiting GracePeriod, then SIGKILL.
func (Runner) Run(ctx context.Context, name string, args []string, opts RunOpts) (Result, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	binary, binArgs := name, args
	if opts.Container != nil {
		binary, binArgs = wrapContainer(*opts.Container, opts.Dir, name, args)
	}

	cmd := osexec.CommandContext(runCtx, binary, binArgs...)
	if opts.Container == nil {
		cmd.Dir = opts.Dir
	}
	if opts.Env != nil {
		cmd.Env = opts.Env
	} else {
		cmd.Env = os.Environ()
	}

	stdoutBuf, stderrBuf, stdoutFile, stderrFile, devnullFile, err := attachStreams(cmd, opts)
	if err != nil {
		return Result{}, err
	}
	defer closeAll(stdoutFile, stderrFile, devnullFile)

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("execrunner: start %s: %w", name, err)
	}

	pgid := cmd.Process.Pid
	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	var runErr error
	var timedOut bool

	select {
	case runErr = <-waitDone:
	case <-runCtx.Done():
		timedOut = runCtx.Err() == context.DeadlineExceeded
		killProcessGroup(pgid)
		runErr = <-waitDone
	}

	elapsed := time.Since(start)

	result := Result{
		ElapsedMS:  elapsed.Milliseconds(),
		TimedOut:   timedOut,
		StdoutPath: opts.StdoutPath,
		StderrPath: opts.StderrPath,
	}
	if stdoutBuf != nil {
		result.Stdout = stdoutBuf.String()
	}
	if stderrBuf != nil {
		result.Stderr = stderrBuf.String()
	}

	if runErr == nil {
		result.ExitCode = 0
		return result, nil
	}

	var exitErr *osexec.ExitError
	if stderrors.As(runErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}

	return result, fmt.Errorf("execrunner: run %s: %w", name, runErr)
}

func wrapContainer(c ContainerOpts, hostDir, name string, args []string) (string, []string) {
	runtime := c.Runtime
	if runtime == "" {
		runtime = "docker"
	}
	workdir := c.Workdir
	if workdir == "" {
		workdir = "/workspace"
	}
	wrapped := append([]string{name}, args...)
	dockerArgs := []string{
		"run", "--rm",
		"-v", hostDir + ":" + workdir,
		"-w", workdir,
		c.Image,
	}
	dockerArgs = append(dockerArgs, wrapped...)
	return runtime, dockerArgs
}

func killProcessGroup(pgid int) {
	_ = syscall.Kill(-pgid, syscall.SIGINT)
	time.Sleep(GracePeriod)
	_ = syscall.Kill(-pgid, syscall.SIGKILL)
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		if f != nil {
			_ = f.Close()
		}
	}
}

package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// TimedOutExitCode is reported in Result.ExitCode when the command was
// killed on timeout. No real process reports it.
const TimedOutExitCode = -1

// SpawnFailedExitCode is recorded by callers when Run returned an error,
// so the command never produced an exit status of its own.
const SpawnFailedExitCode = -2

const defaultWaitDelay = 2 * time.Second

// Result is the outcome of one command invocation.
type Result struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	TimedOut bool          `json:"timed_out"`
	Duration time.Duration `json:"duration_ns"`
}

// Success reports a zero exit that was not a timeout.
func (r *Result) Success() bool {
	return !r.TimedOut && r.ExitCode == 0
}

// SpawnError means the command never started: no shell, no working
// directory, or the OS refused to fork.
type SpawnError struct {
	Command string
	Dir     string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawning %q in %s: %v", e.Command, e.Dir, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Runner executes shell commands in a fixed working directory with the
// framework environment injected.
type Runner struct {
	Dir string
	Env Env

	// Shell defaults to "sh"; commands are passed with -c.
	Shell string
	// WaitDelay bounds how long output pipes may stay open after the
	// process exits or is killed. Defaults to two seconds.
	WaitDelay time.Duration
}

// New returns a Runner for dir.
func New(dir string, env Env) *Runner {
	return &Runner{Dir: dir, Env: env}
}

// WithEnv returns a copy of the runner using env.
func (r *Runner) WithEnv(env Env) *Runner {
	c := *r
	c.Env = env
	return &c
}

// Run executes command and blocks until it exits or timeout fires. A
// timeout of zero disables the deadline. On timeout the whole process
// group is killed and the output captured so far is returned with
// TimedOut set. Spawn failures are returned as *SpawnError; cancellation
// of ctx is returned as an error.
func (r *Runner) Run(ctx context.Context, command string, timeout time.Duration) (*Result, error) {
	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}
	return r.run(ctx, command, []string{shell, "-c", command}, timeout)
}

func (r *Runner) run(ctx context.Context, command string, argv []string, timeout time.Duration) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("running %q: %w", command, err)
	}
	runCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = r.Dir
	cmd.Env = r.Env.Environ(os.Environ())

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = defaultWaitDelay
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: command, Dir: r.Dir, Err: err}
	}
	waitErr := cmd.Wait()

	res := &Result{
		Stdout:   strings.ToValidUTF8(stdout.String(), "�"),
		Stderr:   strings.ToValidUTF8(stderr.String(), "�"),
		Duration: time.Since(start),
	}

	if ctx.Err() != nil {
		return res, fmt.Errorf("running %q: %w", command, ctx.Err())
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = TimedOutExitCode
		return res, nil
	}

	var exitErr *exec.ExitError
	switch {
	case waitErr == nil:
		res.ExitCode = 0
	case errors.As(waitErr, &exitErr):
		res.ExitCode = exitCode(exitErr.ProcessState)
	case errors.Is(waitErr, exec.ErrWaitDelay) && cmd.ProcessState != nil:
		// The shell exited but a background child kept the pipes open.
		res.ExitCode = exitCode(cmd.ProcessState)
	default:
		return res, fmt.Errorf("waiting for %q: %w", command, waitErr)
	}
	return res, nil
}

// ABOUTME: Subprocess runner for WASM bridge compilation with timeout and process-group cleanup.
// ABOUTME: Captures stdout/stderr and reports exit code and timeout without treating them as Go errors.
package build

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// RunSpec describes one build subprocess invocation.
type RunSpec struct {
	// Command is the argv to execute; OutPath and Dir placeholders have
	// already been substituted.
	Command []string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
}

// RunResult is the subprocess outcome. A non-zero ExitCode or TimedOut is a
// build failure, not a runner error.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// Runner executes build subprocesses. The orchestrator takes the interface so
// tests can substitute a fake.
type Runner interface {
	Run(ctx context.Context, spec RunSpec) (*RunResult, error)
}

const defaultBuildTimeout = 5 * time.Minute

// CommandRunner runs real subprocesses with a process group so a timeout can
// kill the compiler and everything it spawned.
type CommandRunner struct{}

// Run executes the spec's command, enforcing the timeout via context.
func (CommandRunner) Run(ctx context.Context, spec RunSpec) (*RunResult, error) {
	if len(spec.Command) == 0 {
		return nil, fmt.Errorf("empty build command")
	}
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = defaultBuildTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.Command[0], spec.Command[1:]...)
	cmd.Dir = spec.Dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Env = buildEnv(spec.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start build command %q: %w", strings.Join(spec.Command, " "), err)
	}

	waitErr := cmd.Wait()
	duration := time.Since(start)
	timedOut := runCtx.Err() == context.DeadlineExceeded

	if timedOut && cmd.Process != nil {
		// SIGTERM the process group, then SIGKILL stragglers.
		if pgid, pgErr := syscall.Getpgid(cmd.Process.Pid); pgErr == nil {
			_ = syscall.Kill(-pgid, syscall.SIGTERM)
			time.Sleep(2 * time.Second)
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		}
	}

	exitCode := 0
	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else if !timedOut {
			return nil, fmt.Errorf("build command: %w", waitErr)
		}
	}

	return &RunResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: exitCode,
		TimedOut: timedOut,
		Duration: duration,
	}, nil
}

// buildEnv merges explicit vars over the inherited environment. Bridge builds
// need the parent toolchain (PATH, GOROOT, caches) plus GOOS/GOARCH pins.
func buildEnv(explicit map[string]string) []string {
	env := os.Environ()
	for k, v := range explicit {
		env = append(env, k+"="+v)
	}
	return env
}

var _ Runner = CommandRunner{}

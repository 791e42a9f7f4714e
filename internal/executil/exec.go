// Package executil launches subprocesses with an explicit environment,
// streams their output to a caller-supplied per-task sink, and maps
// non-zero exit codes to a typed yaperrors.ErrTypeCommandFailed error.
package executil

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"mvdan.cc/sh/v3/syntax"

	yaperrors "github.com/M0Rf30/yap/v2/pkg/errors"
	"github.com/M0Rf30/yap/v2/pkg/logger"
	"github.com/M0Rf30/yap/v2/pkg/shell"
)

// Result mirrors Python's CompletedProcess shape: the command as invoked,
// its exit code, and everything it wrote to stdout/stderr.
type Result struct {
	Command  string
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

// Sink returns the writer a command's combined stdout/stderr is streamed
// to, decorated with the given task name (a source package or phase).
func Sink(task string) io.Writer {
	_, _ = shell.MultiPrinter.Start()

	return shell.NewPackageDecoratedWriter(shell.MultiPrinter.Writer, task)
}

// Run executes name(args...) in dir with env as its complete environment
// (no host environment is inherited unless env includes it explicitly).
// Output is streamed to sink as it arrives and also captured into the
// returned Result. check selects whether a non-zero exit becomes an error
// (check=false lets the caller inspect a failed Result itself).
func Run(
	ctx context.Context, dir string, env []string, sink io.Writer, check bool,
	name string, args ...string,
) (*Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Env = env

	if env == nil {
		cmd.Env = []string{}
	}

	var stdoutBuf, stderrBuf bytes.Buffer

	if sink != nil {
		cmd.Stdout = io.MultiWriter(sink, &stdoutBuf)
		cmd.Stderr = io.MultiWriter(sink, &stderrBuf)
	} else {
		cmd.Stdout = &stdoutBuf
		cmd.Stderr = &stderrBuf
	}

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	result := &Result{
		Command:  name,
		Args:     args,
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
	}

	if runErr != nil {
		logger.Error("command failed",
			"command", name, "args", args, "dir", dir,
			"duration", duration, "exit_code", result.ExitCode)

		if check {
			return result, yaperrors.NewCommandFailed(name, args, result.ExitCode, result.Stderr)
		}

		return result, nil
	}

	logger.Debug("command completed", "command", name, "duration", duration)

	return result, nil
}

// Checked runs the command and returns only the error, raising
// CommandFailed on non-zero exit. Equivalent to Run(..., check=true, ...).
func Checked(ctx context.Context, dir string, env []string, sink io.Writer,
	name string, args ...string,
) error {
	_, err := Run(ctx, dir, env, sink, true, name, args...)

	return err
}

// ValidateShellFragment parses cmd as a POSIX shell script without
// executing it, catching malformed predep/prebuild/build fragments before
// they are handed to `chroot ... /bin/bash -c`.
func ValidateShellFragment(cmd string) error {
	_, err := syntax.NewParser().Parse(strings.NewReader(cmd), "")

	return err
}

// Interactive spawns an interactive shell in dir with env, attaching it to
// the controlling terminal. Used only from the CLI's PKG_DEBUG
// failure-handler path for post-mortem debugging; the pack carries no pty
// library, so this attaches the host's real stdio directly rather than
// allocating a pseudo-terminal.
func Interactive(dir string, env []string) error {
	shellPath := os.Getenv("SHELL")
	if shellPath == "" {
		shellPath = "/bin/bash"
	}

	cmd := exec.Command(shellPath)
	cmd.Dir = dir
	cmd.Env = env
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	return cmd.Run()
}

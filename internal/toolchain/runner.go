// Package toolchain invokes the external circuit compiler and proving-system
// toolkit. Every call is one blocking subprocess with an explicit working
// directory and the parent's output streams.
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Command is one external operation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory of the subprocess. The orchestrator's own
	// working directory is never changed.
	Dir string
	Env []string
}

// String renders the command the way an operator would type it.
func (c Command) String() string {
	parts := make([]string, 0, len(c.Args)+1)
	parts = append(parts, quote(c.Name))
	for _, a := range c.Args {
		parts = append(parts, quote(a))
	}
	return strings.Join(parts, " ")
}

func quote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\"'\\$`") {
		return s
	}
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`, "$", `\$`, "`", "\\`").Replace(s) + `"`
}

// ExecutionError is returned when an external tool cannot be started or exits
// with a non-zero status. ExitCode is -1 only when the process never ran; a
// process killed by a signal reports 128+signal and names it in Signal.
type ExecutionError struct {
	Command  string
	ExitCode int
	Signal   string
	Err      error
}

func (e *ExecutionError) Error() string {
	switch {
	case e.ExitCode < 0:
		return fmt.Sprintf("command %s could not run: %v", e.Command, e.Err)
	case e.Signal != "":
		return fmt.Sprintf("command %s was terminated by signal %s", e.Command, e.Signal)
	}
	return fmt.Sprintf("command %s exited with status %d", e.Command, e.ExitCode)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Runner executes commands. ExecRunner is the production implementation;
// tests substitute recording fakes.
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	stdout io.Writer
	stderr io.Writer
	logger *zap.Logger
}

// NewExecRunner returns a runner inheriting the process output streams so
// long ceremonies stay observable.
func NewExecRunner(logger *zap.Logger) *ExecRunner {
	return &ExecRunner{stdout: os.Stdout, stderr: os.Stderr, logger: logger}
}

// WithOutput redirects subprocess output.
func (r *ExecRunner) WithOutput(stdout, stderr io.Writer) *ExecRunner {
	return &ExecRunner{stdout: stdout, stderr: stderr, logger: r.logger}
}

// Run blocks until the subprocess exits.
func (r *ExecRunner) Run(ctx context.Context, c Command) error {
	r.logger.Info("Running command",
		zap.String("command", c.String()),
		zap.String("dir", c.Dir),
	)
	start := time.Now()

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdout = r.stdout
	cmd.Stderr = r.stderr
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	err := cmd.Run()
	if err == nil {
		r.logger.Debug("Command finished",
			zap.String("command", c.Name),
			zap.Duration("elapsed", time.Since(start)),
		)
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return &ExecutionError{Command: c.String(), ExitCode: -1, Err: err}
	}

	execErr := &ExecutionError{Command: c.String(), ExitCode: exitErr.ExitCode(), Err: err}
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		execErr.ExitCode = 128 + int(ws.Signal())
		execErr.Signal = ws.Signal().String()
	}
	r.logger.Warn("Command failed",
		zap.String("command", c.Name),
		zap.Int("exit_code", execErr.ExitCode),
		zap.String("signal", execErr.Signal),
		zap.Duration("elapsed", time.Since(start)),
	)
	return execErr
}

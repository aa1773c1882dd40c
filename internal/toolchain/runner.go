package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rsjsoftware/rsjbuild/internal/logfields"
	"github.com/rsjsoftware/rsjbuild/internal/metrics"
)

var (
	// ErrToolNotFound indicates the executable is not on PATH.
	ErrToolNotFound = errors.New("tool not found")
	// ErrToolFailed indicates the tool ran and exited unsuccessfully.
	ErrToolFailed = errors.New("tool failed")
)

// Command is one external tool invocation.
type Command struct {
	Name string
	Args []string
	Dir  string
	// Env is appended to the inherited environment.
	Env []string
}

func (c Command) String() string {
	parts := append([]string{c.Name}, c.Args...)
	return strings.Join(parts, " ")
}

// Tool returns the base name of the executable, used for logging and metrics.
func (c Command) Tool() string {
	return strings.TrimSuffix(filepath.Base(c.Name), filepath.Ext(c.Name))
}

// Runner executes external tools.
type Runner interface {
	// Run executes cmd to completion. Output is logged; on failure it is returned inside *ToolError.
	Run(ctx context.Context, cmd Command) error
	// Output executes a tool and returns its stdout.
	Output(ctx context.Context, dir, name string, args ...string) ([]byte, error)
}

// ToolError reports a failed tool invocation with its diagnostics.
type ToolError struct {
	Command  Command
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	output := e.Diagnostics()
	if output != "" {
		return fmt.Sprintf("%s exited with status %d: %s", e.Command.Tool(), e.ExitCode, output)
	}
	return fmt.Sprintf("%s: %v", e.Command.Tool(), e.Err)
}

// Diagnostics returns the tool's own output, stdout first, without modification.
func (e *ToolError) Diagnostics() string {
	switch {
	case e.Stderr == "":
		return e.Stdout
	case e.Stdout == "":
		return e.Stderr
	default:
		return e.Stdout + "\n" + e.Stderr
	}
}

func (e *ToolError) Unwrap() []error {
	return []error{ErrToolFailed, e.Err}
}

// ExecRunner starts real processes via os/exec.
type ExecRunner struct {
	Recorder metrics.Recorder
}

// NewExecRunner returns a runner that reports invocation timings to recorder (may be nil).
func NewExecRunner(recorder metrics.Recorder) *ExecRunner {
	if recorder == nil {
		recorder = metrics.NoopRecorder{}
	}
	return &ExecRunner{Recorder: recorder}
}

func (r *ExecRunner) recorder() metrics.Recorder {
	if r.Recorder == nil {
		return metrics.NoopRecorder{}
	}
	return r.Recorder
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, c Command) error {
	if _, err := exec.LookPath(c.Name); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrToolNotFound, c.Name, err)
	}

	cmd := exec.CommandContext(ctx, c.Name, c.Args...) // #nosec G204 -- tool and arguments come from the build configuration
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	slog.Debug("Invoking tool", logfields.Tool(c.Tool()), slog.String("command", c.String()), logfields.Path(c.Dir))
	start := time.Now()
	err := cmd.Run()
	r.recorder().ObserveToolInvocation(c.Tool(), time.Since(start), err == nil)

	outStr := stdout.String()
	errStr := stderr.String()
	if outStr != "" {
		slog.Debug("tool stdout", logfields.Tool(c.Tool()), slog.String("output", outStr))
	}
	if errStr != "" {
		slog.Warn("tool stderr", logfields.Tool(c.Tool()), slog.String("error_output", errStr))
	}

	if err != nil {
		te := &ToolError{Command: c, ExitCode: -1, Stdout: outStr, Stderr: errStr, Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			te.ExitCode = exitErr.ExitCode()
		}
		return te
	}
	return nil
}

// Output implements Runner.
func (r *ExecRunner) Output(ctx context.Context, dir, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) // #nosec G204 -- tool and arguments come from the build configuration
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		te := &ToolError{Command: Command{Name: name, Args: args, Dir: dir}, ExitCode: -1, Stdout: string(out), Stderr: stderr.String(), Err: err}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			te.ExitCode = exitErr.ExitCode()
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s: %w", ErrToolNotFound, name, err)
		}
		return nil, te
	}
	return out, nil
}

package extern

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// DefaultTimeout bounds a single external command when the Runner does not
// set one.
const DefaultTimeout = 2 * time.Minute

var (
	ErrMissing     = errors.New("not found in PATH")
	ErrEmptyOutput = errors.New("produced no output")
)

// Error reports a failure of an external tool: missing binary, non-zero
// exit, timeout or empty output.
type Error struct {
	Tool string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("external tool %s: %v", e.Tool, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Runner executes external conversion and rasterization tools.
// The zero value is ready to use.
type Runner struct {
	Timeout time.Duration
}

func (r *Runner) timeout() time.Duration {
	if r == nil || r.Timeout <= 0 {
		return DefaultTimeout
	}
	return r.Timeout
}

// Missing returns the tools that cannot be found in PATH. An entry of the
// form "a2ps | enscript" is satisfied when any alternative is present.
func (r *Runner) Missing(tools ...string) []string {
	var missing []string
	for _, tool := range tools {
		found := false
		for _, alt := range strings.Split(tool, "|") {
			if _, err := exec.LookPath(strings.TrimSpace(alt)); err == nil {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, tool)
		}
	}
	return missing
}

// Require fails with an *Error naming the first missing tool.
func (r *Runner) Require(tools ...string) error {
	if missing := r.Missing(tools...); len(missing) > 0 {
		return &Error{Tool: missing[0], Err: ErrMissing}
	}
	return nil
}

// CombinedOutput runs name with args and returns its stdout and stderr.
func (r *Runner) CombinedOutput(ctx context.Context, name string, args ...string) ([]byte, error) {
	if err := r.Require(name); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = time.Second
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	slog.Debug("running external tool", "tool", name, "args", args)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", err, ctx.Err())
		}
		return out.Bytes(), &Error{Tool: name, Err: err}
	}
	return out.Bytes(), nil
}

// Pipeline runs a shell command line through sh. tool names the pipeline
// in errors.
func (r *Runner) Pipeline(ctx context.Context, tool, cmdline string) error {
	if err := r.Require("sh"); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", cmdline)
	cmd.WaitDelay = time.Second
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	slog.Debug("running external pipeline", "tool", tool, "cmd", cmdline)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = fmt.Errorf("%w: %w", err, ctx.Err())
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return &Error{Tool: tool, Err: err}
	}
	return nil
}

// Quote returns s quoted for a POSIX shell.
func Quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

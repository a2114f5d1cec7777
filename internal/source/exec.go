// Package source reads raw usage and network readings from external
// commands and kernel counters. Every read is bounded by a timeout and
// reports failure as ErrSourceUnavailable instead of aborting the caller.
package source

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

var (
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrInvalidReading    = errors.New("invalid reading")
)

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec. A command that outlives ctx is
// killed, and its pipes are abandoned one second later.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = time.Second

	out, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, name, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%w: %s failed (%d): %s", ErrSourceUnavailable,
				strings.Join(append([]string{name}, args...), " "), exitErr.ExitCode(), strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("%w: %s: %w", ErrSourceUnavailable, name, err)
	}
	return out, nil
}

// runWithTimeout bounds a single command by d on top of ctx.
func runWithTimeout(ctx context.Context, run Runner, d time.Duration, name string, args ...string) ([]byte, error) {
	if d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	out, err := run(ctx, name, args...)
	if err != nil && !errors.Is(err, ErrSourceUnavailable) {
		err = fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}
	return out, err
}

package util

import (
	"context"
	"errors"
	"fmt"

	bherrors "github.com/avihaie/bug-hunter/pkg/errors"
	"github.com/avihaie/bug-hunter/pkg/models"
)

// CommandResult is the outcome of a command that ran to completion.
type CommandResult struct {
	ExitStatus int
	Stdout     string
	Stderr     string
}

// OK reports whether the command exited with status zero.
func (r CommandResult) OK() bool {
	return r.ExitStatus == 0
}

// Executor runs commands on, and copies files from, a single host.
//
// Run returns a nil error when the command ran, whatever its exit status;
// a non-nil error means the command could not be run or did not finish
// (transport fault or deadline).
type Executor interface {
	Host() string
	Run(ctx context.Context, command string) (CommandResult, error)
	Stream(ctx context.Context, command string, handler func(line string) error) error
	Fetch(ctx context.Context, remotePath, localDir string) (string, error)
	Glob(ctx context.Context, pattern string) ([]string, error)
	Close() error
}

// Dialer opens an Executor bound to one host.
type Dialer interface {
	Dial(ctx context.Context, target models.HostTarget) (Executor, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, target models.HostTarget) (Executor, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, target models.HostTarget) (Executor, error) {
	return f(ctx, target)
}

// DefaultDialer picks a LocalExecutor for the controller host and an
// SSHClient for everything else.
type DefaultDialer struct{}

// Dial implements Dialer.
func (DefaultDialer) Dial(ctx context.Context, target models.HostTarget) (Executor, error) {
	if target.IsLocal() {
		return NewLocalExecutor(target.Address), nil
	}
	c := NewSSHClient(target)
	if err := c.Connect(ctx); err != nil {
		return nil, bherrors.WrapWithContext(bherrors.ErrCodeTransport, "connect failed", err,
			map[string]any{"host": target.Address})
	}
	return c, nil
}

// contextError converts a finished context into a structured error.
func contextError(ctx context.Context, host, op string) error {
	err := ctx.Err()
	if errors.Is(err, context.DeadlineExceeded) {
		return bherrors.WrapWithContext(bherrors.ErrCodeTimeout, fmt.Sprintf("%s timed out", op), err,
			map[string]any{"host": host})
	}
	return fmt.Errorf("%s on %s: %w", op, host, err)
}

package util

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	bherrors "github.com/avihaie/bug-hunter/pkg/errors"
)

// waitDelay bounds how long Wait lingers on pipes held open by
// grandchildren after the shell has been killed.
const waitDelay = 200 * time.Millisecond

// LocalExecutor runs commands through the local shell. It stands in for a
// remote host when the logs live on the controller itself.
type LocalExecutor struct {
	host string
}

// NewLocalExecutor returns an executor that reports host as its address.
func NewLocalExecutor(host string) *LocalExecutor {
	if host == "" {
		host = "local"
	}
	return &LocalExecutor{host: host}
}

// Host returns the configured address.
func (e *LocalExecutor) Host() string {
	return e.host
}

// Run executes command with sh -c.
func (e *LocalExecutor) Run(ctx context.Context, command string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.WaitDelay = waitDelay
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		return CommandResult{}, contextError(ctx, e.host, "local command")
	}

	res := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitStatus = exitErr.ExitCode()
			return res, nil
		}
		return res, bherrors.WrapWithContext(bherrors.ErrCodeTransport, "local command failed to start", err,
			map[string]any{"command": command})
	}
	return res, nil
}

// Stream runs command and hands each stdout line to handler.
func (e *LocalExecutor) Stream(ctx context.Context, command string, handler func(line string) error) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.WaitDelay = waitDelay
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return bherrors.Wrap(bherrors.ErrCodeTransport, "failed to get stdout pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return bherrors.Wrap(bherrors.ErrCodeTransport, "failed to start command", err)
	}

	err = scanLines(stdout, handler, cmd.Wait)
	if err != nil && ctx.Err() != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return contextError(ctx, e.host, "stream")
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return bherrors.WrapWithContext(bherrors.ErrCodeCommandFailed, "streamed command exited", err,
			map[string]any{"command": command})
	}
	if err != nil {
		// handler stopped the scan; reap the child
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
	return err
}

// Fetch copies a local file into localDir.
func (e *LocalExecutor) Fetch(ctx context.Context, remotePath, localDir string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", contextError(ctx, e.host, "transfer of "+remotePath)
	}

	src, err := os.Open(remotePath)
	if err != nil {
		return "", bherrors.WrapWithContext(bherrors.ErrCodeTransport, "failed to open source file", err,
			map[string]any{"path": remotePath})
	}
	defer src.Close()

	localPath := filepath.Join(localDir, filepath.Base(remotePath))
	dst, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", localPath, err)
	}

	_, err = io.Copy(dst, src)
	if cerr := dst.Close(); err == nil && cerr != nil {
		discardPartial(localPath)
		return "", fmt.Errorf("failed to flush %s: %w", localPath, cerr)
	}
	if err != nil {
		discardPartial(localPath)
		return "", bherrors.WrapWithContext(bherrors.ErrCodeTransport, "transfer failed", err,
			map[string]any{"path": remotePath})
	}
	return localPath, nil
}

// discardPartial removes a file left behind by a failed transfer.
func discardPartial(localPath string) {
	if err := os.Remove(localPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove partial file", slog.String("path", localPath), slog.String("error", err.Error()))
	}
}

// Glob lists local paths matching pattern.
func (e *LocalExecutor) Glob(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, contextError(ctx, e.host, "glob")
	}
	return filepath.Glob(pattern)
}

// Close is a no-op.
func (e *LocalExecutor) Close() error {
	return nil
}

// Package util provides executors that run commands on and copy files from
// the hosts taking part in a hunt run, plus the RabbitMQ client used to
// broadcast fault events.
//
// Example usage:
//
//	client := util.NewSSHClient(models.HostTarget{
//		Address:  "engine.example.com",
//		Username: "root",
//		Password: "password",
//	})
//	defer client.Close()
//
//	if err := client.Connect(ctx); err != nil {
//		return err
//	}
//
//	res, err := client.Run(ctx, "rpm -q vdsm")
package util

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"sync"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"github.com/avihaie/bug-hunter/pkg/defaults"
	bherrors "github.com/avihaie/bug-hunter/pkg/errors"
	"github.com/avihaie/bug-hunter/pkg/models"
)

// SSHClient executes commands and fetches files over one SSH connection.
// Each command runs in its own session, so concurrent calls are allowed.
type SSHClient struct {
	target   models.HostTarget
	client   *ssh.Client
	sftp     *sftp.Client
	isClosed bool
	mu       sync.Mutex
}

// NewSSHClient creates a new SSH client instance
func NewSSHClient(target models.HostTarget) *SSHClient {
	if target.DialTimeout == 0 {
		target.DialTimeout = defaults.SSHDialTimeout
	}
	return &SSHClient{target: target}
}

// Host returns the address the client is bound to.
func (c *SSHClient) Host() string {
	return c.target.Address
}

// Connect establishes an SSH connection to the remote host
func (c *SSHClient) Connect(ctx context.Context) error {
	if c.isClosed {
		return fmt.Errorf("client is closed")
	}

	sshConfig, err := c.prepareSSHConfig()
	if err != nil {
		return fmt.Errorf("failed to prepare SSH config: %w", err)
	}

	address := c.target.Endpoint()
	dialer := net.Dialer{Timeout: c.target.DialTimeout}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", address, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, address, sshConfig)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to establish SSH connection: %w", err)
	}

	c.client = ssh.NewClient(sshConn, chans, reqs)
	slog.Debug("ssh connected", slog.String("host", c.target.Address), slog.String("user", c.target.User()))
	return nil
}

// prepareSSHConfig prepares the SSH client configuration
func (c *SSHClient) prepareSSHConfig() (*ssh.ClientConfig, error) {
	config := &ssh.ClientConfig{
		User:            c.target.User(),
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         c.target.DialTimeout,
	}

	if c.target.PrivateKeyPath != "" {
		signer, err := loadPrivateKeyFromFile(c.target.PrivateKeyPath, c.target.KeyPassphrase)
		if err != nil {
			return nil, fmt.Errorf("failed to load private key from file: %w", err)
		}
		config.Auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	}

	// Fall back to password authentication if no key is provided
	if len(config.Auth) == 0 && c.target.Password != "" {
		config.Auth = []ssh.AuthMethod{ssh.Password(c.target.Password)}
	}

	if len(config.Auth) == 0 {
		return nil, fmt.Errorf("no authentication method provided (need password or private key)")
	}

	return config, nil
}

func (c *SSHClient) newSession() (*ssh.Session, error) {
	if c.client == nil || c.isClosed {
		return nil, bherrors.New(bherrors.ErrCodeTransport, "not connected: call Connect() first")
	}
	session, err := c.client.NewSession()
	if err != nil {
		return nil, bherrors.Wrap(bherrors.ErrCodeTransport, "failed to create session", err)
	}
	return session, nil
}

// Run executes command in a fresh session and waits for it to exit or for
// ctx to end. A non-zero exit is reported in the result, not as an error.
func (c *SSHClient) Run(ctx context.Context, command string) (CommandResult, error) {
	session, err := c.newSession()
	if err != nil {
		return CommandResult{}, err
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return CommandResult{}, contextError(ctx, c.target.Address, "remote command")
	}

	res := CommandResult{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitStatus = exitErr.ExitStatus()
			return res, nil
		}
		return res, bherrors.WrapWithContext(bherrors.ErrCodeTransport, "remote command failed to complete", err,
			map[string]any{"host": c.target.Address, "command": command})
	}
	return res, nil
}

// Stream runs command and calls handler for every stdout line until the
// command exits, the handler returns an error, or ctx ends. A handler error
// is returned unchanged. The handler is never called after Stream returns.
func (c *SSHClient) Stream(ctx context.Context, command string, handler func(line string) error) error {
	session, err := c.newSession()
	if err != nil {
		return err
	}
	defer session.Close()

	stdout, err := session.StdoutPipe()
	if err != nil {
		return bherrors.Wrap(bherrors.ErrCodeTransport, "failed to get stdout pipe", err)
	}
	if err := session.Start(command); err != nil {
		return bherrors.Wrap(bherrors.ErrCodeTransport, "failed to start command", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- scanLines(stdout, handler, session.Wait)
	}()

	select {
	case err := <-errCh:
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return bherrors.WrapWithContext(bherrors.ErrCodeCommandFailed, "streamed command exited", err,
				map[string]any{"host": c.target.Address, "command": command})
		}
		return err
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		// handler must not run after Stream returns
		<-errCh
		return contextError(ctx, c.target.Address, "stream")
	}
}

func (c *SSHClient) sftpClient() (*sftp.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sftp != nil {
		return c.sftp, nil
	}
	if c.client == nil || c.isClosed {
		return nil, bherrors.New(bherrors.ErrCodeTransport, "not connected: call Connect() first")
	}
	sc, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, bherrors.Wrap(bherrors.ErrCodeTransport, "failed to start sftp subsystem", err)
	}
	c.sftp = sc
	return sc, nil
}

// Fetch copies remotePath into localDir, keeping the base name, and returns
// the local path.
func (c *SSHClient) Fetch(ctx context.Context, remotePath, localDir string) (string, error) {
	sc, err := c.sftpClient()
	if err != nil {
		return "", err
	}

	remote, err := sc.Open(remotePath)
	if err != nil {
		return "", bherrors.WrapWithContext(bherrors.ErrCodeTransport, "failed to open remote file", err,
			map[string]any{"host": c.target.Address, "path": remotePath})
	}
	defer remote.Close()

	localPath := filepath.Join(localDir, path.Base(remotePath))
	local, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", localPath, err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(local, remote)
		done <- err
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		remote.Close()
		<-done
		local.Close()
		discardPartial(localPath)
		return "", contextError(ctx, c.target.Address, "transfer of "+remotePath)
	}
	if err != nil {
		local.Close()
		discardPartial(localPath)
		return "", bherrors.WrapWithContext(bherrors.ErrCodeTransport, "transfer failed", err,
			map[string]any{"host": c.target.Address, "path": remotePath})
	}

	err = local.Sync()
	if cerr := local.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		discardPartial(localPath)
		return "", fmt.Errorf("failed to flush %s: %w", localPath, err)
	}
	return localPath, nil
}

// Glob lists remote paths matching pattern.
func (c *SSHClient) Glob(ctx context.Context, pattern string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, contextError(ctx, c.target.Address, "glob")
	}
	sc, err := c.sftpClient()
	if err != nil {
		return nil, err
	}
	matches, err := sc.Glob(pattern)
	if err != nil {
		return nil, bherrors.Wrap(bherrors.ErrCodeTransport, "remote glob failed", err)
	}
	return matches, nil
}

// Close closes the SFTP subsystem and the SSH connection
func (c *SSHClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isClosed {
		return nil
	}

	var errs []error

	if c.sftp != nil {
		if err := c.sftp.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if c.client != nil {
		if err := c.client.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	c.isClosed = true

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}

	return nil
}

// IsConnected returns true if the client is connected
func (c *SSHClient) IsConnected() bool {
	return c.client != nil && !c.isClosed
}

// scanLines feeds r to handler line by line, then calls wait.
func scanLines(r io.Reader, handler func(line string) error, wait func() error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		if err := handler(scanner.Text()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("stdout read error: %w", err)
	}
	return wait()
}

// Helper functions for loading private keys

func loadPrivateKeyFromFile(path, passphrase string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return loadPrivateKeyFromBytes(key, passphrase)
}

func loadPrivateKeyFromBytes(key []byte, passphrase string) (ssh.Signer, error) {
	if passphrase != "" {
		return ssh.ParsePrivateKeyWithPassphrase(key, []byte(passphrase))
	}
	return ssh.ParsePrivateKey(key)
}

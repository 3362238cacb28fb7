// Package utiltest provides an in-memory util.Executor for tests.
package utiltest

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	bherrors "github.com/avihaie/bug-hunter/pkg/errors"
	"github.com/avihaie/bug-hunter/pkg/models"
	"github.com/avihaie/bug-hunter/pkg/util"
)

var tailCmd = regexp.MustCompile(`^tail -n (\d+) (\S+) > (\S+)$`)

// FakeExecutor simulates one host. Files holds the remote file system;
// "tail -n N src > dst" commands are applied to it.
type FakeExecutor struct {
	Address string

	// Results maps an exact command to its result.
	Results map[string]util.CommandResult
	// Errors maps an exact command to a transport error.
	Errors map[string]error
	// FetchErrors maps a remote path to a transfer error.
	FetchErrors map[string]error
	// Files is the remote file system, path to content.
	Files map[string]string
	// StreamLines are fed to Stream handlers; Stream then blocks until ctx ends.
	StreamLines []string

	mu       sync.Mutex
	commands []string
	closed   bool
}

// NewFakeExecutor returns a fake bound to address.
func NewFakeExecutor(address string) *FakeExecutor {
	return &FakeExecutor{
		Address:     address,
		Results:     map[string]util.CommandResult{},
		Errors:      map[string]error{},
		FetchErrors: map[string]error{},
		Files:       map[string]string{},
	}
}

// Host implements util.Executor.
func (f *FakeExecutor) Host() string { return f.Address }

// Run implements util.Executor.
func (f *FakeExecutor) Run(ctx context.Context, command string) (util.CommandResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)

	if err := ctx.Err(); err != nil {
		return util.CommandResult{}, err
	}
	if err, ok := f.Errors[command]; ok {
		return util.CommandResult{}, err
	}
	if res, ok := f.Results[command]; ok {
		return res, nil
	}
	if m := tailCmd.FindStringSubmatch(command); m != nil {
		return f.tail(m[1], m[2], m[3]), nil
	}
	return util.CommandResult{}, nil
}

func (f *FakeExecutor) tail(count, src, dst string) util.CommandResult {
	content, ok := f.Files[src]
	if !ok {
		return util.CommandResult{ExitStatus: 1, Stderr: "tail: cannot open '" + src + "' for reading: No such file or directory"}
	}
	n, _ := strconv.Atoi(count)
	lines := strings.SplitAfter(content, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	f.Files[dst] = strings.Join(lines, "")
	return util.CommandResult{}
}

// Stream implements util.Executor.
func (f *FakeExecutor) Stream(ctx context.Context, command string, handler func(line string) error) error {
	f.mu.Lock()
	f.commands = append(f.commands, command)
	lines := append([]string(nil), f.StreamLines...)
	f.mu.Unlock()

	for _, line := range lines {
		if err := handler(line); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

// Fetch implements util.Executor.
func (f *FakeExecutor) Fetch(ctx context.Context, remotePath, localDir string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.FetchErrors[remotePath]; ok {
		return "", err
	}
	content, ok := f.Files[remotePath]
	if !ok {
		return "", bherrors.New(bherrors.ErrCodeTransport, "no such remote file: "+remotePath)
	}
	local := filepath.Join(localDir, path.Base(remotePath))
	if err := os.WriteFile(local, []byte(content), 0o644); err != nil {
		return "", err
	}
	return local, nil
}

// Glob implements util.Executor.
func (f *FakeExecutor) Glob(ctx context.Context, pattern string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for p := range f.Files {
		if ok, _ := path.Match(pattern, p); ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Close implements util.Executor.
func (f *FakeExecutor) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Commands returns the commands run so far.
func (f *FakeExecutor) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

// Closed reports whether Close was called.
func (f *FakeExecutor) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Dialer returns a util.Dialer that hands out the fakes by address and
// fails for unknown hosts.
func Dialer(fakes ...*FakeExecutor) util.Dialer {
	byHost := make(map[string]*FakeExecutor, len(fakes))
	for _, f := range fakes {
		byHost[f.Address] = f
	}
	return util.DialerFunc(func(ctx context.Context, target models.HostTarget) (util.Executor, error) {
		f, ok := byHost[target.Address]
		if !ok {
			return nil, bherrors.New(bherrors.ErrCodeTransport, "connection refused: "+target.Address)
		}
		return f, nil
	})
}

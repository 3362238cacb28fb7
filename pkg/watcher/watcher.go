// Package watcher blocks until a fault signature shows up in a log on one
// of the watched hosts.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/alessio/shellescape"
	"golang.org/x/sync/errgroup"

	bherrors "github.com/avihaie/bug-hunter/pkg/errors"
	"github.com/avihaie/bug-hunter/pkg/models"
	"github.com/avihaie/bug-hunter/pkg/util"
)

// ErrNotFound is returned when the timeout elapses without a match.
var ErrNotFound = bherrors.New(bherrors.ErrCodeTimeout, "fault signature not found before timeout")

var errMatched = errors.New("matched")

// Target is one host and the logs followed on it.
type Target struct {
	Host  models.HostTarget
	Paths []string
}

// Match describes the first line that matched.
type Match struct {
	Host    string
	Pattern string
	// Text is the part of Line matched by the pattern.
	Text string
	Line string
	At   time.Time
}

// Watcher follows remote logs through a Dialer.
type Watcher struct {
	dialer util.Dialer
	now    func() time.Time
}

// New creates a Watcher.
func New(dialer util.Dialer) *Watcher {
	return &Watcher{dialer: dialer, now: time.Now}
}

// FollowCommand is the remote command streaming new lines of paths.
func FollowCommand(paths []string) string {
	quoted := make([]string, len(paths))
	for i, p := range paths {
		quoted[i] = shellescape.Quote(p)
	}
	return "tail -q -n 0 -F " + strings.Join(quoted, " ")
}

// Watch follows every target concurrently until pattern matches a line.
// The first match wins and stops the others. A timeout of zero or less
// waits until ctx is done. ErrNotFound is returned on timeout.
func (w *Watcher) Watch(ctx context.Context, pattern string, targets []Target, timeout time.Duration) (Match, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Match{}, bherrors.Wrap(bherrors.ErrCodeInvalidRequest, "invalid fault pattern", err)
	}
	if len(targets) == 0 {
		return Match{}, bherrors.New(bherrors.ErrCodeInvalidRequest, "no watch targets")
	}

	wctx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var (
		mu    sync.Mutex
		match Match
		found bool
	)

	g, gctx := errgroup.WithContext(wctx)
	for _, t := range targets {
		g.Go(func() error {
			err := w.follow(gctx, re, t, func(m Match) {
				mu.Lock()
				defer mu.Unlock()
				if !found {
					match, found = m, true
				}
			})
			if errors.Is(err, errMatched) {
				return err
			}
			if err != nil && gctx.Err() == nil {
				slog.Error("watch stream ended",
					slog.String("host", t.Host.Address),
					slog.String("error", err.Error()))
			}
			return nil
		})
	}
	_ = g.Wait()

	mu.Lock()
	first, ok := match, found
	mu.Unlock()

	if ok {
		slog.Info("fault signature matched",
			slog.String("host", first.Host),
			slog.String("pattern", first.Pattern),
			slog.String("text", first.Text))
		return first, nil
	}
	if errors.Is(wctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		slog.Warn("fault signature not found", slog.String("pattern", pattern), slog.Duration("timeout", timeout))
		return Match{}, ErrNotFound
	}
	if err := ctx.Err(); err != nil {
		return Match{}, fmt.Errorf("watch cancelled: %w", err)
	}
	return Match{}, bherrors.New(bherrors.ErrCodeTransport, "every watch stream ended without a match")
}

func (w *Watcher) follow(ctx context.Context, re *regexp.Regexp, t Target, onMatch func(Match)) error {
	exec, err := w.dialer.Dial(ctx, t.Host)
	if err != nil {
		return err
	}
	defer exec.Close()

	cmd := FollowCommand(t.Paths)
	slog.Info("watching logs", slog.String("host", exec.Host()), slog.String("command", cmd))

	return exec.Stream(ctx, cmd, func(line string) error {
		loc := re.FindStringIndex(line)
		if loc == nil {
			return nil
		}
		onMatch(Match{
			Host:    t.Host.Address,
			Pattern: re.String(),
			Text:    line[loc[0]:loc[1]],
			Line:    line,
			At:      w.now(),
		})
		return errMatched
	})
}

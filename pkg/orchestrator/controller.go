// Package orchestrator sequences a hunt run: snapshot, wait for the fault,
// collect, then notify and re-snapshot alongside correlation before the
// report is built.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/avihaie/bug-hunter/pkg/collector"
	"github.com/avihaie/bug-hunter/pkg/config"
	"github.com/avihaie/bug-hunter/pkg/correlator"
	"github.com/avihaie/bug-hunter/pkg/defaults"
	bherrors "github.com/avihaie/bug-hunter/pkg/errors"
	"github.com/avihaie/bug-hunter/pkg/models"
	"github.com/avihaie/bug-hunter/pkg/notifier"
	"github.com/avihaie/bug-hunter/pkg/report"
	"github.com/avihaie/bug-hunter/pkg/util"
	"github.com/avihaie/bug-hunter/pkg/watcher"
)

// ErrFaultNotDetected ends a run whose fault watch timed out. No report is
// built.
var ErrFaultNotDetected = bherrors.New(bherrors.ErrCodeTimeout, "fault not detected before timeout")

// Watcher blocks until the fault signature matches.
type Watcher interface {
	Watch(ctx context.Context, pattern string, targets []watcher.Target, timeout time.Duration) (watcher.Match, error)
}

// EnvState writes an environment snapshot.
type EnvState interface {
	Snapshot(ctx context.Context, outputPath string) error
}

// Notifier announces the fault. It never fails.
type Notifier interface {
	Notify(ctx context.Context, ev notifier.Event)
}

// Reporter builds the final report.
type Reporter interface {
	Build(in report.Input) (string, error)
}

// Deps are the collaborators of a Controller. EnvState may be nil.
type Deps struct {
	Dialer   util.Dialer
	Watcher  Watcher
	EnvState EnvState
	Notifier Notifier
	Reporter Reporter
	// Now defaults to time.Now.
	Now func() time.Time
}

// Outcome is what a run produced.
type Outcome struct {
	States         []State
	Session        *collector.Session
	Fault          watcher.Match
	Result         models.CollectionResult
	Timeline       *correlator.Timeline
	ReportPath     string
	CorrelationErr error
}

// Controller runs one hunt.
type Controller struct {
	cfg  *config.Config
	deps Deps

	state   State
	entered time.Time
	outcome *Outcome
}

// New creates a Controller.
func New(cfg *config.Config, deps Deps) *Controller {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Dialer == nil {
		deps.Dialer = util.DefaultDialer{}
	}
	return &Controller{cfg: cfg, deps: deps}
}

// Run executes the whole state machine. It returns ErrFaultNotDetected when
// the watch times out. A correlation failure does not fail the run; it is
// reported in Outcome.CorrelationErr alongside a degraded report.
func (c *Controller) Run(ctx context.Context) (*Outcome, error) {
	c.outcome = &Outcome{}
	out := c.outcome

	c.enter(StateInit)
	if err := c.cfg.Validate(); err != nil {
		runsTotal.WithLabelValues("invalid").Inc()
		return out, err
	}

	c.enter(StateEnvSnapshotStart)
	start := c.deps.Now()
	session, err := collector.NewSession(c.cfg.Collection.LogsRoot, c.cfg.Collection.TailLines, start)
	if err != nil {
		runsTotal.WithLabelValues("failed").Inc()
		return out, err
	}
	out.Session = session
	slog.Info("collection session created", slog.String("dir", session.Dir), slog.String("id", session.ID))
	c.snapshot(ctx, session.Path(defaults.EnvStateBefore))

	c.enter(StateAwaitFault)
	match, err := c.deps.Watcher.Watch(ctx, c.cfg.Fault.Pattern, c.watchTargets(), c.cfg.Fault.Timeout)
	if err != nil {
		if errors.Is(err, watcher.ErrNotFound) {
			runsTotal.WithLabelValues("not_detected").Inc()
			return out, ErrFaultNotDetected
		}
		runsTotal.WithLabelValues("failed").Inc()
		return out, fmt.Errorf("fault watch failed: %w", err)
	}
	out.Fault = match

	c.enter(StateCollect)
	coll := collector.New(collector.Config{
		TailLines:       c.cfg.Collection.TailLines,
		PackageQuery:    c.cfg.Collection.PackageQuery,
		CommandTimeout:  c.cfg.Collection.CommandTimeout,
		TransferTimeout: c.cfg.Collection.TransferTimeout,
		CommandRate:     c.cfg.Collection.CommandRate,
	}, c.deps.Dialer, session)
	out.Result.Hosts = coll.CollectAll(ctx, c.cfg.Targets())
	for _, h := range out.Result.Hosts {
		if h.Err != nil {
			slog.Error("host produced no artifacts", slog.String("host", h.Host), slog.String("error", h.Err.Error()))
		}
	}

	c.enter(StateFork)
	var g errgroup.Group
	g.Go(func() error {
		c.deps.Notifier.Notify(ctx, notifier.Event{
			RunID:        session.ID,
			Name:         match.Pattern,
			Details:      match.Line,
			Host:         match.Host,
			Pattern:      match.Pattern,
			LogDirectory: session.Dir,
			At:           match.At,
		})
		return nil
	})
	g.Go(func() error {
		c.snapshot(ctx, session.Path(defaults.EnvStateAfter))
		return nil
	})
	c.correlate(ctx, session, start)

	c.enter(StateJoin)
	_ = g.Wait()

	c.enter(StateReport)
	path, err := c.deps.Reporter.Build(report.Input{
		LogsDir:      session.Dir,
		FaultText:    match.Text,
		TestLabel:    c.cfg.TestLabel,
		Versions:     out.Result.Versions(),
		TimelinePath: out.Result.TimelinePath,
	})
	if err != nil {
		runsTotal.WithLabelValues("failed").Inc()
		return out, fmt.Errorf("report failed: %w", err)
	}
	out.ReportPath = path
	slog.Info("report written", slog.String("path", path))

	c.enter(StateDone)
	c.writeMetrics(session)
	if out.CorrelationErr != nil {
		runsTotal.WithLabelValues("degraded").Inc()
	} else {
		runsTotal.WithLabelValues("ok").Inc()
	}
	return out, nil
}

func (c *Controller) enter(s State) {
	now := time.Now()
	if c.state != "" {
		stageDuration.WithLabelValues(string(c.state)).Observe(now.Sub(c.entered).Seconds())
	}
	c.state, c.entered = s, now
	c.outcome.States = append(c.outcome.States, s)
	slog.Info("entering state", slog.String("state", string(s)))
}

func (c *Controller) watchTargets() []watcher.Target {
	var out []watcher.Target
	for _, t := range c.cfg.WatchTargets() {
		out = append(out, watcher.Target{Host: t.Host, Paths: t.Logs.Paths()})
	}
	return out
}

// snapshot is best effort.
func (c *Controller) snapshot(ctx context.Context, path string) {
	if c.deps.EnvState == nil {
		return
	}
	if err := c.deps.EnvState.Snapshot(ctx, path); err != nil {
		slog.Error("environment snapshot failed", slog.String("output", path), slog.String("error", err.Error()))
	}
}

func (c *Controller) correlate(ctx context.Context, session *collector.Session, anchor time.Time) {
	cc := c.cfg.Correlation
	ordering, _ := correlator.ParseOrdering(cc.Ordering)

	output := cc.Output
	if !filepath.IsAbs(output) {
		output = session.Path(output)
	}

	tl, err := correlator.Correlate(ctx, correlator.Options{
		Dir:               session.HostDir(cc.Host),
		Family:            cc.Family,
		Marker:            cc.Marker,
		Anchor:            anchor,
		Tolerance:         cc.Tolerance,
		Output:            output,
		Ordering:          ordering,
		DecompressTimeout: cc.DecompressTimeout,
	})
	if err != nil {
		slog.Error("correlation failed, report will have no timeline", slog.String("error", err.Error()))
		c.outcome.CorrelationErr = err
		return
	}
	c.outcome.Timeline = tl
	c.outcome.Result.TimelinePath = tl.Path
}

func (c *Controller) writeMetrics(session *collector.Session) {
	path := session.Path(defaults.MetricsFile)
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		slog.Warn("failed to write metrics", slog.String("path", path), slog.String("error", err.Error()))
	}
}

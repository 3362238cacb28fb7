// Package collector truncates, fetches and version-stamps logs from the
// hosts taking part in a hunt run.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/alessio/shellescape"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/avihaie/bug-hunter/pkg/defaults"
	bherrors "github.com/avihaie/bug-hunter/pkg/errors"
	"github.com/avihaie/bug-hunter/pkg/models"
	"github.com/avihaie/bug-hunter/pkg/util"
)

// Config controls remote collection.
type Config struct {
	// TailLines is how many trailing lines a truncated log keeps.
	TailLines int
	// PackageQuery is a fmt template taking the component name.
	PackageQuery string
	// CommandTimeout bounds each remote command.
	CommandTimeout time.Duration
	// TransferTimeout bounds each file transfer.
	TransferTimeout time.Duration
	// CommandRate caps remote commands per second per host; zero disables pacing.
	CommandRate float64
}

func (c Config) withDefaults() Config {
	if c.TailLines <= 0 {
		c.TailLines = defaults.TailLines
	}
	if c.PackageQuery == "" {
		c.PackageQuery = defaults.PackageQuery
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = defaults.CommandTimeout
	}
	if c.TransferTimeout <= 0 {
		c.TransferTimeout = defaults.TransferTimeout
	}
	return c
}

// Collector is the remote log collector. It never fails the run because of
// one host: every host yields a HostResult.
type Collector struct {
	cfg     Config
	dialer  util.Dialer
	session *Session
}

// New creates a Collector writing under session.
func New(cfg Config, dialer util.Dialer, session *Session) *Collector {
	return &Collector{
		cfg:     cfg.withDefaults(),
		dialer:  dialer,
		session: session,
	}
}

// TruncatedPath is the sibling path holding the last n lines of p. It only
// depends on p and n, so repeated truncations overwrite the same file.
func TruncatedPath(p string, n int) string {
	return p + strconv.Itoa(n)
}

// Truncate keeps the last tailLines lines of every log in spec in a sibling
// file on the host and returns the sibling paths. The first command that
// exits non-zero fails the whole host.
func (c *Collector) Truncate(ctx context.Context, exec util.Executor, spec models.LogSpec, tailLines int) ([]string, error) {
	paths := spec.Paths()
	out := make([]string, 0, len(paths))

	for _, p := range paths {
		dst := TruncatedPath(p, tailLines)
		cmd := fmt.Sprintf("tail -n %d %s > %s", tailLines, shellescape.Quote(p), shellescape.Quote(dst))
		slog.Debug("truncating log", slog.String("host", exec.Host()), slog.String("command", cmd))

		res, err := c.run(ctx, exec, cmd)
		if err != nil {
			remoteCommandsTotal.WithLabelValues("truncate", "error").Inc()
			slog.Error("truncate command could not run",
				slog.String("host", exec.Host()),
				slog.String("command", cmd),
				slog.String("error", err.Error()))
			return nil, err
		}
		if !res.OK() {
			remoteCommandsTotal.WithLabelValues("truncate", "nonzero").Inc()
			slog.Error("truncate command failed",
				slog.String("host", exec.Host()),
				slog.String("command", cmd),
				slog.Int("exit_status", res.ExitStatus),
				slog.String("stdout", res.Stdout),
				slog.String("stderr", res.Stderr))
			return nil, bherrors.NewWithContext(bherrors.ErrCodeCommandFailed,
				fmt.Sprintf("truncate of %s exited with status %d", p, res.ExitStatus),
				map[string]any{"host": exec.Host(), "command": cmd, "stdout": res.Stdout, "stderr": res.Stderr})
		}

		remoteCommandsTotal.WithLabelValues("truncate", "ok").Inc()
		out = append(out, dst)
	}
	return out, nil
}

// Collect fetches every remote path into localDir. A failed file is
// recorded and does not stop the others. A file whose base name was already
// taken by another remote path lands in a subdirectory named after its
// remote directory.
func (c *Collector) Collect(ctx context.Context, exec util.Executor, remotePaths []string, localDir string) ([]string, []models.FileFailure) {
	var landed []string
	var failures []models.FileFailure
	taken := make(map[string]string, len(remotePaths))

	for _, p := range remotePaths {
		dir, err := landingDir(taken, p, localDir)
		if err != nil {
			filesCollectedTotal.WithLabelValues("error").Inc()
			slog.Error("failed to prepare local directory",
				slog.String("host", exec.Host()),
				slog.String("path", p),
				slog.String("error", err.Error()))
			failures = append(failures, models.FileFailure{Path: p, Err: err})
			continue
		}

		tctx, cancel := context.WithTimeout(ctx, c.cfg.TransferTimeout)
		local, err := exec.Fetch(tctx, p, dir)
		cancel()

		if err != nil {
			filesCollectedTotal.WithLabelValues("error").Inc()
			slog.Error("failed to collect file",
				slog.String("host", exec.Host()),
				slog.String("path", p),
				slog.String("error", err.Error()))
			failures = append(failures, models.FileFailure{Path: p, Err: err})
			continue
		}

		filesCollectedTotal.WithLabelValues("ok").Inc()
		landed = append(landed, local)
	}
	return landed, failures
}

// ResolveComponentVersions queries the package manager for each distinct
// component owning a log in spec. A non-zero exit means the package is not
// installed; a command that could not run is logged and yields no entry.
func (c *Collector) ResolveComponentVersions(ctx context.Context, exec util.Executor, spec models.LogSpec) []models.ComponentVersion {
	var versions []models.ComponentVersion

	for _, name := range spec.Components() {
		cmd := fmt.Sprintf(c.cfg.PackageQuery, shellescape.Quote(name))

		res, err := c.run(ctx, exec, cmd)
		if err != nil {
			remoteCommandsTotal.WithLabelValues("version", "error").Inc()
			slog.Error("package query could not run",
				slog.String("host", exec.Host()),
				slog.String("component", name),
				slog.String("command", cmd),
				slog.String("error", err.Error()))
			continue
		}

		if !res.OK() {
			remoteCommandsTotal.WithLabelValues("version", "nonzero").Inc()
			slog.Info("component not installed",
				slog.String("host", exec.Host()),
				slog.String("component", name))
			versions = append(versions, models.NotInstalled(exec.Host(), name))
			continue
		}

		remoteCommandsTotal.WithLabelValues("version", "ok").Inc()
		versions = append(versions, models.Installed(exec.Host(), name, joinLines(res.Stdout)))
	}
	return versions
}

// CollectHost runs truncate, collect and version resolution for one host.
func (c *Collector) CollectHost(ctx context.Context, target models.CollectionTarget) models.HostResult {
	addr := target.Host.Address
	res := models.HostResult{Host: addr, Dir: c.session.HostDir(addr)}

	start := time.Now()
	defer func() {
		status := "ok"
		if res.Err != nil {
			status = "failed"
		}
		hostCollectionDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
	}()

	hostDir, shortDir, err := c.session.EnsureHostDirs(addr)
	if err != nil {
		res.Err = err
		return res
	}

	exec, err := c.dialer.Dial(ctx, target.Host)
	if err != nil {
		slog.Error("failed to connect to host", slog.String("host", addr), slog.String("error", err.Error()))
		res.Err = err
		c.discard(&res)
		return res
	}
	defer exec.Close()

	if c.cfg.CommandRate > 0 {
		exec = &pacedExecutor{Executor: exec, limiter: rate.NewLimiter(rate.Limit(c.cfg.CommandRate), 1)}
	}

	slog.Info("collecting logs", slog.String("host", addr), slog.Int("logs", len(target.Logs)))

	truncated, err := c.Truncate(ctx, exec, target.Logs, c.cfg.TailLines)
	if err != nil {
		res.Err = err
		c.discard(&res)
		return res
	}

	short, failures := c.Collect(ctx, exec, truncated, shortDir)
	res.ShortLogPaths = short
	res.Failures = append(res.Failures, failures...)

	full := append(target.Logs.Paths(), c.rotations(ctx, exec, target.Logs)...)
	logs, failures := c.Collect(ctx, exec, full, hostDir)
	res.LogPaths = logs
	res.Failures = append(res.Failures, failures...)

	res.Versions = c.ResolveComponentVersions(ctx, exec, target.Logs)

	slog.Info("host collection finished",
		slog.String("host", addr),
		slog.Int("short_logs", len(res.ShortLogPaths)),
		slog.Int("logs", len(res.LogPaths)),
		slog.Int("failures", len(res.Failures)),
		slog.Int("versions", len(res.Versions)))
	return res
}

// CollectAll collects every target in parallel. Results follow the order
// of targets.
func (c *Collector) CollectAll(ctx context.Context, targets []models.CollectionTarget) []models.HostResult {
	results := make([]models.HostResult, len(targets))

	var g errgroup.Group
	for i := range targets {
		g.Go(func() error {
			results[i] = c.CollectHost(ctx, targets[i])
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// rotations lists rotated siblings of the logs marked Rotated. Truncated
// siblings (path followed by digits only) are skipped.
func (c *Collector) rotations(ctx context.Context, exec util.Executor, spec models.LogSpec) []string {
	var out []string
	for _, f := range spec {
		if !f.Rotated {
			continue
		}
		matches, err := exec.Glob(ctx, f.Path+"*")
		if err != nil {
			slog.Warn("failed to list rotated logs",
				slog.String("host", exec.Host()),
				slog.String("path", f.Path),
				slog.String("error", err.Error()))
			continue
		}
		for _, m := range matches {
			if m == f.Path || isTruncatedSibling(f.Path, m) {
				continue
			}
			out = append(out, m)
		}
	}
	return out
}

// discard removes the directory of a host that produced no artifacts.
func (c *Collector) discard(res *models.HostResult) {
	if err := os.RemoveAll(res.Dir); err != nil {
		slog.Warn("failed to remove empty host directory", slog.String("dir", res.Dir), slog.String("error", err.Error()))
		return
	}
	res.Dir = ""
}

func (c *Collector) run(ctx context.Context, exec util.Executor, cmd string) (util.CommandResult, error) {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.CommandTimeout)
	defer cancel()
	return exec.Run(cctx, cmd)
}

// landingDir returns the local directory for remote path p. The first path
// with a given base name lands in localDir; later ones go to
// localDir/<remote dir with slashes replaced by underscores>.
func landingDir(taken map[string]string, p, localDir string) (string, error) {
	base := path.Base(p)
	owner, ok := taken[base]
	if !ok || owner == p {
		taken[base] = p
		return localDir, nil
	}
	sub := strings.ReplaceAll(strings.Trim(path.Dir(p), "/"), "/", "_")
	if sub == "" || sub == "." {
		sub = "root"
	}
	dir := filepath.Join(localDir, sub)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return dir, nil
}

func isTruncatedSibling(base, candidate string) bool {
	suffix, ok := strings.CutPrefix(candidate, base)
	if !ok || suffix == "" {
		return false
	}
	_, err := strconv.Atoi(suffix)
	return err == nil && !strings.HasPrefix(suffix, "-") && !strings.HasPrefix(suffix, "+")
}

func joinLines(s string) string {
	var parts []string
	for _, l := range strings.Split(s, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			parts = append(parts, l)
		}
	}
	return strings.Join(parts, ", ")
}

// pacedExecutor waits on a per-host limiter before each command.
type pacedExecutor struct {
	util.Executor
	limiter *rate.Limiter
}

func (p *pacedExecutor) Run(ctx context.Context, command string) (util.CommandResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return util.CommandResult{}, bherrors.Wrap(bherrors.ErrCodeTimeout, "rate limiter wait", err)
	}
	return p.Executor.Run(ctx, command)
}

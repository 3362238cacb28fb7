package collector

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bherrors "github.com/avihaie/bug-hunter/pkg/errors"
	"github.com/avihaie/bug-hunter/pkg/models"
	"github.com/avihaie/bug-hunter/pkg/util"
	"github.com/avihaie/bug-hunter/pkg/util/utiltest"
)

func numberedLines(n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		b.WriteString("line ")
		b.WriteString(strconv.Itoa(i))
		b.WriteString("\n")
	}
	return b.String()
}

func newTestCollector(t *testing.T, dialer util.Dialer, tail int) (*Collector, *Session) {
	t.Helper()
	s, err := NewSession(t.TempDir(), tail, time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	return New(Config{TailLines: tail}, dialer, s), s
}

func TestNewSessionIsUnique(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "root")
	now := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)

	a, err := NewSession(root, 10, now)
	require.NoError(t, err)
	b, err := NewSession(root, 10, now)
	require.NoError(t, err)

	assert.NotEqual(t, a.Dir, b.Dir)
	assert.True(t, strings.HasPrefix(filepath.Base(a.Dir), "020124_10:00:00_"))
	assert.DirExists(t, a.Dir)

	host, short, err := a.EnsureHostDirs("10.0.0.1:2222")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(a.Dir, "10.0.0.1_2222"), host)
	assert.Equal(t, filepath.Join(host, "short_logs"), short)
	assert.DirExists(t, short)
}

func TestTruncatedPath(t *testing.T) {
	assert.Equal(t, "/var/log/engine.log1000", TruncatedPath("/var/log/engine.log", 1000))
	assert.True(t, isTruncatedSibling("/var/log/engine.log", "/var/log/engine.log1000"))
	assert.False(t, isTruncatedSibling("/var/log/engine.log", "/var/log/engine.log-20240101.gz"))
	assert.False(t, isTruncatedSibling("/var/log/engine.log", "/var/log/engine.log.1"))
	assert.False(t, isTruncatedSibling("/var/log/engine.log", "/var/log/engine.log"))
}

func TestTruncateLocalIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "engine.log")
	require.NoError(t, os.WriteFile(p, []byte("a\nb\nc\nd\ne\n"), 0o644))

	c, _ := newTestCollector(t, util.DefaultDialer{}, 3)
	exec := util.NewLocalExecutor("")
	spec := models.LogSpec{{Path: p}}

	for i := 0; i < 2; i++ {
		out, err := c.Truncate(context.Background(), exec, spec, 3)
		require.NoError(t, err)
		require.Equal(t, []string{p + "3"}, out)

		data, err := os.ReadFile(p + "3")
		require.NoError(t, err)
		assert.Equal(t, "c\nd\ne\n", string(data))
	}

	orig, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "a\nb\nc\nd\ne\n", string(orig))
}

func TestTruncateShortFileKeepsEverything(t *testing.T) {
	fake := utiltest.NewFakeExecutor("h1")
	fake.Files["/var/log/app/app.log"] = "one\ntwo\n"
	c, _ := newTestCollector(t, utiltest.Dialer(fake), 100)

	out, err := c.Truncate(context.Background(), fake, models.LogSpec{{Path: "/var/log/app/app.log"}}, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"/var/log/app/app.log100"}, out)
	assert.Equal(t, "one\ntwo\n", fake.Files["/var/log/app/app.log100"])
}

func TestTruncateFailureIsCommandFailed(t *testing.T) {
	fake := utiltest.NewFakeExecutor("h1")
	c, _ := newTestCollector(t, utiltest.Dialer(fake), 10)

	_, err := c.Truncate(context.Background(), fake, models.LogSpec{{Path: "/var/log/missing.log"}}, 10)
	require.Error(t, err)
	assert.True(t, bherrors.IsCode(err, bherrors.ErrCodeCommandFailed))
}

func TestResolveComponentVersions(t *testing.T) {
	fake := utiltest.NewFakeExecutor("h1")
	fake.Results["rpm -q ovirt-engine"] = util.CommandResult{Stdout: "ovirt-engine-4.5.1-1.el8.noarch\n"}
	fake.Results["rpm -q vdsm"] = util.CommandResult{ExitStatus: 1, Stdout: "package vdsm is not installed\n"}
	fake.Errors["rpm -q libvirt"] = bherrors.New(bherrors.ErrCodeTransport, "session closed")
	fake.Results["rpm -q kernel"] = util.CommandResult{Stdout: "kernel-5.14.0-1\nkernel-5.14.0-2\n"}

	c, _ := newTestCollector(t, utiltest.Dialer(fake), 10)
	spec := models.LogSpec{
		{Path: "/var/log/ovirt-engine/engine.log"},
		{Path: "/var/log/ovirt-engine/server.log"},
		{Path: "/var/log/vdsm/vdsm.log"},
		{Path: "/var/log/libvirt/libvirtd.log"},
		{Path: "/var/log/messages", Component: "kernel"},
	}

	versions := c.ResolveComponentVersions(context.Background(), fake, spec)
	require.Len(t, versions, 3)

	assert.Equal(t, "ovirt-engine", versions[0].Component)
	assert.Equal(t, "ovirt-engine: ovirt-engine-4.5.1-1.el8.noarch", versions[0].String())
	assert.False(t, versions[1].IsInstalled())
	assert.Equal(t, "vdsm: not installed", versions[1].String())
	assert.Equal(t, "kernel: kernel-5.14.0-1, kernel-5.14.0-2", versions[2].String())

	var queried int
	for _, cmd := range fake.Commands() {
		if strings.HasPrefix(cmd, "rpm -q ovirt-engine") {
			queried++
		}
	}
	assert.Equal(t, 1, queried)
}

func TestCollectHost(t *testing.T) {
	fake := utiltest.NewFakeExecutor("h1")
	fake.Files["/var/log/ovirt-engine/engine.log"] = numberedLines(20)
	fake.Files["/var/log/ovirt-engine/engine.log-20240101.gz"] = "gz"
	fake.Files["/var/log/ovirt-engine/server.log"] = "server\n"
	fake.FetchErrors["/var/log/ovirt-engine/server.log"] = bherrors.New(bherrors.ErrCodeTransport, "permission denied")

	c, s := newTestCollector(t, utiltest.Dialer(fake), 5)
	res := c.CollectHost(context.Background(), models.CollectionTarget{
		Host: models.HostTarget{Address: "h1"},
		Logs: models.LogSpec{
			{Path: "/var/log/ovirt-engine/engine.log", Rotated: true},
			{Path: "/var/log/ovirt-engine/server.log"},
		},
	})

	require.NoError(t, res.Err)
	assert.True(t, fake.Closed())
	assert.Equal(t, s.HostDir("h1"), res.Dir)

	assert.ElementsMatch(t, []string{
		filepath.Join(s.ShortLogsDir("h1"), "engine.log5"),
		filepath.Join(s.ShortLogsDir("h1"), "server.log5"),
	}, res.ShortLogPaths)
	assert.ElementsMatch(t, []string{
		filepath.Join(s.HostDir("h1"), "engine.log"),
		filepath.Join(s.HostDir("h1"), "engine.log-20240101.gz"),
	}, res.LogPaths)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, "/var/log/ovirt-engine/server.log", res.Failures[0].Path)

	short, err := os.ReadFile(filepath.Join(s.ShortLogsDir("h1"), "engine.log5"))
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSuffix(string(short), "\n"), "\n"), 5)

	require.Len(t, res.Versions, 1)
	assert.Equal(t, "ovirt-engine", res.Versions[0].Component)
}

func TestCollectAllIsolatesHosts(t *testing.T) {
	good := utiltest.NewFakeExecutor("good")
	good.Files["/var/log/app/app.log"] = "x\n"

	c, s := newTestCollector(t, utiltest.Dialer(good), 10)
	results := c.CollectAll(context.Background(), []models.CollectionTarget{
		{Host: models.HostTarget{Address: "bad"}, Logs: models.LogSpec{{Path: "/var/log/app/app.log"}}},
		{Host: models.HostTarget{Address: "good"}, Logs: models.LogSpec{{Path: "/var/log/app/app.log"}}},
	})

	require.Len(t, results, 2)
	assert.Equal(t, "bad", results[0].Host)
	require.Error(t, results[0].Err)
	assert.True(t, bherrors.IsCode(results[0].Err, bherrors.ErrCodeTransport))
	assert.Empty(t, results[0].Dir)
	assert.NoDirExists(t, s.HostDir("bad"))

	assert.Equal(t, "good", results[1].Host)
	require.NoError(t, results[1].Err)
	assert.FileExists(t, filepath.Join(s.HostDir("good"), "app.log"))
	assert.FileExists(t, filepath.Join(s.ShortLogsDir("good"), "app.log10"))
}

func TestCollectHostTruncateFailureStopsHost(t *testing.T) {
	fake := utiltest.NewFakeExecutor("h1")
	c, _ := newTestCollector(t, utiltest.Dialer(fake), 10)

	res := c.CollectHost(context.Background(), models.CollectionTarget{
		Host: models.HostTarget{Address: "h1"},
		Logs: models.LogSpec{{Path: "/var/log/app/missing.log"}},
	})
	require.Error(t, res.Err)
	assert.Empty(t, res.Dir)
	assert.Empty(t, res.LogPaths)
	assert.Empty(t, res.Versions)
	assert.True(t, fake.Closed())
}

func TestPacedExecutor(t *testing.T) {
	fake := utiltest.NewFakeExecutor("h1")
	c, _ := newTestCollector(t, utiltest.Dialer(fake), 10)
	c.cfg.CommandRate = 1000

	fake.Files["/var/log/app/app.log"] = "x\n"
	res := c.CollectHost(context.Background(), models.CollectionTarget{
		Host: models.HostTarget{Address: "h1"},
		Logs: models.LogSpec{{Path: "/var/log/app/app.log"}},
	})
	require.NoError(t, res.Err)
	assert.Contains(t, fake.Commands(), "tail -n 10 /var/log/app/app.log > /var/log/app/app.log10")
}

func TestCollectHostSameBaseName(t *testing.T) {
	fake := utiltest.NewFakeExecutor("h1")
	fake.Files["/var/log/ovirt-engine/server.log"] = "engine server\n"
	fake.Files["/var/log/ovirt-imageio/server.log"] = "imageio server\n"

	c, s := newTestCollector(t, utiltest.Dialer(fake), 10)
	res := c.CollectHost(context.Background(), models.CollectionTarget{
		Host: models.HostTarget{Address: "h1"},
		Logs: models.LogSpec{
			{Path: "/var/log/ovirt-engine/server.log"},
			{Path: "/var/log/ovirt-imageio/server.log"},
		},
	})
	require.NoError(t, res.Err)
	assert.Empty(t, res.Failures)

	first := filepath.Join(s.HostDir("h1"), "server.log")
	second := filepath.Join(s.HostDir("h1"), "var_log_ovirt-imageio", "server.log")
	assert.Equal(t, []string{first, second}, res.LogPaths)
	assert.Equal(t, []string{
		filepath.Join(s.ShortLogsDir("h1"), "server.log10"),
		filepath.Join(s.ShortLogsDir("h1"), "var_log_ovirt-imageio", "server.log10"),
	}, res.ShortLogPaths)

	data, err := os.ReadFile(first)
	require.NoError(t, err)
	assert.Equal(t, "engine server\n", string(data))
	data, err = os.ReadFile(second)
	require.NoError(t, err)
	assert.Equal(t, "imageio server\n", string(data))
}

func TestCollectAllTruncateExitIsolatesHost(t *testing.T) {
	broken := utiltest.NewFakeExecutor("a")
	broken.Files["/var/log/app/app.log"] = "a\n"
	broken.Results["tail -n 10 /var/log/app/app.log > /var/log/app/app.log10"] = util.CommandResult{
		ExitStatus: 1,
		Stderr:     "tail: write error: No space left on device",
	}
	healthy := utiltest.NewFakeExecutor("b")
	healthy.Files["/var/log/app/app.log"] = "b\n"
	healthy.Results["rpm -q app"] = util.CommandResult{Stdout: "app-1.0-1\n"}

	c, s := newTestCollector(t, utiltest.Dialer(broken, healthy), 10)
	logs := models.LogSpec{{Path: "/var/log/app/app.log"}}
	results := c.CollectAll(context.Background(), []models.CollectionTarget{
		{Host: models.HostTarget{Address: "a"}, Logs: logs},
		{Host: models.HostTarget{Address: "b"}, Logs: logs},
	})
	require.Len(t, results, 2)

	require.Error(t, results[0].Err)
	assert.True(t, bherrors.IsCode(results[0].Err, bherrors.ErrCodeCommandFailed))
	assert.Empty(t, results[0].LogPaths)
	assert.Empty(t, results[0].Versions)
	assert.NoDirExists(t, s.HostDir("a"))

	require.NoError(t, results[1].Err)
	assert.Equal(t, []string{filepath.Join(s.HostDir("b"), "app.log")}, results[1].LogPaths)
	assert.Equal(t, []string{filepath.Join(s.ShortLogsDir("b"), "app.log10")}, results[1].ShortLogPaths)
	require.Len(t, results[1].Versions, 1)
	assert.Equal(t, "app: app-1.0-1", results[1].Versions[0].String())
}

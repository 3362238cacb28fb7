package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avihaie/bug-hunter/pkg/models"
)

func TestBuild(t *testing.T) {
	dir := t.TempDir()
	timeline := filepath.Join(dir, "events.txt")

	var b strings.Builder
	for i := 1; i <= 12; i++ {
		fmt.Fprintf(&b, "2024-01-01 10:%02d:00,INFO EVENT_ID: step %d\n", i, i)
	}
	require.NoError(t, os.WriteFile(timeline, []byte(b.String()), 0o644))

	path, err := New().Build(Input{
		LogsDir:   dir,
		FaultText: "java.lang.NullPointerException",
		TestLabel: "TestCase18145",
		Versions: []models.ComponentVersion{
			models.Installed("engine", "ovirt-engine", "ovirt-engine-4.5.1"),
			models.NotInstalled("engine", "vdsm"),
		},
		TimelinePath: timeline,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "bugzilla_report"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(data)

	for _, title := range []string{
		"Description of problem:",
		"Version-Release number of selected component (if applicable):",
		"How reproducible:",
		"Steps to Reproduce:",
		"Actual results:",
		"Expected results:",
		"Additional info:",
	} {
		assert.Contains(t, text, title+"\n")
	}
	assert.Contains(t, text, "Running TestCase18145 caused:\n java.lang.NullPointerException")
	assert.Contains(t, text, "ovirt-engine: ovirt-engine-4.5.1 (engine)\nvdsm: not installed (engine)")
	assert.NotContains(t, text, "step 2\n")
	assert.Contains(t, text, "step 3\n")
	assert.Contains(t, text, "step 12\n")
	assert.Contains(t, text, "This should not appear: java.lang.NullPointerException")
}

func TestBuildWithoutTimeline(t *testing.T) {
	dir := t.TempDir()

	for _, timeline := range []string{"", filepath.Join(dir, "missing.txt")} {
		path, err := New().Build(Input{LogsDir: dir, FaultText: "boom", TestLabel: "t", TimelinePath: timeline})
		require.NoError(t, err)

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "Steps to Reproduce:\n(no timeline available)\n")
	}
}

func TestBuildMissingLogsDir(t *testing.T) {
	_, err := New().Build(Input{LogsDir: filepath.Join(t.TempDir(), "absent")})
	assert.Error(t, err)
}

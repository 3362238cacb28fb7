// Package report renders the plain-text bug report of a run.
package report

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/avihaie/bug-hunter/pkg/defaults"
	"github.com/avihaie/bug-hunter/pkg/models"
)

// StepsFromTimeline is how many trailing timeline entries become the
// reproduction steps.
const StepsFromTimeline = 10

const noTimeline = "(no timeline available)"

// Input is everything the report is built from.
type Input struct {
	LogsDir      string
	FaultText    string
	TestLabel    string
	Versions     []models.ComponentVersion
	TimelinePath string
}

// Builder writes reports.
type Builder struct{}

// New creates a Builder.
func New() *Builder {
	return &Builder{}
}

// Build writes <LogsDir>/bugzilla_report and returns its path. A missing
// or empty timeline still yields a report.
func (b *Builder) Build(in Input) (string, error) {
	path := filepath.Join(in.LogsDir, defaults.ReportFile)
	slog.Info("creating report", slog.String("path", path))

	steps, err := tailLines(in.TimelinePath, StepsFromTimeline)
	if err != nil {
		slog.Warn("timeline unavailable for report",
			slog.String("timeline", in.TimelinePath),
			slog.String("error", err.Error()))
	}

	if err := os.WriteFile(path, []byte(Render(in, steps)), 0o644); err != nil {
		return "", fmt.Errorf("writing to %s failed: %w", path, err)
	}
	return path, nil
}

// Render returns the report text.
func Render(in Input, steps []string) string {
	var b strings.Builder

	section := func(title, body string) {
		b.WriteString(title)
		b.WriteString(":\n")
		b.WriteString(body)
		b.WriteString("\n")
	}

	section("Description of problem", fmt.Sprintf("Running %s caused:\n %s", in.TestLabel, in.FaultText))
	section("Version-Release number of selected component (if applicable)", versions(in.Versions))
	section("How reproducible", "")
	if len(steps) == 0 {
		section("Steps to Reproduce", noTimeline)
	} else {
		section("Steps to Reproduce", strings.TrimSuffix(strings.Join(steps, ""), "\n"))
	}
	section("Actual results", in.FaultText)
	section("Expected results", "This should not appear: "+in.FaultText)
	section("Additional info", in.LogsDir)

	return b.String()
}

func versions(vs []models.ComponentVersion) string {
	if len(vs) == 0 {
		return "(no component versions resolved)"
	}
	lines := make([]string, 0, len(vs))
	for _, v := range vs {
		lines = append(lines, fmt.Sprintf("%s (%s)", v.String(), v.Host))
	}
	return strings.Join(lines, "\n")
}

// tailLines returns the last n lines of path, newline included.
func tailLines(path string, n int) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("no timeline path")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, 0, n)
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadString('\n')
		if line != "" {
			if len(ring) == n {
				ring = ring[1:]
			}
			ring = append(ring, line)
		}
		if err != nil {
			break
		}
	}
	return ring, nil
}

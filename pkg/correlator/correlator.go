// Package correlator rebuilds a chronological event timeline from a
// directory of collected, possibly rotated and compressed, logs.
package correlator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avihaie/bug-hunter/pkg/defaults"
	bherrors "github.com/avihaie/bug-hunter/pkg/errors"
)

// Options configure one correlation.
type Options struct {
	// Dir holds the collected logs.
	Dir string
	// Family selects files whose name contains it.
	Family string
	// Marker selects the lines copied to the timeline.
	Marker string
	// Anchor and Tolerance form the window the anchor line must fall in.
	Anchor    time.Time
	Tolerance time.Duration
	// Output is the timeline file. Its parent must exist.
	Output string
	// Ordering decides the file processing order.
	Ordering Ordering
	// DecompressTimeout bounds each gzip extraction.
	DecompressTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.Family == "" {
		o.Family = defaults.CorrelationFamily
	}
	if o.Marker == "" {
		o.Marker = defaults.EventMarker
	}
	if o.Tolerance <= 0 {
		o.Tolerance = defaults.AnchorTolerance
	}
	if o.Output == "" {
		o.Output = filepath.Join(o.Dir, defaults.TimelineFile)
	}
	if o.Ordering == "" {
		o.Ordering = DefaultOrdering
	}
	if o.DecompressTimeout <= 0 {
		o.DecompressTimeout = defaults.DecompressTimeout
	}
	return o
}

// Timeline is the outcome of a correlation.
type Timeline struct {
	// Path is the written timeline file.
	Path string
	// Events are the marker lines in encounter order, newline included.
	Events []string
	// AnchorFound is false when no line fell inside the window.
	AnchorFound bool
	// Files are the scanned files in processing order.
	Files []string
	// Skipped are files that could not be decompressed or read.
	Skipped []string
}

// scanner carries the anchor flag across files.
type scanner struct {
	window      Window
	marker      string
	anchorFound bool
	events      []string
}

// Correlate scans the log family in opts.Dir and writes the timeline.
// A missing directory is a NOT_FOUND error and nothing is written. A
// missing anchor is not an error: the timeline is written empty.
func Correlate(ctx context.Context, opts Options) (*Timeline, error) {
	opts = opts.withDefaults()

	info, err := os.Stat(opts.Dir)
	if err != nil || !info.IsDir() {
		slog.Error("correlation directory is missing", slog.String("dir", opts.Dir))
		return nil, bherrors.NewWithContext(bherrors.ErrCodeNotFound,
			"correlation directory does not exist: "+opts.Dir,
			map[string]any{"dir": opts.Dir})
	}

	names, err := familyFiles(opts.Dir, opts.Family)
	if err != nil {
		return nil, err
	}
	opts.Ordering.Sort(names)

	slog.Info("correlating logs",
		slog.String("dir", opts.Dir),
		slog.String("family", opts.Family),
		slog.String("ordering", string(opts.Ordering)),
		slog.Int("files", len(names)),
		slog.Time("anchor", opts.Anchor))

	tl := &Timeline{Path: opts.Output}
	sc := &scanner{window: Window{Start: opts.Anchor, Tolerance: opts.Tolerance}, marker: opts.Marker}
	extractDir := filepath.Join(opts.Dir, defaults.ExtractedDir)

	for _, name := range names {
		full := filepath.Join(opts.Dir, name)

		if strings.HasSuffix(name, gzipExt) {
			if err := os.MkdirAll(extractDir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create extraction directory: %w", err)
			}
			dctx, cancel := context.WithTimeout(ctx, opts.DecompressTimeout)
			extracted, err := extract(dctx, full, extractDir)
			cancel()
			if err != nil {
				filesScannedTotal.WithLabelValues("skipped").Inc()
				slog.Error("failed to extract rotated log, skipping",
					slog.String("file", full),
					slog.String("error", err.Error()))
				tl.Skipped = append(tl.Skipped, full)
				continue
			}
			full = extracted
		}

		if err := sc.scanFile(full); err != nil {
			filesScannedTotal.WithLabelValues("skipped").Inc()
			slog.Error("failed to read log, skipping",
				slog.String("file", full),
				slog.String("error", err.Error()))
			tl.Skipped = append(tl.Skipped, full)
			continue
		}
		filesScannedTotal.WithLabelValues("scanned").Inc()
		tl.Files = append(tl.Files, full)
	}

	tl.Events = sc.events
	tl.AnchorFound = sc.anchorFound
	if !sc.anchorFound {
		slog.Warn("anchor not found in any log", slog.Time("anchor", opts.Anchor), slog.Duration("tolerance", opts.Tolerance))
	}

	if err := writeTimeline(opts.Output, sc.events); err != nil {
		return nil, err
	}
	eventsExtractedTotal.Add(float64(len(sc.events)))

	slog.Info("timeline written",
		slog.String("path", opts.Output),
		slog.Int("events", len(sc.events)),
		slog.Bool("anchor_found", sc.anchorFound))
	return tl, nil
}

// familyFiles lists regular files in dir whose name contains family.
func familyFiles(dir, family string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() || !strings.Contains(e.Name(), family) {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (s *scanner) scanFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.scan(f, path)
}

func (s *scanner) scan(r io.Reader, source string) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			s.consume(line, source)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (s *scanner) consume(line, source string) {
	if !s.anchorFound && s.window.MatchesLine(line) {
		s.anchorFound = true
		slog.Info("found anchor", slog.String("file", filepath.Base(source)))
	}
	if s.anchorFound && strings.Contains(line, s.marker) {
		if !strings.HasSuffix(line, "\n") {
			line += "\n"
		}
		s.events = append(s.events, line)
	}
}

func writeTimeline(path string, events []string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create timeline %s: %w", path, err)
	}
	w := bufio.NewWriter(f)
	for _, e := range events {
		if _, err := w.WriteString(e); err != nil {
			f.Close()
			return fmt.Errorf("failed to write timeline: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write timeline: %w", err)
	}
	return f.Close()
}

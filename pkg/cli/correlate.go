package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/avihaie/bug-hunter/pkg/correlator"
	"github.com/avihaie/bug-hunter/pkg/defaults"
)

func correlateCmd() *cli.Command {
	return &cli.Command{
		Name:  "correlate",
		Usage: "Build an event timeline from a directory of collected logs",
		Description: `Scans the log family in --dir, oldest rotation first, decompressing .gz
rotations into <dir>/extracted. Marker lines are copied to the output once a
line timestamped inside [start, start+tolerance] has been seen.

# Example

  bug-hunter correlate --dir ~/tmp/bug_hunter_logs/010124_10:00:00_ab12cd34/engine \
    --start "2024-01-01 10:00:00"`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "dir",
				Aliases:  []string{"d"},
				Usage:    "directory holding the collected logs",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "start",
				Aliases:  []string{"s"},
				Usage:    "anchor time, format YYYY-MM-DD HH:MM:SS (local time)",
				Required: true,
			},
			&cli.DurationFlag{
				Name:  "tolerance",
				Usage: "width of the anchor window",
				Value: defaults.AnchorTolerance,
			},
			&cli.StringFlag{
				Name:  "marker",
				Usage: "substring selecting timeline lines",
				Value: defaults.EventMarker,
			},
			&cli.StringFlag{
				Name:  "family",
				Usage: "log family name the file names must contain",
				Value: defaults.CorrelationFamily,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "timeline file (default <dir>/" + defaults.TimelineFile + ")",
			},
			&cli.StringFlag{
				Name:  "ordering",
				Usage: "file order: rotation-index, rotation-date or reverse-lexical",
				Value: string(correlator.DefaultOrdering),
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			anchor, err := time.ParseInLocation(correlator.TimestampLayout, cmd.String("start"), time.Local)
			if err != nil {
				return fmt.Errorf("--start must be in the format %q: %w", correlator.TimestampLayout, err)
			}
			ordering, err := correlator.ParseOrdering(cmd.String("ordering"))
			if err != nil {
				return err
			}

			tl, err := correlator.Correlate(ctx, correlator.Options{
				Dir:       cmd.String("dir"),
				Family:    cmd.String("family"),
				Marker:    cmd.String("marker"),
				Anchor:    anchor,
				Tolerance: cmd.Duration("tolerance"),
				Output:    cmd.String("output"),
				Ordering:  ordering,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.Root().Writer, "%d events written to %s\n", len(tl.Events), tl.Path)
			return nil
		},
	}
}

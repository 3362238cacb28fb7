// Package cli is the bug-hunter command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/avihaie/bug-hunter/pkg/logging"
)

const name = "bug-hunter"

var (
	// overridden during build with ldflags
	version = "dev"
	commit  = "unknown"
)

// Execute runs the command tree and exits non-zero on error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cli.Command {
	return &cli.Command{
		Name:    name,
		Usage:   "Wait for a fault in remote logs and harvest evidence for triage",
		Version: fmt.Sprintf("%s (%s)", version, commit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "log level (debug, info, warn, error)",
				Sources: cli.EnvVars("LOG_LEVEL"),
				Value:   "info",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			logging.SetDefaultStructuredLoggerWithLevel(name, version, cmd.String("log-level"))
			slog.Debug("starting", slog.String("version", version), slog.String("commit", commit))
			return ctx, nil
		},
		Commands: []*cli.Command{
			huntCmd(),
			correlateCmd(),
			envStateCmd(),
			listenCmd(),
		},
	}
}

package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/urfave/cli/v3"

	"github.com/avihaie/bug-hunter/pkg/config"
	"github.com/avihaie/bug-hunter/pkg/envstate"
	"github.com/avihaie/bug-hunter/pkg/notifier"
	"github.com/avihaie/bug-hunter/pkg/orchestrator"
	"github.com/avihaie/bug-hunter/pkg/report"
	"github.com/avihaie/bug-hunter/pkg/util"
	"github.com/avihaie/bug-hunter/pkg/watcher"
)

func huntCmd() *cli.Command {
	return &cli.Command{
		Name:  "hunt",
		Usage: "Watch for the fault, then collect logs, correlate and write the report",
		Description: `Runs one hunt as described by a YAML run configuration:

  1. snapshot the environment state
  2. follow the watched logs until the fault pattern matches (or the timeout elapses)
  3. truncate and fetch logs from every host, resolve component versions
  4. notify, re-snapshot and build the event timeline
  5. write the bug report into the session directory

# Example

  bug-hunter hunt --config run.yaml`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "path to the run configuration",
				Sources:  cli.EnvVars("BUG_HUNTER_CONFIG"),
				Required: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return err
			}
			return runHunt(ctx, cfg)
		},
	}
}

func runHunt(ctx context.Context, cfg *config.Config) error {
	dialer := util.DefaultDialer{}

	var opts []notifier.Option
	if cfg.RabbitMQ != nil {
		rmq := util.NewRabbitMQClient(cfg.RabbitMQ)
		defer rmq.Close()
		if err := rmq.Connect(ctx); err != nil {
			slog.Error("fault events will not be published", slog.String("error", err.Error()))
		} else {
			opts = append(opts, notifier.WithPublisher(rmq))
		}
	}

	deps := orchestrator.Deps{
		Dialer:  dialer,
		Watcher: watcher.New(dialer),
		Notifier: notifier.New(notifier.Config{
			TestLabel:      cfg.TestLabel,
			TargetAddress:  cfg.Mail.Target,
			SenderAddress:  cfg.Mail.Sender,
			SenderPassword: cfg.Mail.Password,
			SMTPServer:     cfg.Mail.Server,
		}, opts...),
		Reporter: report.New(),
	}
	if cfg.EnvState.Endpoint != "" {
		deps.EnvState = envstate.New(cfg.EnvState.Endpoint, cfg.EnvState.Password, envstate.WithUser(cfg.EnvState.User))
	}

	out, err := orchestrator.New(cfg, deps).Run(ctx)
	if err != nil {
		return err
	}

	slog.Info("hunt finished",
		slog.String("session", out.Session.Dir),
		slog.String("report", out.ReportPath))
	if out.CorrelationErr != nil {
		return fmt.Errorf("report written to %s without a timeline: %w", out.ReportPath, out.CorrelationErr)
	}
	return nil
}

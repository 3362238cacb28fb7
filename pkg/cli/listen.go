package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/avihaie/bug-hunter/pkg/models"
	"github.com/avihaie/bug-hunter/pkg/util"
)

func listenCmd() *cli.Command {
	def := models.DefaultRabbitMQConfig()
	return &cli.Command{
		Name:  "listen",
		Usage: "Print fault events published by hunt runs",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Usage:   "AMQP URL",
				Sources: cli.EnvVars("BUG_HUNTER_AMQP_URL"),
				Value:   def.URL,
			},
			&cli.StringFlag{
				Name:  "exchange",
				Usage: "exchange the hunt runs publish to",
				Value: def.Exchange,
			},
			&cli.StringFlag{
				Name:  "queue",
				Usage: "queue bound to the exchange",
				Value: def.QueueName,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := models.DefaultRabbitMQConfig()
			cfg.URL = cmd.String("url")
			cfg.Exchange = cmd.String("exchange")
			cfg.QueueName = cmd.String("queue")

			client := util.NewRabbitMQClient(cfg)
			defer client.Close()

			if err := client.Connect(ctx); err != nil {
				return err
			}
			queue, err := client.CreateQueue(ctx)
			if err != nil {
				return err
			}

			slog.Info("listening for fault events", slog.String("queue", queue))
			w := cmd.Root().Writer
			return client.Consume(ctx, queue, func(event *models.FaultEvent) error {
				return printEvent(w, event)
			})
		},
	}
}

func printEvent(w io.Writer, e *models.FaultEvent) error {
	_, err := fmt.Fprintf(w, "%s [%s] test=%s host=%s pattern=%q\n  %s\n  logs: %s\n",
		e.Timestamp.Format(time.RFC3339), e.RunID, e.TestLabel, e.SourceID, e.Pattern, e.Payload, e.LogDirectory)
	return err
}

package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/avihaie/bug-hunter/pkg/config"
	"github.com/avihaie/bug-hunter/pkg/defaults"
	"github.com/avihaie/bug-hunter/pkg/envstate"
)

func envStateCmd() *cli.Command {
	return &cli.Command{
		Name:  "env-state",
		Usage: "Write the status of the manager's resources to a file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "endpoint",
				Aliases:  []string{"e"},
				Usage:    "manager address without scheme",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "password",
				Aliases:  []string{"p"},
				Usage:    "API password",
				Sources:  cli.EnvVars(config.EnvStatePasswordEnv),
				Required: true,
			},
			&cli.StringFlag{
				Name:  "user",
				Usage: "API user",
				Value: defaults.EnvStateUser,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "result file (default " + defaults.LogsRoot + "/env_state_file_<time>.txt)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			output := cmd.String("output")
			if output == "" {
				root, err := config.ExpandHome(defaults.LogsRoot)
				if err != nil {
					return err
				}
				if err := os.MkdirAll(root, 0o755); err != nil {
					return fmt.Errorf("failed to create %s: %w", root, err)
				}
				output = filepath.Join(root, fmt.Sprintf("env_state_file_%s.txt", time.Now().Format("2006-01-02_15:04:05")))
			}

			c := envstate.New(cmd.String("endpoint"), cmd.String("password"), envstate.WithUser(cmd.String("user")))
			if err := c.Snapshot(ctx, output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.Root().Writer, "environment state written to %s\n", output)
			return nil
		},
	}
}

// AngelaMos | 2026
// main.go

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/carterperez-dev/templates/identity-backend/internal/config"
)

// Version is set via ldflags during build.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		slog.Error("application error", "error", err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to an optional YAML config file",
		Sources: cli.EnvVars("CONFIG_PATH"),
	}

	return &cli.Command{
		Name:    "identity",
		Usage:   "User identity backend",
		Version: Version,
		Flags:   []cli.Flag{configFlag},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Run the HTTP API and the cleanup scheduler",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "migrate",
						Usage:   "apply pending migrations before serving",
						Sources: cli.EnvVars("MIGRATE_ON_START"),
					},
				},
				Action: serveAction,
			},
			{
				Name:      "migrate",
				Usage:     "Manage the database schema",
				ArgsUsage: "up|down|status",
				Action:    migrateAction,
			},
			{
				Name:   "sweep",
				Usage:  "Delete expired unverified accounts once and exit",
				Action: sweepAction,
			},
			{
				Name:  "keygen",
				Usage: "Generate the ES256 key pair used for access tokens",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "private",
						Value: "keys/private.pem",
						Usage: "output path of the private key",
					},
					&cli.StringFlag{
						Name:  "public",
						Value: "keys/public.pem",
						Usage: "output path of the public key",
					},
				},
				Action: keygenAction,
			},
		},
	}
}

// bootstrap loads configuration and installs the process logger.
func bootstrap(cmd *cli.Command) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger := setupLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	return cfg, logger, nil
}

// AngelaMos | 2026
// commands.go

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/carterperez-dev/templates/identity-backend/internal/auth"
	"github.com/carterperez-dev/templates/identity-backend/internal/core"
	"github.com/carterperez-dev/templates/identity-backend/internal/events"
	"github.com/carterperez-dev/templates/identity-backend/internal/migrations"
	"github.com/carterperez-dev/templates/identity-backend/internal/user"
)

func migrateAction(ctx context.Context, cmd *cli.Command) error {
	direction := cmd.Args().First()
	if direction == "" {
		direction = "up"
	}

	switch direction {
	case "up", "down", "status":
	default:
		return fmt.Errorf("unknown migrate direction %q (want up, down or status)", direction)
	}

	cfg, logger, err := bootstrap(cmd)
	if err != nil {
		return err
	}

	db, err := core.NewDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeWith(logger, "database", db.Close)

	switch direction {
	case "up":
		err = migrations.Up(ctx, db.DB.DB)
	case "down":
		err = migrations.Down(ctx, db.DB.DB)
	case "status":
		err = migrations.Status(ctx, db.DB.DB)
	}
	if err != nil {
		return err
	}

	logger.Info("migrate finished", "direction", direction)
	return nil
}

func sweepAction(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := bootstrap(cmd)
	if err != nil {
		return err
	}

	db, err := core.NewDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeWith(logger, "database", db.Close)

	publisher := events.New(cfg.Events, logger)
	defer closeWith(logger, "event publisher", publisher.Close)

	sweeper := newSweeper(cfg.Cleanup, user.NewRepository(db.DB), publisher, nil, logger)

	deleted, err := sweeper.Sweep(ctx, cfg.Cleanup.Retention)
	if err != nil {
		return fmt.Errorf("sweep after %d deletions: %w", deleted, err)
	}

	purged, err := auth.NewRepository(db.DB).DeleteExpired(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("purge verification tokens: %w", err)
	}

	logger.Info("sweep finished",
		"deleted_users", deleted,
		"purged_tokens", purged,
		"retention", cfg.Cleanup.Retention,
	)
	return nil
}

func keygenAction(_ context.Context, cmd *cli.Command) error {
	privatePath := cmd.String("private")
	publicPath := cmd.String("public")

	for _, path := range []string{privatePath, publicPath} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create key directory: %w", err)
		}
	}

	if err := auth.GenerateKeyPair(privatePath, publicPath); err != nil {
		return err
	}

	fmt.Printf("wrote %s and %s\n", privatePath, publicPath)
	return nil
}

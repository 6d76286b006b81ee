// AngelaMos | 2026
// serve.go

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/carterperez-dev/templates/identity-backend/internal/admin"
	"github.com/carterperez-dev/templates/identity-backend/internal/auth"
	"github.com/carterperez-dev/templates/identity-backend/internal/cleanup"
	"github.com/carterperez-dev/templates/identity-backend/internal/config"
	"github.com/carterperez-dev/templates/identity-backend/internal/core"
	"github.com/carterperez-dev/templates/identity-backend/internal/events"
	"github.com/carterperez-dev/templates/identity-backend/internal/health"
	"github.com/carterperez-dev/templates/identity-backend/internal/middleware"
	"github.com/carterperez-dev/templates/identity-backend/internal/migrations"
	"github.com/carterperez-dev/templates/identity-backend/internal/notify"
	"github.com/carterperez-dev/templates/identity-backend/internal/server"
	"github.com/carterperez-dev/templates/identity-backend/internal/user"
)

const shutdownGrace = 5 * time.Second

//nolint:funlen // bootstrap code is inherently verbose
func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, logger, err := bootstrap(cmd)
	if err != nil {
		return err
	}

	logger.Info("starting application",
		"name", cfg.App.Name,
		"version", cfg.App.Version,
		"environment", cfg.App.Environment,
	)

	telemetry, err := core.NewTelemetry(ctx, cfg.Otel, cfg.App)
	if err != nil {
		logger.Warn("failed to initialize telemetry", "error", err)
	} else if cfg.Otel.Enabled {
		logger.Info("OpenTelemetry tracer initialized",
			"endpoint", cfg.Otel.Endpoint,
		)
	}

	db, err := core.NewDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeWith(logger, "database", db.Close)
	logger.Info("database connected",
		"max_open_conns", cfg.Database.MaxOpenConns,
		"max_idle_conns", cfg.Database.MaxIdleConns,
	)

	if cmd.Bool("migrate") {
		if err := migrations.Up(ctx, db.DB.DB); err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}

	redis, err := core.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeWith(logger, "redis", redis.Close)
	logger.Info("redis connected",
		"pool_size", cfg.Redis.PoolSize,
	)

	tokens, err := auth.NewTokenService(cfg.JWT)
	if err != nil {
		return err
	}
	logger.Info("token service initialized",
		"algorithm", "ES256",
		"key_id", tokens.KeyID(),
	)

	hasher, err := core.NewArgon2Hasher(core.DefaultArgonParams())
	if err != nil {
		return err
	}

	notifier, err := notify.New(cfg.SMTP, logger)
	if err != nil {
		return err
	}
	logger.Info("notifier initialized", "mode", notifier.Mode())

	publisher := events.New(cfg.Events, logger)
	defer closeWith(logger, "event publisher", publisher.Close)

	var metrics *core.Metrics
	if cfg.Metrics.Enabled {
		metrics = core.NewMetrics(cfg.Metrics.Namespace)
	}

	policy := auth.NewPasswordPolicy(cfg.Auth.Password)

	userRepo := user.NewRepository(db.DB)
	userSvc := user.NewService(userRepo, hasher, policy, publisher, logger)
	userHandler := user.NewHandler(userSvc)

	var (
		denylist *auth.Denylist
		guard    *middleware.Guard
	)
	if cfg.Auth.DenylistEnabled {
		denylist = auth.NewDenylist(redis.Client)
		guard = middleware.NewGuard(tokens, denylist)
	} else {
		guard = middleware.NewGuard(tokens, nil)
	}

	authSvc := auth.NewService(auth.ServiceDeps{
		Repo:                 auth.NewRepository(db.DB),
		Tokens:               tokens,
		Users:                userSvc,
		Hasher:               hasher,
		Policy:               policy,
		Notifier:             notifier,
		Publisher:            publisher,
		Metrics:              metrics,
		Logger:               logger,
		Denylist:             denylist,
		RequireVerifiedLogin: cfg.Auth.RequireVerifiedLogin,
	})
	authHandler := auth.NewHandler(authSvc)

	scheduler := cleanup.NewScheduler(
		newSweeper(cfg.Cleanup, userRepo, publisher, metrics, logger),
		authSvc,
		cfg.Cleanup,
		logger,
	)

	healthHandler := health.NewHandler(health.Config{
		App:       cfg.App,
		DB:        db,
		Cache:     redis,
		EmailMode: notifier.Mode,
	})

	adminHandler := admin.NewHandler(admin.HandlerConfig{
		DBStats:    db.Stats,
		RedisStats: redis.PoolStats,
		DBPing:     db.Ping,
		RedisPing:  redis.Ping,
		Cleanup:    scheduler,
	})

	srv := server.New(server.Config{
		ServerConfig:  cfg.Server,
		HealthHandler: healthHandler,
		Logger:        logger,
	})

	router := srv.Router()

	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer(logger))
	router.Use(middleware.Tracing)
	router.Use(middleware.Logger(logger))
	if metrics != nil {
		router.Use(middleware.Metrics(metrics))
	}
	router.Use(
		middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
			Limit:      middleware.GlobalLimit(cfg.RateLimit),
			FailOpen:   true,
			BypassFunc: isProbe,
			Logger:     logger,
		}).Handler,
	)
	router.Use(middleware.SecurityHeaders(cfg.App.Environment == "production"))
	router.Use(middleware.CORS(cfg.CORS))

	healthHandler.RegisterRoutes(router)

	router.Get("/.well-known/jwks.json", tokens.JWKSHandler())
	if metrics != nil {
		router.Handle("/metrics", metrics.Handler())
	}

	authenticator := middleware.Authenticator(guard)
	authLimiter := middleware.NewRateLimiter(redis.Client, middleware.RateLimitConfig{
		Limit:    middleware.AuthLimit(cfg.RateLimit),
		KeyFunc:  middleware.KeyByIPAndEndpoint,
		FailOpen: true,
		Logger:   logger,
	}).Handler

	authHandler.RegisterRoutes(router, authenticator, authLimiter)
	userHandler.RegisterRoutes(router, authenticator)
	adminHandler.RegisterRoutes(router, authenticator, middleware.RequireAdmin)

	var workers sync.WaitGroup
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	if cfg.Cleanup.Enabled {
		workers.Add(1)
		go func() {
			defer workers.Done()
			scheduler.Run(workerCtx)
		}()
	} else {
		logger.Info("cleanup scheduler disabled")
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	var serveErr error
	select {
	case serveErr = <-errChan:
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		cfg.Server.ShutdownTimeout+cfg.Server.DrainDelay+shutdownGrace,
	)
	defer cancel()

	if serveErr == nil {
		if err := srv.Shutdown(shutdownCtx, cfg.Server.DrainDelay); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}

	stopWorkers()
	workers.Wait()

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}

	logger.Info("application stopped")
	return serveErr
}

func newSweeper(
	cfg config.CleanupConfig,
	store cleanup.UserStore,
	publisher events.Publisher,
	metrics *core.Metrics,
	logger *slog.Logger,
) *cleanup.Sweeper {
	return cleanup.NewSweeper(cleanup.SweeperDeps{
		Store:      store,
		Publisher:  publisher,
		Metrics:    metrics,
		Logger:     logger,
		BatchSize:  cfg.BatchSize,
		MaxBatches: cfg.MaxBatches,
	})
}

func isProbe(r *http.Request) bool {
	path := r.URL.Path
	return path == "/metrics" ||
		path == "/healthz" ||
		path == "/livez" ||
		path == "/readyz" ||
		path == "/health" ||
		strings.HasPrefix(path, "/health/")
}

func closeWith(logger *slog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Error(fmt.Sprintf("%s close error", name), "error", err)
	}
}

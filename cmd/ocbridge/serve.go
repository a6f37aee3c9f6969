package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/ocbridge/internal/config"
	"github.com/ehr/ocbridge/internal/domain/resolution"
	"github.com/ehr/ocbridge/internal/domain/study"
	"github.com/ehr/ocbridge/internal/platform/auth"
	"github.com/ehr/ocbridge/internal/platform/db"
	"github.com/ehr/ocbridge/internal/platform/middleware"
	"github.com/ehr/ocbridge/internal/platform/openclinica"
	"github.com/ehr/ocbridge/internal/platform/telemetry"
	"github.com/ehr/ocbridge/internal/platform/transform"
	"github.com/ehr/ocbridge/internal/platform/webhook"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the resolution API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// serverDeps are the collaborators the HTTP server is assembled from.
type serverDeps struct {
	cfg     *config.Config
	logger  zerolog.Logger
	remote  study.Service
	ping    db.Check
	pool    *pgxpool.Pool
	runs    resolution.RunRepository
	metrics *telemetry.Metrics
	views   resolution.Views
	notify  *webhook.Notifier
}

func newServer(d serverDeps) (*echo.Echo, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(d.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(d.logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(d.metrics.Middleware())
	e.Use(middleware.BodyLimit(d.cfg.MaxBodySize))
	e.Use(middleware.RequestTimeout(d.cfg.RequestTimeout, "/metrics"))

	checks := map[string]db.Check{}
	if d.ping != nil {
		checks["openclinica"] = d.ping
	}
	if d.pool != nil {
		checks["database"] = db.PoolCheck(d.pool)
	}
	e.GET("/health", db.HealthHandler(d.pool, checks))
	e.GET("/metrics", d.metrics.Handler())

	api := e.Group("/api/v1")
	if d.cfg.AuthEnabled() {
		authCfg := auth.Config{
			Issuer:     d.cfg.AuthIssuer,
			Audience:   d.cfg.AuthAudience,
			SigningKey: []byte(d.cfg.AuthSigningKey),
		}
		if d.cfg.AuthSigningKey == "" {
			authCfg.JWKS = auth.NewJWKSCache(d.cfg.AuthJWKSURL, 0)
		}
		jwtMW, err := auth.JWTMiddleware(authCfg)
		if err != nil {
			return nil, err
		}
		api.Use(jwtMW)
	} else {
		d.logger.Warn().Msg("API authentication disabled; every request is granted admin access")
		api.Use(auth.DevMiddleware())
	}
	api.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: d.cfg.RateLimitRPS,
		BurstSize:         d.cfg.RateLimitBurst,
	}))

	opts := []resolution.Option{
		resolution.WithLogger(d.logger.With().Str("component", "resolution").Logger()),
		resolution.WithMetrics(d.metrics),
	}
	if d.runs != nil {
		opts = append(opts, resolution.WithRunRepository(d.runs))
	}
	if d.notify != nil {
		opts = append(opts, resolution.WithRunListener(runNotifier(d.notify)))
	}
	svc := resolution.NewService(d.remote, opts...)
	resolution.NewHandler(svc, d.views).RegisterRoutes(api)

	return e, nil
}

// runNotifier posts every finished run as a resolution.run.<status> event.
func runNotifier(n *webhook.Notifier) resolution.RunListener {
	return resolution.RunListenerFunc(func(_ context.Context, run *resolution.Run) {
		n.Dispatch("resolution.run."+run.Status, run, time.Minute)
	})
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cfg, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return err
	}

	ctx := context.Background()
	metrics := telemetry.New()

	client, err := newClient(cfg, logger, openclinica.WithObserver(metrics))
	if err != nil {
		return err
	}

	deps := serverDeps{
		cfg:     cfg,
		logger:  logger,
		remote:  client,
		ping:    client.Ping,
		metrics: metrics,
	}

	// Run journal
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return err
		}
		defer pool.Close()
		n, err := db.NewMigrator(pool, db.Migrations()).Up(ctx)
		if err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		logger.Info().Int("applied", n).Msg("connected to database")
		deps.pool = pool
		deps.runs = resolution.NewRunRepoPG(pool)
	} else {
		logger.Warn().Msg("DATABASE_URL not set; run journal kept in memory")
		deps.runs = resolution.NewInMemoryRunRepository()
	}

	if cfg.TemplateDir != "" {
		deps.views = transform.NewCache(os.DirFS(cfg.TemplateDir))
		logger.Info().Str("dir", cfg.TemplateDir).Msg("templates enabled")
	}

	if cfg.WebhookURL != "" {
		notify, err := webhook.NewNotifier(cfg.WebhookURL, cfg.WebhookSecret,
			webhook.WithLogger(logger.With().Str("component", "webhook").Logger()))
		if err != nil {
			return err
		}
		defer notify.Close()
		deps.notify = notify
		logger.Info().Str("url", cfg.WebhookURL).Msg("run notifications enabled")
	}

	e, err := newServer(deps)
	if err != nil {
		return err
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("openclinica", cfg.OCWebServicesURL).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

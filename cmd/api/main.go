package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"dashboard/internal/http/handlers"
	httpapi "dashboard/internal/http/httpapi"
	"dashboard/internal/infra"
	"dashboard/internal/providers/reve"
	"dashboard/internal/renders"
	"dashboard/internal/status"
	"dashboard/internal/timeline"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg)
	metrics := infra.NewMetrics("dashboard")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Status bus with delayed purge of finished requests
	cleanup := status.NewCleanupScheduler(status.DefaultCleanupDelay, status.SystemClock, &logger)
	bus := status.NewBus(
		status.WithLogger(logger),
		status.WithCleanup(cleanup),
		status.WithObserver(metrics),
	)
	cleanup.Bind(bus.ClearStatusHistory)
	go cleanup.Run(ctx, status.DefaultCleanupTick)

	rendersClient := renders.NewClient(renders.Options{
		BaseURL: cfg.RendersBaseURL,
		Token:   cfg.RendersToken,
		Timeout: cfg.RendersTimeout,
		Logger:  &logger,
	})
	reveClient := reve.NewClient(reve.Options{
		APIKey:       cfg.FalKey,
		BaseURL:      cfg.ReveBaseURL,
		PollInterval: cfg.RevePollInterval,
		Timeout:      cfg.ReveTimeout,
		Logger:       &logger,
		Publisher:    bus,
	})
	if cfg.RendersBaseURL == "" {
		logger.Warn().Msg("RENDERS_BASE_URL is not set; renders requests will fail")
	}
	if !reveClient.HasCredentials() {
		logger.Warn().Msg("FAL_KEY is not set; reve requests will fail")
	}

	var recorder timeline.Recorder = timeline.NopRecorder{}
	dbpool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect database")
	}
	if dbpool != nil {
		defer dbpool.Close()
		pg := timeline.NewPGRecorder(infra.NewSQLRunner(dbpool, logger))
		if err := pg.EnsureSchema(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to prepare timeline schema")
		}
		recorder = pg
		logger.Info().Msg("timeline recorder enabled")
	}

	app := handlers.NewApp(bus, rendersClient, reveClient,
		handlers.WithRecorder(recorder),
		handlers.WithMetrics(metrics),
		handlers.WithLogger(logger),
		handlers.WithBackend(cfg.GenerationBackend),
	)

	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		Metrics:         metrics,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		TrustProxy:      cfg.TrustProxyHeaders,
	})

	server := infra.NewHTTPServer(cfg, router)
	logger.Info().Msgf("API listening on :%s", cfg.Port)
	if err := server.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("http server stopped with error")
	}
	logger.Info().Msg("server stopped")
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rkgudboy/patient-data-extraction/internal/config"
	"github.com/rkgudboy/patient-data-extraction/internal/domain/patient"
	"github.com/rkgudboy/patient-data-extraction/internal/platform/auth"
	"github.com/rkgudboy/patient-data-extraction/internal/platform/db"
	"github.com/rkgudboy/patient-data-extraction/internal/platform/dedup"
	"github.com/rkgudboy/patient-data-extraction/internal/platform/middleware"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "patient-server",
		Short:        "Patient record intake and deduplication service",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(analyzeCmd())
	rootCmd.AddCommand(validateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func engineConfig(cfg *config.Config) dedup.Config {
	return dedup.Config{
		PartialMatchThreshold: cfg.PartialMatchThreshold,
		SuggestionThreshold:   cfg.SuggestionThreshold,
		CandidateLimit:        cfg.CandidateLimit,
		StoreTimeout:          cfg.StoreTimeout,
		BatchConcurrency:      cfg.AnalyzeConcurrency,
	}
}

func breakerConfig(cfg *config.Config) dedup.BreakerConfig {
	bc := dedup.DefaultBreakerConfig()
	bc.MaxFailures = cfg.BreakerMaxFailures
	bc.OpenTimeout = cfg.BreakerOpenTimeout
	return bc
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}
	engineCfg := engineConfig(cfg)
	if err := engineCfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid matching engine config")
	}
	if cfg.IsDev() {
		logger.Warn().Msg("ENV=development: authentication is disabled and every request is treated as admin")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := dedup.NewMetrics(reg)

	repo := patient.NewRecordRepo(pool)
	store := dedup.NewBreakerStore(repo, breakerConfig(cfg), metrics, logger)
	engine := dedup.NewEngine(store, engineCfg, metrics, logger)
	svc := patient.NewService(repo, engine, logger)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
	}))
	e.Use(echomw.BodyLimit("2M"))

	e.GET("/health", db.HealthHandler(pool, store))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}))
	if cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}

	dedup.NewHandler(engine).RegisterRoutes(apiV1)
	patient.NewHandler(svc).RegisterRoutes(apiV1)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
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
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

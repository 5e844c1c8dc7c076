package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"roomwatch/internal/core/domain"
	"roomwatch/internal/core/ports"
	"roomwatch/internal/core/services"
	httphandlers "roomwatch/internal/handlers/http"
	"roomwatch/internal/infrastructure/distributed"
	"roomwatch/internal/infrastructure/middleware"
	"roomwatch/internal/infrastructure/monitoring"
	repositories "roomwatch/internal/infrastructure/repositories"
	"roomwatch/internal/infrastructure/telemetry"
	"roomwatch/pkg/circuitbreaker"
	"roomwatch/pkg/config"
	"roomwatch/pkg/logger"
	"roomwatch/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tried in order when -config is not given.
var defaultConfigPaths = []string{
	"configs/config.yaml",
	"/etc/roomwatch/config.yaml",
	"config.yaml",
}

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(resolveConfigPath(*configPath))
	if err != nil {
		// logger is not configured yet
		bootstrap := logger.New("info").Sugar()
		bootstrap.Fatalw("failed to load configuration", "error", err)
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "roomwatch",
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialise tracing", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage
	repoFactory := repositories.NewRepositoryFactory(ctx, cfg, log)
	backend := "memory"
	if repoFactory.UsesRedis() {
		backend = "redis"
	}
	reports := repositories.WithTracing(repoFactory.CreateReportRepository(), backend)
	storeBreaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.Redis.BreakerThreshold,
		OpenTimeout:      cfg.Redis.BreakerTimeout,
	})
	storeBreaker.OnStateChange(func(from, to circuitbreaker.State) {
		log.Warnw("report store circuit changed", "from", from, "to", to)
	})

	// Metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := monitoring.NewPrometheusCollector(registry)

	// Live dashboard feed
	hub := telemetry.NewHub(telemetry.HubConfig{
		PingInterval:   cfg.WebSocket.PingInterval,
		PongTimeout:    cfg.WebSocket.PongTimeout,
		WriteTimeout:   cfg.WebSocket.WriteTimeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, log.Named("hub"))

	sinks := []ports.ReportSink{repositories.NewReportSink(reports, storeBreaker), collector, hub}
	if repoFactory.UsesRedis() {
		relay := distributed.NewReportRelay(repoFactory.RedisClient(), uuid.NewString(), log.Named("relay"))
		sinks = append(sinks, relay)
		go func() {
			if err := relay.Run(ctx, hub); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorw("report relay stopped", "error", err)
			}
		}()
	}

	// Monitoring core
	classifier := services.NewQualityService(cfg.Quality.Bands)
	monitors := services.NewMonitorRegistry(
		services.MonitorConfig{
			SampleInterval: cfg.Monitor.SampleInterval,
			MinInterval:    cfg.Monitor.MinInterval,
		},
		classifier,
		collector,
		log.Named("monitor"),
		sinks...,
	)
	sessions := telemetry.NewSessionStore(cfg.Monitor.StaleAfter, cfg.Monitor.IdleTimeout, time.Now, log.Named("sessions"))

	if cfg.Monitor.IdleTimeout > 0 {
		go sessions.RunJanitor(ctx, cfg.Monitor.IdleTimeout/4, func(id domain.SessionID) {
			removeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := monitors.Remove(removeCtx, id); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
				log.Warnw("failed to remove idle session", "session_id", id, "error", err)
			}
		})
	}

	tokens := services.NewTokenService(cfg.Auth.APIKey, cfg.Auth.APISecret, cfg.Auth.TokenTTL)

	// Health
	checker := monitoring.NewHealthChecker()
	if repoFactory.UsesRedis() {
		checker.AddRedisCheck(repoFactory.RedisClient(), 2*time.Second)
	}

	// HTTP
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestLoggerMiddleware(logger.NewContextLogger(zapLogger)),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(log),
	)

	httphandlers.NewTokenHandler(tokens, cfg.Auth.MediaURL, collector, log.Named("token")).
		SetupRoutes(router, middleware.NewHTTPRateLimitMiddleware(cfg))
	httphandlers.NewQualityHandler(monitors, sessions, reports, classifier, hub, log.Named("quality")).
		SetupRoutes(router, middleware.RoomTokenMiddleware(tokens))
	httphandlers.NewHealthHandler(checker, monitors.Count).SetupRoutes(router)

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting roomwatch server", "address", cfg.Server.Address, "store", backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case <-ctx.Done():
		log.Info("Received shutdown signal")
	}

	log.Info("Shutting down roomwatch server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	monitors.Close()

	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer provider", "error", err)
	}

	log.Info("roomwatch server stopped")
}

// resolveConfigPath returns the explicit path, the first default that exists,
// or the first default (Load then falls back to built-in defaults).
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv("ROOMWATCH_CONFIG"); env != "" {
		return env
	}
	for _, path := range defaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return defaultConfigPaths[0]
}

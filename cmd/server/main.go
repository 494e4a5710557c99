package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/quantfall/barfeed-go/internal/api"
	"github.com/quantfall/barfeed-go/internal/cache"
	"github.com/quantfall/barfeed-go/internal/config"
	"github.com/quantfall/barfeed-go/internal/database"
	"github.com/quantfall/barfeed-go/internal/exchange"
	"github.com/quantfall/barfeed-go/internal/logging"
	"github.com/quantfall/barfeed-go/internal/middleware"
	"github.com/quantfall/barfeed-go/internal/observability"
	"github.com/quantfall/barfeed-go/internal/services"
	"github.com/quantfall/barfeed-go/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Local development convenience; the file is absent in production.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx := context.Background()

	if err := telemetry.Init(ctx, cfg.Telemetry, cfg.Environment); err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to shutdown telemetry: %v\n", err)
		}
	}()

	if err := observability.InitSentry(cfg.Sentry, cfg.Telemetry.ServiceVersion, cfg.Environment); err != nil {
		return fmt.Errorf("failed to initialize sentry: %w", err)
	}
	defer observability.Flush(context.Background())

	standardLogger := logging.NewServiceLogger(cfg.Telemetry, cfg.LogLevel, cfg.Environment)
	logger := standardLogger.Logger()
	standardLogger.LogStartup("barfeed", cfg.Telemetry.ServiceVersion, cfg.Server.Port)

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	redisClient, err := database.NewRedisConnection(cfg.Redis)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	defer redisClient.Close()

	catalog := cache.NewMarketCatalog(redisClient.Client, config.Duration(cfg.Cache.CatalogTTL, 6*time.Hour))

	registry, err := exchange.NewRegistry(ctx, cfg.Providers, catalog, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize provider registry: %w", err)
	}
	defer registry.Close()

	alerter, err := services.NewAlerter(cfg.Telegram, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize alerter: %w", err)
	}
	for _, degraded := range registry.Degraded() {
		alerter.ProviderDegraded(ctx, degraded.Name, degraded.InitError)
	}

	bars := cache.NewBarCache()
	cacheAnalytics := services.NewCacheAnalyticsService(redisClient.Client)

	analyticsCtx, cancelAnalytics := context.WithCancel(context.Background())
	defer cancelAnalytics()
	cacheAnalytics.StartPeriodicReporting(analyticsCtx, 5*time.Minute)

	collector := services.NewCollector(registry, bars, logger)
	collector.SetAnalytics(cacheAnalytics)
	collector.SetNotifier(alerter)

	var archive *services.Archive
	if cfg.Archive.Enabled {
		archive = services.NewArchive(db.Pool, cfg.Archive, logger)
		archive.Start()
		defer archive.Stop()
		collector.SetArchive(archive)
	}

	cleanup := services.NewCleanupService(db.Pool)
	cleanup.Start(cfg.Cleanup)
	defer cleanup.Stop()

	monitor := services.NewResourceMonitor(services.ResourceMonitorConfig{}, logger)
	monitor.Start(time.Minute)
	defer monitor.Stop()

	refresh := services.NewRefreshService(collector, monitor, cfg.MarketData, logger)
	refresh.Start()
	defer refresh.Stop()

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.Use(otelgin.Middleware("barfeed"))
	router.Use(middleware.RequestID())
	router.Use(middleware.TelemetryMiddleware())

	deps := api.Dependencies{
		Config:         cfg,
		DB:             db,
		Redis:          redisClient,
		Registry:       registry,
		Catalog:        catalog,
		Collector:      collector,
		Bars:           bars,
		CacheAnalytics: cacheAnalytics,
		Cleanup:        cleanup,
		Monitor:        monitor,
	}
	if archive != nil {
		deps.Archive = archive
	}
	api.SetupRoutes(router, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	standardLogger.LogShutdown("barfeed", "signal received")
	return nil
}

package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quantfall/barfeed-go/internal/api/handlers"
	"github.com/quantfall/barfeed-go/internal/cache"
	"github.com/quantfall/barfeed-go/internal/config"
	"github.com/quantfall/barfeed-go/internal/database"
	"github.com/quantfall/barfeed-go/internal/middleware"
	"github.com/quantfall/barfeed-go/internal/services"
)

// Dependencies carries everything the route handlers need. Optional fields
// (Archive, Monitor) may be nil; the handlers degrade gracefully.
type Dependencies struct {
	Config         *config.Config
	DB             *database.PostgresDB
	Redis          *database.RedisClient
	Registry       handlers.ProviderDirectory
	Catalog        handlers.CatalogReader
	Collector      handlers.BarService
	Bars           *cache.BarCache
	CacheAnalytics *services.CacheAnalyticsService
	Archive        handlers.ArchiveStatsProvider
	Cleanup        handlers.CleanupInterface
	Monitor        handlers.SystemInfoProvider
}

// SetupRoutes registers all HTTP endpoints on the router.
func SetupRoutes(router *gin.Engine, deps Dependencies) {
	version := "dev"
	responseTTL := 30 * time.Second
	var cleanupDefaults config.CleanupConfig
	if deps.Config != nil {
		responseTTL = config.Duration(deps.Config.Cache.ResponseTTL, responseTTL)
		cleanupDefaults = deps.Config.Cleanup
		if deps.Config.Telemetry.ServiceVersion != "" {
			version = deps.Config.Telemetry.ServiceVersion
		}
	}

	healthHandler := handlers.NewHealthHandler(deps.DB, deps.Redis, deps.Registry, deps.Monitor, version)
	marketHandler := handlers.NewMarketHandler(deps.Collector, deps.Redis, deps.CacheAnalytics, responseTTL)
	providersHandler := handlers.NewProvidersHandler(deps.Registry, deps.Catalog)
	cacheHandler := handlers.NewCacheHandler(deps.CacheAnalytics, deps.Bars, deps.Archive)

	router.GET("/health", healthHandler.HealthCheck)
	router.GET("/ready", healthHandler.ReadinessCheck)
	router.GET("/live", healthHandler.LivenessCheck)

	v1 := router.Group("/api/v1")
	{
		market := v1.Group("/market")
		{
			market.GET("/ohlcv", marketHandler.GetOHLCV)
			market.GET("/ticker", marketHandler.GetTicker)
		}

		providers := v1.Group("/providers")
		{
			providers.GET("", providersHandler.GetProviders)
			providers.GET("/catalogs", providersHandler.GetCatalogVenues)
			providers.GET("/:name/markets", providersHandler.GetProviderMarkets)
		}

		cacheGroup := v1.Group("/cache")
		{
			cacheGroup.GET("/stats", cacheHandler.GetCacheStats)
			cacheGroup.GET("/stats/:category", cacheHandler.GetCacheStatsByCategory)
			cacheGroup.GET("/metrics", cacheHandler.GetCacheMetrics)
		}

		admin := v1.Group("/admin")
		admin.Use(middleware.NewAdminMiddleware().RequireAdminAuth())
		{
			admin.POST("/refresh", marketHandler.ForceRefresh)
			admin.POST("/cache/clear", cacheHandler.ClearCaches)
			if deps.Cleanup != nil {
				cleanupHandler := handlers.NewCleanupHandler(deps.Cleanup, cleanupDefaults)
				admin.POST("/cleanup", cleanupHandler.TriggerCleanup)
				admin.GET("/archive/stats", cleanupHandler.GetDataStats)
			}
		}
	}
}

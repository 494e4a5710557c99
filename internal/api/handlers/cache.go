package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quantfall/barfeed-go/internal/cache"
	"github.com/quantfall/barfeed-go/internal/services"
)

// CacheAnalyticsInterface defines the analytics operations the cache handler
// exposes.
type CacheAnalyticsInterface interface {
	GetStats(category string) services.CacheStats
	GetAllStats() map[string]services.CacheStats
	GetMetrics(ctx context.Context) (*services.CacheMetrics, error)
	ResetStats()
}

// ArchiveStatsProvider reports archive queue counters. *services.Archive
// satisfies it.
type ArchiveStatsProvider interface {
	Stats() services.ArchiveStats
}

// CacheHandler handles cache monitoring and analytics endpoints.
type CacheHandler struct {
	cacheAnalytics CacheAnalyticsInterface
	bars           *cache.BarCache
	archive        ArchiveStatsProvider
}

// NewCacheHandler creates a new cache handler. The archive is optional.
func NewCacheHandler(cacheAnalytics CacheAnalyticsInterface, bars *cache.BarCache, archive ArchiveStatsProvider) *CacheHandler {
	return &CacheHandler{
		cacheAnalytics: cacheAnalytics,
		bars:           bars,
		archive:        archive,
	}
}

// GetCacheStats serves GET /api/v1/cache/stats: hit/miss counters per
// category plus bar cache occupancy and archive throughput.
func (h *CacheHandler) GetCacheStats(c *gin.Context) {
	response := gin.H{
		"success":    true,
		"categories": h.cacheAnalytics.GetAllStats(),
		"bar_cache":  h.bars.Stats(),
	}
	if h.archive != nil {
		response["archive"] = h.archive.Stats()
	}
	c.JSON(http.StatusOK, response)
}

// GetCacheStatsByCategory serves GET /api/v1/cache/stats/:category.
func (h *CacheHandler) GetCacheStatsByCategory(c *gin.Context) {
	category := c.Param("category")
	stats := h.cacheAnalytics.GetStats(category)
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"category": category,
		"data":     stats,
	})
}

// GetCacheMetrics serves GET /api/v1/cache/metrics: category stats combined
// with Redis server info.
func (h *CacheHandler) GetCacheMetrics(c *gin.Context) {
	metrics, err := h.cacheAnalytics.GetMetrics(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to collect cache metrics"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    metrics,
	})
}

// ClearCaches serves POST /api/v1/cache/clear: drops the in-memory bar cache
// and resets analytics counters. Archived bars are untouched.
func (h *CacheHandler) ClearCaches(c *gin.Context) {
	dropped := h.bars.Len()
	h.bars.Clear()
	h.cacheAnalytics.ResetStats()
	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"entries_dropped": dropped,
	})
}

package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/quantfall/barfeed-go/internal/config"
)

// CleanupInterface defines the cleanup operations exposed over the admin API.
// *services.CleanupService satisfies it.
type CleanupInterface interface {
	GetDataStats(ctx context.Context) (map[string]int64, error)
	RunCleanup(cfg config.CleanupConfig) error
}

// CleanupHandler handles archive maintenance endpoints.
type CleanupHandler struct {
	cleanupService CleanupInterface
	defaults       config.CleanupConfig
}

// NewCleanupHandler creates a new cleanup handler.
func NewCleanupHandler(cleanupService CleanupInterface, defaults config.CleanupConfig) *CleanupHandler {
	return &CleanupHandler{
		cleanupService: cleanupService,
		defaults:       defaults,
	}
}

// DataStatsResponse represents archive storage statistics.
type DataStatsResponse struct {
	BarsCount           int64 `json:"bars_count"`
	OldestBarAgeSeconds int64 `json:"oldest_bar_age_seconds"`
}

// GetDataStats serves GET /api/v1/admin/archive/stats.
func (h *CleanupHandler) GetDataStats(c *gin.Context) {
	stats, err := h.cleanupService.GetDataStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get archive statistics"})
		return
	}

	c.JSON(http.StatusOK, DataStatsResponse{
		BarsCount:           stats["bars_count"],
		OldestBarAgeSeconds: stats["oldest_bar_age_seconds"],
	})
}

// TriggerCleanup serves POST /api/v1/admin/cleanup. An optional
// retention_hours query overrides the configured window for this run only.
func (h *CleanupHandler) TriggerCleanup(c *gin.Context) {
	cfg := h.defaults
	if hours := c.Query("retention_hours"); hours != "" {
		parsed, err := strconv.Atoi(hours)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid retention_hours parameter"})
			return
		}
		cfg.RetentionHours = parsed
	}

	if err := h.cleanupService.RunCleanup(cfg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to run cleanup"})
		return
	}

	stats, err := h.cleanupService.GetDataStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cleanup completed but failed to get updated statistics"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Cleanup completed successfully",
		"stats": DataStatsResponse{
			BarsCount:           stats["bars_count"],
			OldestBarAgeSeconds: stats["oldest_bar_age_seconds"],
		},
	})
}

package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quantfall/barfeed-go/internal/models"
)

// ProviderDirectory is the slice of the registry the providers handler reads.
// *exchange.Registry satisfies it.
type ProviderDirectory interface {
	Statuses() []models.ProviderStatus
	Degraded() []models.ProviderStatus
}

// CatalogReader is the slice of the market catalog the providers handler
// reads. *cache.MarketCatalog satisfies it.
type CatalogReader interface {
	Get(ctx context.Context, venue string) ([]models.MarketInfo, bool)
	Venues(ctx context.Context) ([]string, error)
}

type ProvidersHandler struct {
	registry ProviderDirectory
	catalog  CatalogReader
}

func NewProvidersHandler(registry ProviderDirectory, catalog CatalogReader) *ProvidersHandler {
	return &ProvidersHandler{
		registry: registry,
		catalog:  catalog,
	}
}

// GetProviders serves GET /api/v1/providers.
func (h *ProvidersHandler) GetProviders(c *gin.Context) {
	statuses := h.registry.Statuses()

	ready := 0
	for _, s := range statuses {
		if s.Ready {
			ready++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"providers": statuses,
		"ready":     ready,
		"degraded":  len(statuses) - ready,
		"timestamp": time.Now(),
	})
}

// GetProviderMarkets serves GET /api/v1/providers/:name/markets from the
// catalog cache.
func (h *ProvidersHandler) GetProviderMarkets(c *gin.Context) {
	name := c.Param("name")

	markets, found := h.catalog.Get(c.Request.Context(), name)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "No cached catalog for this provider"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"provider": name,
		"markets":  markets,
		"total":    len(markets),
	})
}

// GetCatalogVenues serves GET /api/v1/providers/catalogs, listing venues with
// a cached catalog.
func (h *ProvidersHandler) GetCatalogVenues(c *gin.Context) {
	venues, err := h.catalog.Venues(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list cached catalogs"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"venues":  venues,
		"total":   len(venues),
	})
}

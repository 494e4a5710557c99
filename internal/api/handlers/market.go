package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quantfall/barfeed-go/internal/database"
	"github.com/quantfall/barfeed-go/internal/market"
	"github.com/quantfall/barfeed-go/internal/middleware"
	"github.com/quantfall/barfeed-go/internal/models"
	"github.com/quantfall/barfeed-go/internal/services"
	"github.com/quantfall/barfeed-go/internal/utils"
)

// BarService is the slice of the collector the market handler drives.
// *services.Collector satisfies it.
type BarService interface {
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int, opts services.FetchOptions) (*models.MarketData, error)
	FetchTicker(ctx context.Context, symbol, preferred string) (*models.Ticker, error)
}

type MarketHandler struct {
	collector      BarService
	redis          *database.RedisClient
	cacheAnalytics *services.CacheAnalyticsService
	responseTTL    time.Duration
}

func NewMarketHandler(collector BarService, redis *database.RedisClient, cacheAnalytics *services.CacheAnalyticsService, responseTTL time.Duration) *MarketHandler {
	if responseTTL <= 0 {
		responseTTL = 30 * time.Second
	}
	return &MarketHandler{
		collector:      collector,
		redis:          redis,
		cacheAnalytics: cacheAnalytics,
		responseTTL:    responseTTL,
	}
}

// OHLCVResponse represents the response for a bar series request.
type OHLCVResponse struct {
	Symbol    string             `json:"symbol"`
	Timeframe string             `json:"timeframe"`
	Provider  string             `json:"provider"`
	Bars      int                `json:"bars"`
	Data      *models.MarketData `json:"data"`
	Timestamp time.Time          `json:"timestamp"`
	Cached    bool               `json:"cached"`
}

// TickerResponse represents the response for a single ticker request.
type TickerResponse struct {
	Ticker    *models.Ticker `json:"ticker"`
	Timestamp time.Time      `json:"timestamp"`
	Cached    bool           `json:"cached"`
}

// GetOHLCV serves GET /api/v1/market/ohlcv.
func (h *MarketHandler) GetOHLCV(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol parameter is required"})
		return
	}
	timeframe := c.DefaultQuery("timeframe", "1h")
	provider := c.Query("provider")

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		respondFetchError(c, utils.NewFieldError("limit", "must be an integer"))
		return
	}

	fresh := c.Query("fresh") == "true"

	var maxAge time.Duration
	if raw := c.Query("max_age"); raw != "" {
		maxAge, err = time.ParseDuration(raw)
		if err != nil {
			respondFetchError(c, utils.NewFieldError("max_age", "must be a duration like 30s or 5m"))
			return
		}
	}

	middleware.AddSpanAttribute(c, "market.symbol", symbol)
	middleware.AddSpanAttribute(c, "market.timeframe", timeframe)

	cacheKey := fmt.Sprintf("response:ohlcv:%s:%s:%d:%s", symbol, timeframe, limit, provider)
	if !fresh {
		if cached, found := h.getCachedOHLCV(c.Request.Context(), cacheKey); found {
			c.JSON(http.StatusOK, cached)
			return
		}
	}

	data, err := h.collector.FetchOHLCV(c.Request.Context(), symbol, timeframe, limit, services.FetchOptions{
		Provider:    provider,
		MaxCacheAge: maxAge,
		Fresh:       fresh,
	})
	if err != nil {
		respondFetchError(c, err)
		return
	}

	response := OHLCVResponse{
		Symbol:    data.Symbol,
		Timeframe: data.Timeframe,
		Provider:  data.Provider,
		Bars:      len(data.Timestamps),
		Data:      data,
		Timestamp: time.Now(),
	}
	h.cacheOHLCV(c.Request.Context(), cacheKey, response)
	c.JSON(http.StatusOK, response)
}

// GetTicker serves GET /api/v1/market/ticker.
func (h *MarketHandler) GetTicker(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol parameter is required"})
		return
	}
	provider := c.Query("provider")

	cacheKey := fmt.Sprintf("response:ticker:%s:%s", symbol, provider)
	if cached, found := h.getCachedTicker(c.Request.Context(), cacheKey); found {
		c.JSON(http.StatusOK, cached)
		return
	}

	ticker, err := h.collector.FetchTicker(c.Request.Context(), symbol, provider)
	if err != nil {
		respondFetchError(c, err)
		return
	}

	response := TickerResponse{
		Ticker:    ticker,
		Timestamp: time.Now(),
	}
	h.cacheTicker(c.Request.Context(), cacheKey, response)
	c.JSON(http.StatusOK, response)
}

// ForceRefresh serves POST /api/v1/admin/refresh: bypasses every cache and
// repopulates the bar cache for one key.
func (h *MarketHandler) ForceRefresh(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol parameter is required"})
		return
	}
	timeframe := c.DefaultQuery("timeframe", "1h")
	provider := c.Query("provider")

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		respondFetchError(c, utils.NewFieldError("limit", "must be an integer"))
		return
	}

	data, err := h.collector.FetchOHLCV(c.Request.Context(), symbol, timeframe, limit, services.FetchOptions{
		Provider: provider,
		Fresh:    true,
	})
	if err != nil {
		respondFetchError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Refresh completed",
		"symbol":    data.Symbol,
		"timeframe": data.Timeframe,
		"provider":  data.Provider,
		"bars":      len(data.Timestamps),
	})
}

// respondFetchError maps collector errors to HTTP statuses: validation errors
// are the caller's fault, exhaustion means every upstream venue failed, and
// anything else is internal.
func respondFetchError(c *gin.Context, err error) {
	if utils.IsValidation(err) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var ue *market.UnavailableError
	if errors.As(err, &ue) {
		middleware.RecordError(c, err, "all venues failed")
		c.JSON(http.StatusBadGateway, gin.H{
			"error":    "All venues failed for this request",
			"attempts": ue.Attempts,
		})
		return
	}
	middleware.RecordError(c, err, "fetch failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch market data"})
}

func (h *MarketHandler) cacheOHLCV(ctx context.Context, cacheKey string, data OHLCVResponse) {
	if h.redis == nil {
		return
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		log.Printf("Failed to marshal OHLCV response for caching: %v", err)
		return
	}
	if err := h.redis.Set(ctx, cacheKey, string(dataJSON), h.responseTTL); err != nil {
		log.Printf("Failed to cache OHLCV response: %v", err)
	}
}

func (h *MarketHandler) getCachedOHLCV(ctx context.Context, cacheKey string) (*OHLCVResponse, bool) {
	if h.redis == nil {
		h.recordMiss()
		return nil, false
	}
	cachedData, err := h.redis.Get(ctx, cacheKey)
	if err != nil {
		h.recordMiss()
		return nil, false
	}
	var data OHLCVResponse
	if err := json.Unmarshal([]byte(cachedData), &data); err != nil {
		log.Printf("Failed to unmarshal cached OHLCV response: %v", err)
		h.recordMiss()
		return nil, false
	}
	data.Cached = true
	h.recordHit()
	return &data, true
}

func (h *MarketHandler) cacheTicker(ctx context.Context, cacheKey string, data TickerResponse) {
	if h.redis == nil {
		return
	}
	dataJSON, err := json.Marshal(data)
	if err != nil {
		log.Printf("Failed to marshal ticker response for caching: %v", err)
		return
	}
	if err := h.redis.Set(ctx, cacheKey, string(dataJSON), h.responseTTL); err != nil {
		log.Printf("Failed to cache ticker response: %v", err)
	}
}

func (h *MarketHandler) getCachedTicker(ctx context.Context, cacheKey string) (*TickerResponse, bool) {
	if h.redis == nil {
		h.recordMiss()
		return nil, false
	}
	cachedData, err := h.redis.Get(ctx, cacheKey)
	if err != nil {
		h.recordMiss()
		return nil, false
	}
	var data TickerResponse
	if err := json.Unmarshal([]byte(cachedData), &data); err != nil {
		log.Printf("Failed to unmarshal cached ticker response: %v", err)
		h.recordMiss()
		return nil, false
	}
	data.Cached = true
	h.recordHit()
	return &data, true
}

func (h *MarketHandler) recordHit() {
	if h.cacheAnalytics != nil {
		h.cacheAnalytics.RecordHit(services.CategoryResponse)
	}
}

func (h *MarketHandler) recordMiss() {
	if h.cacheAnalytics != nil {
		h.cacheAnalytics.RecordMiss(services.CategoryResponse)
	}
}

package services

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache categories tracked by the analytics service. The collector reports
// bar-cache outcomes, the catalog cache reports market lookups, and the HTTP
// layer reports response-cache outcomes.
const (
	CategoryBar      = "bar"
	CategoryCatalog  = "catalog"
	CategoryResponse = "response"

	categoryOverall = "overall"

	analyticsStatsKey = "analytics:stats"
)

// CacheStats represents hit/miss counters for one cache category.
type CacheStats struct {
	Hits        int64     `json:"hits"`
	Misses      int64     `json:"misses"`
	HitRate     float64   `json:"hit_rate"`
	TotalOps    int64     `json:"total_ops"`
	LastUpdated time.Time `json:"last_updated"`
}

// CacheMetrics represents detailed cache metrics by category, enriched with
// Redis server state.
type CacheMetrics struct {
	Overall          CacheStats            `json:"overall"`
	ByCategory       map[string]CacheStats `json:"by_category"`
	RedisInfo        map[string]string     `json:"redis_info"`
	ConnectedClients int64                 `json:"connected_clients"`
	KeyCount         int64                 `json:"key_count"`
}

// CacheAnalyticsService tracks cache performance per category. It satisfies
// the collector's AnalyticsRecorder interface.
type CacheAnalyticsService struct {
	redisClient *redis.Client
	stats       map[string]*CacheStats
	mu          sync.RWMutex
}

// NewCacheAnalyticsService creates a new cache analytics service.
func NewCacheAnalyticsService(redisClient *redis.Client) *CacheAnalyticsService {
	return &CacheAnalyticsService{
		redisClient: redisClient,
		stats:       make(map[string]*CacheStats),
	}
}

// RecordHit records a cache hit for the given category.
func (c *CacheAnalyticsService) RecordHit(category string) {
	c.record(category, true)
}

// RecordMiss records a cache miss for the given category.
func (c *CacheAnalyticsService) RecordMiss(category string) {
	c.record(category, false)
}

func (c *CacheAnalyticsService) record(category string, hit bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for _, name := range []string{category, categoryOverall} {
		s := c.stats[name]
		if s == nil {
			s = &CacheStats{}
			c.stats[name] = s
		}
		if hit {
			s.Hits++
		} else {
			s.Misses++
		}
		s.TotalOps++
		s.HitRate = float64(s.Hits) / float64(s.TotalOps)
		s.LastUpdated = now
	}
}

// GetStats returns cache statistics for a specific category.
func (c *CacheAnalyticsService) GetStats(category string) CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if stats, exists := c.stats[category]; exists {
		return *stats
	}
	return CacheStats{}
}

// GetAllStats returns all cache statistics keyed by category.
func (c *CacheAnalyticsService) GetAllStats() map[string]CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]CacheStats, len(c.stats))
	for category, stats := range c.stats {
		result[category] = *stats
	}
	return result
}

// GetMetrics returns category stats combined with Redis server info.
func (c *CacheAnalyticsService) GetMetrics(ctx context.Context) (*CacheMetrics, error) {
	allStats := c.GetAllStats()

	redisInfo, err := c.redisClient.Info(ctx, "memory", "clients", "keyspace").Result()
	if err != nil {
		return nil, err
	}
	infoMap := parseRedisInfo(redisInfo)

	clientList, _ := c.redisClient.ClientList(ctx).Result()
	keyCount, _ := c.redisClient.DBSize(ctx).Result()

	metrics := &CacheMetrics{
		ByCategory:       allStats,
		RedisInfo:        infoMap,
		ConnectedClients: int64(len(clientList)),
		KeyCount:         keyCount,
	}
	if overall, exists := allStats[categoryOverall]; exists {
		metrics.Overall = overall
	}
	return metrics, nil
}

// parseRedisInfo parses Redis INFO command output into key/value pairs.
func parseRedisInfo(info string) map[string]string {
	result := make(map[string]string)
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) == 2 {
			result[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return result
}

// ResetStats resets all cache statistics.
func (c *CacheAnalyticsService) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = make(map[string]*CacheStats)
}

// StartPeriodicReporting persists a stats snapshot to Redis on an interval so
// counters survive restarts in a readable form.
func (c *CacheAnalyticsService) StartPeriodicReporting(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.reportStats(ctx)
			}
		}
	}()
}

func (c *CacheAnalyticsService) reportStats(ctx context.Context) {
	statsJSON, err := json.Marshal(c.GetAllStats())
	if err != nil {
		return
	}
	c.redisClient.Set(ctx, analyticsStatsKey, statsJSON, 24*time.Hour)
}

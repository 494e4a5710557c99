package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantfall/barfeed-go/internal/models"
)

// CatalogEntry represents a cached venue catalog with metadata
type CatalogEntry struct {
	Markets   []models.MarketInfo `json:"markets"`
	CachedAt  time.Time           `json:"cached_at"`
	ExpiresAt time.Time           `json:"expires_at"`
}

// CatalogStats tracks catalog cache performance metrics
type CatalogStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Sets   int64 `json:"sets"`
	mu     sync.RWMutex
}

// MarketCatalog caches each venue's tradable market list in Redis. The
// registry writes catalogs as readiness probes complete; API handlers and
// the collector read them to validate symbols without touching the venue.
type MarketCatalog struct {
	redis  *redis.Client
	ttl    time.Duration
	stats  *CatalogStats
	prefix string
}

// NewMarketCatalog creates a new Redis-backed market catalog cache
func NewMarketCatalog(redisClient *redis.Client, ttl time.Duration) *MarketCatalog {
	return &MarketCatalog{
		redis:  redisClient,
		ttl:    ttl,
		stats:  &CatalogStats{},
		prefix: "catalog:",
	}
}

// StoreCatalog stores a venue's market list. Failures are logged and
// swallowed; a missing catalog only costs an extra venue round trip later.
func (c *MarketCatalog) StoreCatalog(ctx context.Context, venue string, markets []models.MarketInfo) {
	now := time.Now()
	entry := CatalogEntry{
		Markets:   markets,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("Error serializing catalog for %s: %v", venue, err)
		return
	}

	if err := c.redis.Set(ctx, c.prefix+venue, data, c.ttl).Err(); err != nil {
		log.Printf("Redis error storing catalog for %s: %v", venue, err)
		return
	}

	c.stats.mu.Lock()
	c.stats.Sets++
	c.stats.mu.Unlock()

	log.Printf("Cached %d markets for %s (TTL: %v)", len(markets), venue, c.ttl)
}

// Get retrieves a venue's cached market list.
func (c *MarketCatalog) Get(ctx context.Context, venue string) ([]models.MarketInfo, bool) {
	data, err := c.redis.Get(ctx, c.prefix+venue).Result()
	if err == redis.Nil {
		c.miss()
		return nil, false
	}
	if err != nil {
		log.Printf("Redis error getting catalog for %s: %v", venue, err)
		c.miss()
		return nil, false
	}

	var entry CatalogEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		log.Printf("Error deserializing catalog for %s: %v", venue, err)
		c.miss()
		return nil, false
	}

	c.stats.mu.Lock()
	c.stats.Hits++
	c.stats.mu.Unlock()

	return entry.Markets, true
}

// HasMarket reports whether the venue lists the symbol as an active market.
// A missing catalog reports true so a cold cache never blocks a fetch.
func (c *MarketCatalog) HasMarket(ctx context.Context, venue, symbol string) bool {
	markets, ok := c.Get(ctx, venue)
	if !ok {
		return true
	}
	for _, m := range markets {
		if m.Symbol == symbol {
			return m.Active
		}
	}
	return false
}

// Venues returns the venues that currently have a cached catalog.
func (c *MarketCatalog) Venues(ctx context.Context) ([]string, error) {
	var keys []string
	iter := c.redis.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("error scanning catalog keys: %w", err)
	}

	var venues []string
	prefixLen := len(c.prefix)
	for _, key := range keys {
		if len(key) > prefixLen {
			venues = append(venues, key[prefixLen:])
		}
	}
	return venues, nil
}

// Clear removes all cached catalogs (useful for testing or cache invalidation)
func (c *MarketCatalog) Clear(ctx context.Context) error {
	var keys []string
	iter := c.redis.Scan(ctx, 0, c.prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("error scanning catalog keys: %w", err)
	}

	if len(keys) == 0 {
		return nil
	}
	if err := c.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("error clearing catalog cache: %w", err)
	}

	log.Printf("Cleared %d catalog entries", len(keys))
	return nil
}

// GetStats returns current cache statistics
func (c *MarketCatalog) GetStats() CatalogStats {
	c.stats.mu.RLock()
	defer c.stats.mu.RUnlock()
	return CatalogStats{
		Hits:   c.stats.Hits,
		Misses: c.stats.Misses,
		Sets:   c.stats.Sets,
	}
}

func (c *MarketCatalog) miss() {
	c.stats.mu.Lock()
	c.stats.Misses++
	c.stats.mu.Unlock()
}

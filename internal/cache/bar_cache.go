package cache

import (
	"sync"
	"time"

	"github.com/quantfall/barfeed-go/internal/market"
	"github.com/quantfall/barfeed-go/internal/models"
)

// BarEntry is a cached OHLCV response together with the time it was
// retrieved from the venue. Entries never expire on their own; staleness
// policy belongs to the caller.
type BarEntry struct {
	Key         market.Key
	Data        *models.MarketData
	RetrievedAt time.Time
}

// BarCacheStats tracks in-memory bar cache performance metrics
type BarCacheStats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Sets    int64 `json:"sets"`
	Entries int   `json:"entries"`
}

// BarCache is a process-local cache of fetched bar series keyed by the full
// request identity (symbol, timeframe, limit, provider). Concurrent writers
// to the same key follow last-writer-wins; readers always observe a complete
// entry because MarketData is immutable once built.
type BarCache struct {
	mu      sync.RWMutex
	entries map[market.Key]BarEntry

	statsMu sync.Mutex
	hits    int64
	misses  int64
	sets    int64
}

// NewBarCache creates an empty bar cache.
func NewBarCache() *BarCache {
	return &BarCache{entries: make(map[market.Key]BarEntry)}
}

// Get returns the cached entry for the key, if present.
func (c *BarCache) Get(key market.Key) (BarEntry, bool) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	c.statsMu.Lock()
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.statsMu.Unlock()

	return entry, ok
}

// Put stores a fetched series under its request key, replacing any previous
// entry for the same key.
func (c *BarCache) Put(key market.Key, data *models.MarketData, retrievedAt time.Time) {
	c.mu.Lock()
	c.entries[key] = BarEntry{Key: key, Data: data, RetrievedAt: retrievedAt}
	c.mu.Unlock()

	c.statsMu.Lock()
	c.sets++
	c.statsMu.Unlock()
}

// Len returns the number of cached entries.
func (c *BarCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Keys returns a snapshot of the cached request keys.
func (c *BarCache) Keys() []market.Key {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]market.Key, 0, len(c.entries))
	for k := range c.entries {
		out = append(out, k)
	}
	return out
}

// Clear drops every cached entry. Stats counters are kept.
func (c *BarCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[market.Key]BarEntry)
	c.mu.Unlock()
}

// Stats returns current cache statistics.
func (c *BarCache) Stats() BarCacheStats {
	c.mu.RLock()
	entries := len(c.entries)
	c.mu.RUnlock()

	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return BarCacheStats{
		Hits:    c.hits,
		Misses:  c.misses,
		Sets:    c.sets,
		Entries: entries,
	}
}

package cache

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/barfeed-go/internal/market"
	"github.com/quantfall/barfeed-go/internal/models"
)

// setupTestRedis creates a test Redis instance using miniredis
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})
	t.Cleanup(func() { client.Close() })
	return client
}

func testSeries(t *testing.T, provider string) *models.MarketData {
	t.Helper()
	base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	candles := []models.Candle{
		{Timestamp: base, Open: 100, High: 110, Low: 95, Close: 105, Volume: 12},
		{Timestamp: base.Add(time.Hour), Open: 105, High: 112, Low: 101, Close: 108, Volume: 9},
	}
	md, err := models.NewMarketData("BTC/USDT", "1h", provider, candles)
	require.NoError(t, err)
	return md
}

func TestBarCachePutGet(t *testing.T) {
	c := NewBarCache()
	key := market.NewKey("BTC/USDT", "1h", 2, "binance")

	_, found := c.Get(key)
	assert.False(t, found)

	md := testSeries(t, "binance")
	retrieved := time.Now().UTC()
	c.Put(key, md, retrieved)

	entry, found := c.Get(key)
	require.True(t, found)
	assert.Equal(t, key, entry.Key)
	assert.Same(t, md, entry.Data)
	assert.Equal(t, retrieved, entry.RetrievedAt)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, 1, stats.Entries)
}

func TestBarCacheDistinguishesKeys(t *testing.T) {
	c := NewBarCache()
	md := testSeries(t, "binance")
	now := time.Now().UTC()

	c.Put(market.NewKey("BTC/USDT", "1h", 2, "binance"), md, now)

	// Same symbol and timeframe under a different limit or provider is a
	// separate entry.
	_, found := c.Get(market.NewKey("BTC/USDT", "1h", 5, "binance"))
	assert.False(t, found)
	_, found = c.Get(market.NewKey("BTC/USDT", "1h", 2, "kraken"))
	assert.False(t, found)
	_, found = c.Get(market.NewKey("btc/usdt", "1h", 2, "BINANCE"))
	assert.True(t, found, "key lookup is case-insensitive via normalization")
}

func TestBarCacheLastWriterWins(t *testing.T) {
	c := NewBarCache()
	key := market.NewKey("BTC/USDT", "1h", 2, "binance")

	first := testSeries(t, "binance")
	second := testSeries(t, "kraken")
	c.Put(key, first, time.Now().UTC())
	c.Put(key, second, time.Now().UTC())

	entry, found := c.Get(key)
	require.True(t, found)
	assert.Same(t, second, entry.Data)
	assert.Equal(t, 1, c.Len())
}

func TestBarCacheConcurrentAccess(t *testing.T) {
	c := NewBarCache()
	md := testSeries(t, "binance")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			key := market.NewKey("BTC/USDT", "1h", n, "binance")
			c.Put(key, md, time.Now().UTC())
		}(i)
		go func(n int) {
			defer wg.Done()
			key := market.NewKey("BTC/USDT", "1h", n, "binance")
			c.Get(key)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8, c.Len())
	assert.Len(t, c.Keys(), 8)
}

func TestBarCacheClear(t *testing.T) {
	c := NewBarCache()
	c.Put(market.NewKey("BTC/USDT", "1h", 2, "binance"), testSeries(t, "binance"), time.Now())
	c.Clear()
	assert.Equal(t, 0, c.Len())
}

func TestMarketCatalogStoreAndGet(t *testing.T) {
	client := setupTestRedis(t)
	catalog := NewMarketCatalog(client, 5*time.Minute)
	ctx := context.Background()

	markets := []models.MarketInfo{
		{Symbol: "BTC/USDT", Base: "BTC", Quote: "USDT", Active: true},
		{Symbol: "OLD/USD", Base: "OLD", Quote: "USD", Active: false},
	}
	catalog.StoreCatalog(ctx, "kraken", markets)

	got, found := catalog.Get(ctx, "kraken")
	require.True(t, found)
	assert.Equal(t, markets, got)

	stats := catalog.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
}

func TestMarketCatalogGetMiss(t *testing.T) {
	client := setupTestRedis(t)
	catalog := NewMarketCatalog(client, 5*time.Minute)

	got, found := catalog.Get(context.Background(), "nonexistent")
	assert.False(t, found)
	assert.Nil(t, got)
	assert.Equal(t, int64(1), catalog.GetStats().Misses)
}

func TestMarketCatalogHasMarket(t *testing.T) {
	client := setupTestRedis(t)
	catalog := NewMarketCatalog(client, 5*time.Minute)
	ctx := context.Background()

	catalog.StoreCatalog(ctx, "binance", []models.MarketInfo{
		{Symbol: "BTC/USDT", Active: true},
		{Symbol: "OLD/USD", Active: false},
	})

	assert.True(t, catalog.HasMarket(ctx, "binance", "BTC/USDT"))
	assert.False(t, catalog.HasMarket(ctx, "binance", "OLD/USD"))
	assert.False(t, catalog.HasMarket(ctx, "binance", "ETH/USDT"))

	// Unknown venue: no catalog means no opinion.
	assert.True(t, catalog.HasMarket(ctx, "coinbase", "ETH/USDT"))
}

func TestMarketCatalogVenuesAndClear(t *testing.T) {
	client := setupTestRedis(t)
	catalog := NewMarketCatalog(client, 5*time.Minute)
	ctx := context.Background()

	catalog.StoreCatalog(ctx, "binance", []models.MarketInfo{{Symbol: "BTC/USDT", Active: true}})
	catalog.StoreCatalog(ctx, "kraken", []models.MarketInfo{{Symbol: "BTC/USDT", Active: true}})

	venues, err := catalog.Venues(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"binance", "kraken"}, venues)

	require.NoError(t, catalog.Clear(ctx))
	venues, err = catalog.Venues(ctx)
	require.NoError(t, err)
	assert.Empty(t, venues)
}

func TestMarketCatalogRedisDown(t *testing.T) {
	client := setupTestRedis(t)
	catalog := NewMarketCatalog(client, 5*time.Minute)
	ctx := context.Background()

	catalog.StoreCatalog(ctx, "binance", []models.MarketInfo{{Symbol: "BTC/USDT", Active: true}})
	client.Close()

	// Redis failures degrade to misses, never to errors.
	got, found := catalog.Get(ctx, "binance")
	assert.False(t, found)
	assert.Nil(t, got)
}

package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func analyticsFixture(t *testing.T) (*CacheAnalyticsService, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheAnalyticsService(client), server, client
}

func TestCacheAnalyticsRecordsPerCategory(t *testing.T) {
	service, _, _ := analyticsFixture(t)

	service.RecordHit(CategoryBar)
	service.RecordHit(CategoryBar)
	service.RecordMiss(CategoryBar)
	service.RecordMiss(CategoryCatalog)

	bar := service.GetStats(CategoryBar)
	assert.Equal(t, int64(2), bar.Hits)
	assert.Equal(t, int64(1), bar.Misses)
	assert.Equal(t, int64(3), bar.TotalOps)
	assert.InDelta(t, 2.0/3.0, bar.HitRate, 1e-9)
	assert.False(t, bar.LastUpdated.IsZero())

	catalog := service.GetStats(CategoryCatalog)
	assert.Equal(t, int64(1), catalog.Misses)
	assert.Zero(t, catalog.Hits)

	overall := service.GetStats("overall")
	assert.Equal(t, int64(2), overall.Hits)
	assert.Equal(t, int64(2), overall.Misses)
	assert.InDelta(t, 0.5, overall.HitRate, 1e-9)
}

func TestCacheAnalyticsUnknownCategoryIsZero(t *testing.T) {
	service, _, _ := analyticsFixture(t)

	stats := service.GetStats("never-recorded")
	assert.Zero(t, stats.TotalOps)
	assert.Zero(t, stats.HitRate)
}

func TestCacheAnalyticsGetAllStatsCopies(t *testing.T) {
	service, _, _ := analyticsFixture(t)
	service.RecordHit(CategoryResponse)

	all := service.GetAllStats()
	assert.Contains(t, all, CategoryResponse)
	assert.Contains(t, all, "overall")

	// Mutating the returned map must not affect the service.
	entry := all[CategoryResponse]
	entry.Hits = 999
	all[CategoryResponse] = entry
	assert.Equal(t, int64(1), service.GetStats(CategoryResponse).Hits)
}

func TestCacheAnalyticsResetStats(t *testing.T) {
	service, _, _ := analyticsFixture(t)
	service.RecordHit(CategoryBar)

	service.ResetStats()
	assert.Empty(t, service.GetAllStats())
}

func TestCacheAnalyticsConcurrentRecording(t *testing.T) {
	service, _, _ := analyticsFixture(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				service.RecordHit(CategoryBar)
				service.RecordMiss(CategoryCatalog)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(400), service.GetStats(CategoryBar).Hits)
	assert.Equal(t, int64(400), service.GetStats(CategoryCatalog).Misses)
	assert.Equal(t, int64(800), service.GetStats("overall").TotalOps)
}

func TestCacheAnalyticsReportStatsPersists(t *testing.T) {
	service, server, _ := analyticsFixture(t)
	service.RecordHit(CategoryBar)

	service.reportStats(context.Background())

	raw, err := server.Get(analyticsStatsKey)
	require.NoError(t, err)

	var stored map[string]CacheStats
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Equal(t, int64(1), stored[CategoryBar].Hits)
}

func TestCacheAnalyticsPeriodicReportingStopsOnCancel(t *testing.T) {
	service, server, _ := analyticsFixture(t)
	service.RecordHit(CategoryBar)

	ctx, cancel := context.WithCancel(context.Background())
	service.StartPeriodicReporting(ctx, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		return server.Exists(analyticsStatsKey)
	}, time.Second, 5*time.Millisecond)

	cancel()
}

func TestParseRedisInfo(t *testing.T) {
	info := "# Memory\r\nused_memory:1024\r\nused_memory_human:1.00K\r\n\r\n# Clients\r\nconnected_clients:3\r\n"

	parsed := parseRedisInfo(info)
	assert.Equal(t, "1024", parsed["used_memory"])
	assert.Equal(t, "3", parsed["connected_clients"])
	assert.NotContains(t, parsed, "# Memory")

	assert.Empty(t, parseRedisInfo(""))
}

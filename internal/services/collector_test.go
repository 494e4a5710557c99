package services

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/barfeed-go/internal/cache"
	"github.com/quantfall/barfeed-go/internal/config"
	"github.com/quantfall/barfeed-go/internal/exchange"
	"github.com/quantfall/barfeed-go/internal/market"
	"github.com/quantfall/barfeed-go/internal/models"
)

// stubVenue is a scriptable venue for collector tests.
type stubVenue struct {
	name    string
	candles []models.Candle
	fetcher func() ([]models.Candle, error)
	err     error

	calls int64
}

func (s *stubVenue) Name() string  { return s.name }
func (s *stubVenue) MaxLimit() int { return 1000 }
func (s *stubVenue) Close() error  { return nil }

func (s *stubVenue) LoadMarkets(ctx context.Context) ([]models.MarketInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []models.MarketInfo{{Symbol: "BTC/USDT", Base: "BTC", Quote: "USDT", Active: true}}, nil
}

func (s *stubVenue) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	atomic.AddInt64(&s.calls, 1)
	if s.fetcher != nil {
		return s.fetcher()
	}
	if s.err != nil {
		return nil, &market.FetchError{Provider: s.name, Err: s.err}
	}
	if limit > 0 && len(s.candles) > limit {
		return s.candles[:limit], nil
	}
	return s.candles, nil
}

func (s *stubVenue) FetchTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	atomic.AddInt64(&s.calls, 1)
	if s.err != nil {
		return nil, &market.FetchError{Provider: s.name, Err: s.err}
	}
	return &models.Ticker{Provider: s.name, Symbol: symbol, Timestamp: time.Now().UTC()}, nil
}

func (s *stubVenue) callCount() int64 { return atomic.LoadInt64(&s.calls) }

func hourlyCandles(n int) []models.Candle {
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      100 + float64(i),
			High:      101 + float64(i),
			Low:       99 + float64(i),
			Close:     100.5 + float64(i),
			Volume:    10,
		}
	}
	return out
}

func readyHandle(t *testing.T, v *stubVenue) *exchange.Handle {
	t.Helper()
	h := exchange.NewHandle(v, time.Second, 0)
	// Probe counts as a venue call; reset call tracking after.
	_, err := h.Probe(context.Background())
	require.NoError(t, err)
	atomic.StoreInt64(&v.calls, 0)
	return h
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestCollector(t *testing.T, venues ...*stubVenue) (*Collector, *cache.BarCache) {
	t.Helper()
	handles := make([]*exchange.Handle, len(venues))
	for i, v := range venues {
		handles[i] = readyHandle(t, v)
	}
	bars := cache.NewBarCache()
	return NewCollector(exchange.NewStaticRegistry(handles...), bars, quietLogger()), bars
}

func TestFetchOHLCVSuccess(t *testing.T) {
	primary := &stubVenue{name: "binance", candles: hourlyCandles(100)}
	c, _ := newTestCollector(t, primary)

	data, err := c.FetchOHLCV(context.Background(), "BTC/USDT", "1h", 100, FetchOptions{})
	require.NoError(t, err)

	assert.Equal(t, "binance", data.Provider)
	assert.Equal(t, 100, data.Len())
	assert.Equal(t, 99*time.Hour, data.Span())
	require.NoError(t, data.Validate())
}

func TestFetchOHLCVFallsBackToSecondary(t *testing.T) {
	primary := &stubVenue{name: "binance", candles: hourlyCandles(10)}
	secondary := &stubVenue{name: "kraken", candles: hourlyCandles(10)}

	c, _ := newTestCollector(t, primary, secondary)
	primary.err = errors.New("connection refused")
	primary.candles = nil

	data, err := c.FetchOHLCV(context.Background(), "BTC/USDT", "1h", 10, FetchOptions{})
	require.NoError(t, err)

	assert.Equal(t, "kraken", data.Provider)
	assert.EqualValues(t, 1, primary.callCount())
	assert.EqualValues(t, 1, secondary.callCount())
}

func TestFetchOHLCVExhaustionCarriesAttempts(t *testing.T) {
	a := &stubVenue{name: "binance", candles: hourlyCandles(1)}
	b := &stubVenue{name: "kraken", candles: hourlyCandles(1)}
	c, _ := newTestCollector(t, a, b)

	a.err = errors.New("timeout")
	a.candles = nil
	b.err = errors.New("rate limited")
	b.candles = nil

	_, err := c.FetchOHLCV(context.Background(), "BTC/USDT", "1h", 10, FetchOptions{})
	require.Error(t, err)

	var unavailable *market.UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, []string{"binance", "kraken"}, unavailable.AttemptedProviders())
	assert.Contains(t, unavailable.Attempts[0].Reason, "timeout")
	assert.Contains(t, unavailable.Attempts[1].Reason, "rate limited")
}

func TestFetchOHLCVEmptyResponseIsMalformed(t *testing.T) {
	empty := &stubVenue{name: "binance", candles: hourlyCandles(1)}
	good := &stubVenue{name: "kraken", candles: hourlyCandles(5)}
	c, _ := newTestCollector(t, empty, good)
	empty.candles = nil

	// Zero rows from the primary is a malformed response; fallback proceeds.
	data, err := c.FetchOHLCV(context.Background(), "BTC/USDT", "1h", 5, FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "kraken", data.Provider)
}

func TestFetchOHLCVNaNResponseIsMalformed(t *testing.T) {
	bad := &stubVenue{name: "binance", candles: hourlyCandles(1)}
	c, _ := newTestCollector(t, bad)

	candles := hourlyCandles(3)
	candles[1].Close = math.NaN()
	bad.candles = candles

	_, err := c.FetchOHLCV(context.Background(), "BTC/USDT", "1h", 3, FetchOptions{})
	require.Error(t, err)

	var unavailable *market.UnavailableError
	require.ErrorAs(t, err, &unavailable)
	require.Len(t, unavailable.Attempts, 1)
	assert.Contains(t, unavailable.Attempts[0].Reason, "non-finite")
}

func TestFetchOHLCVCacheIdempotence(t *testing.T) {
	venue := &stubVenue{name: "binance", candles: hourlyCandles(50)}
	c, _ := newTestCollector(t, venue)
	ctx := context.Background()

	first, err := c.FetchOHLCV(ctx, "BTC/USDT", "1h", 50, FetchOptions{})
	require.NoError(t, err)
	require.EqualValues(t, 1, venue.callCount())

	second, err := c.FetchOHLCV(ctx, "BTC/USDT", "1h", 50, FetchOptions{})
	require.NoError(t, err)

	assert.Same(t, first, second, "cached entry returned with zero network calls")
	assert.EqualValues(t, 1, venue.callCount())
}

func TestFetchOHLCVMaxCacheAge(t *testing.T) {
	venue := &stubVenue{name: "binance", candles: hourlyCandles(5)}
	c, bars := newTestCollector(t, venue)
	ctx := context.Background()

	_, err := c.FetchOHLCV(ctx, "BTC/USDT", "1h", 5, FetchOptions{})
	require.NoError(t, err)

	// Age the entry past the caller's tolerance.
	key := market.NewKey("BTC/USDT", "1h", 5, "")
	entry, ok := bars.Get(key)
	require.True(t, ok)
	bars.Put(key, entry.Data, time.Now().Add(-time.Hour))

	_, err = c.FetchOHLCV(ctx, "BTC/USDT", "1h", 5, FetchOptions{MaxCacheAge: time.Minute})
	require.NoError(t, err)
	assert.EqualValues(t, 2, venue.callCount(), "stale entry refetched")

	// Zero max age accepts arbitrarily old entries.
	bars.Put(key, entry.Data, time.Now().Add(-24*time.Hour))
	_, err = c.FetchOHLCV(ctx, "BTC/USDT", "1h", 5, FetchOptions{})
	require.NoError(t, err)
	assert.EqualValues(t, 2, venue.callCount())
}

func TestFetchOHLCVFreshBypassesCache(t *testing.T) {
	venue := &stubVenue{name: "binance", candles: hourlyCandles(5)}
	c, _ := newTestCollector(t, venue)
	ctx := context.Background()

	_, err := c.FetchOHLCV(ctx, "BTC/USDT", "1h", 5, FetchOptions{})
	require.NoError(t, err)
	_, err = c.FetchOHLCV(ctx, "BTC/USDT", "1h", 5, FetchOptions{Fresh: true})
	require.NoError(t, err)
	assert.EqualValues(t, 2, venue.callCount())
}

func TestFetchOHLCVPreferredProviderFirst(t *testing.T) {
	first := &stubVenue{name: "binance", candles: hourlyCandles(5)}
	second := &stubVenue{name: "kraken", candles: hourlyCandles(5)}
	c, _ := newTestCollector(t, first, second)

	data, err := c.FetchOHLCV(context.Background(), "BTC/USDT", "1h", 5, FetchOptions{Provider: "kraken"})
	require.NoError(t, err)

	assert.Equal(t, "kraken", data.Provider)
	assert.EqualValues(t, 0, first.callCount())
	assert.EqualValues(t, 1, second.callCount())
}

func TestFetchOHLCVPreferredFallsBackWhenFailing(t *testing.T) {
	first := &stubVenue{name: "binance", candles: hourlyCandles(5)}
	second := &stubVenue{name: "kraken", candles: hourlyCandles(5)}
	c, _ := newTestCollector(t, first, second)
	second.err = errors.New("down")
	second.candles = nil

	data, err := c.FetchOHLCV(context.Background(), "BTC/USDT", "1h", 5, FetchOptions{Provider: "kraken"})
	require.NoError(t, err)
	assert.Equal(t, "binance", data.Provider)
}

func TestFetchOHLCVConcurrentDistinctKeys(t *testing.T) {
	venue := &stubVenue{name: "binance", candles: hourlyCandles(20)}
	c, _ := newTestCollector(t, venue)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, errs[n] = c.FetchOHLCV(context.Background(), "BTC/USDT", "1h", n+1, FetchOptions{})
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "fetch %d", i)
	}
	assert.EqualValues(t, 8, venue.callCount())
}

func TestFetchOHLCVCoalescesSameKey(t *testing.T) {
	release := make(chan struct{})
	venue := &stubVenue{name: "binance", candles: hourlyCandles(1)}
	venue.fetcher = func() ([]models.Candle, error) {
		<-release
		return hourlyCandles(10), nil
	}
	c, _ := newTestCollector(t, venue)

	var wg sync.WaitGroup
	results := make([]*models.MarketData, 4)
	errs := make([]error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], errs[n] = c.FetchOHLCV(context.Background(), "BTC/USDT", "1h", 10, FetchOptions{})
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, venue.callCount(), "in-flight misses share one round trip")
	for _, r := range results[1:] {
		assert.Same(t, results[0], r)
	}
}

func TestFetchOHLCVValidation(t *testing.T) {
	venue := &stubVenue{name: "binance", candles: hourlyCandles(1)}
	c, _ := newTestCollector(t, venue)
	ctx := context.Background()

	_, err := c.FetchOHLCV(ctx, "", "1h", 10, FetchOptions{})
	assert.ErrorContains(t, err, "symbol is required")

	_, err = c.FetchOHLCV(ctx, "BTC/USDT", "13m", 10, FetchOptions{})
	assert.ErrorContains(t, err, "unsupported timeframe")

	_, err = c.FetchOHLCV(ctx, "BTC/USDT", "1h", 0, FetchOptions{})
	assert.ErrorContains(t, err, "limit must be positive")

	assert.EqualValues(t, 0, venue.callCount())
}

func TestFetchOHLCVArchivesSuccessfulFetches(t *testing.T) {
	venue := &stubVenue{name: "binance", candles: hourlyCandles(5)}
	c, _ := newTestCollector(t, venue)

	archived := make(chan *models.MarketData, 1)
	c.SetArchive(archiveFunc(func(data *models.MarketData) { archived <- data }))

	data, err := c.FetchOHLCV(context.Background(), "BTC/USDT", "1h", 5, FetchOptions{})
	require.NoError(t, err)
	assert.Same(t, data, <-archived)
}

type archiveFunc func(*models.MarketData)

func (f archiveFunc) Enqueue(data *models.MarketData) { f(data) }

func TestFetchOHLCVNotifiesOnExhaustion(t *testing.T) {
	venue := &stubVenue{name: "binance", candles: hourlyCandles(1)}
	c, _ := newTestCollector(t, venue)
	venue.err = errors.New("down")
	venue.candles = nil

	var gotKey market.Key
	var gotAttempts []market.Attempt
	c.SetNotifier(notifierFunc(func(_ context.Context, key market.Key, attempts []market.Attempt) {
		gotKey = key
		gotAttempts = attempts
	}))

	_, err := c.FetchOHLCV(context.Background(), "BTC/USDT", "1h", 10, FetchOptions{})
	require.Error(t, err)
	assert.Equal(t, "BTC/USDT", gotKey.Symbol)
	require.Len(t, gotAttempts, 1)
	assert.Equal(t, "binance", gotAttempts[0].Provider)
}

type notifierFunc func(context.Context, market.Key, []market.Attempt)

func (f notifierFunc) FetchExhausted(ctx context.Context, key market.Key, attempts []market.Attempt) {
	f(ctx, key, attempts)
}

func TestFetchTickerFallback(t *testing.T) {
	first := &stubVenue{name: "binance", candles: hourlyCandles(1)}
	second := &stubVenue{name: "kraken", candles: hourlyCandles(1)}
	c, _ := newTestCollector(t, first, second)
	first.err = errors.New("down")

	ticker, err := c.FetchTicker(context.Background(), "BTC/USDT", "")
	require.NoError(t, err)
	assert.Equal(t, "kraken", ticker.Provider)
}

func TestFetchTickerExhaustion(t *testing.T) {
	venue := &stubVenue{name: "binance", candles: hourlyCandles(1)}
	c, _ := newTestCollector(t, venue)
	venue.err = errors.New("down")

	_, err := c.FetchTicker(context.Background(), "BTC/USDT", "")
	var unavailable *market.UnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, []string{"binance"}, unavailable.AttemptedProviders())
}

// Exercised to keep the registry path in sync with the configured defaults.
func TestDefaultProviderOrderMatchesSupported(t *testing.T) {
	cfg := config.ProvidersConfig{Order: []string{"binance", "kraken", "coinbase"}}
	assert.Equal(t, exchange.Supported(), cfg.Order)
}

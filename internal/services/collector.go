package services

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/quantfall/barfeed-go/internal/cache"
	"github.com/quantfall/barfeed-go/internal/exchange"
	"github.com/quantfall/barfeed-go/internal/market"
	"github.com/quantfall/barfeed-go/internal/models"
	"github.com/quantfall/barfeed-go/internal/telemetry"
	"github.com/quantfall/barfeed-go/internal/utils"
)

// ArchiveSink receives successful fetches for asynchronous persistence.
// Enqueue must never block the fetch path.
type ArchiveSink interface {
	Enqueue(data *models.MarketData)
}

// AnalyticsRecorder counts cache outcomes per category.
type AnalyticsRecorder interface {
	RecordHit(category string)
	RecordMiss(category string)
}

// DegradationNotifier is told when a fetch exhausts every candidate.
type DegradationNotifier interface {
	FetchExhausted(ctx context.Context, key market.Key, attempts []market.Attempt)
}

// FetchOptions tune a single fetch request.
type FetchOptions struct {
	// Provider prefers one venue: tried first when ready, ahead of the
	// registry's fallback order. Empty means registry order.
	Provider string
	// MaxCacheAge rejects cached entries older than this. Zero accepts any
	// cached entry.
	MaxCacheAge time.Duration
	// Fresh bypasses the cache read entirely. The result is still cached.
	Fresh bool
}

// Collector orchestrates bar fetches: cache check, ordered provider
// fallback with one attempt per candidate, normalization, caching.
// It holds non-owning references to the registry and cache.
type Collector struct {
	registry *exchange.Registry
	bars     *cache.BarCache
	logger   *slog.Logger
	tracer   *telemetry.BusinessTracer
	flight   singleflight.Group

	archive   ArchiveSink
	analytics AnalyticsRecorder
	notifier  DegradationNotifier
}

// NewCollector creates a collector over an initialized registry and an
// empty or shared bar cache.
func NewCollector(registry *exchange.Registry, bars *cache.BarCache, logger *slog.Logger) *Collector {
	return &Collector{
		registry: registry,
		bars:     bars,
		logger:   logger,
		tracer:   telemetry.NewBusinessTracer(),
	}
}

// SetArchive wires an asynchronous archive for successful fetches.
func (c *Collector) SetArchive(sink ArchiveSink) { c.archive = sink }

// SetAnalytics wires cache hit/miss accounting.
func (c *Collector) SetAnalytics(rec AnalyticsRecorder) { c.analytics = rec }

// SetNotifier wires exhaustion alerting.
func (c *Collector) SetNotifier(n DegradationNotifier) { c.notifier = n }

// FetchOHLCV returns a validated bar series for the symbol and timeframe.
// Cached entries within the caller's max age are returned with zero network
// I/O. On a miss every ready candidate is tried once, in priority order; the
// first well-formed response is normalized, cached, and returned. Exhaustion
// yields a market.UnavailableError carrying every attempt.
func (c *Collector) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int, opts FetchOptions) (*models.MarketData, error) {
	if symbol == "" {
		return nil, utils.NewValidationError("symbol is required")
	}
	if !models.ValidTimeframe(timeframe) {
		return nil, utils.NewValidationErrorf("unsupported timeframe %q", timeframe)
	}
	if limit <= 0 {
		return nil, utils.NewValidationErrorf("limit must be positive, got %d", limit)
	}

	key := market.NewKey(symbol, timeframe, limit, opts.Provider)

	if !opts.Fresh {
		if data, ok := c.cached(key, opts.MaxCacheAge); ok {
			c.recordHit("bar")
			return data, nil
		}
	}
	c.recordMiss("bar")

	// Concurrent misses on the same key share one round trip. Distinct keys
	// proceed independently.
	v, err, _ := c.flight.Do(key.String(), func() (interface{}, error) {
		if !opts.Fresh {
			if data, ok := c.cached(key, opts.MaxCacheAge); ok {
				return data, nil
			}
		}
		return c.fetchThroughFallback(ctx, key, symbol, timeframe, limit)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.MarketData), nil
}

// FetchTicker returns the current ticker for the symbol using the same
// fallback protocol as bar fetches. Tickers are not cached here; the API
// layer applies its own short-TTL response cache.
func (c *Collector) FetchTicker(ctx context.Context, symbol, preferred string) (*models.Ticker, error) {
	if symbol == "" {
		return nil, utils.NewValidationError("symbol is required")
	}

	key := market.NewKey(symbol, "ticker", 1, preferred)
	candidates := c.candidates(preferred)

	var attempts []market.Attempt
	for _, h := range candidates {
		ticker, err := h.FetchTicker(ctx, symbol)
		if err != nil {
			attempts = append(attempts, market.Attempt{Provider: h.Name(), Reason: err.Error()})
			c.logger.Warn("ticker attempt failed",
				"provider", h.Name(),
				"symbol", symbol,
				"error", err,
			)
			continue
		}
		return ticker, nil
	}

	err := &market.UnavailableError{Key: key, Attempts: attempts}
	c.notifyExhausted(ctx, key, attempts)
	return nil, err
}

// cached returns the cache entry for key when it satisfies maxAge.
func (c *Collector) cached(key market.Key, maxAge time.Duration) (*models.MarketData, bool) {
	entry, ok := c.bars.Get(key)
	if !ok {
		return nil, false
	}
	if maxAge > 0 && time.Since(entry.RetrievedAt) > maxAge {
		return nil, false
	}
	return entry.Data, true
}

// candidates returns ready handles in attempt order: the preferred venue
// first when it is ready, then the registry's fallback order.
func (c *Collector) candidates(preferred string) []*exchange.Handle {
	order := c.registry.Handles()
	if preferred == "" || preferred == market.AnyProvider {
		return order
	}

	pin, ok := c.registry.Handle(preferred)
	if !ok {
		return order
	}
	out := make([]*exchange.Handle, 0, len(order))
	out = append(out, pin)
	for _, h := range order {
		if h != pin {
			out = append(out, h)
		}
	}
	return out
}

func (c *Collector) fetchThroughFallback(ctx context.Context, key market.Key, symbol, timeframe string, limit int) (*models.MarketData, error) {
	candidates := c.candidates(key.Provider)
	names := make([]string, len(candidates))
	for i, h := range candidates {
		names[i] = h.Name()
	}

	start := time.Now()
	ctx, span := c.tracer.TraceBarFetch(ctx, symbol, timeframe, names)
	defer span.Finish()

	var attempts []market.Attempt
	for _, h := range candidates {
		data, err := c.attempt(ctx, h, symbol, timeframe, limit)
		if err != nil {
			attempts = append(attempts, market.Attempt{Provider: h.Name(), Reason: err.Error()})
			c.logger.Warn("bar fetch attempt failed",
				"provider", h.Name(),
				"symbol", symbol,
				"timeframe", timeframe,
				"error", err,
			)
			continue
		}

		c.bars.Put(key, data, time.Now().UTC())
		if c.archive != nil {
			c.archive.Enqueue(data)
		}
		c.tracer.RecordFetchMetrics(span, telemetry.FetchMetrics{
			Provider:  h.Name(),
			Bars:      data.Len(),
			Attempts:  len(attempts) + 1,
			FetchTime: time.Since(start),
		})
		c.logger.Info("bar fetch succeeded",
			"provider", h.Name(),
			"symbol", symbol,
			"timeframe", timeframe,
			"bars", data.Len(),
			"attempts", len(attempts)+1,
		)
		return data, nil
	}

	c.tracer.RecordFetchMetrics(span, telemetry.FetchMetrics{
		Attempts:  len(attempts),
		Exhausted: true,
		FetchTime: time.Since(start),
	})

	err := &market.UnavailableError{Key: key, Attempts: attempts}
	c.logger.Error("bar fetch exhausted all providers",
		"symbol", symbol,
		"timeframe", timeframe,
		"attempts", len(attempts),
	)
	c.notifyExhausted(ctx, key, attempts)
	return nil, err
}

// attempt issues exactly one request against a handle and normalizes the
// response. Any validation failure is a malformed response, never a partial
// success.
func (c *Collector) attempt(ctx context.Context, h *exchange.Handle, symbol, timeframe string, limit int) (*models.MarketData, error) {
	ctx, span := c.tracer.TraceProviderAttempt(ctx, h.Name(), symbol)
	defer span.Finish()

	candles, err := h.FetchOHLCV(ctx, symbol, timeframe, limit)
	if err != nil {
		c.tracer.RecordProviderResult(span, 0, err)
		return nil, err
	}

	data, err := models.NewMarketData(symbol, timeframe, h.Name(), candles)
	if err != nil {
		merr := &market.MalformedError{Provider: h.Name(), Reason: err.Error()}
		c.tracer.RecordProviderResult(span, 0, merr)
		return nil, merr
	}

	c.tracer.RecordProviderResult(span, data.Len(), nil)
	return data, nil
}

func (c *Collector) recordHit(category string) {
	if c.analytics != nil {
		c.analytics.RecordHit(category)
	}
}

func (c *Collector) recordMiss(category string) {
	if c.analytics != nil {
		c.analytics.RecordMiss(category)
	}
}

func (c *Collector) notifyExhausted(ctx context.Context, key market.Key, attempts []market.Attempt) {
	if c.notifier != nil {
		c.notifier.FetchExhausted(ctx, key, attempts)
	}
}

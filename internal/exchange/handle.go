package exchange

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/quantfall/barfeed-go/internal/models"
	"github.com/quantfall/barfeed-go/internal/telemetry"
)

// Handle wraps one venue connection with its readiness state, fixed request
// timeout, and minimum inter-request spacing. The ready flag is set once on a
// successful probe and never reset at runtime; a handle that fails its probe
// stays out of the registry's active set for the process lifetime.
type Handle struct {
	provider    Provider
	timeout     time.Duration
	minInterval time.Duration

	// reqMu serializes outbound requests so concurrent fetches sharing this
	// handle honor the venue's spacing. Spacing is a promise about wire
	// traffic, so the lock is held across the network call.
	reqMu       sync.Mutex
	lastRequest time.Time

	ready   bool
	markets int
	initErr error
}

// NewHandle wraps a provider with rate-limit parameters. The handle is not
// ready until Probe succeeds.
func NewHandle(p Provider, timeout, minInterval time.Duration) *Handle {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handle{
		provider:    p,
		timeout:     timeout,
		minInterval: minInterval,
	}
}

// Name returns the venue identifier.
func (h *Handle) Name() string { return h.provider.Name() }

// Ready reports whether the readiness probe succeeded.
func (h *Handle) Ready() bool { return h.ready }

// Markets returns the catalog size observed by the readiness probe.
func (h *Handle) Markets() int { return h.markets }

// InitErr returns the probe failure, if any.
func (h *Handle) InitErr() error { return h.initErr }

// MaxLimit returns the venue's maximum bars per request.
func (h *Handle) MaxLimit() int { return h.provider.MaxLimit() }

// Probe runs the readiness check and returns the venue catalog on success.
func (h *Handle) Probe(ctx context.Context) ([]models.MarketInfo, error) {
	markets, err := h.LoadMarkets(ctx)
	if err != nil {
		h.initErr = err
		return nil, err
	}
	h.ready = true
	h.markets = len(markets)
	return markets, nil
}

// FetchOHLCV issues exactly one bar request under the handle's timeout and
// spacing.
func (h *Handle) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	release, err := h.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	reqCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	reqCtx, span := h.startCall(reqCtx, "venue.fetch_ohlcv",
		attribute.String("market.symbol", symbol),
		attribute.String("market.timeframe", timeframe),
		attribute.Int("market.limit", limit),
	)
	defer span.End()

	candles, err := h.provider.FetchOHLCV(reqCtx, symbol, timeframe, limit)
	recordCallResult(span, err)
	return candles, err
}

// FetchTicker issues one ticker request under the handle's timeout and spacing.
func (h *Handle) FetchTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	release, err := h.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	reqCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	reqCtx, span := h.startCall(reqCtx, "venue.fetch_ticker",
		attribute.String("market.symbol", symbol),
	)
	defer span.End()

	ticker, err := h.provider.FetchTicker(reqCtx, symbol)
	recordCallResult(span, err)
	return ticker, err
}

// LoadMarkets fetches the venue catalog under the handle's timeout and spacing.
func (h *Handle) LoadMarkets(ctx context.Context) ([]models.MarketInfo, error) {
	release, err := h.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	reqCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	reqCtx, span := h.startCall(reqCtx, "venue.load_markets")
	defer span.End()

	markets, err := h.provider.LoadMarkets(reqCtx)
	recordCallResult(span, err)
	return markets, err
}

// Close releases the underlying connection.
func (h *Handle) Close() error {
	return h.provider.Close()
}

// startCall opens a client span for one outbound venue request.
func (h *Handle) startCall(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("venue", h.provider.Name()))
	return telemetry.ProviderTracer().Start(ctx, op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

func recordCallResult(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// acquire takes the request lock and waits out the venue's minimum spacing.
// The returned release must be called after the network call completes.
func (h *Handle) acquire(ctx context.Context) (func(), error) {
	h.reqMu.Lock()

	if h.minInterval > 0 && !h.lastRequest.IsZero() {
		wait := h.minInterval - time.Since(h.lastRequest)
		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				h.reqMu.Unlock()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
	}
	h.lastRequest = time.Now()

	return h.reqMu.Unlock, nil
}

package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfall/barfeed-go/internal/config"
	"github.com/quantfall/barfeed-go/internal/market"
	"github.com/quantfall/barfeed-go/internal/models"
)

// barFetcher is the slice of the collector the refresh service drives.
type barFetcher interface {
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int, opts FetchOptions) (*models.MarketData, error)
}

// concurrencyAdvisor caps how many symbols refresh in parallel. The resource
// monitor satisfies it.
type concurrencyAdvisor interface {
	OptimalConcurrency() int
}

// RefreshService keeps the configured watchlist warm. Every interval it walks
// the symbols and asks the collector for bars no older than the interval, so
// a poll that finds fresh cache does no venue work. Interactive requests
// between polls then hit warm cache.
type RefreshService struct {
	fetcher   barFetcher
	advisor   concurrencyAdvisor
	logger    *slog.Logger
	symbols   []string
	timeframe string
	limit     int
	interval  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	cycles int64
	errors int64
}

// NewRefreshService creates a refresh service over the watchlist in cfg.
func NewRefreshService(fetcher barFetcher, advisor concurrencyAdvisor, cfg config.MarketDataConfig, logger *slog.Logger) *RefreshService {
	ctx, cancel := context.WithCancel(context.Background())
	return &RefreshService{
		fetcher:   fetcher,
		advisor:   advisor,
		logger:    logger,
		symbols:   cfg.Symbols,
		timeframe: cfg.Timeframe,
		limit:     cfg.HistoryLimit,
		interval:  config.Duration(cfg.RefreshInterval, 5*time.Minute),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the poll loop. The first cycle runs immediately so the cache
// is warm before the first interval elapses.
func (r *RefreshService) Start() {
	if len(r.symbols) == 0 {
		r.logger.Info("Refresh service has no symbols configured, not starting")
		return
	}
	r.logger.Info("Starting refresh service",
		"symbols", len(r.symbols),
		"timeframe", r.timeframe,
		"interval", r.interval)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.refreshAll()

		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.ctx.Done():
				return
			case <-ticker.C:
				r.refreshAll()
			}
		}
	}()
}

// Stop cancels the poll loop and waits for in-flight fetches to finish.
func (r *RefreshService) Stop() {
	r.cancel()
	r.wg.Wait()
}

// Stats returns cycle and error counters.
func (r *RefreshService) Stats() (cycles, errors int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cycles, r.errors
}

func (r *RefreshService) refreshAll() {
	limit := 4
	if r.advisor != nil {
		if n := r.advisor.OptimalConcurrency(); n > 0 {
			limit = n
		}
	}

	g, ctx := errgroup.WithContext(r.ctx)
	g.SetLimit(limit)

	var failures int64
	var failMu sync.Mutex
	for _, symbol := range r.symbols {
		symbol := symbol
		g.Go(func() error {
			_, err := r.fetcher.FetchOHLCV(ctx, symbol, r.timeframe, r.limit, FetchOptions{
				MaxCacheAge: r.interval,
			})
			if err != nil {
				failMu.Lock()
				failures++
				failMu.Unlock()
				if market.IsUnavailable(err) {
					r.logger.Warn("Refresh exhausted all venues", "symbol", symbol, "error", err)
				} else {
					r.logger.Warn("Refresh fetch failed", "symbol", symbol, "error", err)
				}
			}
			// Errors never cancel the remaining symbols.
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	r.cycles++
	r.errors += failures
	r.mu.Unlock()

	if failures > 0 {
		r.logger.Warn("Refresh cycle finished with failures",
			"symbols", len(r.symbols),
			"failures", failures)
	}
}

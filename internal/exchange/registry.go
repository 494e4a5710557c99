package exchange

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfall/barfeed-go/internal/config"
	"github.com/quantfall/barfeed-go/internal/market"
	"github.com/quantfall/barfeed-go/internal/models"
	"github.com/quantfall/barfeed-go/internal/telemetry"
)

// CatalogSink receives each venue's market catalog as its readiness probe
// completes. Implemented by the Redis market catalog cache; nil is allowed.
type CatalogSink interface {
	StoreCatalog(ctx context.Context, venue string, markets []models.MarketInfo)
}

// Registry owns the prioritized set of venue handles. Candidate order from
// configuration is fallback priority and is fixed for the registry's
// lifetime; there is no re-ranking on observed latency or error rate.
type Registry struct {
	handles  []*Handle
	byName   map[string]*Handle
	statuses []models.ProviderStatus
}

// NewRegistry constructs and probes every configured venue in order. A single
// venue's failure is logged and the venue excluded; only an empty active set
// after all candidates is fatal (market.ErrNoProviders).
func NewRegistry(ctx context.Context, cfg config.ProvidersConfig, sink CatalogSink, logger *slog.Logger) (*Registry, error) {
	timeout := config.Duration(cfg.RequestTimeout, 0)

	type slot struct {
		handle  *Handle
		markets []models.MarketInfo
		err     error
	}

	names := make([]string, 0, len(cfg.Order))
	for _, name := range cfg.Order {
		names = append(names, strings.ToLower(strings.TrimSpace(name)))
	}
	slots := make([]slot, len(names))

	tracer := telemetry.NewBusinessTracer()
	initStart := time.Now()
	_, span := tracer.TraceRegistryInit(ctx, names)

	probe := func(i int) {
		name := names[i]
		venue := venueConfig(cfg, name)
		provider, err := New(name, venue)
		if err != nil {
			slots[i].err = err
			return
		}
		h := NewHandle(provider, timeout, config.Duration(venue.MinRequestInterval, 0))
		markets, err := h.Probe(ctx)
		if err != nil {
			_ = h.Close()
			slots[i].err = err
			return
		}
		slots[i].handle = h
		slots[i].markets = markets
	}

	if cfg.ParallelInit {
		// Bounded parallel variant: one task per candidate, joined before the
		// registry is assembled. Partial-failure handling is identical to the
		// sequential path.
		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(4)
		for i := range names {
			g.Go(func() error {
				probe(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range names {
			probe(i)
		}
	}

	r := &Registry{byName: make(map[string]*Handle, len(names))}
	for i, name := range names {
		s := slots[i]
		status := models.ProviderStatus{
			Name:        name,
			DisplayName: DisplayName(name),
			Priority:    i,
		}
		if s.err != nil {
			initErr := &market.InitError{Provider: name, Err: s.err}
			logger.Warn("provider excluded from active set",
				"provider", name,
				"error", initErr.Error(),
			)
			status.InitError = s.err.Error()
			r.statuses = append(r.statuses, status)
			continue
		}

		status.Ready = true
		status.Markets = len(s.markets)
		r.statuses = append(r.statuses, status)
		r.handles = append(r.handles, s.handle)
		r.byName[name] = s.handle
		if sink != nil {
			sink.StoreCatalog(ctx, name, s.markets)
		}
		logger.Info("provider ready",
			"provider", name,
			"markets", len(s.markets),
			"priority", i,
		)
	}

	tracer.RecordRegistryMetrics(span, telemetry.RegistryMetrics{
		ReadyCount:  len(r.handles),
		FailedCount: len(names) - len(r.handles),
		InitTime:    time.Since(initStart),
	})
	span.Finish()

	if len(r.handles) == 0 {
		return nil, market.ErrNoProviders
	}
	return r, nil
}

// NewStaticRegistry assembles a registry from pre-built handles in the given
// priority order, skipping probing. Used by tests and the provider check tool.
func NewStaticRegistry(handles ...*Handle) *Registry {
	r := &Registry{byName: make(map[string]*Handle, len(handles))}
	for i, h := range handles {
		status := models.ProviderStatus{
			Name:        h.Name(),
			DisplayName: DisplayName(h.Name()),
			Priority:    i,
			Ready:       h.Ready(),
			Markets:     h.Markets(),
		}
		if err := h.InitErr(); err != nil {
			status.InitError = err.Error()
		}
		r.statuses = append(r.statuses, status)
		if !h.Ready() {
			continue
		}
		r.handles = append(r.handles, h)
		r.byName[h.Name()] = h
	}
	return r
}

// Handles returns the ready handles in fallback priority order. Callers must
// not mutate the returned slice.
func (r *Registry) Handles() []*Handle {
	return r.handles
}

// Handle looks up a ready handle by venue name.
func (r *Registry) Handle(name string) (*Handle, bool) {
	h, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	return h, ok
}

// Statuses reports every configured candidate, ready or not, in config order.
func (r *Registry) Statuses() []models.ProviderStatus {
	out := make([]models.ProviderStatus, len(r.statuses))
	copy(out, r.statuses)
	return out
}

// Degraded lists candidates that failed initialization.
func (r *Registry) Degraded() []models.ProviderStatus {
	var out []models.ProviderStatus
	for _, s := range r.statuses {
		if !s.Ready {
			out = append(out, s)
		}
	}
	return out
}

// Close releases every active handle's connection.
func (r *Registry) Close() {
	for _, h := range r.handles {
		_ = h.Close()
	}
}

func venueConfig(cfg config.ProvidersConfig, name string) config.VenueConfig {
	switch name {
	case "binance":
		return cfg.Binance
	case "kraken":
		return cfg.Kraken
	case "coinbase":
		return cfg.Coinbase
	default:
		return config.VenueConfig{}
	}
}

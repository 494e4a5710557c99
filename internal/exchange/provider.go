package exchange

import (
	"context"
	"fmt"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/quantfall/barfeed-go/internal/config"
	"github.com/quantfall/barfeed-go/internal/models"
)

// Provider is one venue connection. Implementations own symbol and timeframe
// translation for their venue and must distinguish transport failures from
// structurally unusable responses (market.MalformedError).
type Provider interface {
	// Name returns the venue identifier (lowercase, matches config).
	Name() string

	// LoadMarkets fetches the venue's tradable-market catalog. It doubles as
	// the readiness probe during registry construction.
	LoadMarkets(ctx context.Context) ([]models.MarketInfo, error)

	// FetchOHLCV returns up to limit bars for the symbol at the given
	// timeframe, oldest first, timestamps in UTC. A venue whose page size is
	// smaller than limit returns fewer bars without error.
	FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error)

	// FetchTicker returns the current top-of-book snapshot for the symbol.
	FetchTicker(ctx context.Context, symbol string) (*models.Ticker, error)

	// MaxLimit is the venue's maximum bars per OHLCV request.
	MaxLimit() int

	Close() error
}

// constructors is the static map from venue identifier to constructor.
// Supported venues are fixed at compile time; there is no dynamic dispatch by
// provider name beyond this table.
var constructors = map[string]func(config.VenueConfig) (Provider, error){
	"binance":  newBinance,
	"kraken":   newKraken,
	"coinbase": newCoinbase,
}

// New constructs the named venue client.
func New(name string, cfg config.VenueConfig) (Provider, error) {
	build, ok := constructors[name]
	if !ok {
		return nil, fmt.Errorf("unsupported provider %q (supported: %v)", name, Supported())
	}
	return build(cfg)
}

// Supported lists the venue identifiers this build knows how to construct.
func Supported() []string {
	return []string{"binance", "kraken", "coinbase"}
}

var displayCaser = cases.Title(language.English)

// DisplayName renders a venue identifier for API payloads and alerts.
func DisplayName(name string) string {
	return displayCaser.String(name)
}

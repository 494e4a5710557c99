package exchange

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfall/barfeed-go/internal/config"
)

func newBinanceForTest(t *testing.T, handler http.HandlerFunc) Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := newBinance(config.VenueConfig{BaseURL: srv.URL})
	require.NoError(t, err)
	return p
}

func TestBinanceFetchOHLCV(t *testing.T) {
	p := newBinanceForTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		assert.Equal(t, "1h", r.URL.Query().Get("interval"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[
			[1709251200000, "62000.1", "62500.0", "61800.5", "62400.2", "120.5", 1709254799999, "7500000.0", 900, "60.2", "3740000.0", "0"],
			[1709254800000, "62400.2", "62900.0", "62300.0", "62700.8", "98.2", 1709258399999, "6150000.0", 720, "49.0", "3070000.0", "0"]
		]`))
	})

	candles, err := p.FetchOHLCV(context.Background(), "BTC/USDT", "1h", 100)
	require.NoError(t, err)
	require.Len(t, candles, 2)

	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), candles[0].Timestamp)
	assert.Equal(t, 62000.1, candles[0].Open)
	assert.Equal(t, 62900.0, candles[1].High)
	assert.Equal(t, 98.2, candles[1].Volume)
}

func TestBinanceFetchOHLCVClampsLimit(t *testing.T) {
	p := newBinanceForTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1500", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`[]`))
	})

	candles, err := p.FetchOHLCV(context.Background(), "BTC/USDT", "1h", 5000)
	require.NoError(t, err)
	assert.Empty(t, candles)
}

func TestBinanceTransportError(t *testing.T) {
	p := newBinanceForTest(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"code": -1003, "msg": "Too many requests."}`, http.StatusTooManyRequests)
	})

	_, err := p.FetchOHLCV(context.Background(), "BTC/USDT", "1h", 100)
	require.Error(t, err)
}

func TestBinanceLoadMarkets(t *testing.T) {
	p := newBinanceForTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/exchangeInfo", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"timezone": "UTC",
			"symbols": [
				{"symbol": "BTCUSDT", "status": "TRADING", "baseAsset": "BTC", "quoteAsset": "USDT"},
				{"symbol": "LUNAUSDT", "status": "BREAK", "baseAsset": "LUNA", "quoteAsset": "USDT"}
			]
		}`))
	})

	markets, err := p.LoadMarkets(context.Background())
	require.NoError(t, err)
	require.Len(t, markets, 2)
	assert.Equal(t, "BTC/USDT", markets[0].Symbol)
	assert.True(t, markets[0].Active)
	assert.False(t, markets[1].Active)
}

func TestBinanceFetchTicker(t *testing.T) {
	p := newBinanceForTest(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/ticker/24hr", r.URL.Path)
		assert.Equal(t, "BTCUSDT", r.URL.Query().Get("symbol"))
		_, _ = w.Write([]byte(`{
			"symbol": "BTCUSDT",
			"lastPrice": "62700.8",
			"bidPrice": "62700.0",
			"askPrice": "62701.2",
			"volume": "3200.5",
			"closeTime": 1709258400000
		}`))
	})

	tick, err := p.FetchTicker(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.Equal(t, "binance", tick.Provider)
	assert.Equal(t, "62700.8", tick.Last.String())
	assert.Equal(t, "62700", tick.Bid.String())
	assert.Equal(t, "62701.2", tick.Ask.String())
	assert.Equal(t, time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC), tick.Timestamp)
}

func TestBinanceSymbol(t *testing.T) {
	assert.Equal(t, "BTCUSDT", binanceSymbol("BTC/USDT"))
	assert.Equal(t, "ETHBTC", binanceSymbol(" eth/btc "))
}

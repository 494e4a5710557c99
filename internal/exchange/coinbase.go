package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfall/barfeed-go/internal/config"
	"github.com/quantfall/barfeed-go/internal/market"
	"github.com/quantfall/barfeed-go/internal/models"
)

const (
	coinbaseDefaultBaseURL = "https://api.exchange.coinbase.com"
	// The candles endpoint caps each response at 300 rows.
	coinbaseMaxLimit = 300
)

// coinbaseGranularities maps timeframe identifiers to the granularity values
// (seconds) the candles endpoint accepts.
var coinbaseGranularities = map[string]int{
	"1m":  60,
	"5m":  300,
	"15m": 900,
	"1h":  3600,
	"6h":  21600,
	"1d":  86400,
}

type coinbaseProvider struct {
	baseURL string
	http    *http.Client
}

func newCoinbase(cfg config.VenueConfig) (Provider, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = coinbaseDefaultBaseURL
	}
	return &coinbaseProvider{
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{},
	}, nil
}

func (p *coinbaseProvider) Name() string  { return "coinbase" }
func (p *coinbaseProvider) MaxLimit() int { return coinbaseMaxLimit }

func (p *coinbaseProvider) Close() error {
	p.http.CloseIdleConnections()
	return nil
}

func (p *coinbaseProvider) LoadMarkets(ctx context.Context) ([]models.MarketInfo, error) {
	body, err := p.get(ctx, "/products", nil)
	if err != nil {
		return nil, err
	}

	var products []struct {
		ID            string `json:"id"`
		BaseCurrency  string `json:"base_currency"`
		QuoteCurrency string `json:"quote_currency"`
		Status        string `json:"status"`
	}
	if err := json.Unmarshal(body, &products); err != nil {
		return nil, &market.MalformedError{Provider: p.Name(), Reason: "products payload: " + err.Error()}
	}
	if len(products) == 0 {
		return nil, &market.MalformedError{Provider: p.Name(), Reason: "products response carried no markets"}
	}

	out := make([]models.MarketInfo, 0, len(products))
	for _, prod := range products {
		out = append(out, models.MarketInfo{
			Symbol: prod.BaseCurrency + "/" + prod.QuoteCurrency,
			Base:   prod.BaseCurrency,
			Quote:  prod.QuoteCurrency,
			Active: prod.Status == "online",
		})
	}
	return out, nil
}

func (p *coinbaseProvider) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	granularity, ok := coinbaseGranularities[timeframe]
	if !ok {
		return nil, &market.FetchError{Provider: p.Name(), Err: fmt.Errorf("timeframe %s not offered by venue", timeframe)}
	}
	if limit > coinbaseMaxLimit {
		limit = coinbaseMaxLimit
	}

	// Bound the window so the venue returns at most limit rows.
	end := time.Now().UTC().Truncate(time.Duration(granularity) * time.Second)
	start := end.Add(-time.Duration(limit*granularity) * time.Second)

	body, err := p.get(ctx, "/products/"+coinbaseSymbol(symbol)+"/candles", url.Values{
		"granularity": {fmt.Sprint(granularity)},
		"start":       {start.Format(time.RFC3339)},
		"end":         {end.Format(time.RFC3339)},
	})
	if err != nil {
		return nil, err
	}

	// Rows arrive newest first as [time, low, high, open, close, volume].
	var rows [][]float64
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, &market.MalformedError{Provider: p.Name(), Reason: "candles payload: " + err.Error()}
	}

	out := make([]models.Candle, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, &market.MalformedError{Provider: p.Name(), Reason: fmt.Sprintf("candle row %d: %d columns", i, len(row))}
		}
		out = append(out, models.Candle{
			Timestamp: time.Unix(int64(row[0]), 0).UTC(),
			Open:      row[3],
			High:      row[2],
			Low:       row[1],
			Close:     row[4],
			Volume:    row[5],
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (p *coinbaseProvider) FetchTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	body, err := p.get(ctx, "/products/"+coinbaseSymbol(symbol)+"/ticker", nil)
	if err != nil {
		return nil, err
	}

	var tick struct {
		Price  string `json:"price"`
		Bid    string `json:"bid"`
		Ask    string `json:"ask"`
		Volume string `json:"volume"`
		Time   string `json:"time"`
	}
	if err := json.Unmarshal(body, &tick); err != nil {
		return nil, &market.MalformedError{Provider: p.Name(), Reason: "ticker payload: " + err.Error()}
	}

	last, err := decimal.NewFromString(tick.Price)
	if err != nil {
		return nil, &market.MalformedError{Provider: p.Name(), Reason: "unparseable last price " + tick.Price}
	}
	bid, _ := decimal.NewFromString(tick.Bid)
	ask, _ := decimal.NewFromString(tick.Ask)
	volume, _ := decimal.NewFromString(tick.Volume)

	ts := time.Now().UTC()
	if parsed, err := time.Parse(time.RFC3339, tick.Time); err == nil {
		ts = parsed.UTC()
	}

	return &models.Ticker{
		Provider:  p.Name(),
		Symbol:    strings.ToUpper(symbol),
		Last:      last,
		Bid:       bid,
		Ask:       ask,
		Volume:    volume,
		Timestamp: ts,
	}, nil
}

func (p *coinbaseProvider) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := p.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &market.FetchError{Provider: p.Name(), Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "barfeed/1.0")

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, &market.FetchError{Provider: p.Name(), Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, &market.FetchError{Provider: p.Name(), Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &market.FetchError{Provider: p.Name(), Err: err}
	}
	return body, nil
}

// coinbaseSymbol renders BTC/USDT as BTC-USDT.
func coinbaseSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "/", "-"))
}

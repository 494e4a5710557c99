package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"

	"github.com/quantfall/barfeed-go/internal/config"
	"github.com/quantfall/barfeed-go/internal/market"
	"github.com/quantfall/barfeed-go/internal/models"
)

const (
	krakenDefaultBaseURL = "https://api.kraken.com"
	// Kraken's OHLC endpoint returns at most 720 rows regardless of request.
	krakenMaxLimit = 720
)

// krakenTimeframes maps timeframe identifiers to Kraken's interval parameter
// (minutes). 6h and 12h are not offered by the venue.
var krakenTimeframes = map[string]int{
	"1m":  1,
	"5m":  5,
	"15m": 15,
	"30m": 30,
	"1h":  60,
	"4h":  240,
	"1d":  1440,
	"1w":  10080,
}

// krakenAssetAliases translates common asset codes to Kraken's naming.
var krakenAssetAliases = map[string]string{
	"BTC":  "XBT",
	"DOGE": "XDG",
}

// krakenProvider speaks the venue's public REST API. Responses key their
// payload by Kraken's own pair name, which rarely matches the requested one,
// so parsing walks the result object instead of indexing a fixed field.
type krakenProvider struct {
	baseURL string
	http    *http.Client
}

func newKraken(cfg config.VenueConfig) (Provider, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = krakenDefaultBaseURL
	}
	return &krakenProvider{
		baseURL: strings.TrimRight(base, "/"),
		http:    &http.Client{},
	}, nil
}

func (p *krakenProvider) Name() string  { return "kraken" }
func (p *krakenProvider) MaxLimit() int { return krakenMaxLimit }

func (p *krakenProvider) Close() error {
	p.http.CloseIdleConnections()
	return nil
}

func (p *krakenProvider) LoadMarkets(ctx context.Context) ([]models.MarketInfo, error) {
	body, err := p.get(ctx, "/0/public/AssetPairs", nil)
	if err != nil {
		return nil, err
	}

	var out []models.MarketInfo
	gjson.GetBytes(body, "result").ForEach(func(_, pair gjson.Result) bool {
		wsname := pair.Get("wsname").String()
		if wsname == "" {
			return true
		}
		parts := strings.SplitN(wsname, "/", 2)
		if len(parts) != 2 {
			return true
		}
		out = append(out, models.MarketInfo{
			Symbol: krakenCanonicalAsset(parts[0]) + "/" + krakenCanonicalAsset(parts[1]),
			Base:   krakenCanonicalAsset(parts[0]),
			Quote:  krakenCanonicalAsset(parts[1]),
			Active: pair.Get("status").String() == "online",
		})
		return true
	})
	if len(out) == 0 {
		return nil, &market.MalformedError{Provider: p.Name(), Reason: "asset pairs response carried no markets"}
	}
	return out, nil
}

func (p *krakenProvider) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	interval, ok := krakenTimeframes[timeframe]
	if !ok {
		return nil, &market.FetchError{Provider: p.Name(), Err: fmt.Errorf("timeframe %s not offered by venue", timeframe)}
	}

	body, err := p.get(ctx, "/0/public/OHLC", url.Values{
		"pair":     {krakenSymbol(symbol)},
		"interval": {fmt.Sprint(interval)},
	})
	if err != nil {
		return nil, err
	}

	rows := krakenResult(body)
	if !rows.Exists() {
		return nil, &market.MalformedError{Provider: p.Name(), Reason: "OHLC response carried no pair data"}
	}

	var out []models.Candle
	var parseErr error
	rows.ForEach(func(i, row gjson.Result) bool {
		cols := row.Array()
		if len(cols) < 7 {
			parseErr = fmt.Errorf("row %d: %d columns", i.Int(), len(cols))
			return false
		}
		// Row layout: time, open, high, low, close, vwap, volume, count.
		out = append(out, models.Candle{
			Timestamp: time.Unix(cols[0].Int(), 0).UTC(),
			Open:      cols[1].Float(),
			High:      cols[2].Float(),
			Low:       cols[3].Float(),
			Close:     cols[4].Float(),
			Volume:    cols[6].Float(),
		})
		return true
	})
	if parseErr != nil {
		return nil, &market.MalformedError{Provider: p.Name(), Reason: parseErr.Error()}
	}

	// The endpoint has no limit parameter; keep the most recent bars.
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (p *krakenProvider) FetchTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	body, err := p.get(ctx, "/0/public/Ticker", url.Values{
		"pair": {krakenSymbol(symbol)},
	})
	if err != nil {
		return nil, err
	}

	tick := krakenResult(body)
	if !tick.Exists() {
		return nil, &market.MalformedError{Provider: p.Name(), Reason: "ticker response carried no pair data"}
	}

	last, err := decimal.NewFromString(tick.Get("c.0").String())
	if err != nil {
		return nil, &market.MalformedError{Provider: p.Name(), Reason: "unparseable last price"}
	}
	bid, _ := decimal.NewFromString(tick.Get("b.0").String())
	ask, _ := decimal.NewFromString(tick.Get("a.0").String())
	volume, _ := decimal.NewFromString(tick.Get("v.1").String())

	return &models.Ticker{
		Provider:  p.Name(),
		Symbol:    strings.ToUpper(symbol),
		Last:      last,
		Bid:       bid,
		Ask:       ask,
		Volume:    volume,
		Timestamp: time.Now().UTC(),
	}, nil
}

func (p *krakenProvider) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	endpoint := p.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, &market.FetchError{Provider: p.Name(), Err: err}
	}
	req.Header.Set("Accept", "application/json")

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
	if !gjson.ValidBytes(body) {
		return nil, &market.MalformedError{Provider: p.Name(), Reason: "response is not valid JSON"}
	}
	if errs := gjson.GetBytes(body, "error").Array(); len(errs) > 0 {
		msgs := make([]string, 0, len(errs))
		for _, e := range errs {
			msgs = append(msgs, e.String())
		}
		return nil, &market.FetchError{Provider: p.Name(), Err: fmt.Errorf("venue error: %s", strings.Join(msgs, ", "))}
	}
	return body, nil
}

// krakenResult returns the first pair value under "result", skipping the
// "last" cursor the venue appends next to the pair key. OHLC payloads carry
// the row array there, ticker payloads the tick object.
func krakenResult(body []byte) gjson.Result {
	var pair gjson.Result
	gjson.GetBytes(body, "result").ForEach(func(key, value gjson.Result) bool {
		if key.String() == "last" {
			return true
		}
		pair = value
		return false
	})
	return pair
}

// krakenSymbol renders BTC/USDT as XBTUSDT, applying the venue's asset names.
func krakenSymbol(symbol string) string {
	parts := strings.SplitN(strings.ToUpper(strings.TrimSpace(symbol)), "/", 2)
	for i, part := range parts {
		if alias, ok := krakenAssetAliases[part]; ok {
			parts[i] = alias
		}
	}
	return strings.Join(parts, "")
}

// krakenCanonicalAsset maps Kraken's asset naming back to the common one.
func krakenCanonicalAsset(asset string) string {
	for common, venue := range krakenAssetAliases {
		if asset == venue {
			return common
		}
	}
	return asset
}

package exchange

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"

	"github.com/quantfall/barfeed-go/internal/config"
	"github.com/quantfall/barfeed-go/internal/market"
	"github.com/quantfall/barfeed-go/internal/models"
)

const binanceMaxLimit = 1500

// binanceProvider serves spot klines through the official SDK.
type binanceProvider struct {
	client *binance.Client
}

func newBinance(cfg config.VenueConfig) (Provider, error) {
	client := binance.NewClient(cfg.APIKey, cfg.APISecret)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		client.BaseURL = base
	}
	return &binanceProvider{client: client}, nil
}

func (p *binanceProvider) Name() string  { return "binance" }
func (p *binanceProvider) MaxLimit() int { return binanceMaxLimit }
func (p *binanceProvider) Close() error  { return nil }

func (p *binanceProvider) LoadMarkets(ctx context.Context) ([]models.MarketInfo, error) {
	info, err := p.client.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, &market.FetchError{Provider: p.Name(), Err: err}
	}
	out := make([]models.MarketInfo, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		out = append(out, models.MarketInfo{
			Symbol: s.BaseAsset + "/" + s.QuoteAsset,
			Base:   s.BaseAsset,
			Quote:  s.QuoteAsset,
			Active: s.Status == "TRADING",
		})
	}
	return out, nil
}

func (p *binanceProvider) FetchOHLCV(ctx context.Context, symbol, timeframe string, limit int) ([]models.Candle, error) {
	if limit > binanceMaxLimit {
		limit = binanceMaxLimit
	}
	klines, err := p.client.NewKlinesService().
		Symbol(binanceSymbol(symbol)).
		Interval(timeframe).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, &market.FetchError{Provider: p.Name(), Err: err}
	}

	out := make([]models.Candle, 0, len(klines))
	for i, kl := range klines {
		if kl == nil {
			continue
		}
		c, err := binanceCandle(kl)
		if err != nil {
			return nil, &market.MalformedError{Provider: p.Name(), Reason: fmt.Sprintf("kline %d: %v", i, err)}
		}
		out = append(out, c)
	}
	return out, nil
}

func (p *binanceProvider) FetchTicker(ctx context.Context, symbol string) (*models.Ticker, error) {
	stats, err := p.client.NewListPriceChangeStatsService().
		Symbol(binanceSymbol(symbol)).
		Do(ctx)
	if err != nil {
		return nil, &market.FetchError{Provider: p.Name(), Err: err}
	}
	if len(stats) == 0 || stats[0] == nil {
		return nil, &market.MalformedError{Provider: p.Name(), Reason: "empty ticker response"}
	}
	s := stats[0]

	last, err := decimal.NewFromString(s.LastPrice)
	if err != nil {
		return nil, &market.MalformedError{Provider: p.Name(), Reason: "unparseable last price " + s.LastPrice}
	}
	bid, _ := decimal.NewFromString(s.BidPrice)
	ask, _ := decimal.NewFromString(s.AskPrice)
	volume, _ := decimal.NewFromString(s.Volume)

	return &models.Ticker{
		Provider:  p.Name(),
		Symbol:    strings.ToUpper(symbol),
		Last:      last,
		Bid:       bid,
		Ask:       ask,
		Volume:    volume,
		Timestamp: time.UnixMilli(s.CloseTime).UTC(),
	}, nil
}

// binanceSymbol strips the slash: BTC/USDT -> BTCUSDT.
func binanceSymbol(symbol string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(symbol), "/", ""))
}

func binanceCandle(kl *binance.Kline) (models.Candle, error) {
	open, err := strconv.ParseFloat(kl.Open, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("open %q", kl.Open)
	}
	high, err := strconv.ParseFloat(kl.High, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("high %q", kl.High)
	}
	low, err := strconv.ParseFloat(kl.Low, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("low %q", kl.Low)
	}
	closePrice, err := strconv.ParseFloat(kl.Close, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("close %q", kl.Close)
	}
	volume, err := strconv.ParseFloat(kl.Volume, 64)
	if err != nil {
		return models.Candle{}, fmt.Errorf("volume %q", kl.Volume)
	}
	return models.Candle{
		Timestamp: time.UnixMilli(kl.OpenTime).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}, nil
}

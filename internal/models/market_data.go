package models

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrNoCandles is returned when a bar series is constructed from an empty candle set.
var ErrNoCandles = errors.New("no candles in series")

// Candle represents a single OHLCV bar as returned by a venue, timestamps
// already normalized to UTC.
type Candle struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Valid reports whether the candle carries a usable timestamp and finite values.
func (c Candle) Valid() bool {
	if c.Timestamp.IsZero() {
		return false
	}
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// MarketData is an immutable OHLCV bar series for one symbol from one venue.
// All six sequences share the same length and timestamps are strictly
// increasing; both are enforced at construction time and callers must treat a
// returned instance as read-only.
type MarketData struct {
	Symbol     string      `json:"symbol"`
	Timeframe  string      `json:"timeframe"`
	Provider   string      `json:"provider"`
	Timestamps []time.Time `json:"timestamps"`
	Opens      []float64   `json:"opens"`
	Highs      []float64   `json:"highs"`
	Lows       []float64   `json:"lows"`
	Closes     []float64   `json:"closes"`
	Volumes    []float64   `json:"volumes"`
}

// NewMarketData builds a validated bar series from venue candles. It fails on
// an empty set, on any NaN/Inf value, and on timestamps that are not strictly
// increasing; a failure here means the venue response is unusable as a whole.
func NewMarketData(symbol, timeframe, provider string, candles []Candle) (*MarketData, error) {
	if len(candles) == 0 {
		return nil, ErrNoCandles
	}

	md := &MarketData{
		Symbol:     symbol,
		Timeframe:  timeframe,
		Provider:   provider,
		Timestamps: make([]time.Time, 0, len(candles)),
		Opens:      make([]float64, 0, len(candles)),
		Highs:      make([]float64, 0, len(candles)),
		Lows:       make([]float64, 0, len(candles)),
		Closes:     make([]float64, 0, len(candles)),
		Volumes:    make([]float64, 0, len(candles)),
	}

	var prev time.Time
	for i, c := range candles {
		if !c.Valid() {
			return nil, fmt.Errorf("candle %d: non-finite value or zero timestamp", i)
		}
		ts := c.Timestamp.UTC()
		if i > 0 && !ts.After(prev) {
			return nil, fmt.Errorf("candle %d: timestamp %s not after %s", i, ts.Format(time.RFC3339), prev.Format(time.RFC3339))
		}
		prev = ts

		md.Timestamps = append(md.Timestamps, ts)
		md.Opens = append(md.Opens, c.Open)
		md.Highs = append(md.Highs, c.High)
		md.Lows = append(md.Lows, c.Low)
		md.Closes = append(md.Closes, c.Close)
		md.Volumes = append(md.Volumes, c.Volume)
	}

	return md, nil
}

// Len returns the number of bars in the series.
func (m *MarketData) Len() int {
	return len(m.Timestamps)
}

// FirstTimestamp returns the oldest bar timestamp.
func (m *MarketData) FirstTimestamp() time.Time {
	if len(m.Timestamps) == 0 {
		return time.Time{}
	}
	return m.Timestamps[0]
}

// LastTimestamp returns the newest bar timestamp.
func (m *MarketData) LastTimestamp() time.Time {
	if len(m.Timestamps) == 0 {
		return time.Time{}
	}
	return m.Timestamps[len(m.Timestamps)-1]
}

// Span returns the interval covered between the first and last bar.
func (m *MarketData) Span() time.Duration {
	if len(m.Timestamps) < 2 {
		return 0
	}
	return m.LastTimestamp().Sub(m.FirstTimestamp())
}

// Candle returns the bar at index i.
func (m *MarketData) Candle(i int) Candle {
	return Candle{
		Timestamp: m.Timestamps[i],
		Open:      m.Opens[i],
		High:      m.Highs[i],
		Low:       m.Lows[i],
		Close:     m.Closes[i],
		Volume:    m.Volumes[i],
	}
}

// Candles returns the series as a fresh candle slice.
func (m *MarketData) Candles() []Candle {
	out := make([]Candle, m.Len())
	for i := range m.Timestamps {
		out[i] = m.Candle(i)
	}
	return out
}

// Validate re-checks the construction invariants. Useful for data that crossed
// a serialization boundary.
func (m *MarketData) Validate() error {
	n := len(m.Timestamps)
	if n == 0 {
		return ErrNoCandles
	}
	if len(m.Opens) != n || len(m.Highs) != n || len(m.Lows) != n || len(m.Closes) != n || len(m.Volumes) != n {
		return fmt.Errorf("sequence length mismatch: %d timestamps, %d/%d/%d/%d/%d ohlcv",
			n, len(m.Opens), len(m.Highs), len(m.Lows), len(m.Closes), len(m.Volumes))
	}
	for i := 0; i < n; i++ {
		if !m.Candle(i).Valid() {
			return fmt.Errorf("candle %d: non-finite value or zero timestamp", i)
		}
		if i > 0 && !m.Timestamps[i].After(m.Timestamps[i-1]) {
			return fmt.Errorf("candle %d: timestamps not strictly increasing", i)
		}
	}
	return nil
}

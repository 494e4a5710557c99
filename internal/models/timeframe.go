package models

import (
	"fmt"
	"time"
)

// timeframeDurations maps the timeframe identifiers accepted on the fetch path
// to their bar interval. Venues that do not support one of these reject it at
// request time.
var timeframeDurations = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// timeframeOrder keeps listing output stable.
var timeframeOrder = []string{"1m", "5m", "15m", "30m", "1h", "4h", "6h", "12h", "1d", "1w"}

// TimeframeDuration resolves a timeframe identifier to its bar interval.
func TimeframeDuration(timeframe string) (time.Duration, error) {
	d, ok := timeframeDurations[timeframe]
	if !ok {
		return 0, fmt.Errorf("unknown timeframe %q", timeframe)
	}
	return d, nil
}

// ValidTimeframe reports whether the identifier is one this service accepts.
func ValidTimeframe(timeframe string) bool {
	_, ok := timeframeDurations[timeframe]
	return ok
}

// SupportedTimeframes lists accepted timeframe identifiers from shortest to longest.
func SupportedTimeframes() []string {
	out := make([]string, len(timeframeOrder))
	copy(out, timeframeOrder)
	return out
}

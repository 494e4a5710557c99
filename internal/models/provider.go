package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// MarketInfo describes one tradable market as reported by a venue's catalog.
type MarketInfo struct {
	Symbol string `json:"symbol"`
	Base   string `json:"base"`
	Quote  string `json:"quote"`
	Active bool   `json:"active"`
}

// Ticker represents the current top-of-book snapshot for a symbol on one venue.
type Ticker struct {
	Provider  string          `json:"provider"`
	Symbol    string          `json:"symbol"`
	Last      decimal.Decimal `json:"last"`
	Bid       decimal.Decimal `json:"bid"`
	Ask       decimal.Decimal `json:"ask"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// ProviderStatus summarizes one configured venue for health and API responses.
type ProviderStatus struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Priority    int    `json:"priority"`
	Ready       bool   `json:"ready"`
	Markets     int    `json:"markets,omitempty"`
	InitError   string `json:"init_error,omitempty"`
}

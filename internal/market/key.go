package market

import (
	"fmt"
	"strings"
)

// AnyProvider is the key component used when the caller did not pin a venue.
// A pinned fetch and an unpinned fetch for the same bars are distinct cache
// entries.
const AnyProvider = "any"

// Key identifies one bar request for cache lookup and in-flight coalescing.
type Key struct {
	Symbol    string
	Timeframe string
	Limit     int
	Provider  string
}

// NewKey builds a normalized fetch key. An empty provider means "any".
func NewKey(symbol, timeframe string, limit int, provider string) Key {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = AnyProvider
	}
	return Key{
		Symbol:    strings.ToUpper(strings.TrimSpace(symbol)),
		Timeframe: strings.TrimSpace(timeframe),
		Limit:     limit,
		Provider:  provider,
	}
}

// String renders the key in a stable form usable as a map or Redis key.
func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%d:%s", k.Symbol, k.Timeframe, k.Limit, k.Provider)
}

// Pinned reports whether the key targets one specific venue.
func (k Key) Pinned() bool {
	return k.Provider != AnyProvider
}

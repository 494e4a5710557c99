package market

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewKeyNormalizes(t *testing.T) {
	k := NewKey(" btc/usdt ", "1h", 100, "")
	assert.Equal(t, "BTC/USDT", k.Symbol)
	assert.Equal(t, AnyProvider, k.Provider)
	assert.False(t, k.Pinned())
	assert.Equal(t, "BTC/USDT:1h:100:any", k.String())

	pinned := NewKey("BTC/USDT", "1h", 100, "Binance")
	assert.True(t, pinned.Pinned())
	assert.Equal(t, "binance", pinned.Provider)
	assert.NotEqual(t, k, pinned)
}

func TestKeyEquality(t *testing.T) {
	a := NewKey("BTC/USDT", "1h", 100, "")
	b := NewKey("btc/usdt", "1h", 100, "any")
	assert.Equal(t, a, b)

	c := NewKey("BTC/USDT", "1h", 200, "")
	assert.NotEqual(t, a, c)
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	ie := &InitError{Provider: "kraken", Err: cause}
	assert.ErrorIs(t, ie, cause)
	assert.Contains(t, ie.Error(), "kraken")

	fe := &FetchError{Provider: "binance", Err: cause}
	assert.ErrorIs(t, fe, cause)

	wrapped := fmt.Errorf("fetch: %w", &MalformedError{Provider: "coinbase", Reason: "empty response"})
	assert.True(t, IsMalformed(wrapped))
	assert.False(t, IsMalformed(cause))
}

func TestUnavailableError(t *testing.T) {
	ue := &UnavailableError{
		Key: NewKey("BTC/USDT", "1h", 100, ""),
		Attempts: []Attempt{
			{Provider: "binance", Reason: "timeout"},
			{Provider: "kraken", Reason: "malformed response: empty"},
		},
	}

	assert.Equal(t, []string{"binance", "kraken"}, ue.AttemptedProviders())
	assert.Contains(t, ue.Error(), "after 2 attempts")
	assert.Contains(t, ue.Error(), "binance: timeout")

	wrapped := fmt.Errorf("collector: %w", ue)
	assert.True(t, IsUnavailable(wrapped))
	assert.False(t, IsUnavailable(errors.New("other")))
}

func TestUnavailableErrorNoAttempts(t *testing.T) {
	ue := &UnavailableError{Key: NewKey("ETH/USDT", "4h", 50, "")}
	assert.Contains(t, ue.Error(), "no candidates attempted")
}

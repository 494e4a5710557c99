package market

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoProviders is returned by registry construction when not a single
// configured venue could be readied. The service cannot run past this point.
var ErrNoProviders = errors.New("no providers available")

// InitError wraps a single venue's initialization failure. It is logged and
// the venue is excluded from the active set; it never aborts registry
// construction on its own.
type InitError struct {
	Provider string
	Err      error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("provider %s: init failed: %v", e.Provider, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// FetchError wraps one venue's single failed fetch attempt. Non-fatal: the
// collector records it and falls back to the next candidate.
type FetchError struct {
	Provider string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("provider %s: fetch failed: %v", e.Provider, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MalformedError marks a venue response that came back without a transport
// error but is structurally unusable: empty, wrong shape, non-finite values,
// or out-of-order timestamps. For fallback purposes it behaves exactly like a
// FetchError.
type MalformedError struct {
	Provider string
	Reason   string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("provider %s: malformed response: %s", e.Provider, e.Reason)
}

// Attempt records one candidate tried during a fetch and why it failed.
type Attempt struct {
	Provider string `json:"provider"`
	Reason   string `json:"reason"`
}

// UnavailableError is the terminal fetch failure: every candidate was tried
// once and none produced usable data. Attempts preserves try order.
type UnavailableError struct {
	Key      Key
	Attempts []Attempt
}

func (e *UnavailableError) Error() string {
	if len(e.Attempts) == 0 {
		return fmt.Sprintf("market data unavailable for %s %s: no candidates attempted", e.Key.Symbol, e.Key.Timeframe)
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s: %s", a.Provider, a.Reason))
	}
	return fmt.Sprintf("market data unavailable for %s %s after %d attempts (%s)",
		e.Key.Symbol, e.Key.Timeframe, len(e.Attempts), strings.Join(parts, "; "))
}

// AttemptedProviders lists the venue names tried, in order.
func (e *UnavailableError) AttemptedProviders() []string {
	out := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		out[i] = a.Provider
	}
	return out
}

// IsMalformed reports whether err carries a MalformedError anywhere in its chain.
func IsMalformed(err error) bool {
	var me *MalformedError
	return errors.As(err, &me)
}

// IsUnavailable reports whether err is a terminal fetch exhaustion.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

package pricing

import (
	"math"
	"strings"

	"wealth-dashboard/internal/holdings"
	"wealth-dashboard/internal/quotecache"
)

// Session is the per-user state carried across valuation cycles: manual
// price overrides and the quote cache. It replaces ambient globals; callers
// pass it into every cycle and keep it between triggers.
type Session struct {
	Cache     *quotecache.Cache[float64]
	overrides map[string]float64
}

// NewSession builds a session whose cache uses the given clock.
func NewSession(now quotecache.Clock) *Session {
	return &Session{
		Cache:     quotecache.New[float64](now),
		overrides: make(map[string]float64),
	}
}

// SetOverride records a user-entered price for symbol in its primary quote
// currency (USD for crypto and foreign equities, native otherwise).
// A non-positive or non-finite price clears the override.
func (s *Session) SetOverride(symbol string, price float64) {
	key := holdings.NormalizeSymbol(symbol)
	if !(price > 0) || math.IsInf(price, 0) {
		delete(s.overrides, key)
		return
	}
	s.overrides[key] = price
}

// Override returns the override for symbol, if any.
func (s *Session) Override(symbol string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	v, ok := s.overrides[holdings.NormalizeSymbol(symbol)]
	return v, ok && v > 0
}

// ClearOverrides drops every override.
func (s *Session) ClearOverrides() {
	s.overrides = make(map[string]float64)
}

func cacheKey(kind, id string) string {
	return kind + ":" + strings.ToLower(id)
}

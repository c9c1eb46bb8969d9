package history

import (
	"math"
	"sort"
	"strings"
)

// Currency labels the two quote sides kept per symbol.
type Currency string

const (
	// Native is the portfolio's home currency side.
	Native Currency = "tl"
	// USD is the dollar side.
	USD Currency = "usd"
)

// FXSymbol is the pseudo-symbol under which an FX rate for code is kept.
func FXSymbol(code string) string {
	return "fx." + strings.ToLower(code)
}

// Key renders the persisted key "{symbol}_{tl|usd}".
func Key(symbol string, cur Currency) string {
	return strings.ToLower(strings.TrimSpace(symbol)) + "_" + string(cur)
}

// Table is the last-known price per symbol and currency. Each cycle replaces
// values; no intermediate history is kept.
type Table struct {
	prices map[string]float64
}

// NewTable copies m, discarding entries that are not finite non-negative
// numbers.
func NewTable(m map[string]float64) *Table {
	t := &Table{prices: make(map[string]float64, len(m))}
	for k, v := range m {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			continue
		}
		t.prices[strings.ToLower(k)] = v
	}
	return t
}

// Lookup returns the stored price. A present zero is reported as found.
func (t *Table) Lookup(symbol string, cur Currency) (float64, bool) {
	if t == nil {
		return 0, false
	}
	v, ok := t.prices[Key(symbol, cur)]
	return v, ok
}

// Set overwrites the stored price unconditionally, zero included.
func (t *Table) Set(symbol string, cur Currency, price float64) {
	if math.IsNaN(price) || math.IsInf(price, 0) || price < 0 {
		price = 0
	}
	t.prices[Key(symbol, cur)] = price
}

// Clone returns an independent copy.
func (t *Table) Clone() *Table {
	return NewTable(t.Map())
}

// Map returns a copy of the underlying key/value pairs.
func (t *Table) Map() map[string]float64 {
	out := make(map[string]float64, len(t.prices))
	for k, v := range t.prices {
		out[k] = v
	}
	return out
}

// Keys returns the stored keys in sorted order.
func (t *Table) Keys() []string {
	keys := make([]string, 0, len(t.prices))
	for k := range t.prices {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored prices.
func (t *Table) Len() int { return len(t.prices) }

package history

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"

	"wealth-dashboard/internal/jsonsafe"
)

// Decode reads the flat "{symbol}_{tl|usd}" → price document. Entries that
// are not finite non-negative numbers are dropped and counted.
func Decode(data []byte) (*Table, int, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return NewTable(nil), 0, nil
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(jsonsafe.QuoteNonFinite(data), &raw); err != nil {
		return nil, 0, fmt.Errorf("decode price history: %w", err)
	}

	prices := make(map[string]float64, len(raw))
	dropped := 0
	for k, v := range raw {
		var f float64
		if err := json.Unmarshal(v, &f); err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			dropped++
			continue
		}
		prices[k] = f
	}
	return NewTable(prices), dropped, nil
}

// Encode renders the table with keys in sorted order.
func Encode(t *Table) ([]byte, error) {
	data, err := json.MarshalIndent(t.Map(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode price history: %w", err)
	}
	return data, nil
}

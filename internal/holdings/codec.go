package holdings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"wealth-dashboard/internal/jsonsafe"
)

// SchemaVersion is the current persisted holdings format.
const SchemaVersion = 2

type position struct {
	Quantity     float64 `json:"quantity"`
	CostBasisUSD float64 `json:"cost_basis_usd"`
}

type document struct {
	Version       int                 `json:"version"`
	Equity        map[string]position `json:"equity"`
	Crypto        map[string]position `json:"crypto"`
	CashCommodity map[string]position `json:"cash_commodity"`
}

// DecodeResult reports what happened while decoding a holdings file.
type DecodeResult struct {
	Registry *Registry
	// Migrated is set when the input was not in the current shape and
	// should be rewritten once.
	Migrated bool
	// Dropped lists entries that could not be interpreted.
	Dropped []string
}

// Decode parses a holdings document in either the current or a legacy shape.
// Legacy shapes are: category keys in the first naming scheme, scalar
// quantities instead of objects, and miktar/maliyet_usd field names.
func Decode(data []byte) (DecodeResult, error) {
	res := DecodeResult{Registry: NewRegistry()}
	if len(bytes.TrimSpace(data)) == 0 {
		return res, nil
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(jsonsafe.QuoteNonFinite(data), &raw); err != nil {
		return res, fmt.Errorf("decode holdings: %w", err)
	}

	version := 0
	if v, ok := raw["version"]; ok {
		if err := json.Unmarshal(v, &version); err != nil {
			return res, fmt.Errorf("decode holdings version: %w", err)
		}
		delete(raw, "version")
	}
	if version != SchemaVersion {
		res.Migrated = true
	}

	canonicalCategory := func(name string) bool {
		c, err := ParseCategory(name)
		return err == nil && string(c) == name
	}
	canonicalSymbol := func(symbol string) bool { return NormalizeSymbol(symbol) == symbol }

	for _, name := range orderedKeys(raw, canonicalCategory) {
		body := raw[name]
		category, err := ParseCategory(name)
		if err != nil {
			res.Dropped = append(res.Dropped, name)
			continue
		}
		if string(category) != name {
			res.Migrated = true
		}

		var entries map[string]json.RawMessage
		if err := json.Unmarshal(body, &entries); err != nil {
			res.Dropped = append(res.Dropped, name)
			continue
		}
		for _, symbol := range orderedKeys(entries, canonicalSymbol) {
			pos, legacy, err := decodePosition(entries[symbol])
			if err != nil || !validAmount(pos.Quantity) || !validAmount(pos.CostBasisUSD) {
				res.Dropped = append(res.Dropped, name+"/"+symbol)
				continue
			}
			if legacy || NormalizeSymbol(symbol) != symbol {
				res.Migrated = true
			}
			h := Holding{Category: category, Symbol: NormalizeSymbol(symbol), Quantity: pos.Quantity, CostBasisUSD: pos.CostBasisUSD}
			if _, dup := res.Registry.items[h.Key()]; dup {
				res.Dropped = append(res.Dropped, name+"/"+symbol)
				continue
			}
			res.Registry.items[h.Key()] = h
		}
	}
	if len(res.Dropped) > 0 {
		res.Migrated = true
	}
	return res, nil
}

// orderedKeys lists canonical spellings first, then the rest, each group
// sorted. Of two spellings of one holding the first listed wins.
func orderedKeys(m map[string]json.RawMessage, canonical func(string) bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ci, cj := canonical(keys[i]), canonical(keys[j])
		if ci != cj {
			return ci
		}
		return keys[i] < keys[j]
	})
	return keys
}

func decodePosition(value json.RawMessage) (position, bool, error) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) > 0 && trimmed[0] != '{' {
		qty, err := scalar(trimmed)
		return position{Quantity: qty}, true, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return position{}, false, err
	}

	var pos position
	legacy := false
	// Legacy names are applied first so current names win when both appear.
	for _, name := range []string{"miktar", "maliyet_usd", "quantity", "cost_basis_usd"} {
		v, ok := fields[name]
		if !ok {
			continue
		}
		n, err := scalar(v)
		if err != nil {
			return position{}, false, fmt.Errorf("field %s: %w", name, err)
		}
		switch name {
		case "quantity":
			pos.Quantity = n
		case "cost_basis_usd":
			pos.CostBasisUSD = n
		case "miktar":
			pos.Quantity = n
			legacy = true
		case "maliyet_usd":
			pos.CostBasisUSD = n
			legacy = true
		}
	}
	return pos, legacy, nil
}

// scalar accepts a JSON number or a numeric string.
func scalar(v json.RawMessage) (float64, error) {
	var n float64
	if err := json.Unmarshal(v, &n); err == nil {
		return n, nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}

// Encode renders the registry in the current shape.
func Encode(r *Registry) ([]byte, error) {
	doc := document{
		Version:       SchemaVersion,
		Equity:        map[string]position{},
		Crypto:        map[string]position{},
		CashCommodity: map[string]position{},
	}
	for _, h := range r.List() {
		pos := position{Quantity: h.Quantity, CostBasisUSD: h.CostBasisUSD}
		switch h.Category {
		case Equity:
			doc.Equity[h.Symbol] = pos
		case Crypto:
			doc.Crypto[h.Symbol] = pos
		case CashCommodity:
			doc.CashCommodity[h.Symbol] = pos
		}
	}
	return json.MarshalIndent(doc, "", "  ")
}

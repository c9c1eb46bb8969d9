package holdings

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

var (
	// ErrInvalidHolding indicates a quantity or cost that violates the model.
	ErrInvalidHolding = errors.New("holdings: invalid holding")
	// ErrNotFound indicates the holding does not exist in the registry.
	ErrNotFound = errors.New("holdings: not found")
)

// Category groups holdings by asset class.
type Category string

const (
	Equity        Category = "equity"
	Crypto        Category = "crypto"
	CashCommodity Category = "cash_commodity"
)

// Categories lists every category in valuation order. Totals are always
// accumulated in this order.
var Categories = []Category{Crypto, CashCommodity, Equity}

// legacyCategoryNames maps the category keys of the first file format.
var legacyCategoryNames = map[string]Category{
	"hisseler":       Equity,
	"kripto_paralar": Crypto,
	"nakit_ve_emtia": CashCommodity,
}

// ParseCategory accepts current and legacy category names.
func ParseCategory(s string) (Category, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	switch Category(name) {
	case Equity, Crypto, CashCommodity:
		return Category(name), nil
	}
	switch name {
	case "cash", "commodity":
		return CashCommodity, nil
	}
	if c, ok := legacyCategoryNames[name]; ok {
		return c, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

func (c Category) rank() int {
	for i, cat := range Categories {
		if cat == c {
			return i
		}
	}
	return len(Categories)
}

// NormalizeSymbol produces the case-insensitive identity of a symbol.
func NormalizeSymbol(symbol string) string {
	return strings.ToLower(strings.TrimSpace(symbol))
}

// Key identifies a holding within the registry.
type Key struct {
	Category Category
	Symbol   string
}

// NewKey builds a key with a normalised symbol.
func NewKey(category Category, symbol string) Key {
	return Key{Category: category, Symbol: NormalizeSymbol(symbol)}
}

func (k Key) String() string {
	return string(k.Category) + "/" + k.Symbol
}

// Holding is one position: how much of an asset is owned and at what
// weighted-average unit cost in USD.
type Holding struct {
	Category     Category
	Symbol       string
	Quantity     float64
	CostBasisUSD float64
}

// Key returns the registry identity of the holding.
func (h Holding) Key() Key {
	return NewKey(h.Category, h.Symbol)
}

func validAmount(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Registry owns the set of holdings. It is not safe for concurrent mutation.
type Registry struct {
	items map[Key]Holding
}

// NewRegistry builds a registry from the given holdings. Later duplicates
// (by case-insensitive symbol) replace earlier ones.
func NewRegistry(items ...Holding) *Registry {
	r := &Registry{items: make(map[Key]Holding, len(items))}
	for _, h := range items {
		h.Symbol = NormalizeSymbol(h.Symbol)
		r.items[h.Key()] = h
	}
	return r
}

// Len returns the number of holdings.
func (r *Registry) Len() int { return len(r.items) }

// Get looks up a holding.
func (r *Registry) Get(key Key) (Holding, bool) {
	h, ok := r.items[NewKey(key.Category, key.Symbol)]
	return h, ok
}

// Upsert creates or updates a holding, running the cost basis ledger
// against the previous quantity and basis.
func (r *Registry) Upsert(category Category, symbol string, quantity, unitCostUSD float64) (Holding, error) {
	key := NewKey(category, symbol)
	if key.Symbol == "" {
		return Holding{}, fmt.Errorf("%w: empty symbol", ErrInvalidHolding)
	}
	if category.rank() == len(Categories) {
		return Holding{}, fmt.Errorf("%w: unknown category %q", ErrInvalidHolding, category)
	}
	if !validAmount(quantity) {
		return Holding{}, fmt.Errorf("%w: quantity %v", ErrInvalidHolding, quantity)
	}
	if !validAmount(unitCostUSD) {
		return Holding{}, fmt.Errorf("%w: unit cost %v", ErrInvalidHolding, unitCostUSD)
	}

	prev := r.items[key]
	h := Holding{
		Category:     key.Category,
		Symbol:       key.Symbol,
		Quantity:     quantity,
		CostBasisUSD: NextCostBasis(prev.Quantity, prev.CostBasisUSD, quantity, unitCostUSD),
	}
	r.items[key] = h
	return h, nil
}

// Delete removes a holding.
func (r *Registry) Delete(key Key) error {
	key = NewKey(key.Category, key.Symbol)
	if _, ok := r.items[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(r.items, key)
	return nil
}

// List returns every holding ordered by category then symbol.
func (r *Registry) List() []Holding {
	out := make([]Holding, 0, len(r.items))
	for _, h := range r.items {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		ri, rj := out[i].Category.rank(), out[j].Category.rank()
		if ri != rj {
			return ri < rj
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}

// ByCategory returns the holdings of a single category, ordered by symbol.
func (r *Registry) ByCategory(category Category) []Holding {
	var out []Holding
	for _, h := range r.List() {
		if h.Category == category {
			out = append(out, h)
		}
	}
	return out
}

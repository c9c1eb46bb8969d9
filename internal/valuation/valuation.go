package valuation

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"wealth-dashboard/internal/history"
	"wealth-dashboard/internal/holdings"
	"wealth-dashboard/internal/pricing"
)

// ErrUnreconciled reports that totals no longer match their parts.
var ErrUnreconciled = errors.New("valuation: totals do not reconcile")

// Row is the derived valuation of one holding for one cycle.
type Row struct {
	Holding         holdings.Holding
	PriceNative     float64
	PriceUSD        float64
	ValueNative     float64
	ValueUSD        float64
	ChangeNativePct float64
	ChangeUSDPct    float64
	PLPercent       float64
	Source          pricing.Source
	// Overflow is set when a price or value was not finite and the row was
	// zeroed.
	Overflow bool
}

// Subtotal is a per-category or grand total in both currencies.
type Subtotal struct {
	Native decimal.Decimal
	USD    decimal.Decimal
}

func (s Subtotal) add(native, usd float64) Subtotal {
	return Subtotal{
		Native: s.Native.Add(decimal.NewFromFloat(native)),
		USD:    s.USD.Add(decimal.NewFromFloat(usd)),
	}
}

// Report is the output of one valuation cycle. Rows are in category
// valuation order, then in the order the holdings were given.
type Report struct {
	ValuedAt  time.Time
	Rates     pricing.Rates
	Rows      []Row
	Subtotals map[holdings.Category]Subtotal
	Total     Subtotal
}

// USDRate is the native/USD rate the cycle used; zero when unknown.
func (r *Report) USDRate() float64 { return r.Rates.USD() }

// Category returns the subtotal of category, zero when it holds nothing.
func (r *Report) Category(c holdings.Category) Subtotal {
	if s, ok := r.Subtotals[c]; ok {
		return s
	}
	return Subtotal{}
}

// PercentChange is the relative change from prev to cur in percent. A
// non-positive baseline yields 0.
func PercentChange(cur, prev float64) float64 {
	if prev <= 0 {
		return 0
	}
	return (cur - prev) / prev * 100
}

// ProfitLossPercent compares the current USD unit price with the cost basis.
func ProfitLossPercent(priceUSD, costBasisUSD float64) float64 {
	if costBasisUSD <= 0 {
		return 0
	}
	return (priceUSD - costBasisUSD) / costBasisUSD * 100
}

// Aggregate values every holding and rolls the values up by category. prev
// must be the historical table as it was before this cycle writes to it;
// unit-price changes are measured against it.
func Aggregate(hs []holdings.Holding, prices map[holdings.Key]pricing.Price, prev *history.Table, rates pricing.Rates, now time.Time) *Report {
	report := &Report{
		ValuedAt:  now,
		Rates:     rates,
		Rows:      make([]Row, 0, len(hs)),
		Subtotals: make(map[holdings.Category]Subtotal, len(holdings.Categories)),
	}

	for _, category := range holdings.Categories {
		var sub Subtotal
		for _, h := range hs {
			if h.Category != category {
				continue
			}
			p := prices[h.Key()]
			row := Row{
				Holding:     h,
				PriceNative: p.Native,
				PriceUSD:    p.USD,
				ValueNative: h.Quantity * p.Native,
				ValueUSD:    h.Quantity * p.USD,
				PLPercent:   ProfitLossPercent(p.USD, h.CostBasisUSD),
				Source:      p.Source,
			}
			if !finite(row.PriceNative, row.PriceUSD, row.ValueNative, row.ValueUSD) {
				row = Row{Holding: h, Source: pricing.SourceZero, Overflow: true}
			}
			if old, ok := prev.Lookup(h.Symbol, history.Native); ok {
				row.ChangeNativePct = PercentChange(row.PriceNative, old)
			}
			if old, ok := prev.Lookup(h.Symbol, history.USD); ok {
				row.ChangeUSDPct = PercentChange(row.PriceUSD, old)
			}
			report.Rows = append(report.Rows, row)
			sub = sub.add(row.ValueNative, row.ValueUSD)
		}
		report.Subtotals[category] = sub
	}

	for _, category := range holdings.Categories {
		s := report.Subtotals[category]
		report.Total.Native = report.Total.Native.Add(s.Native)
		report.Total.USD = report.Total.USD.Add(s.USD)
	}
	return report
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Reconcile recomputes every subtotal from the rows and the grand total from
// the subtotals, and fails if any level differs.
func (r *Report) Reconcile() error {
	sums := make(map[holdings.Category]Subtotal, len(r.Subtotals))
	for _, row := range r.Rows {
		sums[row.Holding.Category] = sums[row.Holding.Category].add(row.ValueNative, row.ValueUSD)
	}

	var total Subtotal
	for _, category := range holdings.Categories {
		want := sums[category]
		got := r.Category(category)
		if !want.Native.Equal(got.Native) || !want.USD.Equal(got.USD) {
			return fmt.Errorf("%w: category %s has %s/%s, rows sum to %s/%s",
				ErrUnreconciled, category, got.Native, got.USD, want.Native, want.USD)
		}
		total.Native = total.Native.Add(got.Native)
		total.USD = total.USD.Add(got.USD)
	}
	if !total.Native.Equal(r.Total.Native) || !total.USD.Equal(r.Total.USD) {
		return fmt.Errorf("%w: grand total %s/%s, subtotals sum to %s/%s",
			ErrUnreconciled, r.Total.Native, r.Total.USD, total.Native, total.USD)
	}
	return nil
}

// WriteHistory overwrites t with this cycle's unit prices and FX rates. Zero
// prices are written too so that the next cycle starts from them.
func (r *Report) WriteHistory(t *history.Table) {
	for _, row := range r.Rows {
		t.Set(row.Holding.Symbol, history.Native, row.PriceNative)
		t.Set(row.Holding.Symbol, history.USD, row.PriceUSD)
	}
	for _, code := range r.Rates.Codes() {
		t.Set(history.FXSymbol(code), history.Native, r.Rates.Rate(code))
	}
}

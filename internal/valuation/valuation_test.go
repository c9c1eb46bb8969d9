package valuation

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wealth-dashboard/internal/history"
	"wealth-dashboard/internal/holdings"
	"wealth-dashboard/internal/pricing"
)

var testNow = time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC)

func samplePortfolio() ([]holdings.Holding, map[holdings.Key]pricing.Price) {
	hs := []holdings.Holding{
		{Category: holdings.Equity, Symbol: "thyao.is", Quantity: 100, CostBasisUSD: 8},
		{Category: holdings.Crypto, Symbol: "bitcoin", Quantity: 0.5, CostBasisUSD: 40000},
		{Category: holdings.CashCommodity, Symbol: "dolar", Quantity: 1000},
		{Category: holdings.Equity, Symbol: "aapl", Quantity: 3, CostBasisUSD: 0},
	}
	prices := map[holdings.Key]pricing.Price{
		hs[0].Key(): {Native: 320, USD: 10, Source: pricing.SourceLive},
		hs[1].Key(): {Native: 1920000, USD: 60000, Source: pricing.SourceLive},
		hs[2].Key(): {Native: 32, USD: 1, Source: pricing.SourceLive},
		hs[3].Key(): {Native: 6400, USD: 200, Source: pricing.SourceHistory},
	}
	return hs, prices
}

func TestAggregateValues(t *testing.T) {
	hs, prices := samplePortfolio()
	rates := pricing.NewRates("TRY", map[string]float64{"USD": 32})
	report := Aggregate(hs, prices, nil, rates, testNow)

	require.Len(t, report.Rows, 4)
	assert.Equal(t, holdings.Crypto, report.Rows[0].Holding.Category, "rows follow valuation order")
	assert.Equal(t, holdings.CashCommodity, report.Rows[1].Holding.Category)
	assert.Equal(t, "thyao.is", report.Rows[2].Holding.Symbol)
	assert.Equal(t, "aapl", report.Rows[3].Holding.Symbol)

	btc := report.Rows[0]
	assert.Equal(t, 960000.0, btc.ValueNative)
	assert.Equal(t, 30000.0, btc.ValueUSD)
	assert.InDelta(t, 50.0, btc.PLPercent, 1e-9)

	assert.Equal(t, 0.0, report.Rows[3].PLPercent, "zero cost basis yields neutral P/L")
	assert.Equal(t, pricing.SourceHistory, report.Rows[3].Source)

	assert.True(t, decimal.NewFromInt(32000+32000+19200+960000).Equal(report.Total.Native))
	assert.True(t, decimal.NewFromInt(1000+600+1000+30000).Equal(report.Total.USD))
	assert.True(t, decimal.NewFromInt(32000+19200).Equal(report.Category(holdings.Equity).Native))
	assert.Equal(t, 32.0, report.USDRate())
	assert.Equal(t, testNow, report.ValuedAt)
	require.NoError(t, report.Reconcile())
}

func TestAggregateEmptyPortfolio(t *testing.T) {
	report := Aggregate(nil, nil, nil, pricing.NewRates("TRY", nil), testNow)
	assert.Empty(t, report.Rows)
	assert.True(t, report.Total.Native.IsZero())
	assert.True(t, report.Category(holdings.Crypto).USD.IsZero())
	require.NoError(t, report.Reconcile())
}

func TestAggregateChangeAgainstPreviousPrices(t *testing.T) {
	hs, prices := samplePortfolio()
	prev := history.NewTable(map[string]float64{
		"bitcoin_tl":  1600000,
		"bitcoin_usd": 50000,
		"dolar_tl":    0,
	})
	report := Aggregate(hs, prices, prev, pricing.NewRates("TRY", map[string]float64{"USD": 32}), testNow)

	btc := report.Rows[0]
	assert.InDelta(t, 20.0, btc.ChangeNativePct, 1e-9)
	assert.InDelta(t, 20.0, btc.ChangeUSDPct, 1e-9)

	cash := report.Rows[1]
	assert.Equal(t, 0.0, cash.ChangeNativePct, "zero baseline is guarded")
	assert.Equal(t, 0.0, report.Rows[2].ChangeUSDPct, "missing baseline reports no change")
}

func TestAggregateZeroPriceRows(t *testing.T) {
	hs := []holdings.Holding{{Category: holdings.Equity, Symbol: "gone", Quantity: 10, CostBasisUSD: 5}}
	report := Aggregate(hs, map[holdings.Key]pricing.Price{}, nil, pricing.NewRates("TRY", nil), testNow)

	require.Len(t, report.Rows, 1)
	assert.Equal(t, 0.0, report.Rows[0].ValueNative)
	assert.Equal(t, -100.0, report.Rows[0].PLPercent)
	require.NoError(t, report.Reconcile())
}

func TestAggregateZeroesNonFiniteRows(t *testing.T) {
	hs := []holdings.Holding{
		{Category: holdings.Crypto, Symbol: "bitcoin", Quantity: 1e308},
		{Category: holdings.Equity, Symbol: "aapl", Quantity: 1},
		{Category: holdings.CashCommodity, Symbol: "dolar", Quantity: 10},
	}
	prices := map[holdings.Key]pricing.Price{
		hs[0].Key(): {Native: 1920000, USD: 60000, Source: pricing.SourceLive},
		hs[1].Key(): {Native: math.Inf(1), USD: 200, Source: pricing.SourceOverride},
		hs[2].Key(): {Native: 32, USD: 1, Source: pricing.SourceLive},
	}
	prev := history.NewTable(map[string]float64{"bitcoin_tl": 1800000})

	report := Aggregate(hs, prices, prev, pricing.NewRates("TRY", map[string]float64{"USD": 32}), testNow)

	require.Len(t, report.Rows, 3)
	for _, row := range report.Rows {
		want := row.Holding.Symbol != "dolar"
		assert.Equal(t, want, row.Overflow, row.Holding.Symbol)
		if want {
			assert.Zero(t, row.ValueNative, row.Holding.Symbol)
			assert.Equal(t, pricing.SourceZero, row.Source, row.Holding.Symbol)
		}
	}
	assert.Equal(t, "320", report.Total.Native.String())
	assert.Equal(t, "10", report.Total.USD.String())
	require.NoError(t, report.Reconcile())

	next := history.NewTable(nil)
	report.WriteHistory(next)
	_, err := history.Encode(next)
	require.NoError(t, err)
}

func TestReconcileRandomPortfolios(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 50; i++ {
		var hs []holdings.Holding
		prices := map[holdings.Key]pricing.Price{}
		for j := 0; j < 30; j++ {
			h := holdings.Holding{
				Category: holdings.Categories[rng.Intn(len(holdings.Categories))],
				Symbol:   string(rune('a'+j%26)) + string(rune('a'+j/26)),
				Quantity: rng.Float64() * 1000,
			}
			usd := rng.Float64() * 500
			hs = append(hs, h)
			prices[h.Key()] = pricing.Price{Native: usd * 32.17, USD: usd}
		}
		report := Aggregate(hs, prices, nil, pricing.NewRates("TRY", map[string]float64{"USD": 32.17}), testNow)
		require.NoError(t, report.Reconcile())
	}
}

func TestReconcileDetectsTampering(t *testing.T) {
	hs, prices := samplePortfolio()
	report := Aggregate(hs, prices, nil, pricing.NewRates("TRY", nil), testNow)
	report.Rows[0].ValueNative++
	assert.ErrorIs(t, report.Reconcile(), ErrUnreconciled)

	report = Aggregate(hs, prices, nil, pricing.NewRates("TRY", nil), testNow)
	report.Total.USD = report.Total.USD.Add(decimal.NewFromFloat(0.01))
	assert.ErrorIs(t, report.Reconcile(), ErrUnreconciled)
}

func TestNativeUSDRatioMatchesPriceRatio(t *testing.T) {
	hs, prices := samplePortfolio()
	report := Aggregate(hs, prices, nil, pricing.NewRates("TRY", map[string]float64{"USD": 32}), testNow)
	for _, row := range report.Rows {
		if row.ValueUSD == 0 {
			continue
		}
		want := row.PriceNative / row.PriceUSD
		got := row.ValueNative / row.ValueUSD
		assert.LessOrEqual(t, math.Abs(want-got), 1e-9, row.Holding.Symbol)
	}
}

func TestWriteHistory(t *testing.T) {
	hs, prices := samplePortfolio()
	prices[hs[2].Key()] = pricing.Price{}
	prev := history.NewTable(map[string]float64{"dolar_tl": 31, "stale_usd": 3})
	report := Aggregate(hs, prices, prev, pricing.NewRates("TRY", map[string]float64{"USD": 32, "EUR": 35}), testNow)

	next := prev.Clone()
	report.WriteHistory(next)

	v, ok := next.Lookup("dolar", history.Native)
	assert.True(t, ok)
	assert.Equal(t, 0.0, v, "zero prices overwrite the last known value")
	v, _ = next.Lookup("bitcoin", history.USD)
	assert.Equal(t, 60000.0, v)
	v, _ = next.Lookup(history.FXSymbol("EUR"), history.Native)
	assert.Equal(t, 35.0, v)
	v, _ = next.Lookup("stale", history.USD)
	assert.Equal(t, 3.0, v, "symbols not valued this cycle are kept")

	v, _ = prev.Lookup("dolar", history.Native)
	assert.Equal(t, 31.0, v, "the baseline table is untouched")
}

func TestPercentChange(t *testing.T) {
	assert.InDelta(t, 10.0, PercentChange(1100, 1000), 1e-9)
	assert.InDelta(t, -50.0, PercentChange(500, 1000), 1e-9)
	assert.Equal(t, 0.0, PercentChange(5, 0))
	assert.Equal(t, 0.0, PercentChange(5, -1))
}

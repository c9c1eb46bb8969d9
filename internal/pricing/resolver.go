package pricing

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"wealth-dashboard/internal/fetcher"
	"wealth-dashboard/internal/history"
	"wealth-dashboard/internal/holdings"
)

// Source names where a resolved price came from.
type Source string

const (
	SourceOverride Source = "override"
	SourceLive     Source = "live"
	SourceScrape   Source = "scrape"
	SourceHistory  Source = "history"
	SourceZero     Source = "zero"
)

// Price is a resolved unit price in both currencies.
type Price struct {
	Native float64
	USD    float64
	Source Source
}

// DefectRule marks a ticker whose primary feed sometimes reports values at a
// fraction of the true magnitude. Primary or secondary values below MinPrice
// are rejected. Secondary is consulted after the primary feed.
type DefectRule struct {
	Ticker    string
	MinPrice  float64
	Secondary fetcher.EquitySource
}

// DefaultCashRateKeys maps cash/commodity symbols to FX codes.
var DefaultCashRateKeys = map[string]string{
	"tl":         "TRY",
	"dolar":      "USD",
	"euro":       "EUR",
	"sterlin":    "GBP",
	"gram_altin": "GAU",
}

// ResolverOptions configure currency relationships and cache lifetimes.
type ResolverOptions struct {
	// LocalSuffixes mark equities listed in the native currency, e.g. ".IS".
	LocalSuffixes []string
	CashRateKeys  map[string]string
	Defects       []DefectRule
	CryptoTTL     time.Duration
	EquityTTL     time.Duration
}

// Resolver determines unit prices through an ordered, lazily evaluated
// fallback chain: override, live feed, historical table, zero. Resolution
// never fails.
type Resolver struct {
	crypto  []fetcher.CryptoSource
	equity  fetcher.EquitySource
	defects map[string]DefectRule
	opts    ResolverOptions
	logger  zerolog.Logger
}

// NewResolver constructs a resolver. Crypto sources are consulted in order.
func NewResolver(opts ResolverOptions, crypto []fetcher.CryptoSource, equity fetcher.EquitySource, logger zerolog.Logger) *Resolver {
	if opts.CashRateKeys == nil {
		opts.CashRateKeys = DefaultCashRateKeys
	}
	if opts.CryptoTTL <= 0 {
		opts.CryptoTTL = time.Minute
	}
	if opts.EquityTTL <= 0 {
		opts.EquityTTL = 5 * time.Minute
	}
	defects := make(map[string]DefectRule, len(opts.Defects))
	for _, d := range opts.Defects {
		defects[strings.ToUpper(d.Ticker)] = d
	}
	return &Resolver{
		crypto:  crypto,
		equity:  equity,
		defects: defects,
		opts:    opts,
		logger:  logger.With().Str("component", "price_resolver").Logger(),
	}
}

// IsLocal reports whether an equity symbol is listed in the native currency.
func (r *Resolver) IsLocal(symbol string) bool {
	upper := strings.ToUpper(symbol)
	for _, suffix := range r.opts.LocalSuffixes {
		if suffix != "" && strings.HasSuffix(upper, strings.ToUpper(suffix)) {
			return true
		}
	}
	return false
}

// Resolve prices every holding. The session cache is consulted and filled.
func (r *Resolver) Resolve(ctx context.Context, sess *Session, rates Rates, hist *history.Table, hs []holdings.Holding) map[holdings.Key]Price {
	r.prefetchCrypto(ctx, sess, hs)

	out := make(map[holdings.Key]Price, len(hs))
	for _, h := range hs {
		var p Price
		switch h.Category {
		case holdings.Crypto:
			p = r.resolveCrypto(sess, rates, hist, h.Symbol)
		case holdings.Equity:
			p = r.resolveEquity(ctx, sess, rates, hist, h.Symbol)
		case holdings.CashCommodity:
			p = r.resolveCash(sess, rates, hist, h.Symbol)
		}
		if p.Source == SourceZero {
			r.logger.Warn().Str("holding", h.Key().String()).Msg("no price from any source")
		}
		out[h.Key()] = p
	}
	return out
}

type step func() (float64, Source)

// firstPositive evaluates steps in order and stops at the first positive,
// finite value.
func firstPositive(steps ...step) (float64, Source) {
	for _, s := range steps {
		if v, src := s(); v > 0 && !math.IsInf(v, 0) {
			return v, src
		}
	}
	return 0, SourceZero
}

func overrideStep(sess *Session, symbol string) step {
	return func() (float64, Source) {
		v, _ := sess.Override(symbol)
		return v, SourceOverride
	}
}

func historyStep(hist *history.Table, symbol string, cur history.Currency) step {
	return func() (float64, Source) {
		v, _ := hist.Lookup(symbol, cur)
		return v, SourceHistory
	}
}

// toNative multiplies a USD-first price; an unknown rate falls back to the
// historical native value instead.
func toNative(usd float64, rates Rates, hist *history.Table, symbol string) float64 {
	if fx := rates.USD(); fx > 0 {
		return usd * fx
	}
	v, _ := hist.Lookup(symbol, history.Native)
	return v
}

// toUSD divides a native-first price, guarding an unknown rate.
func toUSD(native float64, rates Rates, hist *history.Table, symbol string) float64 {
	if fx := rates.USD(); fx > 0 {
		return native / fx
	}
	v, _ := hist.Lookup(symbol, history.USD)
	return v
}

func (r *Resolver) prefetchCrypto(ctx context.Context, sess *Session, hs []holdings.Holding) {
	var missing []string
	for _, h := range hs {
		if h.Category != holdings.Crypto {
			continue
		}
		if _, ok := sess.Override(h.Symbol); ok {
			continue
		}
		if _, ok := sess.Cache.Get(cacheKey("crypto", h.Symbol), r.opts.CryptoTTL); ok {
			continue
		}
		missing = append(missing, h.Symbol)
	}

	for i, src := range r.crypto {
		if len(missing) == 0 {
			return
		}
		prices, err := src.FetchSpotUSD(ctx, missing)
		if err != nil {
			r.logger.Warn().Err(err).Int("source", i).Msg("crypto source unavailable")
			continue
		}
		var still []string
		for _, id := range missing {
			if v := prices[strings.ToLower(id)]; v > 0 {
				sess.Cache.Set(cacheKey("crypto", id), v)
				continue
			}
			still = append(still, id)
		}
		missing = still
	}
}

func (r *Resolver) resolveCrypto(sess *Session, rates Rates, hist *history.Table, symbol string) Price {
	usd, src := firstPositive(
		overrideStep(sess, symbol),
		func() (float64, Source) {
			v, _ := sess.Cache.Get(cacheKey("crypto", symbol), r.opts.CryptoTTL)
			return v, SourceLive
		},
		historyStep(hist, symbol, history.USD),
	)
	return Price{Native: toNative(usd, rates, hist, symbol), USD: usd, Source: src}
}

func (r *Resolver) resolveEquity(ctx context.Context, sess *Session, rates Rates, hist *history.Table, symbol string) Price {
	local := r.IsLocal(symbol)
	cur := history.USD
	if local {
		cur = history.Native
	}

	primary, src := firstPositive(
		overrideStep(sess, symbol),
		func() (float64, Source) { return r.liveEquity(ctx, sess, symbol), SourceLive },
		func() (float64, Source) { return r.secondaryEquity(ctx, sess, symbol), SourceScrape },
		historyStep(hist, symbol, cur),
	)

	if local {
		return Price{Native: primary, USD: toUSD(primary, rates, hist, symbol), Source: src}
	}
	return Price{Native: toNative(primary, rates, hist, symbol), USD: primary, Source: src}
}

func (r *Resolver) liveEquity(ctx context.Context, sess *Session, symbol string) float64 {
	if r.equity == nil {
		return 0
	}
	v := r.cachedFetch(ctx, sess, "equity", symbol, r.equity)
	return r.sane(symbol, v, "primary")
}

func (r *Resolver) secondaryEquity(ctx context.Context, sess *Session, symbol string) float64 {
	rule, ok := r.defects[strings.ToUpper(symbol)]
	if !ok || rule.Secondary == nil {
		return 0
	}
	v := r.cachedFetch(ctx, sess, "scrape", symbol, rule.Secondary)
	return r.sane(symbol, v, "secondary")
}

func (r *Resolver) cachedFetch(ctx context.Context, sess *Session, kind, symbol string, src fetcher.EquitySource) float64 {
	key := cacheKey(kind, symbol)
	if v, ok := sess.Cache.Get(key, r.opts.EquityTTL); ok {
		return v
	}
	v, err := src.FetchLastClose(ctx, symbol)
	if err != nil {
		r.logger.Warn().Err(err).Str("symbol", symbol).Str("kind", kind).Msg("equity quote unavailable")
		return 0
	}
	if v > 0 {
		sess.Cache.Set(key, v)
	}
	return v
}

// sane applies the defect denylist: values under the configured floor for a
// listed ticker are discarded.
func (r *Resolver) sane(symbol string, v float64, feed string) float64 {
	rule, ok := r.defects[strings.ToUpper(symbol)]
	if !ok || v <= 0 || v >= rule.MinPrice {
		return v
	}
	r.logger.Warn().Str("symbol", symbol).Str("feed", feed).
		Float64("value", v).Float64("min_price", rule.MinPrice).
		Msg("rejected value below sanity floor")
	return 0
}

func (r *Resolver) resolveCash(sess *Session, rates Rates, hist *history.Table, symbol string) Price {
	code, ok := r.opts.CashRateKeys[holdings.NormalizeSymbol(symbol)]
	if !ok {
		code = strings.ToUpper(symbol)
	}
	native, src := firstPositive(
		overrideStep(sess, symbol),
		func() (float64, Source) { return rates.Rate(code), SourceLive },
		historyStep(hist, symbol, history.Native),
	)
	return Price{Native: native, USD: toUSD(native, rates, hist, symbol), Source: src}
}

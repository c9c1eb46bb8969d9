package pricing

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"wealth-dashboard/internal/fetcher"
	"wealth-dashboard/internal/history"
)

// DefaultFXCodes are the rates resolved every cycle.
var DefaultFXCodes = []string{"USD", "EUR", "GBP", "GAU"}

// Rates is the resolved FX table for one cycle, quoted as native currency
// per unit of each code. Zero means unknown.
type Rates struct {
	native  string
	values  map[string]float64
	sources map[string]Source
}

// NewRates builds a rate table directly; used by tests and replays.
func NewRates(native string, values map[string]float64) Rates {
	r := Rates{native: strings.ToUpper(native), values: map[string]float64{}, sources: map[string]Source{}}
	for code, v := range values {
		if v > 0 {
			r.values[strings.ToUpper(code)] = v
			r.sources[strings.ToUpper(code)] = SourceLive
		}
	}
	return r
}

// Rate returns the native value of one unit of code. The native code itself
// is always 1; unknown codes are 0.
func (r Rates) Rate(code string) float64 {
	code = strings.ToUpper(code)
	if code != "" && code == r.native {
		return 1
	}
	return r.values[code]
}

// USD is shorthand for Rate("USD").
func (r Rates) USD() float64 { return r.Rate("USD") }

// Source reports where the rate for code came from.
func (r Rates) Source(code string) Source {
	if s, ok := r.sources[strings.ToUpper(code)]; ok {
		return s
	}
	return SourceZero
}

// Codes returns the known codes in sorted order.
func (r Rates) Codes() []string {
	codes := make([]string, 0, len(r.values))
	for c := range r.values {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// FXOptions configure the converter.
type FXOptions struct {
	NativeCode string
	Codes      []string
	TTL        time.Duration
}

// Converter resolves FX rates: quote cache, then the single upstream source,
// then the last value kept in the historical price table.
type Converter struct {
	source fetcher.FXSource
	opts   FXOptions
	logger zerolog.Logger
}

// NewConverter constructs a converter. source may be nil.
func NewConverter(source fetcher.FXSource, opts FXOptions, logger zerolog.Logger) *Converter {
	if len(opts.Codes) == 0 {
		opts.Codes = DefaultFXCodes
	}
	if opts.NativeCode == "" {
		opts.NativeCode = "TRY"
	}
	if opts.TTL <= 0 {
		opts.TTL = 5 * time.Minute
	}
	return &Converter{source: source, opts: opts, logger: logger.With().Str("component", "fx_converter").Logger()}
}

// NativeCode returns the configured home currency code.
func (c *Converter) NativeCode() string { return strings.ToUpper(c.opts.NativeCode) }

// Rates resolves every configured code. It never fails; unresolved codes
// are left at zero.
func (c *Converter) Rates(ctx context.Context, sess *Session, hist *history.Table) Rates {
	rates := Rates{native: c.NativeCode(), values: map[string]float64{}, sources: map[string]Source{}}

	missing := false
	for _, code := range c.opts.Codes {
		code = strings.ToUpper(code)
		if v, ok := sess.Cache.Get(cacheKey("fx", code), c.opts.TTL); ok && v > 0 {
			rates.values[code] = v
			rates.sources[code] = SourceLive
			continue
		}
		missing = true
	}

	if missing && c.source != nil {
		fetched, err := c.source.FetchRates(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("fx source unavailable, using last known rates")
		}
		for code, v := range fetched {
			code = strings.ToUpper(code)
			if v <= 0 {
				continue
			}
			sess.Cache.Set(cacheKey("fx", code), v)
			if _, ok := rates.values[code]; !ok {
				rates.values[code] = v
				rates.sources[code] = SourceLive
			}
		}
	}

	for _, code := range c.opts.Codes {
		code = strings.ToUpper(code)
		if rates.values[code] > 0 {
			continue
		}
		if v, ok := hist.Lookup(history.FXSymbol(code), history.Native); ok && v > 0 {
			rates.values[code] = v
			rates.sources[code] = SourceHistory
			c.logger.Debug().Str("code", code).Float64("rate", v).Msg("fx rate from history")
			continue
		}
		c.logger.Warn().Str("code", code).Msg("fx rate unknown")
	}
	return rates
}

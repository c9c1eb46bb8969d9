package risk

import (
	"math"
	"strings"

	"wealth-dashboard/internal/holdings"
	"wealth-dashboard/internal/valuation"
)

// Bucket groups holdings by risk profile.
type Bucket string

const (
	RiskyEquity    Bucket = "risky_equity"
	SafeHaven      Bucket = "safe_haven"
	HighRiskCrypto Bucket = "high_risk_crypto"
)

// Buckets lists every bucket in reporting order.
var Buckets = []Bucket{RiskyEquity, SafeHaven, HighRiskCrypto}

// Status tags a bucket's position relative to its target band.
type Status string

const (
	Balanced Status = "balanced"
	Over     Status = "over"
	Under    Status = "under"
)

// Options configure target allocation. Zero values take the defaults.
type Options struct {
	Targets map[Bucket]float64
	// Band is the half-width in percentage points inside which a bucket
	// counts as balanced.
	Band float64
	// SafeHavenEquities are equity symbols counted with safe havens, such as
	// gold or bond funds listed on an exchange.
	SafeHavenEquities []string
}

// DefaultTargets is the target share of each bucket in percent.
var DefaultTargets = map[Bucket]float64{
	RiskyEquity:    25,
	SafeHaven:      45,
	HighRiskCrypto: 30,
}

// DefaultBand is the balanced half-width in percentage points.
const DefaultBand = 5.0

// Entry is one bucket's assessment.
type Entry struct {
	Bucket     Bucket
	Value      float64
	Percentage float64
	Target     float64
	Deviation  float64
	Status     Status
}

// Classifier maps valuation rows to buckets and compares them with targets.
type Classifier struct {
	targets   map[Bucket]float64
	band      float64
	safeHaven map[string]struct{}
}

// New builds a classifier.
func New(opts Options) *Classifier {
	targets := make(map[Bucket]float64, len(Buckets))
	for _, b := range Buckets {
		targets[b] = DefaultTargets[b]
		if v, ok := opts.Targets[b]; ok {
			targets[b] = v
		}
	}
	band := opts.Band
	if band <= 0 {
		band = DefaultBand
	}
	safe := make(map[string]struct{}, len(opts.SafeHavenEquities))
	for _, s := range opts.SafeHavenEquities {
		safe[holdings.NormalizeSymbol(s)] = struct{}{}
	}
	return &Classifier{targets: targets, band: band, safeHaven: safe}
}

// BucketOf returns the bucket a holding belongs to.
func (c *Classifier) BucketOf(h holdings.Holding) Bucket {
	switch h.Category {
	case holdings.Crypto:
		return HighRiskCrypto
	case holdings.CashCommodity:
		return SafeHaven
	}
	if _, ok := c.safeHaven[holdings.NormalizeSymbol(h.Symbol)]; ok {
		return SafeHaven
	}
	return RiskyEquity
}

// Classify sums native row values per bucket.
func (c *Classifier) Classify(rows []valuation.Row) map[Bucket]float64 {
	out := make(map[Bucket]float64, len(Buckets))
	for _, b := range Buckets {
		out[b] = 0
	}
	for _, row := range rows {
		out[c.BucketOf(row.Holding)] += row.ValueNative
	}
	return out
}

// Assess classifies the rows and compares each bucket with its target.
func (c *Classifier) Assess(rows []valuation.Row) []Entry {
	return c.AssessValues(c.Classify(rows))
}

// AssessValues compares bucket values with targets. A non-positive total is
// treated as 1 so every percentage comes out as zero.
func (c *Classifier) AssessValues(values map[Bucket]float64) []Entry {
	var total float64
	for _, b := range Buckets {
		total += values[b]
	}
	denominator := math.Max(1, total)

	entries := make([]Entry, 0, len(Buckets))
	for _, b := range Buckets {
		pct := values[b] * 100 / denominator
		dev := pct - c.targets[b]
		entries = append(entries, Entry{
			Bucket:     b,
			Value:      values[b],
			Percentage: pct,
			Target:     c.targets[b],
			Deviation:  dev,
			Status:     c.status(dev),
		})
	}
	return entries
}

func (c *Classifier) status(deviation float64) Status {
	switch {
	case math.Abs(deviation) < c.band:
		return Balanced
	case deviation > 0:
		return Over
	default:
		return Under
	}
}

// Drifted returns the entries outside their band.
func Drifted(entries []Entry) []Entry {
	var out []Entry
	for _, e := range entries {
		if e.Status != Balanced {
			out = append(out, e)
		}
	}
	return out
}

// Label renders a bucket for display.
func (b Bucket) Label() string {
	return strings.ReplaceAll(string(b), "_", " ")
}

package fetcher

import (
	"context"
)

// FXSource returns native-currency rates keyed by currency code
// (USD, EUR, GBP, GAU for gram gold).
type FXSource interface {
	FetchRates(ctx context.Context) (map[string]float64, error)
}

// CryptoSource returns USD spot prices keyed by provider coin id. Ids the
// source cannot price are omitted from the result.
type CryptoSource interface {
	FetchSpotUSD(ctx context.Context, ids []string) (map[string]float64, error)
}

// EquitySource returns the last close for a ticker in the listing currency.
type EquitySource interface {
	FetchLastClose(ctx context.Context, ticker string) (float64, error)
}

package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/rs/zerolog"

	"wealth-dashboard/internal/httputil"
)

const (
	closesPath      = "$.chart.result[0].indicators.quote[0].close"
	marketPricePath = "$.chart.result[0].meta.regularMarketPrice"
)

// YahooOptions parameterise the equity chart client.
type YahooOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	Retry     httputil.RetryConfig
}

// Yahoo reads the latest daily close from the chart endpoint.
type Yahoo struct {
	opts   YahooOptions
	client *http.Client
	logger zerolog.Logger
}

// NewYahoo constructs the equity quote client.
func NewYahoo(opts YahooOptions, logger zerolog.Logger) *Yahoo {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.BaseURL == "" {
		opts.BaseURL = "https://query1.finance.yahoo.com"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 (wealthctl)"
	}
	l := logger.With().Str("component", "equity_fetcher").Logger()
	opts.Retry.Logger = l
	return &Yahoo{opts: opts, client: &http.Client{Timeout: timeout}, logger: l}
}

// FetchLastClose returns the most recent non-null close of the last few
// sessions, falling back to the regular market price.
func (y *Yahoo) FetchLastClose(ctx context.Context, ticker string) (float64, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return 0, errors.New("empty ticker")
	}
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?range=5d&interval=1d", y.opts.BaseURL, url.PathEscape(ticker))

	resp, err := httputil.Do(ctx, y.client, y.opts.Retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", y.opts.UserAgent)
		return req, nil
	})
	if err != nil {
		return 0, fmt.Errorf("chart fetch %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("chart %s returned status %d", ticker, resp.StatusCode)
	}

	var jobj any
	if err := json.NewDecoder(resp.Body).Decode(&jobj); err != nil {
		return 0, fmt.Errorf("decode chart %s: %w", ticker, err)
	}

	if jval, err := jsonpath.Get(closesPath, jobj); err == nil {
		if closes, ok := jval.([]any); ok {
			for i := len(closes) - 1; i >= 0; i-- {
				if v, ok := closes[i].(float64); ok && v > 0 {
					return v, nil
				}
			}
		}
	}

	jval, err := jsonpath.Get(marketPricePath, jobj)
	if err != nil {
		return 0, fmt.Errorf("no close for %s: %w", ticker, err)
	}
	v, ok := jval.(float64)
	if !ok || v <= 0 {
		return 0, fmt.Errorf("no close for %s: %v", ticker, jval)
	}
	return v, nil
}

var _ EquitySource = (*Yahoo)(nil)

package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"wealth-dashboard/internal/httputil"
)

// CoinGeckoOptions parameterise the crypto spot client.
type CoinGeckoOptions struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Retry   httputil.RetryConfig
}

// CoinGecko fetches USD spot prices through the simple/price endpoint.
type CoinGecko struct {
	opts   CoinGeckoOptions
	client *http.Client
	logger zerolog.Logger
}

// NewCoinGecko constructs a CoinGecko client.
func NewCoinGecko(opts CoinGeckoOptions, logger zerolog.Logger) *CoinGecko {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.coingecko.com/api/v3"
	}
	l := logger.With().Str("component", "coingecko_fetcher").Logger()
	opts.Retry.Logger = l
	return &CoinGecko{opts: opts, client: &http.Client{Timeout: timeout}, logger: l}
}

// FetchSpotUSD requests all ids in one call.
func (c *CoinGecko) FetchSpotUSD(ctx context.Context, ids []string) (map[string]float64, error) {
	if len(ids) == 0 {
		return map[string]float64{}, nil
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	q := url.Values{}
	q.Set("ids", strings.Join(sorted, ","))
	q.Set("vs_currencies", "usd")
	endpoint := c.opts.BaseURL + "/simple/price?" + q.Encode()

	resp, err := httputil.Do(ctx, c.client, c.opts.Retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.opts.APIKey != "" {
			req.Header.Set("x-cg-demo-api-key", c.opts.APIKey)
		}
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("coingecko fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coingecko returned status %d", resp.StatusCode)
	}

	var data map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	out := make(map[string]float64, len(data))
	for id, quote := range data {
		if usd := quote["usd"]; usd > 0 {
			out[strings.ToLower(id)] = usd
		}
	}
	return out, nil
}

var _ CryptoSource = (*CoinGecko)(nil)

package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"wealth-dashboard/internal/httputil"
)

// DefaultSocketKeys maps currency codes to the page's data-socket-key values.
var DefaultSocketKeys = map[string]string{
	"USD": "USD",
	"EUR": "EUR",
	"GBP": "GBP",
	"GAU": "gram-altin",
}

// DovizOptions parameterise the FX page scraper.
type DovizOptions struct {
	BaseURL    string
	Timeout    time.Duration
	UserAgent  string
	SocketKeys map[string]string
	Retry      httputil.RetryConfig
}

// Doviz scrapes spot FX and gram gold rates from a single quote page.
type Doviz struct {
	opts   DovizOptions
	client *http.Client
	logger zerolog.Logger
}

// NewDoviz constructs the FX scraper.
func NewDoviz(opts DovizOptions, logger zerolog.Logger) *Doviz {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://www.doviz.com/"
	}
	if len(opts.SocketKeys) == 0 {
		opts.SocketKeys = DefaultSocketKeys
	}
	l := logger.With().Str("component", "fx_fetcher").Logger()
	opts.Retry.Logger = l
	return &Doviz{opts: opts, client: &http.Client{Timeout: timeout}, logger: l}
}

// FetchRates returns every rate found on the page. Missing spans are skipped;
// an error is returned only when no rate could be read.
func (d *Doviz) FetchRates(ctx context.Context) (map[string]float64, error) {
	resp, err := httputil.Do(ctx, d.client, d.opts.Retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.opts.BaseURL, nil)
		if err != nil {
			return nil, err
		}
		if ua := strings.TrimSpace(d.opts.UserAgent); ua != "" {
			req.Header.Set("User-Agent", ua)
		}
		return req, nil
	})
	if err != nil {
		return nil, fmt.Errorf("fx page fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fx page returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse fx page: %w", err)
	}

	rates := make(map[string]float64, len(d.opts.SocketKeys))
	for code, key := range d.opts.SocketKeys {
		text := doc.Find(fmt.Sprintf(`span[data-socket-key=%q]`, key)).First().Text()
		if strings.TrimSpace(text) == "" {
			d.logger.Debug().Str("code", code).Msg("rate not present on page")
			continue
		}
		rate, err := ParseLocaleNumber(text, ',')
		if err != nil || rate <= 0 {
			d.logger.Debug().Err(err).Str("code", code).Str("text", text).Msg("unparseable rate")
			continue
		}
		rates[strings.ToUpper(code)] = rate
	}
	if len(rates) == 0 {
		return nil, errors.New("no fx rates found on page")
	}
	return rates, nil
}

var _ FXSource = (*Doviz)(nil)

package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"wealth-dashboard/internal/httputil"
)

// ScraperOptions describe a quote page. URLTemplate contains "{ticker}".
type ScraperOptions struct {
	URLTemplate string
	Selector    string
	DecimalSep  rune
	Timeout     time.Duration
	UserAgent   string
	Retry       httputil.RetryConfig
}

// Scraper reads a price out of an HTML quote page. It is the secondary
// source for tickers whose primary feed is known to misreport.
type Scraper struct {
	opts   ScraperOptions
	client *http.Client
	logger zerolog.Logger
}

// NewScraper constructs a page scraper.
func NewScraper(opts ScraperOptions, logger zerolog.Logger) *Scraper {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if opts.DecimalSep == 0 {
		opts.DecimalSep = ','
	}
	l := logger.With().Str("component", "scrape_fetcher").Logger()
	opts.Retry.Logger = l
	return &Scraper{opts: opts, client: &http.Client{Timeout: timeout}, logger: l}
}

// FetchLastClose scrapes the first element matching the selector.
func (s *Scraper) FetchLastClose(ctx context.Context, ticker string) (float64, error) {
	if s.opts.URLTemplate == "" || s.opts.Selector == "" {
		return 0, errors.New("scraper url template and selector required")
	}
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	page := strings.ReplaceAll(s.opts.URLTemplate, "{ticker}", url.PathEscape(ticker))

	resp, err := httputil.Do(ctx, s.client, s.opts.Retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, page, nil)
		if err != nil {
			return nil, err
		}
		if ua := strings.TrimSpace(s.opts.UserAgent); ua != "" {
			req.Header.Set("User-Agent", ua)
		}
		return req, nil
	})
	if err != nil {
		return 0, fmt.Errorf("scrape %s: %w", ticker, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("scrape %s returned status %d", ticker, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return 0, fmt.Errorf("parse page %s: %w", ticker, err)
	}

	text := doc.Find(s.opts.Selector).First().Text()
	return ParseLocaleNumber(text, s.opts.DecimalSep)
}

var _ EquitySource = (*Scraper)(nil)

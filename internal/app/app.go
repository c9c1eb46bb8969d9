package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"wealth-dashboard/internal/alerting"
	"wealth-dashboard/internal/backup"
	"wealth-dashboard/internal/config"
	"wealth-dashboard/internal/fetcher"
	"wealth-dashboard/internal/holdings"
	"wealth-dashboard/internal/httputil"
	"wealth-dashboard/internal/pricing"
	"wealth-dashboard/internal/risk"
	"wealth-dashboard/internal/scheduler"
	"wealth-dashboard/internal/service"
	"wealth-dashboard/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer

	now func() time.Time
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{
		Config: cfg,
		Logger: logger.With().Str("component", "app").Logger(),
		Out:    os.Stdout,
		now:    time.Now,
	}
}

// ValueOptions configure the value and commit commands. Overrides are unit
// prices in each holding's primary quote currency, keyed by symbol.
type ValueOptions struct {
	Overrides map[string]float64
}

// ExportOptions hold parameters for exporting archived snapshots.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// HistoryOptions configure the history command.
type HistoryOptions struct {
	Limit int
}

func (a *App) retry() httputil.RetryConfig {
	cfg := a.Config.HTTP
	return httputil.RetryConfig{
		MaxAttempts: cfg.MaxAttempts,
		BaseDelay:   cfg.BaseDelay,
		MaxDelay:    cfg.MaxDelay,
	}
}

func (a *App) newFXSource() fetcher.FXSource {
	cfg := a.Config.FX
	keys := make(map[string]string, len(cfg.SocketKeys))
	for code, key := range cfg.SocketKeys {
		keys[strings.ToUpper(code)] = key
	}
	return fetcher.NewDoviz(fetcher.DovizOptions{
		BaseURL:    cfg.BaseURL,
		Timeout:    cfg.Timeout,
		UserAgent:  a.Config.HTTP.UserAgent,
		SocketKeys: keys,
		Retry:      a.retry(),
	}, a.Logger)
}

func (a *App) newCryptoSources() []fetcher.CryptoSource {
	cfg := a.Config.Crypto
	sources := []fetcher.CryptoSource{
		fetcher.NewCoinGecko(fetcher.CoinGeckoOptions{
			BaseURL: cfg.CoinGecko.BaseURL,
			APIKey:  cfg.CoinGecko.APIKey,
			Timeout: cfg.CoinGecko.Timeout,
			Retry:   a.retry(),
		}, a.Logger),
	}
	if cfg.Chainlink.Enabled {
		sources = append(sources, fetcher.NewChainlink(fetcher.ChainlinkOptions{
			RPCURL:  cfg.Chainlink.RPCURL,
			Feeds:   cfg.Chainlink.Feeds,
			Timeout: cfg.Chainlink.Timeout,
			MaxAge:  cfg.Chainlink.MaxAge,
		}, a.Logger))
	}
	return sources
}

func (a *App) newEquitySource() fetcher.EquitySource {
	cfg := a.Config.Equity
	return fetcher.NewYahoo(fetcher.YahooOptions{
		BaseURL:   cfg.BaseURL,
		Timeout:   cfg.Timeout,
		UserAgent: a.Config.HTTP.UserAgent,
		Retry:     a.retry(),
	}, a.Logger)
}

func (a *App) defectRules() []pricing.DefectRule {
	rules := make([]pricing.DefectRule, 0, len(a.Config.Equity.Defects))
	for _, d := range a.Config.Equity.Defects {
		rule := pricing.DefectRule{Ticker: d.Ticker, MinPrice: d.MinPrice}
		if d.ScrapeURL != "" {
			sep, _ := utf8.DecodeRuneInString(d.DecimalSep)
			if sep == utf8.RuneError {
				sep = 0
			}
			rule.Secondary = fetcher.NewScraper(fetcher.ScraperOptions{
				URLTemplate: d.ScrapeURL,
				Selector:    d.Selector,
				DecimalSep:  sep,
				Timeout:     a.Config.Equity.Timeout,
				UserAgent:   a.Config.HTTP.UserAgent,
				Retry:       a.retry(),
			}, a.Logger)
		}
		rules = append(rules, rule)
	}
	return rules
}

func (a *App) newResolver() *pricing.Resolver {
	var cashKeys map[string]string
	if len(a.Config.Cash.RateKeys) > 0 {
		cashKeys = make(map[string]string, len(a.Config.Cash.RateKeys))
		for sym, code := range a.Config.Cash.RateKeys {
			cashKeys[holdings.NormalizeSymbol(sym)] = strings.ToUpper(code)
		}
	}
	return pricing.NewResolver(pricing.ResolverOptions{
		LocalSuffixes: a.Config.Currency.LocalSuffixes,
		CashRateKeys:  cashKeys,
		Defects:       a.defectRules(),
		CryptoTTL:     a.Config.Crypto.TTL,
		EquityTTL:     a.Config.Equity.TTL,
	}, a.newCryptoSources(), a.newEquitySource(), a.Logger)
}

func (a *App) newConverter() *pricing.Converter {
	return pricing.NewConverter(a.newFXSource(), pricing.FXOptions{
		NativeCode: a.Config.Currency.Native,
		Codes:      a.Config.FX.Codes,
		TTL:        a.Config.FX.TTL,
	}, a.Logger)
}

func (a *App) newClassifier() *risk.Classifier {
	targets := make(map[risk.Bucket]float64, len(a.Config.Risk.Targets))
	for name, v := range a.Config.Risk.Targets {
		targets[risk.Bucket(strings.ToLower(name))] = v
	}
	return risk.New(risk.Options{
		Targets:           targets,
		Band:              a.Config.Risk.Band,
		SafeHavenEquities: a.Config.Risk.SafeHavenEquities,
	})
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, cfg.Timeout, a.Logger)
	}
	return nil
}

func (a *App) newUploader() storage.Uploader {
	if !a.Config.Backup.Enabled {
		return nil
	}
	cfg := a.Config.Backup.GitHub
	return backup.NewGitHub(backup.GitHubOptions{
		APIBase: cfg.APIBase,
		Token:   cfg.Token,
		Repo:    cfg.Repo,
		Branch:  cfg.Branch,
		Dir:     cfg.Dir,
		Timeout: a.Config.Backup.Timeout,
		Retry:   a.retry(),
	}, a.Logger)
}

type stores struct {
	holdings  storage.HoldingsStore
	prices    storage.PriceStore
	snapshots storage.SnapshotStore
	locker    storage.AdvisoryLocker
	close     func()
}

// openStores builds the configured backend. Holdings always live in the
// data directory; the postgres backend takes over prices and snapshots.
func (a *App) openStores(ctx context.Context) (*stores, error) {
	loc, err := a.Config.Location()
	if err != nil {
		return nil, err
	}
	cfg := a.Config.Storage
	files := storage.NewFileStore(storage.FileOptions{
		Dir:           cfg.Dir,
		HoldingsFile:  cfg.HoldingsFile,
		PricesFile:    cfg.PricesFile,
		ArchiveFile:   cfg.ArchiveFile,
		Location:      loc,
		BackupTimeout: a.Config.Backup.Timeout,
	}, a.newUploader(), a.Logger)

	if cfg.Backend != "postgres" {
		return &stores{holdings: files, prices: files, snapshots: files, close: func() {}}, nil
	}

	pg, err := storage.Open(ctx, a.Config.Database, a.Logger)
	if err != nil {
		return nil, err
	}
	return &stores{holdings: files, prices: pg, snapshots: pg, locker: pg, close: pg.Close}, nil
}

func (a *App) newService(ctx context.Context, sched *scheduler.Scheduler) (*service.Service, func(), error) {
	st, err := a.openStores(ctx)
	if err != nil {
		return nil, nil, err
	}
	svc := service.New(service.Options{
		NativeCode:    a.Config.Currency.Native,
		LockKey:       a.Config.Scheduler.AdvisoryLockKey,
		AlertsEnabled: a.Config.Alerting.Enabled,
		AlertCooldown: a.Config.Alerting.Cooldown,
	}, service.Deps{
		Resolver:   a.newResolver(),
		Converter:  a.newConverter(),
		Classifier: a.newClassifier(),
		Holdings:   st.holdings,
		Prices:     st.prices,
		Snapshots:  st.snapshots,
		Locker:     st.locker,
		Notifier:   a.newNotifier(),
		Scheduler:  sched,
	}, a.Logger)
	return svc, st.close, nil
}

func (a *App) newSession(overrides map[string]float64) *pricing.Session {
	sess := pricing.NewSession(a.now)
	for sym, price := range overrides {
		sess.SetOverride(sym, price)
	}
	return sess
}

// Value prices the portfolio and prints the report without archiving it.
func (a *App) Value(ctx context.Context, opts ValueOptions) error {
	svc, closeStores, err := a.newService(ctx, nil)
	if err != nil {
		return err
	}
	defer closeStores()

	res, err := svc.Value(ctx, a.newSession(opts.Overrides))
	if err != nil {
		return err
	}
	return a.printResult(res)
}

// Commit prices the portfolio, archives a snapshot and prints the report.
func (a *App) Commit(ctx context.Context, opts ValueOptions) error {
	svc, closeStores, err := a.newService(ctx, nil)
	if err != nil {
		return err
	}
	defer closeStores()

	res, err := svc.Commit(ctx, a.newSession(opts.Overrides))
	if err != nil {
		return err
	}
	if err := a.printResult(res); err != nil {
		return err
	}
	return a.printSnapshotLine(res.Snapshot)
}

// Run executes the scheduled day-close service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loc, err := a.Config.Location()
	if err != nil {
		return err
	}
	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		Offset:       a.Config.Scheduler.Offset,
		Location:     loc,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc, closeStores, err := a.newService(ctx, sched)
	if err != nil {
		return err
	}
	defer closeStores()

	a.Logger.Info().Str("backend", a.Config.Storage.Backend).Msg("starting day close service")
	err = svc.Run(ctx, a.newSession(nil))
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("day close service stopped")
	return nil
}

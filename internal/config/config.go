package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"wealth-dashboard/internal/logging"
)

// EnvPrefix prefixes every environment override, e.g. WEALTHCTL_DATABASE_DSN.
const EnvPrefix = "WEALTHCTL"

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Currency  CurrencyConfig  `mapstructure:"currency"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	FX        FXConfig        `mapstructure:"fx"`
	Crypto    CryptoConfig    `mapstructure:"crypto"`
	Equity    EquityConfig    `mapstructure:"equity"`
	Cash      CashConfig      `mapstructure:"cash"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Backup    BackupConfig    `mapstructure:"backup"`
	Export    ExportConfig    `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// StorageConfig selects where prices and snapshots live. Holdings are
// always kept in the data directory.
type StorageConfig struct {
	Backend      string `mapstructure:"backend"`
	Dir          string `mapstructure:"dir"`
	HoldingsFile string `mapstructure:"holdings_file"`
	PricesFile   string `mapstructure:"prices_file"`
	ArchiveFile  string `mapstructure:"archive_file"`
	Timezone     string `mapstructure:"timezone"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// CurrencyConfig names the home currency and how local listings are spotted.
type CurrencyConfig struct {
	Native        string   `mapstructure:"native"`
	LocalSuffixes []string `mapstructure:"local_suffixes"`
}

// HTTPConfig is the shared retry policy for upstream calls.
type HTTPConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	UserAgent   string        `mapstructure:"user_agent"`
}

// FXConfig covers the exchange rate page.
type FXConfig struct {
	Codes      []string          `mapstructure:"codes"`
	TTL        time.Duration     `mapstructure:"ttl"`
	BaseURL    string            `mapstructure:"base_url"`
	Timeout    time.Duration     `mapstructure:"timeout"`
	SocketKeys map[string]string `mapstructure:"socket_keys"`
}

// CryptoConfig covers spot sources for coins.
type CryptoConfig struct {
	TTL       time.Duration   `mapstructure:"ttl"`
	CoinGecko CoinGeckoConfig `mapstructure:"coingecko"`
	Chainlink ChainlinkConfig `mapstructure:"chainlink"`
}

// CoinGeckoConfig configures the primary crypto source.
type CoinGeckoConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ChainlinkConfig configures the on-chain fallback feed.
type ChainlinkConfig struct {
	Enabled bool              `mapstructure:"enabled"`
	RPCURL  string            `mapstructure:"rpc_url"`
	Feeds   map[string]string `mapstructure:"feeds"`
	Timeout time.Duration     `mapstructure:"timeout"`
	MaxAge  time.Duration     `mapstructure:"max_age"`
}

// EquityConfig covers last-close quotes.
type EquityConfig struct {
	TTL     time.Duration  `mapstructure:"ttl"`
	BaseURL string         `mapstructure:"base_url"`
	Timeout time.Duration  `mapstructure:"timeout"`
	Defects []DefectConfig `mapstructure:"defects"`
}

// DefectConfig declares a ticker whose primary feed misreports small values.
// Values below MinPrice are rejected and the page at ScrapeURL is read
// instead.
type DefectConfig struct {
	Ticker     string  `mapstructure:"ticker"`
	MinPrice   float64 `mapstructure:"min_price"`
	ScrapeURL  string  `mapstructure:"scrape_url"`
	Selector   string  `mapstructure:"selector"`
	DecimalSep string  `mapstructure:"decimal_sep"`
}

// CashConfig maps cash/commodity symbols to FX codes.
type CashConfig struct {
	RateKeys map[string]string `mapstructure:"rate_keys"`
}

// RiskConfig sets target allocation.
type RiskConfig struct {
	Targets           map[string]float64 `mapstructure:"targets"`
	Band              float64            `mapstructure:"band"`
	SafeHavenEquities []string           `mapstructure:"safe_haven_equities"`
}

// SchedulerConfig governs the day close cadence.
type SchedulerConfig struct {
	Interval        time.Duration `mapstructure:"interval"`
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	Offset          time.Duration `mapstructure:"offset"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
}

// AlertingConfig defines allocation drift notifications.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Cooldown time.Duration  `mapstructure:"cooldown"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram bot.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// BackupConfig describes the remote mirror of written files.
type BackupConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Timeout time.Duration `mapstructure:"timeout"`
	GitHub  GitHubConfig  `mapstructure:"github"`
}

// GitHubConfig targets a repository through the contents API.
type GitHubConfig struct {
	APIBase string `mapstructure:"api_base"`
	Token   string `mapstructure:"token"`
	Repo    string `mapstructure:"repo"`
	Branch  string `mapstructure:"branch"`
	Dir     string `mapstructure:"dir"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from a .env file, the config file, environment,
// and defaults, in increasing order of precedence below the environment.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "wealthctl")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("storage.backend", "file")
	v.SetDefault("storage.dir", "data")
	v.SetDefault("storage.holdings_file", "holdings.json")
	v.SetDefault("storage.prices_file", "price_history.json")
	v.SetDefault("storage.archive_file", "archive.json")
	v.SetDefault("storage.timezone", "Europe/Istanbul")

	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", "30m")

	v.SetDefault("currency.native", "TRY")
	v.SetDefault("currency.local_suffixes", []string{".IS"})

	v.SetDefault("http.max_attempts", 2)
	v.SetDefault("http.base_delay", "500ms")
	v.SetDefault("http.max_delay", "2s")
	v.SetDefault("http.user_agent", "Mozilla/5.0 (compatible; wealthctl/1.0)")

	v.SetDefault("fx.codes", []string{"USD", "EUR", "GBP", "GAU"})
	v.SetDefault("fx.ttl", "5m")
	v.SetDefault("fx.base_url", "https://www.doviz.com/")
	v.SetDefault("fx.timeout", "5s")

	v.SetDefault("crypto.ttl", "1m")
	v.SetDefault("crypto.coingecko.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("crypto.coingecko.timeout", "10s")
	v.SetDefault("crypto.chainlink.enabled", false)
	v.SetDefault("crypto.chainlink.timeout", "10s")
	v.SetDefault("crypto.chainlink.max_age", "26h")

	v.SetDefault("equity.ttl", "5m")
	v.SetDefault("equity.base_url", "https://query1.finance.yahoo.com")
	v.SetDefault("equity.timeout", "10s")

	v.SetDefault("risk.targets", map[string]float64{
		"risky_equity":     25,
		"safe_haven":       45,
		"high_risk_crypto": 30,
	})
	v.SetDefault("risk.band", 5.0)

	v.SetDefault("scheduler.interval", "24h")
	v.SetDefault("scheduler.align_to_bucket", true)
	v.SetDefault("scheduler.offset", "18h30m")
	v.SetDefault("scheduler.advisory_lock_key", int64(0x5745414c))
	v.SetDefault("scheduler.startup_delay", "0s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.cooldown", "12h")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("backup.enabled", false)
	v.SetDefault("backup.timeout", "20s")
	v.SetDefault("backup.github.api_base", "https://api.github.com")
	v.SetDefault("backup.github.branch", "main")

	v.SetDefault("export.max_data_points", 2000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "file":
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("storage.backend must be file or postgres, got %q", c.Storage.Backend)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Currency.Native) == "" {
		return fmt.Errorf("currency.native must be set")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Scheduler.Interval <= 0 {
		return fmt.Errorf("scheduler.interval must be greater than zero")
	}
	if c.Scheduler.Offset < 0 || c.Scheduler.Offset >= c.Scheduler.Interval {
		return fmt.Errorf("scheduler.offset must be within [0, scheduler.interval)")
	}
	if c.Risk.Band < 0 {
		return fmt.Errorf("risk.band cannot be negative")
	}
	for bucket, target := range c.Risk.Targets {
		if target < 0 || target > 100 {
			return fmt.Errorf("risk.targets.%s must be within [0, 100]", bucket)
		}
	}
	for i, d := range c.Equity.Defects {
		if strings.TrimSpace(d.Ticker) == "" {
			return fmt.Errorf("equity.defects[%d].ticker must be set", i)
		}
		if d.MinPrice <= 0 {
			return fmt.Errorf("equity.defects[%d].min_price must be greater than zero", i)
		}
		if d.ScrapeURL != "" && d.Selector == "" {
			return fmt.Errorf("equity.defects[%d].selector is required with scrape_url", i)
		}
	}
	if c.Crypto.Chainlink.Enabled && c.Crypto.Chainlink.RPCURL == "" {
		return fmt.Errorf("crypto.chainlink.rpc_url is required when chainlink is enabled")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	if c.Backup.Enabled {
		if c.Backup.GitHub.Token == "" || c.Backup.GitHub.Repo == "" {
			return fmt.Errorf("backup.github.token and backup.github.repo are required when backup is enabled")
		}
	}
	return nil
}

// Location resolves storage.timezone.
func (c *Config) Location() (*time.Location, error) {
	if c.Storage.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Storage.Timezone)
	if err != nil {
		return nil, fmt.Errorf("storage.timezone: %w", err)
	}
	return loc, nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Name)
	assert.Equal(t, "file", cfg.Storage.Backend)
	assert.Equal(t, "TRY", cfg.Currency.Native)
	assert.Equal(t, []string{".IS"}, cfg.Currency.LocalSuffixes)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.Interval)
	assert.Equal(t, 18*time.Hour+30*time.Minute, cfg.Scheduler.Offset)
	assert.Equal(t, 5*time.Minute, cfg.FX.TTL)
	assert.Equal(t, 25.0, cfg.Risk.Targets["risky_equity"])
	assert.Equal(t, 5.0, cfg.Risk.Band)
	assert.Equal(t, 2000, cfg.Export.MaxDataPoints)
	assert.Empty(t, cfg.Equity.Defects)
}

func TestLoadDefectsAndEnvOverride(t *testing.T) {
	t.Setenv("WEALTHCTL_CURRENCY_NATIVE", "EUR")
	t.Setenv("WEALTHCTL_FX_CODES", "USD,GBP")
	path := writeConfig(t, `
equity:
  defects:
    - ticker: ASTOR.IS
      min_price: 10
      scrape_url: https://example.com/{ticker}
      selector: span.price
cash:
  rate_keys:
    dolar: USD
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "EUR", cfg.Currency.Native)
	assert.Equal(t, []string{"USD", "GBP"}, cfg.FX.Codes)
	require.Len(t, cfg.Equity.Defects, 1)
	assert.Equal(t, "ASTOR.IS", cfg.Equity.Defects[0].Ticker)
	assert.Equal(t, 10.0, cfg.Equity.Defects[0].MinPrice)
	assert.Equal(t, "USD", cfg.Cash.RateKeys["dolar"])
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Storage:   StorageConfig{Backend: "file", Timezone: "UTC"},
			Currency:  CurrencyConfig{Native: "TRY"},
			Scheduler: SchedulerConfig{Interval: 24 * time.Hour},
			Export:    ExportConfig{MaxDataPoints: 10},
		}
	}
	require.NoError(t, base().Validate())

	cases := map[string]func(c *Config){
		"postgres without dsn": func(c *Config) { c.Storage.Backend = "postgres" },
		"unknown backend":      func(c *Config) { c.Storage.Backend = "s3" },
		"bad timezone":         func(c *Config) { c.Storage.Timezone = "Mars/Olympus" },
		"offset past interval": func(c *Config) { c.Scheduler.Offset = 25 * time.Hour },
		"target out of range":  func(c *Config) { c.Risk.Targets = map[string]float64{"safe_haven": 120} },
		"defect without price": func(c *Config) { c.Equity.Defects = []DefectConfig{{Ticker: "X"}} },
		"telegram no token":    func(c *Config) { c.Alerting.Telegram.Enabled = true },
		"backup no repo":       func(c *Config) { c.Backup.Enabled = true },
		"chainlink no rpc":     func(c *Config) { c.Crypto.Chainlink.Enabled = true },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := base()
			mutate(c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestResolveMaxPoints(t *testing.T) {
	cfg := &Config{Export: ExportConfig{MaxDataPoints: 100}}
	assert.Equal(t, 100, cfg.ResolveMaxPoints(0))
	assert.Equal(t, 5, cfg.ResolveMaxPoints(5))
}

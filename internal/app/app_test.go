package app

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wealth-dashboard/internal/archive"
	"wealth-dashboard/internal/config"
	"wealth-dashboard/internal/history"
)

// newOfflineApp points every upstream at a server that always answers 404,
// so prices come from the seeded history table.
func newOfflineApp(t *testing.T) (*App, *bytes.Buffer, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfg := &config.Config{
		Storage:  config.StorageConfig{Backend: "file", Dir: dir, Timezone: "UTC"},
		Currency: config.CurrencyConfig{Native: "TRY", LocalSuffixes: []string{".IS"}},
		HTTP:     config.HTTPConfig{MaxAttempts: 1},
		FX:       config.FXConfig{Codes: []string{"USD"}, BaseURL: srv.URL, Timeout: time.Second},
		Crypto: config.CryptoConfig{
			CoinGecko: config.CoinGeckoConfig{BaseURL: srv.URL, Timeout: time.Second},
		},
		Equity:    config.EquityConfig{BaseURL: srv.URL, Timeout: time.Second},
		Scheduler: config.SchedulerConfig{Interval: 24 * time.Hour},
		Export:    config.ExportConfig{MaxDataPoints: 100},
	}
	require.NoError(t, cfg.Validate())

	seed := history.NewTable(nil)
	seed.Set("bitcoin", history.USD, 60000)
	seed.Set("bitcoin", history.Native, 1920000)
	seed.Set(history.FXSymbol("USD"), history.Native, 32)
	data, err := history.Encode(seed)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "price_history.json"), data, 0o644))

	out := &bytes.Buffer{}
	a := NewApp(cfg, zerolog.Nop())
	a.Out = out
	return a, out, dir
}

func TestCommitFromHistoryAndExport(t *testing.T) {
	a, out, dir := newOfflineApp(t)
	ctx := context.Background()

	require.NoError(t, a.SetHolding(ctx, "kripto_paralar", "Bitcoin", 0.5, 40000))
	assert.Contains(t, out.String(), "crypto/bitcoin")

	out.Reset()
	require.NoError(t, a.Commit(ctx, ValueOptions{}))
	report := out.String()
	assert.Contains(t, report, "BITCOIN")
	assert.Contains(t, report, "$30,000.00")
	assert.Contains(t, report, "history")
	assert.Contains(t, report, "high risk crypto")
	assert.Contains(t, report, "snapshot ")

	out.Reset()
	require.NoError(t, a.History(ctx, HistoryOptions{Limit: 5}))
	assert.Contains(t, out.String(), "+0.00%")

	csvPath := filepath.Join(dir, "out", "archive.csv")
	require.NoError(t, a.Export(ctx, ExportOptions{CSVPath: csvPath}))
	data, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "total_native")
	assert.Contains(t, lines[1], "960000.00")
}

func TestValueWithOverride(t *testing.T) {
	a, out, dir := newOfflineApp(t)
	ctx := context.Background()
	require.NoError(t, a.SetHolding(ctx, "crypto", "bitcoin", 1, 40000))

	out.Reset()
	require.NoError(t, a.Value(ctx, ValueOptions{Overrides: map[string]float64{"BITCOIN": 50000}}))
	assert.Contains(t, out.String(), "$50,000.00")
	assert.Contains(t, out.String(), "override")

	_, err := os.Stat(filepath.Join(dir, "archive.json"))
	assert.True(t, os.IsNotExist(err), "value does not archive")
}

func TestHoldingsCommands(t *testing.T) {
	a, out, _ := newOfflineApp(t)
	ctx := context.Background()

	require.NoError(t, a.SetHolding(ctx, "equity", "THYAO.IS", 100, 2))
	out.Reset()
	require.NoError(t, a.ListHoldings(ctx))
	assert.Contains(t, out.String(), "THYAO.IS")

	require.NoError(t, a.DeleteHolding(ctx, "hisseler", "thyao.is"))
	out.Reset()
	require.NoError(t, a.ListHoldings(ctx))
	assert.Contains(t, out.String(), "no holdings")

	assert.Error(t, a.SetHolding(ctx, "bonds", "x", 1, 1))
}

func TestSimulateAlertRequiresAlerting(t *testing.T) {
	a, _, _ := newOfflineApp(t)
	assert.Error(t, a.SimulateAlert(context.Background(), ValueOptions{}))
}

func TestExportRequiresOutput(t *testing.T) {
	a, _, _ := newOfflineApp(t)
	assert.Error(t, a.Export(context.Background(), ExportOptions{}))
}

func TestFormatMoney(t *testing.T) {
	assert.Equal(t, "$1,234.50", formatMoney(decimal.NewFromFloat(1234.5), "USD"))
	assert.Equal(t, "12.30 GAU", formatMoney(decimal.NewFromFloat(12.3), "GAU"))
}

func TestDownsampleSnapshots(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snaps := make([]archive.Snapshot, 10)
	for i := range snaps {
		snaps[i] = archive.Snapshot{ID: uuid.New(), Timestamp: base.AddDate(0, 0, i)}
	}

	got := downsampleSnapshots(snaps, 4)
	require.Len(t, got, 4)
	assert.Equal(t, snaps[0].ID, got[0].ID)
	assert.Equal(t, snaps[3].ID, got[1].ID)
	assert.Equal(t, snaps[6].ID, got[2].ID)
	assert.Equal(t, snaps[9].ID, got[3].ID)

	assert.Len(t, downsampleSnapshots(snaps, 20), 10)
}

func TestFilterWindow(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	snaps := []archive.Snapshot{{Timestamp: base}, {Timestamp: base.AddDate(0, 0, 1)}, {Timestamp: base.AddDate(0, 0, 2)}}
	from := base.AddDate(0, 0, 1)
	to := base.AddDate(0, 0, 2)
	got := filterWindow(snaps, &from, &to)
	require.Len(t, got, 1)
	assert.True(t, got[0].Timestamp.Equal(from))
}

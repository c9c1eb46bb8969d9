package service

import (
	"context"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wealth-dashboard/internal/alerting"
	"wealth-dashboard/internal/archive"
	"wealth-dashboard/internal/fetcher"
	"wealth-dashboard/internal/history"
	"wealth-dashboard/internal/holdings"
	"wealth-dashboard/internal/pricing"
	"wealth-dashboard/internal/risk"
	"wealth-dashboard/internal/storage"
)

type memoryStore struct {
	reg           *holdings.Registry
	corrupt       bool
	corruptPrices bool
	prices        *history.Table
	arc         *archive.Archive
	savedPrices int
	savedSnaps  int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{reg: holdings.NewRegistry(), prices: history.NewTable(nil), arc: archive.New()}
}

func (m *memoryStore) LoadHoldings(context.Context) (*holdings.Registry, error) {
	if m.corrupt {
		return holdings.NewRegistry(), storage.ErrCorrupt
	}
	return holdings.NewRegistry(m.reg.List()...), nil
}

func (m *memoryStore) SaveHoldings(_ context.Context, r *holdings.Registry) error {
	m.reg = holdings.NewRegistry(r.List()...)
	return nil
}

func (m *memoryStore) LoadPrices(context.Context) (*history.Table, error) {
	if m.corruptPrices {
		return history.NewTable(nil), storage.ErrCorrupt
	}
	return m.prices.Clone(), nil
}

func (m *memoryStore) SavePrices(_ context.Context, t *history.Table) error {
	m.prices = t.Clone()
	m.savedPrices++
	return nil
}

func (m *memoryStore) LoadArchive(context.Context) (*archive.Archive, error) {
	return archive.New(m.arc.All()...), nil
}

func (m *memoryStore) SaveSnapshot(_ context.Context, a *archive.Archive, _ archive.Snapshot) error {
	m.arc = archive.New(a.All()...)
	m.savedSnaps++
	return nil
}

type stubLocker struct {
	acquired bool
	released int
}

func (l *stubLocker) TryAdvisoryLock(context.Context, int64) (func(), bool, error) {
	if !l.acquired {
		return nil, false, nil
	}
	return func() { l.released++ }, true, nil
}

type captureNotifier struct {
	notes []alerting.Notification
}

func (c *captureNotifier) Notify(_ context.Context, n alerting.Notification) error {
	c.notes = append(c.notes, n)
	return nil
}

type staticFX map[string]float64

func (s staticFX) FetchRates(context.Context) (map[string]float64, error) { return s, nil }

type staticCrypto map[string]float64

func (s staticCrypto) FetchSpotUSD(context.Context, []string) (map[string]float64, error) {
	return s, nil
}

type staticEquity map[string]float64

func (s staticEquity) FetchLastClose(_ context.Context, ticker string) (float64, error) {
	if v, ok := s[strings.ToUpper(ticker)]; ok {
		return v, nil
	}
	return 0, errors.New("unknown ticker")
}

var (
	_ fetcher.FXSource     = staticFX(nil)
	_ fetcher.CryptoSource = staticCrypto(nil)
	_ fetcher.EquitySource = staticEquity(nil)
)

type countingUploader struct {
	uploads int
}

func (c *countingUploader) Upload(context.Context, string, []byte) error {
	c.uploads++
	return nil
}

type fixture struct {
	deps     Deps
	opts     Options
	svc      *Service
	store    *memoryStore
	notifier *captureNotifier
	locker   *stubLocker
	clock    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:    newMemoryStore(),
		notifier: &captureNotifier{},
		locker:   &stubLocker{acquired: true},
		clock:    time.Date(2024, 6, 1, 18, 30, 0, 0, time.UTC),
	}
	for _, h := range []struct {
		cat  holdings.Category
		sym  string
		qty  float64
		cost float64
	}{
		{holdings.Crypto, "bitcoin", 0.5, 40000},
		{holdings.Equity, "THYAO.IS", 100, 2},
		{holdings.CashCommodity, "dolar", 1000, 0},
	} {
		_, err := f.store.reg.Upsert(h.cat, h.sym, h.qty, h.cost)
		require.NoError(t, err)
	}

	logger := zerolog.Nop()
	f.deps = Deps{
		Resolver: pricing.NewResolver(pricing.ResolverOptions{LocalSuffixes: []string{".IS"}},
			[]fetcher.CryptoSource{staticCrypto{"bitcoin": 60000}},
			staticEquity{"THYAO.IS": 300}, logger),
		Converter:  pricing.NewConverter(staticFX{"USD": 32}, pricing.FXOptions{NativeCode: "TRY", Codes: []string{"USD"}}, logger),
		Classifier: risk.New(risk.Options{}),
		Holdings:   f.store,
		Prices:     f.store,
		Snapshots:  f.store,
		Locker:     f.locker,
		Notifier:   f.notifier,
	}
	f.opts = Options{NativeCode: "TRY", LockKey: 42, AlertsEnabled: true, AlertCooldown: time.Hour}
	f.rebuild()
	return f
}

// rebuild recreates the service from f.deps and f.opts.
func (f *fixture) rebuild() {
	f.svc = New(f.opts, f.deps, zerolog.Nop())
	f.svc.now = func() time.Time { return f.clock }
}

func (f *fixture) session() *pricing.Session {
	return pricing.NewSession(func() time.Time { return f.clock })
}

func TestValueDoesNotArchive(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.Value(context.Background(), f.session())
	require.NoError(t, err)

	assert.Equal(t, "1022000", res.Report.Total.Native.String())
	assert.Equal(t, "31937.5", res.Report.Total.USD.String())
	assert.Equal(t, uuid.Nil, res.Snapshot.ID)
	assert.Zero(t, f.store.arc.Len())
	assert.Equal(t, 1, f.store.savedPrices)

	btc, ok := f.store.prices.Lookup("bitcoin", history.USD)
	require.True(t, ok)
	assert.Equal(t, 60000.0, btc)
	fx, ok := f.store.prices.Lookup(history.FXSymbol("USD"), history.Native)
	require.True(t, ok)
	assert.Equal(t, 32.0, fx)
}

func TestCommitAppendsAndNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Commit(ctx, f.session())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, res.Snapshot.ID)
	assert.Zero(t, res.Snapshot.ChangeNativePct)
	assert.Equal(t, 1, f.store.arc.Len())
	assert.Equal(t, 1, f.locker.released)

	require.Len(t, f.notifier.notes, 1)
	note := f.notifier.notes[0]
	assert.Equal(t, res.Snapshot.ID.String(), note.SnapshotID)
	assert.Equal(t, "1022000", note.TotalNative.String())
	require.NotEmpty(t, note.Drift)

	f.clock = f.clock.Add(time.Minute)
	_, err = f.svc.Commit(ctx, f.session())
	require.NoError(t, err)
	assert.Equal(t, 2, f.store.arc.Len())
	assert.Len(t, f.notifier.notes, 1, "cooldown suppresses the second alert")

	f.clock = f.clock.Add(2 * time.Hour)
	_, err = f.svc.Commit(ctx, f.session())
	require.NoError(t, err)
	assert.Len(t, f.notifier.notes, 2)
}

func TestCommitChangeAgainstPreviousSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Commit(ctx, f.session())
	require.NoError(t, err)

	_, err = f.svc.SetHolding(ctx, holdings.CashCommodity, "dolar", 2000, 0)
	require.NoError(t, err)

	f.clock = f.clock.Add(24 * time.Hour)
	res, err := f.svc.Commit(ctx, f.session())
	require.NoError(t, err)
	// 2000 dollars instead of 1000: native total grows by 32000 on 1022000.
	assert.InDelta(t, 32000.0/1022000*100, res.Snapshot.ChangeNativePct, 1e-9)
}

func TestCommitSkippedWhenLocked(t *testing.T) {
	f := newFixture(t)
	f.locker.acquired = false

	_, err := f.svc.Commit(context.Background(), f.session())
	assert.ErrorIs(t, err, ErrLocked)
	assert.Zero(t, f.store.savedPrices)
	assert.Zero(t, f.store.savedSnaps)
}

func TestCorruptHoldingsDegradeButRefuseWrites(t *testing.T) {
	f := newFixture(t)
	f.store.corrupt = true
	ctx := context.Background()

	res, err := f.svc.Value(ctx, f.session())
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.True(t, res.Report.Total.Native.IsZero())

	f.store.savedPrices = 0
	_, err = f.svc.Commit(ctx, f.session())
	assert.ErrorIs(t, err, ErrStateUnreadable)
	assert.ErrorIs(t, err, storage.ErrCorrupt)
	assert.Zero(t, f.store.savedSnaps, "a zero total is never archived")
	assert.Zero(t, f.store.savedPrices)
	assert.Zero(t, f.store.arc.Len())

	_, err = f.svc.SetHolding(ctx, holdings.Crypto, "ethereum", 1, 3000)
	assert.ErrorIs(t, err, storage.ErrCorrupt)
	assert.ErrorIs(t, f.svc.DeleteHolding(ctx, holdings.NewKey(holdings.Crypto, "bitcoin")), storage.ErrCorrupt)
}

func TestCorruptArchiveAndPricesFilesSurvive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	up := &countingUploader{}
	dir := t.TempDir()
	files := storage.NewFileStore(storage.FileOptions{Dir: dir, Location: time.UTC}, up, zerolog.Nop())
	archivePath := filepath.Join(dir, "archive.json")
	pricesPath := filepath.Join(dir, "price_history.json")
	require.NoError(t, os.WriteFile(archivePath, []byte("{oops"), 0o644))
	require.NoError(t, os.WriteFile(pricesPath, []byte(`{"bitcoin_usd": 5`), 0o644))

	f.deps.Prices = files
	f.deps.Snapshots = files
	f.rebuild()

	_, err := f.svc.Commit(ctx, f.session())
	assert.ErrorIs(t, err, ErrStateUnreadable)
	assert.ErrorIs(t, err, storage.ErrCorrupt)

	res, err := f.svc.Value(ctx, f.session())
	require.NoError(t, err)
	assert.Equal(t, "1022000", res.Report.Total.Native.String())

	data, err := os.ReadFile(archivePath)
	require.NoError(t, err)
	assert.Equal(t, "{oops", string(data))
	data, err = os.ReadFile(pricesPath)
	require.NoError(t, err)
	assert.Equal(t, `{"bitcoin_usd": 5`, string(data))
	assert.Zero(t, up.uploads, "nothing is mirrored to the backup")

	snaps, err := f.svc.History(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, snaps)
}

func TestCorruptPricesStillCommitSnapshot(t *testing.T) {
	f := newFixture(t)
	f.store.corruptPrices = true

	res, err := f.svc.Commit(context.Background(), f.session())
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, res.Snapshot.ID)
	assert.Equal(t, 1, f.store.savedSnaps)
	assert.Zero(t, f.store.savedPrices, "unreadable price table is left untouched")
}

func TestOutOfOrderCommitKeepsPriceTable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Commit(ctx, f.session())
	require.NoError(t, err)
	require.Equal(t, 1, f.store.savedPrices)
	before := f.store.prices.Clone()

	f.deps.Resolver = pricing.NewResolver(pricing.ResolverOptions{LocalSuffixes: []string{".IS"}},
		[]fetcher.CryptoSource{staticCrypto{"bitcoin": 70000}},
		staticEquity{"THYAO.IS": 300}, zerolog.Nop())
	f.rebuild()
	f.clock = f.clock.Add(-time.Hour)

	_, err = f.svc.Commit(ctx, f.session())
	assert.ErrorIs(t, err, archive.ErrOutOfOrder)
	assert.Equal(t, 1, f.store.savedPrices)
	assert.Equal(t, 1, f.store.savedSnaps)
	btc, ok := f.store.prices.Lookup("bitcoin", history.USD)
	require.True(t, ok)
	want, _ := before.Lookup("bitcoin", history.USD)
	assert.Equal(t, want, btc)
}

func TestValueSurvivesOverflowingHolding(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.reg.Upsert(holdings.Crypto, "bitcoin", 1e308, 0)
	require.NoError(t, err)

	sess := f.session()
	sess.SetOverride("THYAO.IS", math.Inf(1))

	res, err := f.svc.Value(context.Background(), sess)
	require.NoError(t, err)
	var overflowed []string
	for _, row := range res.Report.Rows {
		if row.Overflow {
			overflowed = append(overflowed, row.Holding.Symbol)
		}
	}
	assert.Equal(t, []string{"bitcoin"}, overflowed)
	// THYAO.IS falls back to its live price; bitcoin counts as zero.
	assert.Equal(t, "62000", res.Report.Total.Native.String())
}

func TestHoldingsEditing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	h, err := f.svc.SetHolding(ctx, holdings.Crypto, "bitcoin", 1, 60000)
	require.NoError(t, err)
	assert.Equal(t, 1.0, h.Quantity)
	assert.Equal(t, 50000.0, h.CostBasisUSD)

	require.NoError(t, f.svc.DeleteHolding(ctx, holdings.NewKey(holdings.Equity, "thyao.is")))
	list, err := f.svc.ListHoldings(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	err = f.svc.DeleteHolding(ctx, holdings.NewKey(holdings.Equity, "thyao.is"))
	assert.ErrorIs(t, err, holdings.ErrNotFound)
}

func TestHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.svc.Commit(ctx, f.session())
		require.NoError(t, err)
		f.clock = f.clock.Add(24 * time.Hour)
	}

	recent, err := f.svc.History(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.True(t, recent[0].Timestamp.Before(recent[1].Timestamp))

	all, err := f.svc.History(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRunWithoutScheduler(t *testing.T) {
	f := newFixture(t)
	assert.Error(t, f.svc.Run(context.Background(), f.session()))
}

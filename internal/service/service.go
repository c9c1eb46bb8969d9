package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wealth-dashboard/internal/alerting"
	"wealth-dashboard/internal/archive"
	"wealth-dashboard/internal/history"
	"wealth-dashboard/internal/holdings"
	"wealth-dashboard/internal/pricing"
	"wealth-dashboard/internal/risk"
	"wealth-dashboard/internal/scheduler"
	"wealth-dashboard/internal/storage"
	"wealth-dashboard/internal/valuation"
)

var (
	// ErrLocked reports that another process holds the commit lock.
	ErrLocked = errors.New("service: commit lock held elsewhere")
	// ErrStateUnreadable reports that a commit was refused because holdings
	// or the archive could not be read. Writing would overwrite the stored
	// file or archive a false total.
	ErrStateUnreadable = errors.New("service: stored state unreadable, refusing to commit")
)

// Options tune the service.
type Options struct {
	NativeCode    string
	LockKey       int64
	AlertsEnabled bool
	AlertCooldown time.Duration
}

// Deps are the collaborators of a Service. Locker, Notifier and Scheduler
// may be nil.
type Deps struct {
	Resolver   *pricing.Resolver
	Converter  *pricing.Converter
	Classifier *risk.Classifier
	Holdings   storage.HoldingsStore
	Prices     storage.PriceStore
	Snapshots  storage.SnapshotStore
	Locker     storage.AdvisoryLocker
	Notifier   alerting.Notifier
	Scheduler  *scheduler.Scheduler
}

// Result is the output of one valuation cycle.
type Result struct {
	Report *valuation.Report
	Risk   []risk.Entry
	// Snapshot is the archive entry for this cycle. It has an ID only after
	// Commit stored it.
	Snapshot archive.Snapshot
	// Degraded is set when holdings could not be read and the cycle valued
	// an empty portfolio. Such a cycle is never committed.
	Degraded bool
}

// Service runs valuation cycles against the stores. Every cycle is a
// read-modify-write of the price table and archive, serialised by mu and,
// on the Postgres backend, by an advisory lock. A store that reports
// storage.ErrCorrupt is never written back.
type Service struct {
	deps   Deps
	opts   Options
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	lastAlert time.Time
}

// New constructs the service.
func New(opts Options, deps Deps, logger zerolog.Logger) *Service {
	if opts.NativeCode == "" {
		opts.NativeCode = "TRY"
	}
	return &Service{
		deps:   deps,
		opts:   opts,
		logger: logger.With().Str("component", "service").Logger(),
		now:    time.Now,
	}
}

// Value runs a cycle and persists the refreshed price table, without
// archiving a snapshot.
func (s *Service) Value(ctx context.Context, sess *pricing.Session) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, st, err := s.cycle(ctx, sess)
	if err != nil {
		return nil, err
	}
	if err := s.savePrices(ctx, st); err != nil {
		return nil, err
	}
	return res, nil
}

// Commit runs a cycle, appends its snapshot to the archive, then persists
// the price table and notifies on allocation drift. Nothing is written when
// holdings or the archive are unreadable, or when the snapshot would be out
// of order.
func (s *Service) Commit(ctx context.Context, sess *pricing.Session) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return nil, err
	}
	if !proceed {
		return nil, ErrLocked
	}
	if unlock != nil {
		defer unlock()
	}

	res, st, err := s.cycle(ctx, sess)
	if err != nil {
		return nil, err
	}
	if st.holdingsErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrStateUnreadable, st.holdingsErr)
	}
	if st.archiveErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrStateUnreadable, st.archiveErr)
	}

	snap, err := st.arc.Append(res.Report, res.Report.ValuedAt)
	if err != nil {
		return nil, fmt.Errorf("append snapshot: %w", err)
	}
	if err := s.deps.Snapshots.SaveSnapshot(ctx, st.arc, snap); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}
	res.Snapshot = snap
	if err := s.savePrices(ctx, st); err != nil {
		return nil, err
	}

	s.logger.Info().Str("snapshot", snap.ID.String()).
		Str("total_native", res.Report.Total.Native.StringFixed(2)).
		Str("total_usd", res.Report.Total.USD.StringFixed(2)).
		Msg("snapshot committed")

	s.maybeNotify(ctx, res)
	return res, nil
}

// cycleState is what a cycle loaded and what it would write back.
type cycleState struct {
	arc  *archive.Archive
	next *history.Table

	holdingsErr error
	pricesErr   error
	archiveErr  error
}

// cycle loads state, prices every holding, aggregates and assesses risk.
// It writes nothing; the refreshed price table is returned in the state.
func (s *Service) cycle(ctx context.Context, sess *pricing.Session) (*Result, *cycleState, error) {
	now := s.now()
	res := &Result{}
	st := &cycleState{}

	reg, err := s.deps.Holdings.LoadHoldings(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrCorrupt) {
			return nil, nil, fmt.Errorf("load holdings: %w", err)
		}
		s.logger.Warn().Err(err).Msg("holdings unreadable; valuing an empty portfolio")
		st.holdingsErr = err
		res.Degraded = true
	}
	if reg == nil {
		reg = holdings.NewRegistry()
	}

	prev, err := s.deps.Prices.LoadPrices(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrCorrupt) {
			return nil, nil, fmt.Errorf("load prices: %w", err)
		}
		s.logger.Warn().Err(err).Msg("price history unreadable; continuing without it")
		st.pricesErr = err
	}
	if prev == nil {
		prev = history.NewTable(nil)
	}

	st.arc, err = s.deps.Snapshots.LoadArchive(ctx)
	if err != nil {
		if !errors.Is(err, storage.ErrCorrupt) {
			return nil, nil, fmt.Errorf("load archive: %w", err)
		}
		s.logger.Warn().Err(err).Msg("archive unreadable; snapshots cannot be committed")
		st.archiveErr = err
	}
	if st.arc == nil {
		st.arc = archive.New()
	}

	hs := reg.List()
	rates := s.deps.Converter.Rates(ctx, sess, prev)
	prices := s.deps.Resolver.Resolve(ctx, sess, rates, prev, hs)

	report := valuation.Aggregate(hs, prices, prev, rates, now)
	for _, row := range report.Rows {
		if row.Overflow {
			s.logger.Warn().Str("holding", row.Holding.Key().String()).Msg("price or value not finite; counted as zero")
		}
	}
	if err := report.Reconcile(); err != nil {
		return nil, nil, err
	}
	res.Report = report
	res.Risk = s.deps.Classifier.Assess(report.Rows)
	res.Snapshot = st.arc.Pending(report, now)

	st.next = prev.Clone()
	report.WriteHistory(st.next)

	s.logger.Debug().Int("holdings", len(hs)).
		Float64("usd_rate", report.USDRate()).
		Msg("valuation cycle complete")
	return res, st, nil
}

// savePrices writes the refreshed price table unless the stored one was
// unreadable, in which case the file is left for inspection.
func (s *Service) savePrices(ctx context.Context, st *cycleState) error {
	if st.pricesErr != nil {
		s.logger.Warn().Err(st.pricesErr).Msg("price history left untouched")
		return nil
	}
	if err := s.deps.Prices.SavePrices(ctx, st.next); err != nil {
		return fmt.Errorf("save prices: %w", err)
	}
	return nil
}

func (s *Service) maybeNotify(ctx context.Context, res *Result) {
	if !s.opts.AlertsEnabled || s.deps.Notifier == nil {
		return
	}
	drifted := risk.Drifted(res.Risk)
	if len(drifted) == 0 {
		return
	}
	now := s.now()
	if !s.lastAlert.IsZero() && now.Sub(s.lastAlert) < s.opts.AlertCooldown {
		s.logger.Debug().Time("last_alert", s.lastAlert).Msg("drift alert suppressed by cooldown")
		return
	}

	note := s.DriftNotification(res)
	if err := s.deps.Notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Str("snapshot", note.SnapshotID).Msg("failed to dispatch drift alert")
		return
	}
	s.lastAlert = now
}

// DriftNotification builds the allocation message for a cycle result. It
// lists every bucket outside its band.
func (s *Service) DriftNotification(res *Result) alerting.Notification {
	note := alerting.Notification{
		SnapshotID:      res.Snapshot.ID.String(),
		Timestamp:       res.Snapshot.Timestamp,
		NativeCode:      s.opts.NativeCode,
		TotalNative:     res.Report.Total.Native,
		TotalUSD:        res.Report.Total.USD,
		ChangeNativePct: decimal.NewFromFloat(res.Snapshot.ChangeNativePct),
		ChangeUSDPct:    decimal.NewFromFloat(res.Snapshot.ChangeUSDPct),
	}
	for _, e := range risk.Drifted(res.Risk) {
		note.Drift = append(note.Drift, alerting.Drift{
			Bucket:     e.Bucket.Label(),
			Percentage: decimal.NewFromFloat(e.Percentage),
			Target:     decimal.NewFromFloat(e.Target),
			Deviation:  decimal.NewFromFloat(e.Deviation),
			Status:     string(e.Status),
		})
	}
	if res.Degraded {
		note.AdditionalMsg = "Holdings file was unreadable; totals are incomplete.\n"
	}
	return note
}

// SetHolding sets the quantity of a holding, blending unitCostUSD into its
// cost basis through the ledger, and persists the registry. Edits are
// refused while the holdings file is unreadable so it is not overwritten.
func (s *Service) SetHolding(ctx context.Context, category holdings.Category, symbol string, quantity, unitCostUSD float64) (holdings.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.deps.Holdings.LoadHoldings(ctx)
	if err != nil {
		return holdings.Holding{}, fmt.Errorf("load holdings: %w", err)
	}
	h, err := reg.Upsert(category, symbol, quantity, unitCostUSD)
	if err != nil {
		return holdings.Holding{}, err
	}
	if err := s.deps.Holdings.SaveHoldings(ctx, reg); err != nil {
		return holdings.Holding{}, fmt.Errorf("save holdings: %w", err)
	}
	s.logger.Info().Str("holding", h.Key().String()).
		Float64("quantity", h.Quantity).
		Float64("cost_basis_usd", h.CostBasisUSD).
		Msg("holding updated")
	return h, nil
}

// DeleteHolding removes a holding and persists the registry.
func (s *Service) DeleteHolding(ctx context.Context, key holdings.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.deps.Holdings.LoadHoldings(ctx)
	if err != nil {
		return fmt.Errorf("load holdings: %w", err)
	}
	if err := reg.Delete(key); err != nil {
		return err
	}
	if err := s.deps.Holdings.SaveHoldings(ctx, reg); err != nil {
		return fmt.Errorf("save holdings: %w", err)
	}
	s.logger.Info().Str("holding", key.String()).Msg("holding deleted")
	return nil
}

// ListHoldings returns the registry in valuation order.
func (s *Service) ListHoldings(ctx context.Context) ([]holdings.Holding, error) {
	reg, err := s.deps.Holdings.LoadHoldings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load holdings: %w", err)
	}
	return reg.List(), nil
}

// History returns the latest n archived snapshots, oldest first. A
// non-positive n returns all of them.
func (s *Service) History(ctx context.Context, n int) ([]archive.Snapshot, error) {
	arc, err := s.deps.Snapshots.LoadArchive(ctx)
	if err != nil && !errors.Is(err, storage.ErrCorrupt) {
		return nil, fmt.Errorf("load archive: %w", err)
	}
	if arc == nil {
		return nil, nil
	}
	if n <= 0 {
		return arc.All(), nil
	}
	return arc.Recent(n), nil
}

// Run commits a snapshot at every scheduled tick until ctx is cancelled.
func (s *Service) Run(ctx context.Context, sess *pricing.Session) error {
	if s.deps.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.deps.Scheduler.Run(ctx, func(ctx context.Context, at time.Time) error {
		res, err := s.Commit(ctx, sess)
		if errors.Is(err, ErrLocked) {
			s.logger.Debug().Time("tick", at).Msg("skip tick because advisory lock held elsewhere")
			return nil
		}
		if errors.Is(err, ErrStateUnreadable) {
			s.logger.Error().Err(err).Time("tick", at).Msg("skip tick until stored state is repaired")
			return nil
		}
		if err != nil {
			return err
		}
		s.logger.Info().Time("tick", at).Str("snapshot", res.Snapshot.ID.String()).Msg("day close recorded")
		return nil
	})
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.deps.Locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.deps.Locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

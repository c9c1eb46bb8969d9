package storage

import (
	"context"
	"errors"

	"wealth-dashboard/internal/archive"
	"wealth-dashboard/internal/history"
	"wealth-dashboard/internal/holdings"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrCorrupt indicates a persisted document could not be parsed at all.
	// Loaders still return a usable empty value alongside it.
	ErrCorrupt = errors.New("storage: corrupt document")
)

// HoldingsStore persists the holdings registry.
type HoldingsStore interface {
	LoadHoldings(ctx context.Context) (*holdings.Registry, error)
	SaveHoldings(ctx context.Context, r *holdings.Registry) error
}

// PriceStore persists the historical price table.
type PriceStore interface {
	LoadPrices(ctx context.Context) (*history.Table, error)
	SavePrices(ctx context.Context, t *history.Table) error
}

// SnapshotStore persists the snapshot archive. SaveSnapshot is called after
// s has been appended to a.
type SnapshotStore interface {
	LoadArchive(ctx context.Context) (*archive.Archive, error)
	SaveSnapshot(ctx context.Context, a *archive.Archive, s archive.Snapshot) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Uploader mirrors a written file to a remote backup.
type Uploader interface {
	Upload(ctx context.Context, name string, content []byte) error
}

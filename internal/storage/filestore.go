package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"wealth-dashboard/internal/archive"
	"wealth-dashboard/internal/history"
	"wealth-dashboard/internal/holdings"
)

// FileOptions locate the JSON documents.
type FileOptions struct {
	Dir          string
	HoldingsFile string
	PricesFile   string
	ArchiveFile  string
	// Location is the zone of legacy archive timestamps.
	Location *time.Location
	// BackupTimeout bounds each remote upload.
	BackupTimeout time.Duration
}

// FileStore keeps holdings, prices and the archive as JSON files in one
// directory. Every write is atomic and is mirrored to the optional backup.
type FileStore struct {
	opts   FileOptions
	backup Uploader
	logger zerolog.Logger
}

var (
	_ HoldingsStore = (*FileStore)(nil)
	_ PriceStore    = (*FileStore)(nil)
	_ SnapshotStore = (*FileStore)(nil)
)

// NewFileStore constructs a file store. backup may be nil.
func NewFileStore(opts FileOptions, backup Uploader, logger zerolog.Logger) *FileStore {
	if opts.Dir == "" {
		opts.Dir = "."
	}
	if opts.HoldingsFile == "" {
		opts.HoldingsFile = "holdings.json"
	}
	if opts.PricesFile == "" {
		opts.PricesFile = "price_history.json"
	}
	if opts.ArchiveFile == "" {
		opts.ArchiveFile = "archive.json"
	}
	if opts.BackupTimeout <= 0 {
		opts.BackupTimeout = 20 * time.Second
	}
	return &FileStore{opts: opts, backup: backup, logger: logger.With().Str("component", "file_store").Logger()}
}

// LoadHoldings reads the registry. A missing file yields an empty registry.
// An unparseable file yields an empty registry and an error wrapping
// ErrCorrupt; legacy or partly invalid files are rewritten once.
func (f *FileStore) LoadHoldings(ctx context.Context) (*holdings.Registry, error) {
	data, err := f.read(f.opts.HoldingsFile)
	if err != nil {
		return holdings.NewRegistry(), err
	}
	res, err := holdings.Decode(data)
	if err != nil {
		f.logger.Warn().Err(err).Str("file", f.opts.HoldingsFile).Msg("holdings file unreadable, starting empty")
		return holdings.NewRegistry(), fmt.Errorf("%w: %s: %v", ErrCorrupt, f.opts.HoldingsFile, err)
	}
	for _, d := range res.Dropped {
		f.logger.Warn().Str("entry", d).Msg("dropped malformed or duplicate holding")
	}
	if res.Migrated || len(res.Dropped) > 0 {
		f.logger.Info().Str("file", f.opts.HoldingsFile).Msg("rewriting holdings in current format")
		if err := f.SaveHoldings(ctx, res.Registry); err != nil {
			return res.Registry, err
		}
	}
	return res.Registry, nil
}

// SaveHoldings writes the registry.
func (f *FileStore) SaveHoldings(ctx context.Context, r *holdings.Registry) error {
	data, err := holdings.Encode(r)
	if err != nil {
		return err
	}
	return f.write(ctx, f.opts.HoldingsFile, data)
}

// LoadPrices reads the historical price table. An unparseable file is
// treated as empty and reported with ErrCorrupt.
func (f *FileStore) LoadPrices(ctx context.Context) (*history.Table, error) {
	data, err := f.read(f.opts.PricesFile)
	if err != nil {
		return history.NewTable(nil), err
	}
	table, dropped, err := history.Decode(data)
	if err != nil {
		f.logger.Warn().Err(err).Str("file", f.opts.PricesFile).Msg("price history unreadable, starting empty")
		return history.NewTable(nil), fmt.Errorf("%w: %s: %v", ErrCorrupt, f.opts.PricesFile, err)
	}
	if dropped > 0 {
		f.logger.Warn().Int("dropped", dropped).Msg("dropped malformed price entries")
	}
	return table, nil
}

// SavePrices writes the price table.
func (f *FileStore) SavePrices(ctx context.Context, t *history.Table) error {
	data, err := history.Encode(t)
	if err != nil {
		return err
	}
	return f.write(ctx, f.opts.PricesFile, data)
}

// LoadArchive reads the snapshot archive, dropping malformed records and
// rewriting legacy files once in the current format.
func (f *FileStore) LoadArchive(ctx context.Context) (*archive.Archive, error) {
	data, err := f.read(f.opts.ArchiveFile)
	if err != nil {
		return archive.New(), err
	}
	res, err := archive.Decode(data, f.opts.Location)
	if err != nil {
		f.logger.Warn().Err(err).Str("file", f.opts.ArchiveFile).Msg("archive unreadable, starting empty")
		return archive.New(), fmt.Errorf("%w: %s: %v", ErrCorrupt, f.opts.ArchiveFile, err)
	}
	if res.Dropped > 0 {
		f.logger.Warn().Int("dropped", res.Dropped).Msg("dropped malformed snapshots")
	}
	if res.Migrated {
		f.logger.Info().Str("file", f.opts.ArchiveFile).Msg("rewriting archive in current format")
		if err := f.writeArchive(ctx, res.Archive); err != nil {
			return res.Archive, err
		}
	}
	return res.Archive, nil
}

// SaveSnapshot rewrites the whole archive file.
func (f *FileStore) SaveSnapshot(ctx context.Context, a *archive.Archive, _ archive.Snapshot) error {
	return f.writeArchive(ctx, a)
}

func (f *FileStore) writeArchive(ctx context.Context, a *archive.Archive) error {
	data, err := archive.Encode(a)
	if err != nil {
		return err
	}
	return f.write(ctx, f.opts.ArchiveFile, data)
}

func (f *FileStore) path(name string) string {
	return filepath.Join(f.opts.Dir, name)
}

// read returns nil data for a missing file.
func (f *FileStore) read(name string) ([]byte, error) {
	data, err := os.ReadFile(f.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// write replaces name atomically, then mirrors it to the backup. Backup
// failures are logged and never returned.
func (f *FileStore) write(ctx context.Context, name string, data []byte) error {
	if err := os.MkdirAll(f.opts.Dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp, err := os.CreateTemp(f.opts.Dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, f.path(name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", name, err)
	}

	if f.backup != nil {
		uploadCtx, cancel := context.WithTimeout(ctx, f.opts.BackupTimeout)
		defer cancel()
		if err := f.backup.Upload(uploadCtx, name, data); err != nil {
			f.logger.Warn().Err(err).Str("file", name).Msg("remote backup failed; local copy is authoritative")
		}
	}
	return nil
}

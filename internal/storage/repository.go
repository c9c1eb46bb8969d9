package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"wealth-dashboard/internal/archive"
	"wealth-dashboard/internal/history"
	"wealth-dashboard/internal/holdings"
)

const (
	createSchemaSQL = `CREATE TABLE IF NOT EXISTS price_history (
        price_key  TEXT PRIMARY KEY,
        price      NUMERIC NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE TABLE IF NOT EXISTS snapshots (
        id                UUID PRIMARY KEY,
        taken_at          TIMESTAMPTZ NOT NULL,
        categories        JSONB NOT NULL,
        total_native      NUMERIC NOT NULL,
        total_usd         NUMERIC NOT NULL,
        change_native_pct NUMERIC NOT NULL,
        change_usd_pct    NUMERIC NOT NULL,
        created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
    );
    CREATE INDEX IF NOT EXISTS snapshots_taken_at_idx ON snapshots (taken_at);`

	listPricesSQL = `SELECT price_key, price::text FROM price_history;`

	upsertPriceSQL = `INSERT INTO price_history (price_key, price, updated_at)
    VALUES ($1, $2, now())
    ON CONFLICT (price_key) DO UPDATE
    SET price      = EXCLUDED.price,
        updated_at = EXCLUDED.updated_at;`

	listSnapshotsSQL = `SELECT
        id,
        taken_at,
        categories,
        total_native::text,
        total_usd::text,
        change_native_pct::text,
        change_usd_pct::text
    FROM snapshots
    ORDER BY taken_at, created_at;`

	insertSnapshotSQL = `INSERT INTO snapshots (
        id,
        taken_at,
        categories,
        total_native,
        total_usd,
        change_native_pct,
        change_usd_pct
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (id) DO NOTHING;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// Store keeps the price table and the snapshot archive in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

var (
	_ PriceStore     = (*Store)(nil)
	_ SnapshotStore  = (*Store)(nil)
	_ AdvisoryLocker = (*Store)(nil)
)

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool, logger zerolog.Logger) *Store {
	return &Store{pool: pool, logger: logger.With().Str("component", "pg_store").Logger()}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the tables when they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, createSchemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			s.logger.Warn().Err(err).Int64("key", key).Msg("advisory unlock failed")
		}
		conn.Release()
	}
	return unlock, true, nil
}

// LoadPrices reads the whole price table. Rows whose value cannot be read
// as a finite number are skipped.
func (s *Store) LoadPrices(ctx context.Context) (*history.Table, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listPricesSQL)
	if err != nil {
		return nil, fmt.Errorf("list prices: %w", err)
	}
	defer rows.Close()

	prices := make(map[string]float64)
	for rows.Next() {
		var key, priceStr string
		if err := rows.Scan(&key, &priceStr); err != nil {
			return nil, fmt.Errorf("scan price: %w", err)
		}
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			s.logger.Warn().Str("key", key).Str("value", priceStr).Msg("dropping unreadable price")
			continue
		}
		prices[key] = price.InexactFloat64()
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return history.NewTable(prices), nil
}

// SavePrices upserts every entry of t in one transaction.
func (s *Store) SavePrices(ctx context.Context, t *history.Table) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin save prices: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	values := t.Map()
	for _, key := range t.Keys() {
		batch.Queue(upsertPriceSQL, key, decimal.NewFromFloat(values[key]).String())
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert prices: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit prices: %w", err)
	}
	return nil
}

// LoadArchive reads every snapshot in chronological order. Rows carrying a
// non-numeric value are dropped.
func (s *Store) LoadArchive(ctx context.Context) (*archive.Archive, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listSnapshotsSQL)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	snapshots := make([]archive.Snapshot, 0)
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			s.logger.Warn().Err(err).Msg("dropping malformed snapshot row")
			continue
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return archive.New(snapshots...), nil
}

// SaveSnapshot inserts snap. The archive argument is not needed here since
// rows are append-only.
func (s *Store) SaveSnapshot(ctx context.Context, _ *archive.Archive, snap archive.Snapshot) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	row, err := snapshotRow(snap)
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, insertSnapshotSQL, row...); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func snapshotRow(snap archive.Snapshot) ([]any, error) {
	categories, err := json.Marshal(snap.Categories)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot categories: %w", err)
	}
	return []any{
		snap.ID,
		snap.Timestamp,
		categories,
		decimal.NewFromFloat(snap.Total.Native).String(),
		decimal.NewFromFloat(snap.Total.USD).String(),
		decimal.NewFromFloat(snap.ChangeNativePct).String(),
		decimal.NewFromFloat(snap.ChangeUSDPct).String(),
	}, nil
}

func scanSnapshot(rows pgx.Rows) (archive.Snapshot, error) {
	var (
		id         uuid.UUID
		takenAt    time.Time
		categories []byte
		nativeStr  string
		usdStr     string
		chgNative  string
		chgUSD     string
	)
	if err := rows.Scan(&id, &takenAt, &categories, &nativeStr, &usdStr, &chgNative, &chgUSD); err != nil {
		return archive.Snapshot{}, err
	}
	return parseSnapshot(id, takenAt, categories, nativeStr, usdStr, chgNative, chgUSD)
}

func parseSnapshot(id uuid.UUID, takenAt time.Time, categories []byte, numbers ...string) (archive.Snapshot, error) {
	values := make([]float64, len(numbers))
	for i, n := range numbers {
		d, err := decimal.NewFromString(n)
		if err != nil {
			return archive.Snapshot{}, fmt.Errorf("snapshot %s: parse %q: %w", id, n, err)
		}
		values[i] = d.InexactFloat64()
	}

	cats := map[holdings.Category]archive.Totals{}
	if len(categories) > 0 {
		if err := json.Unmarshal(categories, &cats); err != nil {
			return archive.Snapshot{}, fmt.Errorf("snapshot %s: categories: %w", id, err)
		}
	}
	return archive.Snapshot{
		ID:              id,
		Timestamp:       takenAt,
		Categories:      cats,
		Total:           archive.Totals{Native: values[0], USD: values[1]},
		ChangeNativePct: values[2],
		ChangeUSDPct:    values[3],
	}, nil
}

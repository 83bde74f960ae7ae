package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"feeScope/internal/model"
)

// Store provides Postgres persistence for fee snapshots.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("pg dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// UpsertPools inserts or updates pool registry rows.
func (s *Store) UpsertPools(ctx context.Context, pools []model.PoolRecord) error {
	if len(pools) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, pool := range pools {
		batch.Queue(`
			INSERT INTO pools (
				pool_id, initial_tick, enabled_at_ts, created_at, updated_at
			) VALUES ($1, $2, $3, now(), now())
			ON CONFLICT (pool_id)
			DO UPDATE SET
				initial_tick = EXCLUDED.initial_tick,
				enabled_at_ts = LEAST(pools.enabled_at_ts, EXCLUDED.enabled_at_ts),
				updated_at = now()
		`,
			pool.Pool,
			pool.InitialTick,
			int64(pool.EnabledAt),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range pools {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// UpsertSnapshots inserts or updates fee snapshots keyed by pool and
// timestamp, so replaying the same events is idempotent.
func (s *Store) UpsertSnapshots(ctx context.Context, snapshots []model.FeeSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, snap := range snapshots {
		batch.Queue(`
			INSERT INTO fee_snapshots (
				pool_id, ts, tick, clamped, cap, base_fee, surge_fee, total_fee, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,now(),now())
			ON CONFLICT (pool_id, ts)
			DO UPDATE SET
				tick = EXCLUDED.tick,
				clamped = EXCLUDED.clamped,
				cap = EXCLUDED.cap,
				base_fee = EXCLUDED.base_fee,
				surge_fee = EXCLUDED.surge_fee,
				total_fee = EXCLUDED.total_fee,
				updated_at = now()
		`,
			snap.Pool,
			int64(snap.Timestamp),
			snap.Tick,
			snap.Clamped,
			int64(snap.Cap),
			int64(snap.BaseFee),
			int64(snap.SurgeFee),
			int64(snap.TotalFee),
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range snapshots {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// LoadState returns last_processed_ts for a name.
func (s *Store) LoadState(ctx context.Context, name string) (uint64, bool, error) {
	if name == "" {
		return 0, false, fmt.Errorf("state name required")
	}
	var ts uint64
	row := s.pool.QueryRow(ctx, `SELECT last_processed_ts FROM replay_state WHERE name=$1`, name)
	if err := row.Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return ts, true, nil
}

// SaveState upserts last_processed_ts for a name.
func (s *Store) SaveState(ctx context.Context, name string, ts uint64) error {
	if name == "" {
		return fmt.Errorf("state name required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO replay_state (name, last_processed_ts, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE
		SET last_processed_ts = EXCLUDED.last_processed_ts, updated_at = now()
	`, name, ts)
	return err
}

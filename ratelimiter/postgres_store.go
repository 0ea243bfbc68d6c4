package ratelimiter

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	pgdb "github.com/fencepost/ratelimit/integration/database/pg"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// pgQuerier is the subset of pgx operations the store needs. Both
// *pgxpool.Pool and pgx.Tx satisfy it, so the store participates in an
// ambient transaction when one is carried in the context.
type pgQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore implements Store on a PostgreSQL table with row-level
// optimistic concurrency via a version column.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgreSQL-backed store using an established
// connection pool. Run Migrate once at startup to create the table.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: pgx pool is required", ErrInvalidConfig)
	}
	return &PostgresStore{pool: pool}, nil
}

// Migrate applies the embedded schema migration that creates the bucket
// table. Safe to run on every startup.
func (ps *PostgresStore) Migrate(ctx context.Context) error {
	return pgdb.Migrate(ctx, ps.pool, migrationsFS, "migrations", nil)
}

func (ps *PostgresStore) querier(ctx context.Context) pgQuerier {
	if tx, ok := pgdb.TxFromContext(ctx); ok {
		return tx
	}
	return ps.pool
}

// GetByOwner returns the owner's record or ErrRecordNotFound.
func (ps *PostgresStore) GetByOwner(ctx context.Context, ownerID string) (Record, error) {
	const q = `SELECT tokens, capacity, last_refill, version FROM rate_limit_buckets WHERE owner_id = $1`

	rec := Record{OwnerID: ownerID}
	err := ps.querier(ctx).QueryRow(ctx, q, ownerID).
		Scan(&rec.Tokens, &rec.Capacity, &rec.LastRefill, &rec.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, fmt.Errorf("postgres get: %w", err)
	}

	return rec, nil
}

// Insert persists a new record; ON CONFLICT DO NOTHING turns a concurrent
// first-request race into ErrRecordConflict instead of a driver error.
func (ps *PostgresStore) Insert(ctx context.Context, rec Record) (Record, error) {
	const q = `INSERT INTO rate_limit_buckets (owner_id, tokens, capacity, last_refill, version)
		VALUES ($1, $2, $3, $4, 1)
		ON CONFLICT (owner_id) DO NOTHING`

	tag, err := ps.querier(ctx).Exec(ctx, q, rec.OwnerID, rec.Tokens, rec.Capacity, rec.LastRefill)
	if err != nil {
		return Record{}, fmt.Errorf("postgres insert: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return Record{}, ErrRecordConflict
	}

	rec.Version = 1
	return rec, nil
}

// Update overwrites the mutable fields only when the stored version still
// matches the caller's read (compare-and-swap on the version column).
func (ps *PostgresStore) Update(ctx context.Context, ownerID string, tokens int, lastRefill time.Time, expectedVersion int64) error {
	const q = `UPDATE rate_limit_buckets
		SET tokens = $2, last_refill = $3, version = version + 1
		WHERE owner_id = $1 AND version = $4`

	tag, err := ps.querier(ctx).Exec(ctx, q, ownerID, tokens, lastRefill, expectedVersion)
	if err != nil {
		return fmt.Errorf("postgres update: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Zero rows means either a concurrent modification or a missing
	// record; disambiguate so the caller can re-run get-or-create.
	const exists = `SELECT 1 FROM rate_limit_buckets WHERE owner_id = $1`
	var one int
	if err := ps.querier(ctx).QueryRow(ctx, exists, ownerID).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRecordNotFound
		}
		return fmt.Errorf("postgres update existence check: %w", err)
	}

	return ErrRecordConflict
}

// UpsertFull creates or overwrites the owner's record at full capacity,
// bumping the version so concurrent conditional updates lose to the reset.
func (ps *PostgresStore) UpsertFull(ctx context.Context, ownerID string, capacity int, now time.Time) (Record, error) {
	const q = `INSERT INTO rate_limit_buckets (owner_id, tokens, capacity, last_refill, version)
		VALUES ($1, $2, $2, $3, 1)
		ON CONFLICT (owner_id) DO UPDATE
		SET tokens = EXCLUDED.tokens, capacity = EXCLUDED.capacity,
			last_refill = EXCLUDED.last_refill, version = rate_limit_buckets.version + 1
		RETURNING version`

	rec := Record{OwnerID: ownerID, Tokens: capacity, Capacity: capacity, LastRefill: now}
	if err := ps.querier(ctx).QueryRow(ctx, q, ownerID, capacity, now).Scan(&rec.Version); err != nil {
		return Record{}, fmt.Errorf("postgres upsert: %w", err)
	}

	return rec, nil
}

// Healthcheck verifies database connectivity with a lightweight ping.
func (ps *PostgresStore) Healthcheck(ctx context.Context) error {
	if err := ps.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres healthcheck: %w", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)

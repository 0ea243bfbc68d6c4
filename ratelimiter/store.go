package ratelimiter

import (
	"context"
	"time"
)

// Record is the persisted state of a single owner's token bucket.
// Exactly one record exists per owner. Version supports optimistic
// concurrency: every successful write increments it, and conditional
// updates fail with ErrRecordConflict when the stored version differs
// from the one the caller read.
type Record struct {
	OwnerID    string
	Tokens     int
	Capacity   int
	LastRefill time.Time
	Version    int64
}

// Store is the minimal persistence contract the bucket algorithm needs.
// Implementations must enforce owner uniqueness on Insert and honor the
// version check on Update so concurrent writers never silently clobber
// each other's state.
type Store interface {
	// GetByOwner returns the record for the owner or ErrRecordNotFound.
	GetByOwner(ctx context.Context, ownerID string) (Record, error)

	// Insert persists a brand-new record and returns it with its initial
	// version. Returns ErrRecordConflict if a record for the owner already
	// exists (a concurrent first-request won the create race).
	Insert(ctx context.Context, rec Record) (Record, error)

	// Update overwrites the mutable fields of an existing record, but only
	// if the stored version still equals expectedVersion. Returns
	// ErrRecordNotFound if the record disappeared and ErrRecordConflict if
	// it was modified concurrently; the caller retries from a fresh read.
	Update(ctx context.Context, ownerID string, tokens int, lastRefill time.Time, expectedVersion int64) error

	// UpsertFull creates or overwrites the owner's record at full capacity
	// with the refill watermark set to now. Used for administrative resets;
	// always succeeds regardless of prior state.
	UpsertFull(ctx context.Context, ownerID string, capacity int, now time.Time) (Record, error)
}

// getOrCreate resolves the classic double-create race without a
// distributed lock: read, insert on miss, and on insert conflict re-read
// the record the concurrent winner created.
func getOrCreate(ctx context.Context, store Store, ownerID string, cfg Config, now time.Time) (Record, error) {
	rec, err := store.GetByOwner(ctx, ownerID)
	if err == nil {
		return rec, nil
	}
	if !isNotFound(err) {
		return Record{}, err
	}

	rec, err = store.Insert(ctx, Record{
		OwnerID:    ownerID,
		Tokens:     cfg.Capacity,
		Capacity:   cfg.Capacity,
		LastRefill: now,
	})
	if err == nil {
		return rec, nil
	}
	if !isConflict(err) {
		return Record{}, err
	}

	// Another concurrent first-request created the record between our
	// read and insert; proceed with theirs.
	return store.GetByOwner(ctx, ownerID)
}

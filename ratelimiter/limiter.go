package ratelimiter

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/fencepost/ratelimit/pkg/logger"
)

// RateLimiter defines the contract for rate limiting checks.
type RateLimiter interface {
	// Allow consumes 1 token for the owner.
	Allow(ctx context.Context, ownerID string) (*Result, error)
	// AllowN consumes n tokens for the owner.
	AllowN(ctx context.Context, ownerID string, n int) (*Result, error)
}

// FailurePolicy decides the outcome of a check when the store is
// unreachable. The protected resource is typically costly, so FailClosed
// is the default; the choice is explicit configuration, never implicit.
type FailurePolicy int

const (
	// FailClosed denies requests while the store is unavailable.
	FailClosed FailurePolicy = iota
	// FailOpen allows requests while the store is unavailable.
	FailOpen
)

// Bucket orchestrates the store and the pure bucket algorithm. It holds
// no mutable state of its own; all shared state lives in the Store, so any
// number of stateless instances can share one global quota per owner.
type Bucket struct {
	store      Store
	config     Config
	clock      func() time.Time
	logger     *slog.Logger
	policy     FailurePolicy
	maxRetries int
	metrics    Recorder
}

// Option configures a Bucket.
type Option func(*Bucket)

// WithClock sets the time source. Intended for tests; defaults to time.Now.
func WithClock(clock func() time.Time) Option {
	return func(b *Bucket) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// WithLogger sets the logger for store failures and degraded decisions.
func WithLogger(log *slog.Logger) Option {
	return func(b *Bucket) {
		if log != nil {
			b.logger = log
		}
	}
}

// WithFailurePolicy sets the behavior when the store is unreachable.
func WithFailurePolicy(policy FailurePolicy) Option {
	return func(b *Bucket) {
		b.policy = policy
	}
}

// WithMaxRetries caps the number of re-read-and-recompute attempts after a
// conditional write loses to a concurrent update. Defaults to 3.
func WithMaxRetries(n int) Option {
	return func(b *Bucket) {
		if n > 0 {
			b.maxRetries = n
		}
	}
}

// WithMetrics sets the observation recorder.
func WithMetrics(rec Recorder) Option {
	return func(b *Bucket) {
		if rec != nil {
			b.metrics = rec
		}
	}
}

// NewBucket creates a rate limiter backed by the given store.
func NewBucket(store Store, cfg Config, opts ...Option) (*Bucket, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &Bucket{
		store:      store,
		config:     cfg,
		clock:      time.Now,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		policy:     FailClosed,
		maxRetries: 3,
		metrics:    NoopRecorder{},
	}

	for _, opt := range opts {
		opt(b)
	}

	return b, nil
}

// Allow consumes 1 token for the owner.
func (b *Bucket) Allow(ctx context.Context, ownerID string) (*Result, error) {
	return b.AllowN(ctx, ownerID, 1)
}

// AllowN attempts to consume n tokens for the owner. A denial is a normal
// Result, not an error. Invalid input is rejected before any store access.
//
// The check is a read-modify-write cycle: get-or-create the record, apply
// the refill, then persist with a version-conditional write. When the
// write loses to a concurrent update the whole cycle is retried from a
// fresh read, up to the configured cap. The refilled state is written back
// even on denial so later checks start from a current watermark.
func (b *Bucket) AllowN(ctx context.Context, ownerID string, n int) (*Result, error) {
	if ownerID == "" {
		return nil, ErrEmptyOwnerID
	}
	if n < 1 {
		return nil, fmt.Errorf("%w: must be >= 1, got %d", ErrInvalidTokenCount, n)
	}

	start := time.Now()
	defer func() {
		b.metrics.RecordLatency("allow", time.Since(start))
	}()

	for attempt := 0; attempt <= b.maxRetries; attempt++ {
		now := b.clock()

		rec, err := getOrCreate(ctx, b.store, ownerID, b.config, now)
		if err != nil {
			return b.degradedResult(ctx, ownerID, "get_or_create", err)
		}

		refilled := refill(rec, b.config, now)

		if refilled.Tokens >= n {
			err := b.store.Update(ctx, ownerID, refilled.Tokens-n, refilled.LastRefill, rec.Version)
			switch {
			case err == nil:
				b.metrics.RecordAllowed(ownerID)
				return &Result{
					Limit:     b.config.Capacity,
					Remaining: refilled.Tokens - n,
					ResetAt:   resetAt(refilled, b.config),
					allowed:   true,
				}, nil
			case isConflict(err) || isNotFound(err):
				// Lost the race to a concurrent check or reset; retry
				// from a fresh read.
				continue
			default:
				return b.degradedResult(ctx, ownerID, "update", err)
			}
		}

		// Denied. Persist the refilled-but-not-decremented state so the
		// next check does not recompute refill from a stale watermark.
		if refilled != rec {
			err := b.store.Update(ctx, ownerID, refilled.Tokens, refilled.LastRefill, rec.Version)
			switch {
			case err == nil:
			case isConflict(err) || isNotFound(err):
				continue
			default:
				return b.degradedResult(ctx, ownerID, "update", err)
			}
		}

		b.metrics.RecordDenied(ownerID)
		return &Result{
			Limit:      b.config.Capacity,
			Remaining:  refilled.Tokens,
			ResetAt:    resetAt(refilled, b.config),
			allowed:    false,
			retryAfter: retryAfter(n-refilled.Tokens, b.config),
		}, nil
	}

	// Persistent write contention is treated like an unavailable store:
	// bounded retries with a hard cap, then the configured policy decides.
	err := fmt.Errorf("%w: conditional update retries exhausted", ErrStoreUnavailable)
	return b.degradedResult(ctx, ownerID, "update", err)
}

// Status reports the owner's current bucket state without consuming
// tokens. The refill is still computed, and the refreshed watermark is
// persisted best-effort so it stays current; a missing record is reported
// at full capacity without creating it.
func (b *Bucket) Status(ctx context.Context, ownerID string) (*Result, error) {
	if ownerID == "" {
		return nil, ErrEmptyOwnerID
	}

	now := b.clock()

	rec, err := b.store.GetByOwner(ctx, ownerID)
	if err != nil {
		if isNotFound(err) {
			full := Record{Tokens: b.config.Capacity, Capacity: b.config.Capacity, LastRefill: now}
			return &Result{
				Limit:     b.config.Capacity,
				Remaining: full.Tokens,
				ResetAt:   resetAt(full, b.config),
				allowed:   true,
			}, nil
		}
		return b.degradedResult(ctx, ownerID, "get", err)
	}

	refilled := refill(rec, b.config, now)
	if refilled != rec {
		if err := b.store.Update(ctx, ownerID, refilled.Tokens, refilled.LastRefill, rec.Version); err != nil {
			// A concurrent check already refreshed the record; the probe
			// result is still valid.
			b.logger.DebugContext(ctx, "status write-back skipped",
				logger.OwnerID(ownerID), logger.Error(err))
		}
	}

	res := &Result{
		Limit:     b.config.Capacity,
		Remaining: refilled.Tokens,
		ResetAt:   resetAt(refilled, b.config),
		allowed:   refilled.Tokens >= 1,
	}
	if !res.allowed {
		res.retryAfter = retryAfter(1-refilled.Tokens, b.config)
	}
	return res, nil
}

// Reset restores the owner's bucket to full capacity immediately,
// independent of elapsed time. Administrative override.
func (b *Bucket) Reset(ctx context.Context, ownerID string) error {
	if ownerID == "" {
		return ErrEmptyOwnerID
	}

	if _, err := b.store.UpsertFull(ctx, ownerID, b.config.Capacity, b.clock()); err != nil {
		b.metrics.RecordStoreError("upsert_full")
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// degradedResult converts a store failure into a decision according to the
// configured failure policy. Store failures never surface as errors from a
// check; they are logged, counted, and resolved to allow or deny.
func (b *Bucket) degradedResult(ctx context.Context, ownerID, op string, err error) (*Result, error) {
	b.metrics.RecordStoreError(op)

	now := b.clock()

	if b.policy == FailOpen {
		b.logger.WarnContext(ctx, "rate limit store unavailable, failing open",
			logger.OwnerID(ownerID), slog.String("op", op), logger.Error(err))
		b.metrics.RecordAllowed(ownerID)
		return &Result{
			Limit:     b.config.Capacity,
			Remaining: b.config.Capacity,
			ResetAt:   now.Add(b.config.RefillInterval),
			allowed:   true,
		}, nil
	}

	b.logger.ErrorContext(ctx, "rate limit store unavailable, failing closed",
		logger.OwnerID(ownerID), slog.String("op", op), logger.Error(err))
	b.metrics.RecordDenied(ownerID)
	return &Result{
		Limit:      b.config.Capacity,
		Remaining:  0,
		ResetAt:    now.Add(b.config.RefillInterval),
		allowed:    false,
		retryAfter: b.config.RefillInterval,
	}, nil
}

// Ensure Bucket satisfies the public contract.
var _ RateLimiter = (*Bucket)(nil)

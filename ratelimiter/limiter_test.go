package ratelimiter_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fencepost/ratelimit/ratelimiter"
)

// fakeClock is a manually advanced time source for deterministic refill
// and retry-after scenarios.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBucket(t *testing.T, cfg ratelimiter.Config) (*ratelimiter.Bucket, *fakeClock) {
	t.Helper()

	clock := newFakeClock()
	limiter, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), cfg, ratelimiter.WithClock(clock.Now))
	require.NoError(t, err)

	return limiter, clock
}

func TestNewBucket_Validation(t *testing.T) {
	t.Parallel()

	t.Run("rejects nil store", func(t *testing.T) {
		_, err := ratelimiter.NewBucket(nil, ratelimiter.DefaultConfig())
		assert.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)
	})

	t.Run("rejects non-positive capacity", func(t *testing.T) {
		cfg := ratelimiter.DefaultConfig()
		cfg.Capacity = 0
		_, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), cfg)
		assert.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)
	})

	t.Run("rejects non-positive refill interval", func(t *testing.T) {
		cfg := ratelimiter.DefaultConfig()
		cfg.RefillInterval = 0
		_, err := ratelimiter.NewBucket(ratelimiter.NewMemoryStore(), cfg)
		assert.ErrorIs(t, err, ratelimiter.ErrInvalidConfig)
	})
}

func TestBucket_InvalidInput(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter, _ := newTestBucket(t, ratelimiter.DefaultConfig())

	t.Run("empty owner id", func(t *testing.T) {
		_, err := limiter.Allow(ctx, "")
		assert.ErrorIs(t, err, ratelimiter.ErrEmptyOwnerID)

		_, err = limiter.Status(ctx, "")
		assert.ErrorIs(t, err, ratelimiter.ErrEmptyOwnerID)

		assert.ErrorIs(t, limiter.Reset(ctx, ""), ratelimiter.ErrEmptyOwnerID)
	})

	t.Run("non-positive cost", func(t *testing.T) {
		_, err := limiter.AllowN(ctx, "user:1", 0)
		assert.ErrorIs(t, err, ratelimiter.ErrInvalidTokenCount)

		_, err = limiter.AllowN(ctx, "user:1", -3)
		assert.ErrorIs(t, err, ratelimiter.ErrInvalidTokenCount)
	})
}

func TestBucket_ColdStart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter, _ := newTestBucket(t, ratelimiter.DefaultConfig())

	result, err := limiter.Allow(ctx, "user:new")
	require.NoError(t, err)

	assert.True(t, result.Allowed())
	assert.Equal(t, 10, result.Limit)
	assert.Equal(t, 9, result.Remaining)
	assert.Zero(t, result.RetryAfter())
}

func TestBucket_Exhaustion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter, _ := newTestBucket(t, ratelimiter.DefaultConfig())

	owner := "user:exhaust"

	for i := range 10 {
		result, err := limiter.Allow(ctx, owner)
		require.NoError(t, err)
		require.True(t, result.Allowed(), "call %d should be allowed", i+1)
		assert.Equal(t, 9-i, result.Remaining)
	}

	result, err := limiter.Allow(ctx, owner)
	require.NoError(t, err)

	assert.False(t, result.Allowed())
	assert.Equal(t, 0, result.Remaining)
	assert.Equal(t, 6, result.RetryAfterSeconds())
}

func TestBucket_RetryAfterAccuracy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter, clock := newTestBucket(t, ratelimiter.DefaultConfig())

	owner := "user:retry"

	for range 10 {
		_, err := limiter.Allow(ctx, owner)
		require.NoError(t, err)
	}

	denied, err := limiter.Allow(ctx, owner)
	require.NoError(t, err)
	require.False(t, denied.Allowed())
	require.Positive(t, denied.RetryAfter())

	// Waiting exactly the advertised duration must be sufficient for a
	// cost-1 request.
	clock.Advance(denied.RetryAfter())

	result, err := limiter.Allow(ctx, owner)
	require.NoError(t, err)
	assert.True(t, result.Allowed())
}

func TestBucket_AdminReset(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter, _ := newTestBucket(t, ratelimiter.DefaultConfig())

	owner := "user:reset"

	for range 10 {
		_, err := limiter.Allow(ctx, owner)
		require.NoError(t, err)
	}

	denied, err := limiter.Allow(ctx, owner)
	require.NoError(t, err)
	require.False(t, denied.Allowed())

	// Reset restores full capacity with no elapsed time at all.
	require.NoError(t, limiter.Reset(ctx, owner))

	result, err := limiter.Allow(ctx, owner)
	require.NoError(t, err)
	assert.True(t, result.Allowed())
	assert.Equal(t, 9, result.Remaining)
}

func TestBucket_ElevatedProfile(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter, _ := newTestBucket(t, ratelimiter.ElevatedConfig())

	owner := "admin:1"

	for i := range 60 {
		result, err := limiter.Allow(ctx, owner)
		require.NoError(t, err)
		require.True(t, result.Allowed(), "call %d should be allowed", i+1)
	}

	result, err := limiter.Allow(ctx, owner)
	require.NoError(t, err)

	assert.False(t, result.Allowed())
	assert.Equal(t, 1, result.RetryAfterSeconds())
}

func TestBucket_Refill(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	cfg := ratelimiter.Config{Capacity: 10, RefillAmount: 2, RefillInterval: time.Second}

	t.Run("whole intervals only", func(t *testing.T) {
		limiter, clock := newTestBucket(t, cfg)
		owner := "user:refill"

		for range 10 {
			_, err := limiter.Allow(ctx, owner)
			require.NoError(t, err)
		}

		// 1.9 intervals elapsed: only one interval credits.
		clock.Advance(1900 * time.Millisecond)

		status, err := limiter.Status(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, 2, status.Remaining)

		// The leftover 900ms counts toward the next interval.
		clock.Advance(100 * time.Millisecond)

		status, err = limiter.Status(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, 4, status.Remaining)
	})

	t.Run("monotonic over time", func(t *testing.T) {
		limiter, clock := newTestBucket(t, cfg)
		owner := "user:monotonic"

		for range 7 {
			_, err := limiter.Allow(ctx, owner)
			require.NoError(t, err)
		}

		prev := -1
		for range 20 {
			status, err := limiter.Status(ctx, owner)
			require.NoError(t, err)
			assert.GreaterOrEqual(t, status.Remaining, prev)
			prev = status.Remaining
			clock.Advance(700 * time.Millisecond)
		}
	})

	t.Run("clamped at capacity", func(t *testing.T) {
		limiter, clock := newTestBucket(t, cfg)
		owner := "user:clamp"

		_, err := limiter.Allow(ctx, owner)
		require.NoError(t, err)

		// Years of idle time never push the balance past capacity.
		clock.Advance(24 * 365 * time.Hour)

		status, err := limiter.Status(ctx, owner)
		require.NoError(t, err)
		assert.Equal(t, cfg.Capacity, status.Remaining)
	})

	t.Run("idempotent at fixed instant", func(t *testing.T) {
		limiter, _ := newTestBucket(t, cfg)
		owner := "user:idempotent"

		_, err := limiter.Allow(ctx, owner)
		require.NoError(t, err)

		first, err := limiter.Status(ctx, owner)
		require.NoError(t, err)

		second, err := limiter.Status(ctx, owner)
		require.NoError(t, err)

		assert.Equal(t, first.Remaining, second.Remaining)
		assert.Equal(t, first.ResetAt, second.ResetAt)
	})
}

func TestBucket_AllowN(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter, _ := newTestBucket(t, ratelimiter.DefaultConfig())

	owner := "batch:1"

	result, err := limiter.AllowN(ctx, owner, 7)
	require.NoError(t, err)
	assert.True(t, result.Allowed())
	assert.Equal(t, 3, result.Remaining)

	// Insufficient balance for another bulk request; the shortfall of 4
	// tokens at 1 token per 6s needs 24s.
	result, err = limiter.AllowN(ctx, owner, 7)
	require.NoError(t, err)
	assert.False(t, result.Allowed())
	assert.Equal(t, 3, result.Remaining)
	assert.Equal(t, 24, result.RetryAfterSeconds())
}

func TestBucket_StatusDoesNotConsume(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter, _ := newTestBucket(t, ratelimiter.DefaultConfig())

	owner := "user:status"

	t.Run("unknown owner reported at full capacity", func(t *testing.T) {
		status, err := limiter.Status(ctx, "user:unknown")
		require.NoError(t, err)
		assert.True(t, status.Allowed())
		assert.Equal(t, 10, status.Remaining)
	})

	t.Run("probe leaves balance untouched", func(t *testing.T) {
		_, err := limiter.Allow(ctx, owner)
		require.NoError(t, err)

		for range 5 {
			status, err := limiter.Status(ctx, owner)
			require.NoError(t, err)
			assert.Equal(t, 9, status.Remaining)
		}
	})
}

// failingStore simulates an unreachable backend for failure policy tests.
type failingStore struct{}

func (failingStore) GetByOwner(context.Context, string) (ratelimiter.Record, error) {
	return ratelimiter.Record{}, errors.New("connection refused")
}

func (failingStore) Insert(context.Context, ratelimiter.Record) (ratelimiter.Record, error) {
	return ratelimiter.Record{}, errors.New("connection refused")
}

func (failingStore) Update(context.Context, string, int, time.Time, int64) error {
	return errors.New("connection refused")
}

func (failingStore) UpsertFull(context.Context, string, int, time.Time) (ratelimiter.Record, error) {
	return ratelimiter.Record{}, errors.New("connection refused")
}

// conflictStore always loses the conditional write, simulating persistent
// contention on one owner.
type conflictStore struct {
	ratelimiter.Store
}

func (cs conflictStore) Update(context.Context, string, int, time.Time, int64) error {
	return ratelimiter.ErrRecordConflict
}

func TestBucket_FailurePolicy(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("fail closed denies on store outage", func(t *testing.T) {
		limiter, err := ratelimiter.NewBucket(failingStore{}, ratelimiter.DefaultConfig())
		require.NoError(t, err)

		result, err := limiter.Allow(ctx, "user:1")
		require.NoError(t, err, "store outage must resolve to a decision, not an error")
		assert.False(t, result.Allowed())
		assert.Positive(t, result.RetryAfter())
	})

	t.Run("fail open allows on store outage", func(t *testing.T) {
		limiter, err := ratelimiter.NewBucket(failingStore{}, ratelimiter.DefaultConfig(),
			ratelimiter.WithFailurePolicy(ratelimiter.FailOpen))
		require.NoError(t, err)

		result, err := limiter.Allow(ctx, "user:1")
		require.NoError(t, err)
		assert.True(t, result.Allowed())
	})

	t.Run("reset surfaces store failure", func(t *testing.T) {
		limiter, err := ratelimiter.NewBucket(failingStore{}, ratelimiter.DefaultConfig())
		require.NoError(t, err)

		assert.ErrorIs(t, limiter.Reset(ctx, "user:1"), ratelimiter.ErrStoreUnavailable)
	})

	t.Run("retries exhausted follows policy", func(t *testing.T) {
		store := ratelimiter.NewMemoryStore()

		// Seed the record so the conditional update path is reached.
		_, err := store.UpsertFull(ctx, "user:contended", 10, time.Now())
		require.NoError(t, err)

		limiter, err := ratelimiter.NewBucket(conflictStore{Store: store}, ratelimiter.DefaultConfig(),
			ratelimiter.WithMaxRetries(2))
		require.NoError(t, err)

		result, err := limiter.Allow(ctx, "user:contended")
		require.NoError(t, err)
		assert.False(t, result.Allowed())
	})
}

func TestBucket_IndependentOwners(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	limiter, _ := newTestBucket(t, ratelimiter.DefaultConfig())

	for range 10 {
		_, err := limiter.Allow(ctx, "user:a")
		require.NoError(t, err)
	}

	denied, err := limiter.Allow(ctx, "user:a")
	require.NoError(t, err)
	require.False(t, denied.Allowed())

	// Exhausting one owner never affects another.
	result, err := limiter.Allow(ctx, "user:b")
	require.NoError(t, err)
	assert.True(t, result.Allowed())
	assert.Equal(t, 9, result.Remaining)
}

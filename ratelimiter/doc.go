// Package ratelimiter provides distributed token bucket rate limiting with
// pluggable storage backends.
//
// The serving layer is assumed to consist of stateless, independently
// invoked request handlers, so all bucket state lives in a shared store
// (Redis, PostgreSQL, MongoDB, or in-process memory for a single
// instance). Every check is a read-modify-write cycle against that store
// with version-conditional writes, so concurrent checks for the same owner
// never silently clobber each other.
//
// # Token Bucket Algorithm
//
// Each owner has a bucket holding up to Capacity tokens. RefillAmount
// tokens are credited every RefillInterval; only whole elapsed intervals
// count, and the refill watermark advances in whole-interval increments so
// partial progress is never lost to rounding. A request consumes cost
// tokens (default 1) and is denied when the balance is insufficient,
// along with the minimum wait until a retry can succeed.
//
// # Usage
//
//	store := ratelimiter.NewMemoryStore()
//
//	limiter, err := ratelimiter.NewBucket(store, ratelimiter.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	result, err := limiter.Allow(ctx, "user:123")
//	if err != nil {
//		// Invalid input (empty owner, non-positive cost). A store outage
//		// is NOT an error: the configured failure policy resolves it to
//		// an allow or deny decision.
//		return err
//	}
//
//	if !result.Allowed() {
//		log.Printf("rate limited, retry after %v", result.RetryAfter())
//		return nil
//	}
//
// Named profiles cover the common cases: DefaultConfig (10 requests per
// minute equivalent) and ElevatedConfig (60 per minute); any custom
// Config triple is freely constructible.
//
// # Distributed Backends
//
//	client, _ := redis.Connect(ctx, redisCfg)
//	store, _ := ratelimiter.NewRedisStore(client)
//
//	pool, _ := pg.Connect(ctx, pgCfg)
//	store, _ := ratelimiter.NewPostgresStore(pool)
//	_ = store.Migrate(ctx)
//
// All backends implement the same four-operation Store contract
// (get, insert-if-absent, version-conditional update, full upsert), which
// is sufficient to resolve the get-or-create race of two concurrent
// first-requests without a distributed lock.
//
// # Failure Policy
//
// When the store is unreachable the limiter applies an explicit policy:
// FailClosed (default, deny while degraded) or FailOpen. The choice is
// configuration, never an implicit behavior, because the protected
// resource is typically costly to call.
//
// # HTTP Integration
//
// The middleware package adapts a RateLimiter to net/http, attaching
// X-RateLimit-* headers and converting denials into 429 responses; see
// Headers and NewThrottledResponse for the formatting primitives.
package ratelimiter

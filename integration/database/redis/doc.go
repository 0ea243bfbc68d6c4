// Package redis provides Redis client initialization and health checking
// for the distributed rate limit store.
//
// Connect validates the connection URL, establishes a client with
// exponential backoff retry, and verifies connectivity with a ping before
// returning. Both redis:// and rediss:// (TLS) URL schemes are supported.
//
//	cfg := redis.Config{ConnectionURL: "redis://localhost:6379/0"}
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
//	store, err := ratelimiter.NewRedisStore(client)
//
// Healthcheck returns a probe function suitable for readiness endpoints:
//
//	check := redis.Healthcheck(client)
//	if err := check(ctx); err != nil {
//		// report unhealthy
//	}
//
// Errors are exposed as sentinel values checkable with errors.Is:
// ErrEmptyConnectionURL, ErrFailedToParseRedisConnString, ErrRedisNotReady,
// and ErrHealthcheckFailed.
package redis

// Package middleware adapts the rate limiter to net/http request
// boundaries.
//
// The middleware extracts a rate limit owner key with a three-tier
// fallback (authenticated principal from the request context, explicit
// caller-supplied identity header, anonymized client IP), invokes the
// limiter, and on denial short-circuits with a 429 response carrying the
// standardized deny payload and Retry-After header. Allowed requests can
// optionally carry informational X-RateLimit-* headers.
//
//	handler := middleware.RateLimit(middleware.RateLimitConfig{
//		Limiter:    limiter,
//		SetHeaders: true,
//	})(mux)
//
// The auth layer announces the current principal through WithOwner so
// quotas track users rather than network origins once a caller signs in.
package middleware

package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/fencepost/ratelimit/pkg/clientip"
	"github.com/fencepost/ratelimit/ratelimiter"
)

// ownerContextKey is used as a key for storing the authenticated principal
// id in the request context.
type ownerContextKey struct{}

// WithOwner returns a context carrying the authenticated principal id.
// The auth layer calls this so the rate limiter can key quotas by user
// instead of network origin.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	if ownerID == "" {
		return ctx
	}
	return context.WithValue(ctx, ownerContextKey{}, ownerID)
}

// OwnerFromContext retrieves the principal id stored with WithOwner.
func OwnerFromContext(ctx context.Context) (string, bool) {
	ownerID, ok := ctx.Value(ownerContextKey{}).(string)
	return ownerID, ok
}

// DefaultIdentityHeader is the header checked for an explicit
// caller-supplied identity when no authenticated principal is present.
const DefaultIdentityHeader = "X-Client-ID"

// AnonymousOwner derives an anonymized rate limit key from a network
// origin. The origin is hashed rather than stored, so quota records never
// contain raw IP addresses; 16 bytes of SHA-256 is plenty for key
// uniqueness at half the storage.
func AnonymousOwner(origin string) string {
	hash := sha256.Sum256([]byte(origin))
	return "anon:" + hex.EncodeToString(hash[:16])
}

// RateLimitConfig configures the rate limiting middleware.
type RateLimitConfig struct {
	// Skip defines a function to skip middleware execution for specific requests
	Skip func(r *http.Request) bool
	// Limiter is the rate limiting implementation to use
	Limiter ratelimiter.RateLimiter
	// OwnerExtractor overrides how the rate limit key is derived from a
	// request. Default: authenticated principal, then the identity header,
	// then an anonymized client IP key.
	OwnerExtractor func(r *http.Request) string
	// ErrorHandler defines how to handle denials (default: 429 with a
	// structured JSON payload and Retry-After header)
	ErrorHandler func(w http.ResponseWriter, r *http.Request, result *ratelimiter.Result)
	// IdentityHeader is the header checked in the fallback chain
	// (default: X-Client-ID)
	IdentityHeader string
	// Cost is the number of tokens one request consumes (default: 1)
	Cost int
	// SetHeaders determines whether to include rate limit information in
	// response headers for allowed requests as well
	SetHeaders bool
}

// RateLimit creates a rate limiting middleware with the provided
// configuration. It extracts the owner key, checks the limit, and on
// denial short-circuits the request with a standardized 429 response.
// Panics if no limiter is provided.
//
//	limiter, err := ratelimiter.NewBucket(store, ratelimiter.DefaultConfig())
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	mux := http.NewServeMux()
//	mux.Handle("/api/generate", generateHandler)
//	handler := middleware.RateLimit(middleware.RateLimitConfig{
//		Limiter:    limiter,
//		SetHeaders: true,
//	})(mux)
//
// Owner resolution is a three-tier fallback: the authenticated principal
// stored via WithOwner, then the identity header, then an anonymized key
// derived from the client IP. No business logic beyond identity extraction
// and response shaping lives here.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.Limiter == nil {
		panic("ratelimit middleware: limiter is required")
	}

	if cfg.Cost < 1 {
		cfg.Cost = 1
	}
	if cfg.IdentityHeader == "" {
		cfg.IdentityHeader = DefaultIdentityHeader
	}
	if cfg.OwnerExtractor == nil {
		cfg.OwnerExtractor = defaultOwnerExtractor(cfg.IdentityHeader)
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = throttledHandler
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Skip != nil && cfg.Skip(r) {
				next.ServeHTTP(w, r)
				return
			}

			owner := cfg.OwnerExtractor(r)

			result, err := cfg.Limiter.AllowN(r.Context(), owner, cfg.Cost)
			if err != nil {
				// Only invalid input reaches here; store outages are
				// resolved by the limiter's failure policy.
				writeJSON(w, http.StatusInternalServerError, map[string]string{
					"error": "internal server error",
				})
				return
			}

			if cfg.SetHeaders {
				for name, value := range ratelimiter.Headers(result) {
					w.Header().Set(name, value)
				}
			}

			if !result.Allowed() {
				cfg.ErrorHandler(w, r, result)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// defaultOwnerExtractor implements the three-tier fallback:
// authenticated principal -> identity header -> anonymized client IP.
func defaultOwnerExtractor(identityHeader string) func(r *http.Request) string {
	return func(r *http.Request) string {
		if ownerID, ok := OwnerFromContext(r.Context()); ok && ownerID != "" {
			return ownerID
		}

		if id := strings.TrimSpace(r.Header.Get(identityHeader)); id != "" {
			return id
		}

		return AnonymousOwner(clientip.GetIP(r))
	}
}

// throttledHandler is the default denial response: 429 with the
// standardized deny payload and a Retry-After header.
func throttledHandler(w http.ResponseWriter, r *http.Request, result *ratelimiter.Result) {
	if secs := result.RetryAfterSeconds(); secs > 0 {
		w.Header().Set(ratelimiter.HeaderRetryAfter, strconv.Itoa(secs))
	}
	writeJSON(w, http.StatusTooManyRequests, ratelimiter.NewThrottledResponse(result))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

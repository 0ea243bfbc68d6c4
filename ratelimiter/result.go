package ratelimiter

import "time"

// Result reports the outcome of a rate limit check. A denied check is a
// normal Result with Allowed() == false, never an error.
type Result struct {
	// Limit is the bucket capacity for the checked owner.
	Limit int
	// Remaining is the token balance after the check.
	Remaining int
	// ResetAt is when the bucket next gains tokens.
	ResetAt time.Time

	allowed    bool
	retryAfter time.Duration
}

// Allowed reports whether the request may proceed.
func (r *Result) Allowed() bool {
	return r.allowed
}

// RetryAfter returns the minimum wait before a retry can succeed.
// Zero when the request was allowed.
func (r *Result) RetryAfter() time.Duration {
	return r.retryAfter
}

// RetryAfterSeconds returns RetryAfter in whole seconds, rounded up,
// suitable for a Retry-After header.
func (r *Result) RetryAfterSeconds() int {
	if r.retryAfter <= 0 {
		return 0
	}
	secs := int(r.retryAfter / time.Second)
	if r.retryAfter%time.Second != 0 {
		secs++
	}
	return secs
}

package ratelimiter

import (
	"strconv"
	"time"
)

// Standard rate limit header names, following the convention used by
// GitHub, Twitter, and most public APIs.
const (
	HeaderLimit      = "X-RateLimit-Limit"
	HeaderRemaining  = "X-RateLimit-Remaining"
	HeaderReset      = "X-RateLimit-Reset"
	HeaderRetryAfter = "Retry-After"
)

// Headers builds the rate limit header map for a check result. Pure
// formatting, no I/O. Remaining is clamped to zero to avoid confusing
// negative values in API responses; Retry-After is present only on denial.
func Headers(result *Result) map[string]string {
	h := map[string]string{
		HeaderLimit:     strconv.Itoa(result.Limit),
		HeaderRemaining: strconv.Itoa(max(0, result.Remaining)),
		HeaderReset:     strconv.FormatInt(result.ResetAt.Unix(), 10),
	}

	if !result.Allowed() && result.RetryAfter() > 0 {
		h[HeaderRetryAfter] = strconv.Itoa(result.RetryAfterSeconds())
	}

	return h
}

// ThrottledResponse is the structured deny payload emitted at the request
// boundary alongside an HTTP 429 status.
type ThrottledResponse struct {
	Error             string `json:"error"`
	Limit             int    `json:"limit"`
	Remaining         int    `json:"remaining"`
	RetryAfterSeconds int    `json:"retry_after_seconds,omitempty"`
	ResetAt           string `json:"reset_at,omitempty"`
}

// NewThrottledResponse builds the deny payload for a result, including a
// human-readable retry hint.
func NewThrottledResponse(result *Result) ThrottledResponse {
	resp := ThrottledResponse{
		Error:             "rate limit exceeded",
		Limit:             result.Limit,
		Remaining:         max(0, result.Remaining),
		RetryAfterSeconds: result.RetryAfterSeconds(),
	}
	if !result.ResetAt.IsZero() {
		resp.ResetAt = result.ResetAt.UTC().Format(time.RFC3339)
	}
	return resp
}

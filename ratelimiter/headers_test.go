package ratelimiter

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaders(t *testing.T) {
	t.Parallel()

	resetAt := time.Date(2025, 6, 1, 12, 0, 6, 0, time.UTC)

	t.Run("allowed result", func(t *testing.T) {
		t.Parallel()

		result := &Result{Limit: 10, Remaining: 9, ResetAt: resetAt, allowed: true}
		h := Headers(result)

		assert.Equal(t, "10", h[HeaderLimit])
		assert.Equal(t, "9", h[HeaderRemaining])
		assert.Equal(t, "1748779206", h[HeaderReset])
		assert.NotContains(t, h, HeaderRetryAfter)
	})

	t.Run("denied result", func(t *testing.T) {
		t.Parallel()

		result := &Result{Limit: 10, Remaining: 0, ResetAt: resetAt, retryAfter: 6 * time.Second}
		h := Headers(result)

		assert.Equal(t, "10", h[HeaderLimit])
		assert.Equal(t, "0", h[HeaderRemaining])
		assert.Equal(t, "6", h[HeaderRetryAfter])
	})

	t.Run("remaining clamped to zero", func(t *testing.T) {
		t.Parallel()

		result := &Result{Limit: 10, Remaining: -2, ResetAt: resetAt, retryAfter: 12 * time.Second}
		h := Headers(result)

		assert.Equal(t, "0", h[HeaderRemaining])
	})
}

func TestRetryAfterSeconds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		retryAfter time.Duration
		want       int
	}{
		{"zero", 0, 0},
		{"whole seconds", 6 * time.Second, 6},
		{"rounds up", 5500 * time.Millisecond, 6},
		{"sub-second rounds up to one", 10 * time.Millisecond, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := &Result{retryAfter: tt.retryAfter}
			assert.Equal(t, tt.want, r.RetryAfterSeconds())
		})
	}
}

func TestNewThrottledResponse(t *testing.T) {
	t.Parallel()

	resetAt := time.Date(2025, 6, 1, 12, 0, 6, 0, time.UTC)
	result := &Result{Limit: 10, Remaining: 0, ResetAt: resetAt, retryAfter: 6 * time.Second}

	resp := NewThrottledResponse(result)
	assert.Equal(t, "rate limit exceeded", resp.Error)
	assert.Equal(t, 10, resp.Limit)
	assert.Equal(t, 0, resp.Remaining)
	assert.Equal(t, 6, resp.RetryAfterSeconds)
	assert.Equal(t, "2025-06-01T12:00:06Z", resp.ResetAt)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"error": "rate limit exceeded",
		"limit": 10,
		"remaining": 0,
		"retry_after_seconds": 6,
		"reset_at": "2025-06-01T12:00:06Z"
	}`, string(data))
}

package ratelimiter

import (
	"fmt"
	"time"
)

// Config defines the token bucket parameters for a single profile.
// Capacity is the maximum number of tokens the bucket holds, RefillAmount
// tokens are credited every RefillInterval.
type Config struct {
	Capacity       int           `env:"RATELIMIT_CAPACITY" envDefault:"10"`
	RefillAmount   int           `env:"RATELIMIT_REFILL_AMOUNT" envDefault:"1"`
	RefillInterval time.Duration `env:"RATELIMIT_REFILL_INTERVAL" envDefault:"6s"`
}

// Validate checks that all bucket parameters are positive.
func (c Config) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be > 0, got %d", ErrInvalidConfig, c.Capacity)
	}
	if c.RefillAmount <= 0 {
		return fmt.Errorf("%w: refill amount must be > 0, got %d", ErrInvalidConfig, c.RefillAmount)
	}
	if c.RefillInterval <= 0 {
		return fmt.Errorf("%w: refill interval must be > 0, got %v", ErrInvalidConfig, c.RefillInterval)
	}
	return nil
}

// DefaultConfig returns the standard profile: 10 tokens capacity,
// 1 token refilled every 6 seconds (roughly 10 requests per minute).
func DefaultConfig() Config {
	return Config{
		Capacity:       10,
		RefillAmount:   1,
		RefillInterval: 6 * time.Second,
	}
}

// ElevatedConfig returns the elevated profile for privileged callers:
// 60 tokens capacity, 1 token refilled every second (roughly 60 per minute).
func ElevatedConfig() Config {
	return Config{
		Capacity:       60,
		RefillAmount:   1,
		RefillInterval: time.Second,
	}
}

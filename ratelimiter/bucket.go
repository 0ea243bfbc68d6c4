package ratelimiter

import "time"

// refill applies the token bucket refill rule to a record and returns the
// updated copy. Pure function: no I/O, deterministic for identical inputs.
//
// Only whole elapsed intervals are credited. The watermark advances by
// intervals*RefillInterval rather than jumping to now, so partial progress
// toward the next interval is preserved and tokens never leak to rounding.
func refill(rec Record, cfg Config, now time.Time) Record {
	elapsed := now.Sub(rec.LastRefill)
	if elapsed < cfg.RefillInterval {
		return rec
	}

	intervals := int64(elapsed / cfg.RefillInterval)

	// Cap the credited intervals to prevent integer overflow when a bucket
	// sat idle for a very long time relative to its interval. The watermark
	// still advances by the full interval count.
	maxUseful := int64(cfg.Capacity/cfg.RefillAmount) + 1
	credit := intervals
	if credit > maxUseful {
		credit = maxUseful
	}

	rec.Tokens = min(rec.Tokens+int(credit)*cfg.RefillAmount, cfg.Capacity)
	rec.LastRefill = rec.LastRefill.Add(time.Duration(intervals) * cfg.RefillInterval)

	return rec
}

// retryAfter computes the minimum wait until enough refill intervals have
// elapsed to cover the token shortfall, rounded up to whole seconds.
func retryAfter(shortfall int, cfg Config) time.Duration {
	if shortfall <= 0 {
		return 0
	}

	num := int64(shortfall) * cfg.RefillInterval.Milliseconds()
	den := int64(cfg.RefillAmount) * 1000
	secs := (num + den - 1) / den

	return time.Duration(secs) * time.Second
}

// resetAt reports when the bucket next gains tokens: one full interval
// past the current refill watermark.
func resetAt(rec Record, cfg Config) time.Time {
	return rec.LastRefill.Add(cfg.RefillInterval)
}

package ratelimiter

import "time"

// Recorder receives rate limiter observations. Implementations must be
// safe for concurrent use. The Prometheus implementation lives in the
// metrics package; NoopRecorder is the default.
type Recorder interface {
	RecordAllowed(owner string)
	RecordDenied(owner string)
	RecordStoreError(op string)
	RecordLatency(op string, d time.Duration)
}

// NoopRecorder discards all observations. Using it as the default avoids
// nil checks in the hot path.
type NoopRecorder struct{}

func (NoopRecorder) RecordAllowed(string)                {}
func (NoopRecorder) RecordDenied(string)                 {}
func (NoopRecorder) RecordStoreError(string)             {}
func (NoopRecorder) RecordLatency(string, time.Duration) {}

// Package metrics provides a Prometheus implementation of the rate
// limiter's observation contract.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fencepost/ratelimit/ratelimiter"
)

// PrometheusRecorder records rate limiter observations on a Prometheus
// registry. Owner ids are deliberately not used as label values to keep
// metric cardinality bounded.
type PrometheusRecorder struct {
	decisions   *prometheus.CounterVec
	storeErrors *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// NewPrometheusRecorder creates and registers rate limiter metrics on the
// given registry. Returns nil if reg is nil.
func NewPrometheusRecorder(reg *prometheus.Registry) *PrometheusRecorder {
	if reg == nil {
		return nil
	}

	r := &PrometheusRecorder{
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ratelimit",
			Name:      "decisions_total",
			Help:      "Total rate limit decisions by outcome.",
		}, []string{"outcome"}),

		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ratelimit",
			Name:      "store_errors_total",
			Help:      "Total bucket store failures by operation.",
		}, []string{"op"}),

		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ratelimit",
			Name:      "check_duration_seconds",
			Help:      "Rate limit check duration in seconds by operation.",
			Buckets:   []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
		}, []string{"op"}),
	}

	reg.MustRegister(
		r.decisions,
		r.storeErrors,
		r.latency,
	)

	return r
}

// RecordAllowed counts an allowed decision.
func (r *PrometheusRecorder) RecordAllowed(string) {
	r.decisions.WithLabelValues("allowed").Inc()
}

// RecordDenied counts a denied decision.
func (r *PrometheusRecorder) RecordDenied(string) {
	r.decisions.WithLabelValues("denied").Inc()
}

// RecordStoreError counts a store failure for the given operation.
func (r *PrometheusRecorder) RecordStoreError(op string) {
	r.storeErrors.WithLabelValues(op).Inc()
}

// RecordLatency observes a check duration for the given operation.
func (r *PrometheusRecorder) RecordLatency(op string, d time.Duration) {
	r.latency.WithLabelValues(op).Observe(d.Seconds())
}

var _ ratelimiter.Recorder = (*PrometheusRecorder)(nil)

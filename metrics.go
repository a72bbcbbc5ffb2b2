/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package tocket

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/acronis/go-tocket/internal/libinfo"
)

// MetricsCollector represents a collector of token bucket metrics.
type MetricsCollector interface {
	// SetAvailableTokens sets the current number of available tokens in the bucket.
	SetAvailableTokens(int)

	// IncAcquired increments the total number of successful acquires.
	IncAcquired()

	// IncRateLimitExceeded increments the total number of rejected acquires.
	IncRateLimitExceeded()
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents Prometheus metrics for a token bucket.
type PrometheusMetrics struct {
	AvailableTokens        prometheus.Gauge
	AcquiresTotal          prometheus.Counter
	RateLimitExceededTotal prometheus.Counter
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	constLabels := libinfo.AddPrometheusLibVersionLabel(opts.ConstLabels)

	availableTokens := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   opts.Namespace,
		Name:        "token_bucket_available_tokens",
		Help:        "Current number of available tokens in the bucket.",
		ConstLabels: constLabels,
	})
	acquiresTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   opts.Namespace,
		Name:        "token_bucket_acquires_total",
		Help:        "Total number of successful token acquires.",
		ConstLabels: constLabels,
	})
	rateLimitExceededTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   opts.Namespace,
		Name:        "token_bucket_rate_limit_exceeded_total",
		Help:        "Total number of acquires rejected because of exhausted tokens.",
		ConstLabels: constLabels,
	})

	return &PrometheusMetrics{
		AvailableTokens:        availableTokens,
		AcquiresTotal:          acquiresTotal,
		RateLimitExceededTotal: rateLimitExceededTotal,
	}
}

// MustRegister registers metrics in the provided registerer and panics on error.
func (pm *PrometheusMetrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		pm.AvailableTokens,
		pm.AcquiresTotal,
		pm.RateLimitExceededTotal,
	)
}

// Unregister removes metrics from the provided registerer.
func (pm *PrometheusMetrics) Unregister(reg prometheus.Registerer) {
	reg.Unregister(pm.AvailableTokens)
	reg.Unregister(pm.AcquiresTotal)
	reg.Unregister(pm.RateLimitExceededTotal)
}

// SetAvailableTokens implements the MetricsCollector interface.
func (pm *PrometheusMetrics) SetAvailableTokens(n int) {
	pm.AvailableTokens.Set(float64(n))
}

// IncAcquired implements the MetricsCollector interface.
func (pm *PrometheusMetrics) IncAcquired() {
	pm.AcquiresTotal.Inc()
}

// IncRateLimitExceeded implements the MetricsCollector interface.
func (pm *PrometheusMetrics) IncRateLimitExceeded() {
	pm.RateLimitExceededTotal.Inc()
}

type disabledMetrics struct{}

func (disabledMetrics) SetAvailableTokens(int) {}
func (disabledMetrics) IncAcquired()           {}
func (disabledMetrics) IncRateLimitExceeded()  {}


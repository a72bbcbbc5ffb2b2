/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package distributed

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/acronis/go-tocket/internal/libinfo"
)

// Reasons for dropping an inbound datagram, used as the "reason" label
// of the dropped-messages metric.
const (
	MessagesDropReasonMalformed          = "malformed"
	MessagesDropReasonChecksumMismatch   = "checksum_mismatch"
	MessagesDropReasonPeerNotWhitelisted = "peer_not_whitelisted"
	MessagesDropReasonContentMismatch    = "content_mismatch"
	MessagesDropReasonStrategyError      = "strategy_error"
)

// MetricsCollector represents a collector of dissemination metrics.
type MetricsCollector interface {
	// IncMessagesSent increments the total number of datagrams sent to peers.
	IncMessagesSent()

	// IncMessagesReceived increments the total number of received datagrams.
	IncMessagesReceived()

	// IncMessagesDropped increments the total number of dropped datagrams
	// with the reason of the drop.
	IncMessagesDropped(reason string)
}

// PrometheusMetricsOpts represents options for PrometheusMetrics.
type PrometheusMetricsOpts struct {
	// Namespace is a namespace for metrics. It will be prepended to all metric names.
	Namespace string

	// ConstLabels is a set of labels that will be applied to all metrics.
	ConstLabels prometheus.Labels
}

// PrometheusMetrics represents Prometheus metrics for the distributed storage.
type PrometheusMetrics struct {
	MessagesSentTotal     prometheus.Counter
	MessagesReceivedTotal prometheus.Counter
	MessagesDroppedTotal  *prometheus.CounterVec
}

// NewPrometheusMetrics creates a new instance of PrometheusMetrics with default options.
func NewPrometheusMetrics() *PrometheusMetrics {
	return NewPrometheusMetricsWithOpts(PrometheusMetricsOpts{})
}

// NewPrometheusMetricsWithOpts creates a new instance of PrometheusMetrics with the provided options.
func NewPrometheusMetricsWithOpts(opts PrometheusMetricsOpts) *PrometheusMetrics {
	constLabels := libinfo.AddPrometheusLibVersionLabel(opts.ConstLabels)

	messagesSentTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   opts.Namespace,
		Name:        "token_bucket_messages_sent_total",
		Help:        "Total number of dissemination datagrams sent to peers.",
		ConstLabels: constLabels,
	})
	messagesReceivedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace:   opts.Namespace,
		Name:        "token_bucket_messages_received_total",
		Help:        "Total number of datagrams received from peers.",
		ConstLabels: constLabels,
	})
	messagesDroppedTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace:   opts.Namespace,
		Name:        "token_bucket_messages_dropped_total",
		Help:        "Total number of received datagrams that were dropped.",
		ConstLabels: constLabels,
	}, []string{"reason"})

	return &PrometheusMetrics{
		MessagesSentTotal:     messagesSentTotal,
		MessagesReceivedTotal: messagesReceivedTotal,
		MessagesDroppedTotal:  messagesDroppedTotal,
	}
}

// MustRegister registers metrics in the provided registerer and panics on error.
func (pm *PrometheusMetrics) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(
		pm.MessagesSentTotal,
		pm.MessagesReceivedTotal,
		pm.MessagesDroppedTotal,
	)
}

// Unregister removes metrics from the provided registerer.
func (pm *PrometheusMetrics) Unregister(reg prometheus.Registerer) {
	reg.Unregister(pm.MessagesSentTotal)
	reg.Unregister(pm.MessagesReceivedTotal)
	reg.Unregister(pm.MessagesDroppedTotal)
}

// IncMessagesSent implements the MetricsCollector interface.
func (pm *PrometheusMetrics) IncMessagesSent() {
	pm.MessagesSentTotal.Inc()
}

// IncMessagesReceived implements the MetricsCollector interface.
func (pm *PrometheusMetrics) IncMessagesReceived() {
	pm.MessagesReceivedTotal.Inc()
}

// IncMessagesDropped implements the MetricsCollector interface.
func (pm *PrometheusMetrics) IncMessagesDropped(reason string) {
	pm.MessagesDroppedTotal.WithLabelValues(reason).Inc()
}

type disabledMetrics struct{}

func (disabledMetrics) IncMessagesSent()          {}
func (disabledMetrics) IncMessagesReceived()      {}
func (disabledMetrics) IncMessagesDropped(string) {}

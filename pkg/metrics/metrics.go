// Package metrics holds the engine's Prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transfer outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeRejected  = "rejected"
	OutcomeRetryable = "retryable"
	OutcomeFailed    = "failed"
)

// Metrics holds all Prometheus metrics for the escrow engine.
// A nil *Metrics records nothing.
type Metrics struct {
	// Registry owns these metrics and backs the /metrics endpoint.
	Registry *prometheus.Registry

	transfers        *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
	dealTransitions  *prometheus.CounterVec
	gatewayEvents    *prometheus.CounterVec
	gatewayErrors    prometheus.Counter
	publishErrors    *prometheus.CounterVec
	httpRequests     *prometheus.CounterVec
	httpLatency      *prometheus.HistogramVec
}

// New creates a private registry and registers all collectors in it,
// so repeated construction in tests never collides.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		transfers: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_transfers_total",
				Help: "Escrow transfers by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		),
		transferDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "escrow_transfer_duration_seconds",
				Help:    "Time spent inside the transfer transaction.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),
		dealTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_deal_transitions_total",
				Help: "Committed deal status transitions.",
			},
			[]string{"from", "to"},
		),
		gatewayEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_gateway_events_total",
				Help: "Payment processor notifications by reconcile outcome.",
			},
			[]string{"outcome"},
		),
		gatewayErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "escrow_gateway_errors_total",
				Help: "Failed calls to the payment processor.",
			},
		),
		publishErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_event_publish_errors_total",
				Help: "Events that could not be delivered to the broker.",
			},
			[]string{"event"},
		),
		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_http_requests_total",
				Help: "HTTP requests by route and status.",
			},
			[]string{"method", "route", "status"},
		),
		httpLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "escrow_http_request_duration_seconds",
				Help:    "HTTP request latency.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}
}

// RecordTransfer counts one transfer attempt and its duration.
func (m *Metrics) RecordTransfer(operation, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.transfers.WithLabelValues(operation, outcome).Inc()
	m.transferDuration.WithLabelValues(operation).Observe(d.Seconds())
}

func (m *Metrics) IncrDealTransition(from, to string) {
	if m == nil {
		return
	}
	m.dealTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) IncrGatewayEvent(outcome string) {
	if m == nil {
		return
	}
	m.gatewayEvents.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrGatewayError() {
	if m == nil {
		return
	}
	m.gatewayErrors.Inc()
}

func (m *Metrics) IncrPublishError(event string) {
	if m == nil {
		return
	}
	m.publishErrors.WithLabelValues(event).Inc()
}

// RecordHTTPRequest records one served request. route is the matched
// pattern, never the raw path.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}

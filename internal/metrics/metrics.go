// Package metrics provides Prometheus instrumentation for the escrow service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "middleman",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "middleman",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EscrowTransitionsTotal counts persisted status transitions by target status.
	EscrowTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "middleman",
			Name:      "escrow_transitions_total",
			Help:      "Escrow status transitions by target status.",
		},
		[]string{"status"},
	)

	// AdvisoryFallbacksTotal counts advisory calls answered with the safe default.
	AdvisoryFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "middleman",
			Name:      "advisory_fallbacks_total",
			Help:      "Advisory AI calls that degraded to the default answer, by call.",
		},
		[]string{"call"},
	)

	// WebhookEventsTotal counts payment processor events by outcome.
	WebhookEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "middleman",
			Name:      "webhook_events_total",
			Help:      "Payment webhook events by outcome.",
		},
		[]string{"outcome"},
	)
)

// Registry holds every collector above plus the Go runtime collectors.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EscrowTransitionsTotal,
		AdvisoryFallbacksTotal,
		WebhookEventsTotal,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

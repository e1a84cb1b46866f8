package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BackendOperationsTotal tracks secret-store calls by backend, operation and result.
	BackendOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_connections_backend_operations_total",
			Help: "Total number of secret backend operations (by backend, op, and result).",
		},
		[]string{"backend", "op", "result"},
	)

	// BackendOperationDuration measures secret-store call latency.
	BackendOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agent_connections_backend_operation_duration_seconds",
			Help:    "Duration of secret backend operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms → ~8s
		},
		[]string{"backend", "op"},
	)

	// BackendUp is 1 while the last health probe of the backend succeeded.
	BackendUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agent_connections_backend_up",
			Help: "Whether the secret backend answered the last health probe.",
		},
		[]string{"backend"},
	)

	// ConnectionOperationsTotal tracks service-level outcomes.
	ConnectionOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_connections_operations_total",
			Help: "Connection operations by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	// HTTPRequestsTotal tracks API responses by route and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_connections_http_requests_total",
			Help: "HTTP API requests by route, method and status.",
		},
		[]string{"route", "method", "status"},
	)

	// EventPublishErrors tracks change-event publish failures by driver.
	EventPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_connections_event_publish_errors_total",
			Help: "Number of change-event publish failures by driver.",
		},
		[]string{"driver"},
	)
)

// IncBackendOp increments the backend operation counter.
func IncBackendOp(backend, op, result string) {
	BackendOperationsTotal.WithLabelValues(backend, op, result).Inc()
}

// ObserveDuration records elapsed time since start into a HistogramVec or SummaryVec.
func ObserveDuration(v any, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()
	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	}
}

// SetBackendUp records the result of a backend health probe.
func SetBackendUp(backend string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	BackendUp.WithLabelValues(backend).Set(v)
}

// IncConnectionOp increments the service-level operation counter.
func IncConnectionOp(op, outcome string) {
	ConnectionOperationsTotal.WithLabelValues(op, outcome).Inc()
}

// IncHTTPRequest increments the API request counter.
func IncHTTPRequest(route, method, status string) {
	HTTPRequestsTotal.WithLabelValues(route, method, status).Inc()
}

// IncEventPublishError increments the publish error counter for the given driver.
func IncEventPublishError(driver string) {
	EventPublishErrors.WithLabelValues(driver).Inc()
}

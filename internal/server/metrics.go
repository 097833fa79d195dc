// Package server — metrics.go registers all Prometheus metrics for the HTTP
// server and exposes helpers used by handlers and middleware.
package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"
)

// serverMetrics holds all Prometheus metrics owned by the HTTP server.
// A single instance is created in New and stored on Server so that tests can
// inject a fresh prometheus.Registry without polluting the default one.
type serverMetrics struct {
	// submissionsTotal counts jobs accepted by the API, partitioned by job
	// kind ("workflow" or "index") and outcome ("ok" or "error").
	submissionsTotal *prometheus.CounterVec

	// uploadBytesTotal counts bytes stored by successful uploads.
	uploadBytesTotal prometheus.Counter

	// rateLimitedTotal counts /api/v1 requests rejected by the rate limiter.
	rateLimitedTotal prometheus.Counter

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler name, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec
}

// newServerMetrics registers all server metrics against reg and returns the
// populated serverMetrics.
func newServerMetrics(reg prometheus.Registerer) *serverMetrics {
	factory := promauto.With(reg)

	return &serverMetrics{
		submissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragindex",
			Subsystem: "api",
			Name:      "submissions_total",
			Help:      "Total number of pipeline jobs submitted through the API, partitioned by kind and outcome.",
		}, []string{"kind", "outcome"}),

		uploadBytesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ragindex",
			Subsystem: "api",
			Name:      "upload_bytes_total",
			Help:      "Total number of bytes stored by file uploads.",
		}),

		rateLimitedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ragindex",
			Subsystem: "http",
			Name:      "rate_limited_total",
			Help:      "Total number of API requests rejected by the per-IP rate limiter.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ragindex",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ragindex",
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),
	}
}

// submitted records the outcome of one job submission.
func (m *serverMetrics) submitted(kind string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.submissionsTotal.WithLabelValues(kind, outcome).Inc()
}

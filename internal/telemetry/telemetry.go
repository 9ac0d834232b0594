// Package telemetry defines the Prometheus metrics exported by the service.
package telemetry

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadstream_http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "leadstream_http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"method", "route"},
	)

	rateLimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadstream_ratelimit_decisions_total",
			Help: "Total admission decisions, labeled by outcome (allowed, denied, failopen).",
		},
		[]string{"outcome"},
	)

	authRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadstream_auth_requests_total",
			Help: "Total identity resolutions, labeled by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	realtimeEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadstream_realtime_events_total",
			Help: "Total events accepted by the notification bridge, labeled by type.",
		},
		[]string{"type"},
	)

	realtimeDroppedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadstream_realtime_dropped_total",
			Help: "Total events dropped by the bridge due to backpressure.",
		},
	)

	broadcastFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "leadstream_realtime_broadcast_failures_total",
			Help: "Total subscriber deliveries that failed and forced a disconnect.",
		},
	)

	wsConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "leadstream_ws_connections",
			Help: "Number of live websocket subscribers, labeled by kind (job, general).",
		},
		[]string{"kind"},
	)

	schedulerRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "leadstream_scheduler_job_runs_total",
			Help: "Total scheduled job executions, labeled by job and outcome.",
		},
		[]string{"job", "outcome"},
	)
)

// ObserveHTTPRequest records a completed HTTP request.
func ObserveHTTPRequest(method, route string, status int, dur time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(dur.Seconds())
}

// ObserveRateLimitDecision counts an admission decision outcome.
func ObserveRateLimitDecision(outcome string) {
	rateLimitDecisionsTotal.WithLabelValues(outcome).Inc()
}

// ObserveAuthResolution counts an identity resolution attempt.
func ObserveAuthResolution(method, outcome string) {
	authRequestsTotal.WithLabelValues(method, outcome).Inc()
}

// ObserveRealtimeEvent counts an event accepted by the bridge.
func ObserveRealtimeEvent(eventType string) {
	realtimeEventsTotal.WithLabelValues(eventType).Inc()
}

// ObserveRealtimeDropped counts events lost to backpressure.
func ObserveRealtimeDropped(n int64) {
	realtimeDroppedTotal.Add(float64(n))
}

// ObserveBroadcastFailure counts a subscriber delivery failure.
func ObserveBroadcastFailure() {
	broadcastFailuresTotal.Inc()
}

// SetWSConnections reports the live subscriber count for a connection kind.
func SetWSConnections(kind string, n int) {
	wsConnections.WithLabelValues(kind).Set(float64(n))
}

// ObserveSchedulerRun counts a scheduled job execution.
func ObserveSchedulerRun(job, outcome string) {
	schedulerRunsTotal.WithLabelValues(job, outcome).Inc()
}

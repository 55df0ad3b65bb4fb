// Package metrics exposes Magister's Prometheus series: HTTP traffic,
// reconciliation-pass outcomes, and marketplace rate-limit backoff time.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestDuration tracks control-plane request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "magister_http_request_duration_seconds",
			Help:    "Duration of control-plane HTTP requests by method and path",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsTotal counts control-plane requests.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magister_http_requests_total",
			Help: "Total control-plane HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	// InstancesTotal is the current instance-table size.
	InstancesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "magister_instances_total",
			Help: "Current number of instances held in the reconciliation engine's table",
		},
	)

	// CommandQueueDepth is the sampled depth of D's inbound command queue.
	CommandQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "magister_command_queue_depth",
			Help: "Sampled depth of the reconciliation engine's inbound command queue",
		},
	)

	// TickDuration tracks how long each reconciliation pass takes.
	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "magister_reconcile_tick_duration_seconds",
			Help:    "Duration of a full reconciliation Tick pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ZombiesRemoved counts instances removed without a destroy call.
	ZombiesRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "magister_reconcile_zombies_removed_total",
			Help: "Total instances removed because the marketplace no longer knew them",
		},
	)

	// DestroysTotal counts destroy attempts by outcome.
	DestroysTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magister_reconcile_destroys_total",
			Help: "Total destroy calls by outcome (ok, failed)",
		},
		[]string{"outcome"},
	)

	// RentsTotal counts rent attempts by outcome.
	RentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "magister_reconcile_rents_total",
			Help: "Total rent calls by outcome (accepted, rate_limited, failed)",
		},
		[]string{"outcome"},
	)

	// RateLimitBackoffSeconds accumulates total time slept for rate-limit
	// backoff during refill steps.
	RateLimitBackoffSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "magister_rate_limit_backoff_seconds_total",
			Help: "Cumulative seconds slept backing off from marketplace rate limiting",
		},
	)
)

// RecordHTTPRequest records one completed control-plane request.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRent records a rent outcome.
func RecordRent(outcome string) {
	RentsTotal.WithLabelValues(outcome).Inc()
}

// RecordDestroy records a destroy outcome.
func RecordDestroy(outcome string) {
	DestroysTotal.WithLabelValues(outcome).Inc()
}

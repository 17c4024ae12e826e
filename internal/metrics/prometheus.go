// Package metrics exposes Prometheus instrumentation for the storage
// daemon. Record functions are nil-safe: until InitPrometheus runs
// they are no-ops, so library code can call them unconditionally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics wraps the collectors for storage metrics.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	cacheOpsTotal        *prometheus.CounterVec
	promotionsTotal      *prometheus.CounterVec
	durableWriteFailures prometheus.Counter
	purgedEntriesTotal   prometheus.Counter

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// Default histogram buckets for request duration (in milliseconds).
var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500}

var promMetrics *PrometheusMetrics

// InitPrometheus initializes the metrics subsystem.
func InitPrometheus(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	pm := &PrometheusMetrics{
		registry: registry,

		cacheOpsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_operations_total",
				Help:      "Cache operations by tier, operation and outcome",
			},
			[]string{"tier", "op", "outcome"},
		),

		promotionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_promotions_total",
				Help:      "Values promoted into faster tiers, by source tier",
			},
			[]string{"from"},
		),

		durableWriteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "durable_write_failures_total",
				Help:      "Writes rejected because the durable tier failed",
			},
		),

		purgedEntriesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purged_entries_total",
				Help:      "Expired rows removed from the durable tier",
			},
		),

		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),

		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_ms",
				Help:      "HTTP request duration in milliseconds",
				Buckets:   buckets,
			},
			[]string{"route"},
		),
	}

	registry.MustRegister(
		pm.cacheOpsTotal,
		pm.promotionsTotal,
		pm.durableWriteFailures,
		pm.purgedEntriesTotal,
		pm.httpRequestsTotal,
		pm.httpDuration,
	)

	promMetrics = pm
}

// Handler returns the /metrics HTTP handler, or nil when metrics are
// disabled.
func Handler() http.Handler {
	if promMetrics == nil {
		return nil
	}
	return promhttp.HandlerFor(promMetrics.registry, promhttp.HandlerOpts{})
}

// RecordCacheOp counts one tier operation.
// outcome: "hit", "miss", "ok", "error".
func RecordCacheOp(tier, op, outcome string) {
	if promMetrics == nil {
		return
	}
	promMetrics.cacheOpsTotal.WithLabelValues(tier, op, outcome).Inc()
}

// RecordCachePromotion counts a value promoted from the given tier.
func RecordCachePromotion(from string) {
	if promMetrics == nil {
		return
	}
	promMetrics.promotionsTotal.WithLabelValues(from).Inc()
}

// RecordDurableWriteFailure counts a rejected durable write.
func RecordDurableWriteFailure() {
	if promMetrics == nil {
		return
	}
	promMetrics.durableWriteFailures.Inc()
}

// RecordPurgedEntries counts expired rows removed by the purge loop.
func RecordPurgedEntries(n int64) {
	if promMetrics == nil || n <= 0 {
		return
	}
	promMetrics.purgedEntriesTotal.Add(float64(n))
}

// RecordHTTPRequest counts one served HTTP request.
func RecordHTTPRequest(route, code string, durationMs float64) {
	if promMetrics == nil {
		return
	}
	promMetrics.httpRequestsTotal.WithLabelValues(route, code).Inc()
	promMetrics.httpDuration.WithLabelValues(route).Observe(durationMs)
}

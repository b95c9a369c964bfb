// Package telemetry provides observability primitives for the fastpass proxy.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fastpass"

// Metrics holds all Prometheus collectors for the proxy.
type Metrics struct {
	RequestsTotal     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
	ActiveRequests    prometheus.Gauge
	UpstreamDuration  *prometheus.HistogramVec
	UpstreamErrors    *prometheus.CounterVec
	CacheHits         *prometheus.CounterVec
	CacheMisses       *prometheus.CounterVec
	NegativeHits      *prometheus.CounterVec
	SharedFills       *prometheus.CounterVec
	BreakerRejects    *prometheus.CounterVec
	ThrottledCalls    *prometheus.CounterVec
	NotificationsSent *prometheus.CounterVec
	NotifyQueueLength prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       namespace,
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       namespace,
			Name:                            "upstream_duration_seconds",
			Help:                            "Upstream source call duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"source"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_errors_total",
			Help:      "Total upstream source errors.",
		}, []string{"source", "status"}),

		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total response cache hits.",
		}, []string{"resource"}),

		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total response cache misses.",
		}, []string{"resource"}),

		NegativeHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_negative_hits_total",
			Help:      "Requests answered from a cached upstream failure.",
		}, []string{"resource"}),

		SharedFills: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_shared_fills_total",
			Help:      "Cache misses that joined a fill already in flight.",
		}, []string{"resource"}),

		BreakerRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_rejects_total",
			Help:      "Upstream calls rejected by an open circuit breaker.",
		}, []string{"source"}),

		ThrottledCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_throttled_total",
			Help:      "Upstream calls refused by the per-source rate limit.",
		}, []string{"source"}),

		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Upload notifications by outcome.",
		}, []string{"outcome"}),

		NotifyQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notify_queue_length",
			Help:      "Current number of queued upload notifications.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.UpstreamDuration,
		m.UpstreamErrors,
		m.CacheHits,
		m.CacheMisses,
		m.NegativeHits,
		m.SharedFills,
		m.BreakerRejects,
		m.ThrottledCalls,
		m.NotificationsSent,
		m.NotifyQueueLength,
	)

	return m
}

// RegisterCacheEntries exports the size of an in-process cache, sampled on
// each scrape.
func RegisterCacheEntries(reg prometheus.Registerer, count func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_entries",
		Help:      "Entries held by the in-memory cache, expired ones included.",
	}, func() float64 { return float64(count()) }))
}

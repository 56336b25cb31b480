package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics
var (
	MetricRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Requests by final state",
		},
		[]string{"state"},
	)
	MetricForwardDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_forward_duration_seconds",
			Help:    "Time spent waiting on the upstream instance",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service"},
	)
	MetricInstanceHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_instance_healthy",
			Help: "1 if the last probe of the instance succeeded",
		},
		[]string{"service", "instance"},
	)
	MetricHealthTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_health_transitions_total",
			Help: "Instance health flips by direction",
		},
		[]string{"service", "direction"},
	)
	MetricProbeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gateway_probe_duration_seconds",
			Help:    "Duration of individual health probes",
			Buckets: prometheus.DefBuckets,
		},
	)
	MetricRateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		},
		[]string{"bucket"},
	)
	MetricSlowedDown = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_slowed_down_total",
			Help: "Requests delayed by the slow-down policy",
		},
	)
	MetricAbusePatterns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_abuse_patterns_total",
			Help: "Requests matching a suspicious pattern",
		},
		[]string{"pattern"},
	)
)

var registerOnce sync.Once

// InitMetrics registers Prometheus metrics with the default registry.
// Safe to call more than once.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			MetricRequests,
			MetricForwardDuration,
			MetricInstanceHealthy,
			MetricHealthTransitions,
			MetricProbeDuration,
			MetricRateLimited,
			MetricSlowedDown,
			MetricAbusePatterns,
		)
	})
}

// SetInstanceHealth records the latest probe outcome for an instance.
func SetInstanceHealth(service, instance string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	MetricInstanceHealthy.WithLabelValues(service, instance).Set(v)
}

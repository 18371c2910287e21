package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gembalance_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gembalance_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "path", "status_class"},
	)

	HTTPInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gembalance_http_inflight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gembalance_upstream_requests_total",
			Help: "Total number of proxied upstream requests",
		},
		[]string{"status_class", "error_kind"},
	)

	PoolKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gembalance_pool_keys",
			Help: "Number of keys in the credential pool",
		},
	)

	PoolUnhealthyKeys = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gembalance_pool_unhealthy_keys",
			Help: "Number of keys at or above the failure threshold",
		},
	)

	SweepRecoveriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gembalance_sweep_recoveries_total",
			Help: "Total number of keys reactivated by the health-check sweep",
		},
	)

	RateLimitKeysGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gembalance_ratelimit_keys",
			Help: "Number of per-caller rate limiters currently cached",
		},
	)
)

package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Run metrics
	CurrentRuns = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "current_runs",
			Help: "Runs currently happening",
		},
	)

	// Proxy metrics
	ProxyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_requests_total",
			Help: "Proxy requests",
		},
		[]string{"proto", "status"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reproserver_api_requests_total",
			Help: "Total number of runner API requests by route and status",
		},
		[]string{"route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "reproserver_api_request_duration_seconds",
			Help:    "Runner API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
)

func init() {
	prometheus.MustRegister(CurrentRuns)
	prometheus.MustRegister(ProxyRequests)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)

	// Expose all proxy label combinations from the start so that rate()
	// works before the first request comes in
	for _, proto := range []string{"http", "ws"} {
		for _, status := range []string{"success", "error"} {
			ProxyRequests.WithLabelValues(proto, status).Add(0)
		}
	}
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

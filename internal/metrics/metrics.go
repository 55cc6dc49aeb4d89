package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the server's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	AuthAttempts *prometheus.CounterVec

	RoadmapRequests *prometheus.CounterVec
	RoadmapDuration prometheus.Histogram
	RoadmapTokens   prometheus.Counter
}

// New registers every collector on a fresh registry, along with the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codepods_http_requests_total",
				Help: "HTTP requests by method, route pattern and status code",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "codepods_http_request_duration_seconds",
				Help:    "HTTP request latency by route pattern",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route"},
		),

		AuthAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codepods_auth_attempts_total",
				Help: "Authentication attempts by method (password, signup, github) and outcome",
			},
			[]string{"method", "outcome"},
		),

		RoadmapRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "codepods_roadmap_requests_total",
				Help: "Roadmap generation requests by outcome",
			},
			[]string{"outcome"},
		),
		RoadmapDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "codepods_roadmap_upstream_duration_seconds",
				Help:    "Latency of the upstream chat completion call",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
			},
		),
		RoadmapTokens: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "codepods_roadmap_tokens_total",
				Help: "Total tokens reported by the upstream completion API",
			},
		),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) RecordHTTP(method string, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}

func (m *Metrics) RecordAuth(method string, success bool) {
	if m == nil {
		return
	}
	m.AuthAttempts.WithLabelValues(method, outcome(success)).Inc()
}

// RecordRoadmap counts one roadmap request. outcome is "ok",
// "missing_token", "upstream_error" or "bad_request".
func (m *Metrics) RecordRoadmap(result string, elapsed time.Duration, tokens int) {
	if m == nil {
		return
	}
	m.RoadmapRequests.WithLabelValues(result).Inc()
	if elapsed > 0 {
		m.RoadmapDuration.Observe(elapsed.Seconds())
	}
	if tokens > 0 {
		m.RoadmapTokens.Add(float64(tokens))
	}
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

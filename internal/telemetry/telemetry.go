// Package telemetry exposes Prometheus metrics for the HTTP server and the
// compression pipeline.
package telemetry

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "neucomp"

// Metrics owns a registry with the server's collectors.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	compressions    *prometheus.CounterVec
	compressionTime *prometheus.HistogramVec
	cacheHits       prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			}, []string{"path", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of HTTP requests in seconds",
				Buckets:   prometheus.DefBuckets,
			}, []string{"path"},
		),
		compressions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compressions_total",
				Help:      "Compressions by the state that produced the result",
			}, []string{"state"},
		),
		compressionTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "compression_duration_seconds",
				Help:      "Duration of compressions in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
			}, []string{"state"},
		),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "result_cache_hits_total",
			Help:      "Compressions answered from the result cache",
		}),
	}
	m.registry.MustRegister(
		m.requests,
		m.requestDuration,
		m.compressions,
		m.compressionTime,
		m.cacheHits,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveCompression records a finished compression.
func (m *Metrics) ObserveCompression(state string, seconds float64) {
	m.compressions.WithLabelValues(state).Inc()
	m.compressionTime.WithLabelValues(state).Observe(seconds)
}

// ObserveRequest records a served HTTP request.
func (m *Metrics) ObserveRequest(path, method string, status int, seconds float64) {
	m.requests.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path).Observe(seconds)
}

// CacheHit records a compression served from the result cache.
func (m *Metrics) CacheHit() {
	m.cacheHits.Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

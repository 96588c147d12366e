package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the service's Prometheus collectors behind a private
// registry.
type Metrics struct {
	registry *prometheus.Registry

	requestCount      *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	inferenceDuration prometheus.Histogram
	predictions       *prometheus.CounterVec
	failures          *prometheus.CounterVec
	cleanupFailures   prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			}, []string{"path", "method", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			}, []string{"path"},
		),
		inferenceDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "inference_duration_seconds",
				Help:    "Time spent normalizing and classifying one image",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
		),
		predictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "predictions_total",
				Help: "Completed classifications by top label",
			}, []string{"label"},
		),
		failures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prediction_failures_total",
				Help: "Failed classifications by error kind",
			}, []string{"kind"},
		),
		cleanupFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cleanup_failures_total",
				Help: "Uploaded files that could not be removed after normalization",
			},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requestCount,
		m.requestDuration,
		m.inferenceDuration,
		m.predictions,
		m.failures,
		m.cleanupFailures,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ObserveRequest(path, method string, status int, d time.Duration) {
	m.requestCount.WithLabelValues(path, method, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path).Observe(d.Seconds())
}

func (m *Metrics) ObservePrediction(topLabel string, d time.Duration) {
	m.predictions.WithLabelValues(topLabel).Inc()
	m.inferenceDuration.Observe(d.Seconds())
}

func (m *Metrics) PredictionFailed(kind string) {
	m.failures.WithLabelValues(kind).Inc()
}

func (m *Metrics) CleanupFailed() {
	m.cleanupFailures.Inc()
}

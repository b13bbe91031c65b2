package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the service exports. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	PostsSubmitted     *prometheus.CounterVec
	StageDuration      *prometheus.HistogramVec
	ExtractionFailures *prometheus.CounterVec
	Categorizations    *prometheus.CounterVec
	PostsByStatus      *prometheus.GaugeVec
	QueueDepth         prometheus.Gauge
	HTTPRequests       *prometheus.CounterVec
	HTTPDuration       *prometheus.HistogramVec

	DB *DatabaseMetrics
}

// New creates the collectors on a private registry together with the Go and process collectors
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		PostsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "posts_submitted_total",
			Help:      "Submitted URLs by platform and outcome (created, duplicate, rejected)",
		}, []string{"platform", "result"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage", "outcome"}),
		ExtractionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extraction_failures_total",
			Help:      "Failed extractions by error kind",
		}, []string{"platform", "kind"}),
		Categorizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "categorizations_total",
			Help:      "Categorizations by method (llm, keyword, skipped, failed)",
		}, []string{"method"}),
		PostsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "posts",
			Help:      "Stored posts by status",
		}, []string{"status"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_queue_depth",
			Help:      "Jobs waiting for a worker",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route pattern and status code",
		}, []string{"method", "route", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route pattern",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		m.PostsSubmitted,
		m.StageDuration,
		m.ExtractionFailures,
		m.Categorizations,
		m.PostsByStatus,
		m.QueueDepth,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	m.DB = NewDatabaseMetrics(namespace, reg)
	return m
}

// Registry exposes the registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Submitted records the outcome of a submission
func (m *Metrics) Submitted(platform, result string) {
	if m == nil {
		return
	}
	m.PostsSubmitted.WithLabelValues(platform, result).Inc()
}

// ObserveStage records how long a pipeline stage took
func (m *Metrics) ObserveStage(stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage, outcome).Observe(d.Seconds())
}

// ExtractionFailed counts a classified extraction failure
func (m *Metrics) ExtractionFailed(platform, kind string) {
	if m == nil {
		return
	}
	m.ExtractionFailures.WithLabelValues(platform, kind).Inc()
}

// Categorized counts a categorization outcome
func (m *Metrics) Categorized(method string) {
	if m == nil {
		return
	}
	m.Categorizations.WithLabelValues(method).Inc()
}

// SetQueueDepth reports the number of queued jobs
func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

// SetPostsByStatus replaces the per-status gauges
func (m *Metrics) SetPostsByStatus(counts map[string]int) {
	if m == nil {
		return
	}
	m.PostsByStatus.Reset()
	for status, n := range counts {
		m.PostsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(method, route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, statusCode(code)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func statusCode(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}

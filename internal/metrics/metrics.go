// Package metrics defines the Prometheus collectors for HandHunter.
// All recording methods are safe to call on a nil *Metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "handhunter"

type Metrics struct {
	JobsSubmitted     *prometheus.CounterVec
	JobsFinished      *prometheus.CounterVec
	JobsRunning       prometheus.Gauge
	QueueDepth        prometheus.Gauge
	SegmentsProcessed *prometheus.CounterVec
	SegmentDuration   prometheus.Histogram
	HandsPersisted    *prometheus.CounterVec
	AnalyzerAttempts  *prometheus.CounterVec
	SSEEvents         *prometheus.CounterVec
	ConsistencyErrors *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// New creates and registers every collector on reg.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		JobsSubmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "submitted_total",
			Help: "Job submissions by outcome",
		}, []string{"outcome"}),
		JobsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "finished_total",
			Help: "Jobs reaching a terminal status",
		}, []string{"status"}),
		JobsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "running",
			Help: "Jobs currently being processed",
		}),
		QueueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "jobs", Name: "queue_depth",
			Help: "Jobs waiting for a worker",
		}),
		SegmentsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "segments", Name: "processed_total",
			Help: "Segments analyzed by final status",
		}, []string{"status"}),
		SegmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "segments", Name: "duration_seconds",
			Help:    "Wall time spent analyzing one segment",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		HandsPersisted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hands", Name: "persisted_total",
			Help: "Hand writes by result",
		}, []string{"result"}),
		AnalyzerAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "analyzer", Name: "attempts_total",
			Help: "Analyzer request attempts by outcome",
		}, []string{"outcome"}),
		SSEEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "analyzer", Name: "sse_events_total",
			Help: "Decoded analyzer stream events by type",
		}, []string{"type"}),
		ConsistencyErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "consistency", Name: "errors_total",
			Help: "Validator findings by type",
		}, []string{"type"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "API requests by route and status code",
		}, []string{"method", "route", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "API request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) JobSubmitted(outcome string) {
	if m == nil {
		return
	}
	m.JobsSubmitted.WithLabelValues(outcome).Inc()
}

func (m *Metrics) JobStarted() {
	if m == nil {
		return
	}
	m.JobsRunning.Inc()
}

func (m *Metrics) JobFinished(status string) {
	if m == nil {
		return
	}
	m.JobsRunning.Dec()
	m.JobsFinished.WithLabelValues(status).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) SegmentDone(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.SegmentsProcessed.WithLabelValues(status).Inc()
	m.SegmentDuration.Observe(d.Seconds())
}

func (m *Metrics) HandsWritten(success, failed int) {
	if m == nil {
		return
	}
	m.HandsPersisted.WithLabelValues("success").Add(float64(success))
	m.HandsPersisted.WithLabelValues("failed").Add(float64(failed))
}

func (m *Metrics) AnalyzerAttempt(outcome string) {
	if m == nil {
		return
	}
	m.AnalyzerAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SSEEvent(kind string) {
	if m == nil {
		return
	}
	m.SSEEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) ConsistencyFindings(byType map[string]int) {
	if m == nil {
		return
	}
	for typ, n := range byType {
		m.ConsistencyErrors.WithLabelValues(typ).Add(float64(n))
	}
}

func (m *Metrics) HTTPRequest(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, statusClass(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

func statusClass(code int) string {
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

package metrics_test

import (
	"testing"
	"time"

	"github.com/kiranshivaraju/handhunter/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Recording(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())

	m.JobSubmitted("accepted")
	m.JobSubmitted("accepted")
	m.JobSubmitted("rate_limited")
	m.JobStarted()
	m.JobStarted()
	m.JobFinished("completed")
	m.SegmentDone("success", 3*time.Second)
	m.HandsWritten(4, 1)
	m.AnalyzerAttempt("timeout")
	m.SSEEvent("progress")
	m.ConsistencyFindings(map[string]int{"duplicate_card": 2})
	m.HTTPRequest("GET", "/api/v1/jobs/{jobID}", 404, time.Millisecond)
	m.SetQueueDepth(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.JobsSubmitted.WithLabelValues("accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsSubmitted.WithLabelValues("rate_limited")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.JobsFinished.WithLabelValues("completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SegmentsProcessed.WithLabelValues("success")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.HandsPersisted.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HandsPersisted.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalyzerAttempts.WithLabelValues("timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SSEEvents.WithLabelValues("progress")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ConsistencyErrors.WithLabelValues("duplicate_card")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/api/v1/jobs/{jobID}", "4xx")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.QueueDepth))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	assert.NotPanics(t, func() {
		m.JobSubmitted("accepted")
		m.JobStarted()
		m.JobFinished("failed")
		m.SegmentDone("failed", time.Second)
		m.HandsWritten(1, 1)
		m.AnalyzerAttempt("ok")
		m.SSEEvent("complete")
		m.ConsistencyFindings(map[string]int{"x": 1})
		m.HTTPRequest("POST", "/", 200, time.Second)
		m.SetQueueDepth(1)
	})
}

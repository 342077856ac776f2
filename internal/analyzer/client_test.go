package analyzer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/handhunter/internal/metrics"
)

// --- helpers ---

func writeEvent(w http.ResponseWriter, name, data string) {
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, data)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func streamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func newTestClient(t *testing.T, baseURL string, attempts int, attemptTimeout time.Duration, opts ...Option) *HTTPClient {
	t.Helper()
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewHTTPClient(baseURL, NewRetrier(attempts, attemptTimeout, time.Millisecond), opts...)
}

var testSegment = SegmentRequest{
	VideoURL:  "https://www.youtube.com/watch?v=abc123",
	StartTime: 60,
	EndTime:   180,
	Platform:  PlatformEPT,
}

// --- AnalyzeSegment tests ---

func TestAnalyzeSegment_StreamsProgressAndHands(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/analyze-video", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://www.youtube.com/watch?v=abc123", body["videoUrl"])
		assert.Equal(t, 60.0, body["startTime"])
		assert.Equal(t, 180.0, body["endTime"])
		assert.Equal(t, "ept", body["platform"])

		streamHeaders(w)
		writeEvent(w, "progress", `{"percent": 25}`)
		writeEvent(w, "progress", `{"percent": 75}`)
		writeEvent(w, "complete", `{"hands": [{"handNumber": "12", "pot": 900}, {"handNumber": 13, "pot": 400}]}`)
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL, 3, time.Second)

	var progress []float64
	res, err := c.AnalyzeSegment(context.Background(), testSegment, func(p float64) {
		progress = append(progress, p)
	})
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, []float64{25, 75}, progress)
	require.Len(t, res.Hands, 2)
	assert.Equal(t, "12", string(res.Hands[0].HandNumber))
	assert.Equal(t, 13, res.Hands[1].HandNumber.Int())
}

func TestAnalyzeSegment_NoCompleteMeansNoHands(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamHeaders(w)
		writeEvent(w, "progress", `{"percent": 50}`)
	}))
	defer ts.Close()

	res, err := newTestClient(t, ts.URL, 3, time.Second).AnalyzeSegment(context.Background(), testSegment, nil)
	require.NoError(t, err)
	assert.False(t, res.Completed)
	assert.Empty(t, res.Hands)
}

func TestAnalyzeSegment_ErrorAndMalformedEventsAreNotFatal(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamHeaders(w)
		writeEvent(w, "error", `{"message": "frame decode failed"}`)
		writeEvent(w, "progress", `{"percent": "lots"}`)
		writeEvent(w, "complete", `{"hands": [{"handNumber": 1}]}`)
	}))
	defer ts.Close()

	res, err := newTestClient(t, ts.URL, 3, time.Second).AnalyzeSegment(context.Background(), testSegment, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"frame decode failed"}, res.Diagnostics)
	assert.Equal(t, 1, res.Malformed)
	assert.Len(t, res.Hands, 1)
}

func TestAnalyzeSegment_NonSuccessStatusIsNotRetried(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "video is private", http.StatusUnprocessableEntity)
	}))
	defer ts.Close()

	_, err := newTestClient(t, ts.URL, 3, time.Second).AnalyzeSegment(context.Background(), testSegment, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendStatus)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "video is private")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestAnalyzeSegment_RetriesSlowHandshake(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			<-r.Context().Done()
			return
		}
		streamHeaders(w)
		writeEvent(w, "complete", `{"hands": []}`)
	}))
	defer ts.Close()

	res, err := newTestClient(t, ts.URL, 3, 50*time.Millisecond).AnalyzeSegment(context.Background(), testSegment, nil)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestAnalyzeSegment_ExhaustsOnPersistentTimeouts(t *testing.T) {
	var hits int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-r.Context().Done()
	}))
	defer ts.Close()

	_, err := newTestClient(t, ts.URL, 2, 30*time.Millisecond).AnalyzeSegment(context.Background(), testSegment, nil)
	require.Error(t, err)
	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.ErrorIs(t, err, ErrAttemptTimeout)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestAnalyzeSegment_StreamOutlivesAttemptTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamHeaders(w)
		writeEvent(w, "progress", `{"percent": 10}`)
		select {
		case <-time.After(150 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		writeEvent(w, "complete", `{"hands": [{"handNumber": 4}]}`)
	}))
	defer ts.Close()

	res, err := newTestClient(t, ts.URL, 1, 50*time.Millisecond).AnalyzeSegment(context.Background(), testSegment, nil)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.Len(t, res.Hands, 1)
}

func TestAnalyzeSegment_CallerCancelInterruptsStream(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamHeaders(w)
		writeEvent(w, "progress", `{"percent": 10}`)
		<-r.Context().Done()
	}))
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := newTestClient(t, ts.URL, 1, time.Second)
	_, err := c.AnalyzeSegment(ctx, testSegment, func(float64) { cancel() })
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStreamInterrupted)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyzeSegment_UnreachableBackend(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	url := ts.URL
	ts.Close()

	_, err := newTestClient(t, url, 2, time.Second).AnalyzeSegment(context.Background(), testSegment, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBackendUnreachable)
}

func TestAnalyzeSegment_RecordsMetrics(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		streamHeaders(w)
		writeEvent(w, "progress", `{"percent": 50}`)
		writeEvent(w, "complete", `{"hands": []}`)
	}))
	defer ts.Close()

	m := metrics.New(prometheus.NewRegistry())
	c := newTestClient(t, ts.URL, 1, time.Second, WithMetrics(m))
	_, err := c.AnalyzeSegment(context.Background(), testSegment, nil)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AnalyzerAttempts.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SSEEvents.WithLabelValues(EventProgress)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SSEEvents.WithLabelValues(EventComplete)))
}

func TestClassifyError(t *testing.T) {
	assert.ErrorIs(t, classifyError(errors.New("dial tcp: refused")), ErrBackendUnreachable)
	assert.ErrorIs(t, classifyError(context.DeadlineExceeded), context.DeadlineExceeded)
}

func TestResolvePlatform(t *testing.T) {
	tests := []struct {
		in, def, want string
	}{
		{"pokerstars", "ept", PlatformEPT},
		{"EPT", "triton", PlatformEPT},
		{"hustler", "ept", PlatformTriton},
		{" triton ", "ept", PlatformTriton},
		{"wsop", "ept", PlatformWSOP},
		{"", "triton", PlatformTriton},
		{"unknown", "wsop", PlatformWSOP},
		{"unknown", "bogus", PlatformEPT},
	}
	for _, tt := range tests {
		t.Run(tt.in+"/"+tt.def, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolvePlatform(tt.in, tt.def))
		})
	}
	assert.True(t, KnownPlatform("Hustler"))
	assert.False(t, KnownPlatform("ggpoker"))
}

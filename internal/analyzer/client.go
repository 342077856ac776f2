// Package analyzer talks to the hand analysis engine: it submits one video
// segment, retries the handshake, and decodes the resulting event stream.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/handhunter/internal/metrics"
	"github.com/kiranshivaraju/handhunter/pkg/models"
)

// Sentinel errors for analyzer failures.
var (
	ErrBackendUnreachable = errors.New("analyzer backend unreachable")
	ErrBackendStatus      = errors.New("analyzer backend error")
	ErrStreamInterrupted  = errors.New("analyzer stream interrupted")
)

const analyzePath = "/api/analyze-video"

// SegmentRequest is the JSON body sent to the backend.
type SegmentRequest struct {
	VideoURL  string  `json:"videoUrl"`
	StartTime float64 `json:"startTime"`
	EndTime   float64 `json:"endTime"`
	Platform  string  `json:"platform"`
}

// Result is what one segment's stream produced. A stream that ends
// without a complete event yields zero hands and Completed=false.
type Result struct {
	Hands       []models.ExtractedHand
	Completed   bool
	Diagnostics []string
	Malformed   int
}

// ProgressFunc receives segment-local progress in [0, 100].
type ProgressFunc func(percent float64)

// Client is the interface for analyzing one segment.
type Client interface {
	AnalyzeSegment(ctx context.Context, req SegmentRequest, onProgress ProgressFunc) (*Result, error)
}

// HTTPClient implements Client over HTTP with a streamed response.
type HTTPClient struct {
	baseURL string
	client  *http.Client
	retrier *Retrier
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*HTTPClient)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.client = hc }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *HTTPClient) { c.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *HTTPClient) { c.metrics = m }
}

// NewHTTPClient creates a client for the backend at baseURL. The embedded
// http.Client has no overall timeout: attempts are bounded by the retrier
// and streaming by the caller's context.
func NewHTTPClient(baseURL string, retrier *Retrier, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
		retrier: retrier,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) AnalyzeSegment(ctx context.Context, req SegmentRequest, onProgress ProgressFunc) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding segment request: %w", err)
	}

	var (
		resp         *http.Response
		cancelStream context.CancelFunc
	)
	defer func() {
		if cancelStream != nil {
			cancelStream()
		}
	}()

	err = c.retrier.Do(ctx, func(attemptCtx context.Context) error {
		r, cancel, err := c.open(ctx, attemptCtx, body)
		if err != nil {
			return err
		}
		resp, cancelStream = r, cancel
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	return c.consume(ctx, resp.Body, onProgress)
}

// open performs one handshake. The request lives on a context derived from
// ctx, not attemptCtx; attemptCtx only cancels it until headers arrive, so
// the body can outlive the attempt deadline.
func (c *HTTPClient) open(ctx, attemptCtx context.Context, body []byte) (*http.Response, context.CancelFunc, error) {
	reqCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(attemptCtx, cancel)

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.baseURL+analyzePath, bytes.NewReader(body))
	if err != nil {
		stop()
		cancel()
		return nil, nil, Permanent(fmt.Errorf("building request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		stop()
		cancel()
		cerr := classifyError(err)
		if attemptCtx.Err() != nil {
			c.metrics.AnalyzerAttempt("timeout")
		} else {
			c.metrics.AnalyzerAttempt(attemptOutcome(cerr))
		}
		return nil, nil, cerr
	}

	if !stop() {
		// The attempt deadline fired while headers were arriving.
		resp.Body.Close()
		cancel()
		c.metrics.AnalyzerAttempt("timeout")
		return nil, nil, fmt.Errorf("handshake: %w", context.DeadlineExceeded)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text := readSnippet(resp.Body)
		resp.Body.Close()
		cancel()
		c.metrics.AnalyzerAttempt("status")
		return nil, nil, Permanent(fmt.Errorf("%w: status %d: %s", ErrBackendStatus, resp.StatusCode, text))
	}

	c.metrics.AnalyzerAttempt("ok")
	return resp, cancel, nil
}

func (c *HTTPClient) consume(ctx context.Context, body io.Reader, onProgress ProgressFunc) (*Result, error) {
	dec := NewDecoder(body)
	res := &Result{}
	for {
		ev, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			if res.Completed {
				c.logger.Warn("analyzer stream ended abruptly after complete event", "error", err)
				return res, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("%w: %w", ErrStreamInterrupted, ctxErr)
			}
			return nil, fmt.Errorf("%w: %v", ErrStreamInterrupted, err)
		}

		c.metrics.SSEEvent(ev.Name())
		switch e := ev.(type) {
		case ProgressEvent:
			if onProgress != nil {
				onProgress(e.Percent)
			}
		case CompleteEvent:
			res.Hands = e.Hands
			res.Completed = true
		case ErrorEvent:
			c.logger.Warn("analyzer reported error", "message", e.Message)
			res.Diagnostics = append(res.Diagnostics, e.Message)
		case MalformedEvent:
			c.logger.Warn("skipping malformed analyzer event", "event", e.Event, "error", e.Err)
			res.Malformed++
		}
	}
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 4096))
	return strings.TrimSpace(string(b))
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("handshake: %w", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return fmt.Errorf("%w: %w", ErrAttemptTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
}

func attemptOutcome(err error) string {
	if errors.Is(err, ErrAttemptTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "unreachable"
}

package jobs_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/handhunter/internal/analyzer"
	"github.com/kiranshivaraju/handhunter/internal/cache"
	"github.com/kiranshivaraju/handhunter/internal/jobs"
	"github.com/kiranshivaraju/handhunter/internal/store/storetest"
	"github.com/kiranshivaraju/handhunter/internal/worker"
	"github.com/kiranshivaraju/handhunter/pkg/models"
)

const watchURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

type analyzeFunc func(ctx context.Context, req analyzer.SegmentRequest, onProgress analyzer.ProgressFunc) (*analyzer.Result, error)

type fakeAnalyzer struct {
	mu    sync.Mutex
	calls []analyzer.SegmentRequest
	fn    analyzeFunc
}

func (f *fakeAnalyzer) AnalyzeSegment(ctx context.Context, req analyzer.SegmentRequest, onProgress analyzer.ProgressFunc) (*analyzer.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	fn := f.fn
	f.mu.Unlock()
	if fn == nil {
		return &analyzer.Result{Completed: true}, nil
	}
	return fn(ctx, req, onProgress)
}

func (f *fakeAnalyzer) Calls() []analyzer.SegmentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]analyzer.SegmentRequest(nil), f.calls...)
}

// captureQueue holds tasks until the test runs them.
type captureQueue struct {
	mu    sync.Mutex
	tasks []worker.Task
	err   error
}

func (q *captureQueue) Submit(task worker.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.tasks = append(q.tasks, task)
	return nil
}

func (q *captureQueue) RunAll(ctx context.Context) {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()
	for _, task := range tasks {
		task(ctx)
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	svc      *jobs.Service
	store    *storetest.Memory
	queue    *captureQueue
	analyzer *fakeAnalyzer
	clock    *fakeClock
	cache    *cache.RedisCache
	redis    *miniredis.Miniredis
	caller   uuid.UUID
}

func defaultSettings() jobs.Settings {
	return jobs.Settings{
		BackendURL:        "http://analyzer.local",
		DefaultPlatform:   "ept",
		JobTimeout:        10 * time.Minute,
		RateLimitPerHour:  5,
		MaxSegmentSeconds: 7200,
	}
}

func newHarness(t *testing.T, mutate ...func(*jobs.Settings)) *harness {
	t.Helper()
	settings := defaultSettings()
	for _, m := range mutate {
		m(&settings)
	}

	mr := miniredis.RunT(t)
	rc := cache.NewRedisCacheFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = rc.Close() })

	h := &harness{
		store:    storetest.NewMemory(),
		queue:    &captureQueue{},
		analyzer: &fakeAnalyzer{},
		clock:    &fakeClock{now: time.Now()},
		cache:    rc,
		redis:    mr,
	}
	h.caller = h.store.AddUser(models.RoleReporter)

	svc, err := jobs.NewService(h.store, h.analyzer, h.queue, settings,
		jobs.WithCache(rc),
		jobs.WithClock(h.clock.Now),
		jobs.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	h.svc = svc
	return h
}

func gameplay(start, end float64) models.Segment {
	return models.Segment{Type: models.SegmentTypeGameplay, Start: start, End: end}
}

func request(segments ...models.Segment) jobs.SubmitRequest {
	return jobs.SubmitRequest{VideoURL: watchURL, Segments: segments}
}

// submit queues a job and fails the test on any error.
func (h *harness) submit(t *testing.T, segments ...models.Segment) *models.Job {
	t.Helper()
	job, err := h.svc.Submit(context.Background(), h.caller, request(segments...))
	require.NoError(t, err)
	return job
}

func hand(number string, players ...models.HandPlayer) models.ExtractedHand {
	return models.ExtractedHand{HandNumber: models.HandNumber(number), Pot: 100, Players: players}
}

func handsResult(hands ...models.ExtractedHand) *analyzer.Result {
	return &analyzer.Result{Hands: hands, Completed: true}
}

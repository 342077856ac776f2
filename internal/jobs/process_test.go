package jobs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/handhunter/internal/analyzer"
	"github.com/kiranshivaraju/handhunter/internal/jobs"
	"github.com/kiranshivaraju/handhunter/pkg/models"
)

func TestProcess_AllSegmentsSucceed(t *testing.T) {
	h := newHarness(t)
	h.analyzer.fn = func(_ context.Context, _ analyzer.SegmentRequest, onProgress analyzer.ProgressFunc) (*analyzer.Result, error) {
		onProgress(50)
		onProgress(100)
		return handsResult(
			hand("1", models.HandPlayer{Name: "Alice", StackSize: 1000}),
			hand("2", models.HandPlayer{Name: "Bob", StackSize: 1000}),
		), nil
	}
	job := h.submit(t, gameplay(0, 600), gameplay(700, 1300))

	h.queue.RunAll(context.Background())

	stored, ok := h.store.Job(job.ID)
	require.True(t, ok)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	assert.Equal(t, 4, stored.HandsFound)
	assert.Nil(t, stored.ErrorMessage)
	require.NotNil(t, stored.StartedAt)
	require.NotNil(t, stored.CompletedAt)

	require.NotNil(t, stored.Result)
	assert.Equal(t, 2, stored.Result.SuccessfulSegments)
	assert.Equal(t, 0, stored.Result.FailedSegments)
	assert.Equal(t, 4, stored.Result.TotalHands)
	require.NotNil(t, stored.Result.Consistency)
	assert.Equal(t, 0, stored.Result.Consistency.TotalErrors)

	results, err := h.store.ListSegmentResults(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, models.SegmentStatusSuccess, r.Status)
		assert.Equal(t, 2, r.HandsFound)
	}

	calls := h.analyzer.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, analyzer.SegmentRequest{VideoURL: watchURL, StartTime: 0, EndTime: 600, Platform: "ept"}, calls[0])
	assert.Equal(t, 700.0, calls[1].StartTime)

	snap, ok, err := h.cache.GetJobSnapshot(context.Background(), job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.JobSnapshot{Status: models.JobStatusCompleted, Progress: 100, HandsFound: 4}, *snap)
}

func TestProcess_ProgressNeverDecreases(t *testing.T) {
	h := newHarness(t)
	h.analyzer.fn = func(_ context.Context, _ analyzer.SegmentRequest, onProgress analyzer.ProgressFunc) (*analyzer.Result, error) {
		for _, p := range []float64{10, 40, 30, 90, 100} {
			onProgress(p)
		}
		return handsResult(), nil
	}
	job := h.submit(t, gameplay(0, 60), gameplay(100, 160), gameplay(200, 260))

	h.queue.RunAll(context.Background())

	writes := h.store.ProgressWrites[job.ID]
	require.NotEmpty(t, writes)
	for i := 1; i < len(writes); i++ {
		assert.GreaterOrEqual(t, writes[i], writes[i-1], "write %d", i)
	}
	for _, w := range writes {
		assert.LessOrEqual(t, w, 99)
	}
	stored, _ := h.store.Job(job.ID)
	assert.Equal(t, 100, stored.Progress)
}

func TestProcess_PartialFailureStillCompletes(t *testing.T) {
	h := newHarness(t)
	h.analyzer.fn = func(_ context.Context, req analyzer.SegmentRequest, _ analyzer.ProgressFunc) (*analyzer.Result, error) {
		if req.StartTime == 0 {
			return nil, &analyzer.ExhaustedError{Attempts: 3, Err: analyzer.ErrAttemptTimeout}
		}
		return handsResult(hand("7", models.HandPlayer{Name: "Carol", StackSize: 500})), nil
	}
	job := h.submit(t, gameplay(0, 600), gameplay(700, 1300))

	h.queue.RunAll(context.Background())

	stored, _ := h.store.Job(job.ID)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	require.NotNil(t, stored.Result)
	assert.Equal(t, 1, stored.Result.SuccessfulSegments)
	assert.Equal(t, 1, stored.Result.FailedSegments)
	assert.Equal(t, 1, stored.Result.TotalHands)
	require.Len(t, stored.Result.Errors, 1)
	assert.Contains(t, stored.Result.Errors[0], "segment-1")

	results, _ := h.store.ListSegmentResults(context.Background(), job.ID)
	require.Len(t, results, 2)
	assert.Equal(t, models.SegmentStatusFailed, results[0].Status)
	assert.Contains(t, results[0].ErrorMessage, "3 attempts")
	assert.Equal(t, models.SegmentStatusSuccess, results[1].Status)
}

func TestProcess_AllSegmentsFail(t *testing.T) {
	h := newHarness(t)
	h.analyzer.fn = func(context.Context, analyzer.SegmentRequest, analyzer.ProgressFunc) (*analyzer.Result, error) {
		return nil, analyzer.ErrBackendUnreachable
	}
	job := h.submit(t, gameplay(0, 600), gameplay(700, 1300))

	h.queue.RunAll(context.Background())

	stored, _ := h.store.Job(job.ID)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	assert.Equal(t, 100, stored.Progress)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "all segments failed", *stored.ErrorMessage)
	require.NotNil(t, stored.Result)
	assert.Equal(t, 2, stored.Result.FailedSegments)
}

func TestProcess_FailedHandWritesAreCounted(t *testing.T) {
	h := newHarness(t)
	h.store.FailHand = func(ph *models.PersistedHand) error {
		if ph.Number == "2" {
			return errors.New("constraint violation")
		}
		return nil
	}
	h.analyzer.fn = func(context.Context, analyzer.SegmentRequest, analyzer.ProgressFunc) (*analyzer.Result, error) {
		return handsResult(
			hand("1", models.HandPlayer{Name: "Alice"}),
			hand("2", models.HandPlayer{Name: "Bob"}),
			hand("3", models.HandPlayer{Name: "Carol"}),
		), nil
	}
	job := h.submit(t, gameplay(0, 600))

	h.queue.RunAll(context.Background())

	stored, _ := h.store.Job(job.ID)
	assert.Equal(t, models.JobStatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.HandsFound)
	assert.Equal(t, 1, stored.Result.FailedHands)
	assert.Len(t, h.store.Hands, 2)
}

func TestProcess_HandNumbersContinueAcrossSegments(t *testing.T) {
	h := newHarness(t)
	h.analyzer.fn = func(context.Context, analyzer.SegmentRequest, analyzer.ProgressFunc) (*analyzer.Result, error) {
		return handsResult(
			models.ExtractedHand{Players: []models.HandPlayer{{Name: "Alice"}}},
			models.ExtractedHand{Players: []models.HandPlayer{{Name: "Bob"}}},
		), nil
	}
	h.submit(t, gameplay(0, 600), gameplay(700, 1300))

	h.queue.RunAll(context.Background())

	var numbers []string
	for _, ph := range h.store.Hands {
		numbers = append(numbers, ph.Number)
	}
	assert.Equal(t, []string{"1", "2", "3", "4"}, numbers)
}

func TestProcess_UsesUnsortedStreamWhenNoneGiven(t *testing.T) {
	h := newHarness(t)
	h.analyzer.fn = func(context.Context, analyzer.SegmentRequest, analyzer.ProgressFunc) (*analyzer.Result, error) {
		return handsResult(hand("1", models.HandPlayer{Name: "Alice"})), nil
	}
	job := h.submit(t, gameplay(0, 600))

	h.queue.RunAll(context.Background())

	require.Len(t, h.store.Hands, 1)
	assert.Equal(t, h.store.StreamID, h.store.Hands[0].StreamID)
	stored, _ := h.store.Job(job.ID)
	require.NotNil(t, stored.StreamID)
	assert.Equal(t, h.store.StreamID, *stored.StreamID)
}

func TestProcess_StreamResolutionFailure(t *testing.T) {
	h := newHarness(t)
	h.store.Fail["ResolveUnsortedStream"] = errors.New("no rows")
	job := h.submit(t, gameplay(0, 600))

	h.queue.RunAll(context.Background())

	stored, _ := h.store.Job(job.ID)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "resolving target stream")
	assert.Empty(t, h.analyzer.Calls())
}

func TestProcess_DeadlineFailsRemainingSegments(t *testing.T) {
	h := newHarness(t)
	h.analyzer.fn = func(context.Context, analyzer.SegmentRequest, analyzer.ProgressFunc) (*analyzer.Result, error) {
		h.clock.Advance(11 * time.Minute)
		return handsResult(hand("1", models.HandPlayer{Name: "Alice"})), nil
	}
	job := h.submit(t, gameplay(0, 600), gameplay(700, 1300), gameplay(1400, 2000))

	h.queue.RunAll(context.Background())

	assert.Len(t, h.analyzer.Calls(), 1)

	stored, _ := h.store.Job(job.ID)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, jobs.ErrJobTimeout.Error())
	require.NotNil(t, stored.Result)
	assert.Equal(t, 1, stored.Result.SuccessfulSegments)
	assert.Equal(t, 2, stored.Result.FailedSegments)
	assert.Equal(t, 1, stored.HandsFound)

	results, _ := h.store.ListSegmentResults(context.Background(), job.ID)
	require.Len(t, results, 3)
	assert.Equal(t, models.SegmentStatusSuccess, results[0].Status)
	for _, r := range results[1:] {
		assert.Equal(t, models.SegmentStatusFailed, r.Status)
		assert.Equal(t, jobs.ErrJobTimeout.Error(), r.ErrorMessage)
	}
}

func TestProcess_DeadlineLetsRunningSegmentFinish(t *testing.T) {
	h := newHarness(t)
	var (
		ctxErr      error
		hasDeadline bool
	)
	h.analyzer.fn = func(ctx context.Context, _ analyzer.SegmentRequest, _ analyzer.ProgressFunc) (*analyzer.Result, error) {
		h.clock.Advance(11 * time.Minute)
		ctxErr = ctx.Err()
		_, hasDeadline = ctx.Deadline()
		return handsResult(hand("1", models.HandPlayer{Name: "Alice"})), nil
	}
	job := h.submit(t, gameplay(0, 600), gameplay(700, 1300))

	h.queue.RunAll(context.Background())

	assert.NoError(t, ctxErr)
	assert.False(t, hasDeadline, "segment context must not carry the job deadline")

	results, _ := h.store.ListSegmentResults(context.Background(), job.ID)
	require.Len(t, results, 2)
	assert.Equal(t, models.SegmentStatusSuccess, results[0].Status)
	assert.Equal(t, 1, results[0].HandsFound)
	assert.Equal(t, models.SegmentStatusFailed, results[1].Status)
}

func TestProcess_CancelledContextFailsRemainingSegments(t *testing.T) {
	h := newHarness(t)
	job := h.submit(t, gameplay(0, 600), gameplay(700, 1300))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.queue.RunAll(ctx)

	assert.Empty(t, h.analyzer.Calls())

	stored, _ := h.store.Job(job.ID)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Contains(t, *stored.ErrorMessage, "job cancelled")

	results, _ := h.store.ListSegmentResults(context.Background(), job.ID)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, models.SegmentStatusFailed, r.Status)
		assert.Contains(t, r.ErrorMessage, "job cancelled")
	}
}

func TestProcess_AnalyzerPanicFailsJob(t *testing.T) {
	h := newHarness(t)
	h.analyzer.fn = func(context.Context, analyzer.SegmentRequest, analyzer.ProgressFunc) (*analyzer.Result, error) {
		panic("boom")
	}
	job := h.submit(t, gameplay(0, 600))

	assert.NotPanics(t, func() { h.queue.RunAll(context.Background()) })

	stored, _ := h.store.Job(job.ID)
	assert.Equal(t, models.JobStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "panic: boom", *stored.ErrorMessage)
}

func TestProcess_EmbedsConsistencySummary(t *testing.T) {
	h := newHarness(t)
	h.analyzer.fn = func(context.Context, analyzer.SegmentRequest, analyzer.ProgressFunc) (*analyzer.Result, error) {
		bad := hand("1", models.HandPlayer{Name: "Alice", StackSize: 1000, HoleCards: models.Cards{"As", "Kd"}})
		bad.Board = models.Board{Flop: models.Cards{"As", "7c", "2d"}}
		return handsResult(bad), nil
	}
	job := h.submit(t, gameplay(0, 600))

	h.queue.RunAll(context.Background())

	stored, _ := h.store.Job(job.ID)
	assert.Equal(t, models.JobStatusCompleted, stored.Status, "findings are advisory")
	require.NotNil(t, stored.Result)
	require.NotNil(t, stored.Result.Consistency)
	assert.Equal(t, 1, stored.Result.Consistency.ErrorsByType[models.ErrorTypeDuplicateCard])
	assert.Len(t, h.store.Hands, 1)
}

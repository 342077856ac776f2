package jobs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/handhunter/internal/analyzer"
	"github.com/kiranshivaraju/handhunter/internal/jobs"
	"github.com/kiranshivaraju/handhunter/internal/worker"
	"github.com/kiranshivaraju/handhunter/pkg/models"
)

func TestSubmit_QueuesPendingJob(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	job, err := h.svc.Submit(ctx, h.caller, request(
		gameplay(0, 600),
		models.Segment{Type: "break", Start: 600, End: 700},
		models.Segment{Type: "Gameplay", Start: 700, End: 1300},
	))
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, "ept", job.Platform)
	assert.Equal(t, h.caller, job.CreatedBy)
	require.Len(t, job.Segments, 2)
	assert.Equal(t, "segment-1", job.Segments[0].ID)
	assert.Equal(t, 0, job.Segments[0].Index)
	assert.Equal(t, "segment-2", job.Segments[1].ID)
	assert.Equal(t, 1, job.Segments[1].Index)
	assert.Equal(t, models.SegmentTypeGameplay, job.Segments[1].Type)
	assert.Len(t, h.queue.tasks, 1)

	stored, ok := h.store.Job(job.ID)
	require.True(t, ok)
	assert.Equal(t, models.JobStatusPending, stored.Status)

	snap, ok, err := h.cache.GetJobSnapshot(ctx, job.ID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.JobStatusPending, snap.Status)

	assert.Empty(t, h.analyzer.Calls(), "submission must not analyze inline")
}

func TestSubmit_KeepsCallerSegmentIDs(t *testing.T) {
	h := newHarness(t)
	seg := gameplay(10, 20)
	seg.ID = "opening-hand"

	job := h.submit(t, seg)

	assert.Equal(t, "opening-hand", job.Segments[0].ID)
}

func TestSubmit_GeneratedSegmentIDsSkipCallerIDs(t *testing.T) {
	h := newHarness(t)
	first := gameplay(0, 600)
	first.ID = "segment-2"

	job := h.submit(t, first, gameplay(700, 1300), gameplay(1400, 2000))

	ids := []string{job.Segments[0].ID, job.Segments[1].ID, job.Segments[2].ID}
	assert.Equal(t, []string{"segment-2", "segment-3", "segment-4"}, ids)

	h.queue.RunAll(context.Background())

	results, err := h.store.ListSegmentResults(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, ids[i], r.SegmentID)
		assert.Equal(t, models.SegmentStatusSuccess, r.Status)
	}
}

func TestSubmit_RejectsRepeatedSegmentID(t *testing.T) {
	h := newHarness(t)
	a, b := gameplay(0, 600), gameplay(700, 1300)
	a.ID, b.ID = "table-1", "table-1"

	job, err := h.svc.Submit(context.Background(), h.caller, request(a, b))

	assert.Nil(t, job)
	var verr *jobs.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "segments", verr.Field)
	assert.Contains(t, err.Error(), "table-1")
	assert.Empty(t, h.store.Jobs)
}

func TestSubmit_ResolvesPlatformAlias(t *testing.T) {
	h := newHarness(t)
	req := request(gameplay(0, 60))
	req.Platform = "Hustler"

	job, err := h.svc.Submit(context.Background(), h.caller, req)
	require.NoError(t, err)

	assert.Equal(t, "triton", job.Platform)
}

func TestSubmit_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		req   jobs.SubmitRequest
		field string
	}{
		{"missing url", jobs.SubmitRequest{Segments: []models.Segment{gameplay(0, 1)}}, "video_url"},
		{"malformed url", jobs.SubmitRequest{VideoURL: "not a url", Segments: []models.Segment{gameplay(0, 1)}}, "video_url"},
		{"not youtube", jobs.SubmitRequest{VideoURL: "https://vimeo.com/123", Segments: []models.Segment{gameplay(0, 1)}}, "video_url"},
		{"no segments", jobs.SubmitRequest{VideoURL: watchURL}, "segments"},
		{"empty segments", jobs.SubmitRequest{VideoURL: watchURL, Segments: []models.Segment{}}, "segments"},
		{"unknown platform", jobs.SubmitRequest{VideoURL: watchURL, Platform: "bogus", Segments: []models.Segment{gameplay(0, 1)}}, "platform"},
		{"no gameplay", request(models.Segment{Type: "break", Start: 0, End: 10}), "segments"},
		{"negative start", request(gameplay(-1, 10)), "segments"},
		{"end before start", request(gameplay(20, 10)), "segments"},
		{"zero length", request(gameplay(10, 10)), "segments"},
		{"too long", request(gameplay(0, 7201)), "segments"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)

			job, err := h.svc.Submit(context.Background(), h.caller, tt.req)

			assert.Nil(t, job)
			var verr *jobs.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Empty(t, h.store.Jobs)
			assert.Empty(t, h.queue.tasks)
		})
	}
}

func TestSubmit_BackendNotConfigured(t *testing.T) {
	h := newHarness(t, func(s *jobs.Settings) { s.BackendURL = "  " })

	_, err := h.svc.Submit(context.Background(), h.caller, request(gameplay(0, 60)))

	assert.ErrorIs(t, err, jobs.ErrBackendNotConfigured)
}

func TestSubmit_Unauthenticated(t *testing.T) {
	h := newHarness(t)

	for _, caller := range []uuid.UUID{uuid.Nil, uuid.New()} {
		_, err := h.svc.Submit(context.Background(), caller, request(gameplay(0, 60)))
		var aerr *jobs.AuthError
		require.ErrorAs(t, err, &aerr)
		assert.ErrorIs(t, err, jobs.ErrUnauthenticated)
	}
	assert.Empty(t, h.store.Jobs)
}

func TestSubmit_ForbiddenRole(t *testing.T) {
	h := newHarness(t)
	viewer := h.store.AddUser(models.RoleUser)

	_, err := h.svc.Submit(context.Background(), viewer, request(gameplay(0, 60)))

	var aerr *jobs.AuthError
	require.ErrorAs(t, err, &aerr)
	assert.ErrorIs(t, err, jobs.ErrForbidden)
	assert.Equal(t, models.RoleUser, aerr.Role)
}

func TestSubmit_AllowedRoles(t *testing.T) {
	for _, role := range []string{models.RoleHighTemplar, models.RoleReporter, models.RoleAdmin} {
		t.Run(role, func(t *testing.T) {
			h := newHarness(t)
			caller := h.store.AddUser(role)

			_, err := h.svc.Submit(context.Background(), caller, request(gameplay(0, 60)))

			assert.NoError(t, err)
		})
	}
}

func TestSubmit_RateLimit(t *testing.T) {
	h := newHarness(t, func(s *jobs.Settings) { s.RateLimitPerHour = 2 })
	h.submit(t, gameplay(0, 60))
	h.submit(t, gameplay(100, 160))

	_, err := h.svc.Submit(context.Background(), h.caller, request(gameplay(200, 260)))

	var rerr *jobs.RateLimitError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, 2, rerr.Current)
	assert.Equal(t, 2, rerr.Limit)
	assert.Contains(t, err.Error(), "2 of 2")
}

func TestSubmit_RateLimitWindowSlides(t *testing.T) {
	h := newHarness(t, func(s *jobs.Settings) { s.RateLimitPerHour = 1 })
	h.submit(t, gameplay(0, 60))

	h.clock.Advance(61 * time.Minute)

	_, err := h.svc.Submit(context.Background(), h.caller, request(gameplay(100, 160)))
	assert.NoError(t, err)
}

func TestSubmit_ConcurrentSubmissionsRespectRateLimit(t *testing.T) {
	h := newHarness(t, func(s *jobs.Settings) { s.RateLimitPerHour = 1 })

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := float64(i * 1000)
			_, errs[i] = h.svc.Submit(context.Background(), h.caller, request(gameplay(start, start+60)))
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		var rerr *jobs.RateLimitError
		assert.ErrorAs(t, err, &rerr)
	}
	assert.Equal(t, 1, accepted)
	assert.Len(t, h.store.Jobs, 1)
}

func TestSubmit_ConcurrentOverlappingSubmissionsAdmitOne(t *testing.T) {
	h := newHarness(t, func(s *jobs.Settings) { s.RateLimitPerHour = 100 })

	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.svc.Submit(context.Background(), h.caller, request(gameplay(0, 600)))
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		var derr *jobs.DuplicateAnalysisError
		assert.ErrorAs(t, err, &derr)
	}
	assert.Equal(t, 1, accepted)
	assert.Len(t, h.store.Jobs, 1)
}

func TestSubmit_RejectsOverlapWithInFlightJob(t *testing.T) {
	h := newHarness(t)
	first := h.submit(t, gameplay(0, 600))

	tests := []struct {
		name string
		seg  models.Segment
	}{
		{"inside", gameplay(100, 200)},
		{"straddling", gameplay(500, 700)},
		{"touching end", gameplay(600, 900)},
		{"covering", gameplay(0, 1200)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Submit(context.Background(), h.caller, request(tt.seg))

			var derr *jobs.DuplicateAnalysisError
			require.ErrorAs(t, err, &derr)
			assert.Equal(t, first.ID, derr.JobID)
			assert.NoError(t, derr.Err)
		})
	}
}

func TestSubmit_AllowsDisjointRange(t *testing.T) {
	h := newHarness(t)
	h.submit(t, gameplay(0, 600))

	_, err := h.svc.Submit(context.Background(), h.caller, request(gameplay(600.5, 900)))

	assert.NoError(t, err)
}

func TestSubmit_FailedSegmentCanBeResubmitted(t *testing.T) {
	h := newHarness(t)
	h.analyzer.fn = func(_ context.Context, req analyzer.SegmentRequest, _ analyzer.ProgressFunc) (*analyzer.Result, error) {
		if req.StartTime == 0 {
			return nil, errors.New("backend exploded")
		}
		return handsResult(), nil
	}
	h.submit(t, gameplay(0, 600), gameplay(1000, 1600))
	h.queue.RunAll(context.Background())

	_, err := h.svc.Submit(context.Background(), h.caller, request(gameplay(0, 600)))
	require.NoError(t, err)

	_, err = h.svc.Submit(context.Background(), h.caller, request(gameplay(1000, 1600)))
	var derr *jobs.DuplicateAnalysisError
	assert.ErrorAs(t, err, &derr)
}

func TestSubmit_SuccessfulSegmentOfFailedJobStaysClaimed(t *testing.T) {
	h := newHarness(t)
	h.analyzer.fn = func(context.Context, analyzer.SegmentRequest, analyzer.ProgressFunc) (*analyzer.Result, error) {
		h.clock.Advance(11 * time.Minute)
		return handsResult(hand("1", models.HandPlayer{Name: "Alice"})), nil
	}
	first := h.submit(t, gameplay(0, 600), gameplay(700, 1300))
	h.queue.RunAll(context.Background())

	stored, _ := h.store.Job(first.ID)
	require.Equal(t, models.JobStatusFailed, stored.Status)
	require.Len(t, h.store.Hands, 1)

	_, err := h.svc.Submit(context.Background(), h.caller, request(gameplay(0, 600)))

	var derr *jobs.DuplicateAnalysisError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, first.ID, derr.JobID)

	_, err = h.svc.Submit(context.Background(), h.caller, request(gameplay(700, 1300)))
	assert.NoError(t, err, "the segment cut off by the deadline is free again")
}

func TestSubmit_ClaimLookupFailureRejects(t *testing.T) {
	h := newHarness(t)
	dbErr := errors.New("connection reset")
	h.store.Fail["ListSegmentClaims"] = dbErr

	_, err := h.svc.Submit(context.Background(), h.caller, request(gameplay(0, 60)))

	var derr *jobs.DuplicateAnalysisError
	require.ErrorAs(t, err, &derr)
	assert.ErrorIs(t, err, dbErr)
	assert.Empty(t, h.store.Jobs)
}

func TestSubmit_QueueFailureMarksJobFailed(t *testing.T) {
	h := newHarness(t)
	h.queue.err = worker.ErrQueueFull

	job, err := h.svc.Submit(context.Background(), h.caller, request(gameplay(0, 60)))

	assert.Nil(t, job)
	require.ErrorIs(t, err, jobs.ErrNotScheduled)
	require.Len(t, h.store.Jobs, 1)
	for _, stored := range h.store.Jobs {
		assert.Equal(t, models.JobStatusFailed, stored.Status)
		require.NotNil(t, stored.ErrorMessage)
		assert.Contains(t, *stored.ErrorMessage, "queue is full")
	}
}

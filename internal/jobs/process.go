package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/handhunter/internal/analyzer"
	"github.com/kiranshivaraju/handhunter/internal/persist"
	"github.com/kiranshivaraju/handhunter/internal/progress"
	"github.com/kiranshivaraju/handhunter/internal/store"
	"github.com/kiranshivaraju/handhunter/pkg/models"
)

// finalizeTimeout bounds the terminal writes, which run even after the
// job deadline has passed.
const finalizeTimeout = 30 * time.Second

// run is the mutable state of one job while it is processed.
type run struct {
	job      *models.Job
	videoURL string
	streamID uuid.UUID
	tracker  *progress.Tracker
	log      *slog.Logger

	results     []models.SegmentResult
	errs        []string
	failedHands int
	nextNumber  int
}

// Process drives a pending job through its segments to a terminal status.
// It never returns an error: every outcome is recorded on the job.
func (s *Service) Process(ctx context.Context, job *models.Job, videoURL string) {
	log := s.logger.With("job_id", job.ID)
	r := &run{
		job:      job,
		videoURL: videoURL,
		log:      log,
		tracker: progress.NewTracker(job.ID, len(job.Segments), s.store,
			progress.WithMirror(s.cache), progress.WithLogger(log)),
	}

	s.metrics.JobStarted()
	status := models.JobStatusFailed
	defer func() { s.metrics.JobFinished(status) }()

	defer func() {
		if rec := recover(); rec != nil {
			log.Error("panic processing job", "panic", rec, "stack", string(debug.Stack()))
			s.fail(ctx, r, fmt.Sprintf("panic: %v", rec))
			status = models.JobStatusFailed
		}
	}()

	// The deadline is checked between segments; a running segment is bounded
	// by the analyzer's own attempt timeout.
	deadline := s.now().Add(s.settings.JobTimeout)

	if err := s.store.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing); err != nil {
		log.Error("starting job", "error", err)
		s.fail(ctx, r, fmt.Sprintf("starting job: %v", err))
		return
	}
	job.Status = models.JobStatusProcessing
	r.tracker.Publish(ctx, models.JobStatusProcessing)
	log.Info("job processing started", "segments", len(job.Segments))

	streamID, err := s.resolveStream(ctx, job)
	if err != nil {
		log.Error("resolving target stream", "error", err)
		s.fail(ctx, r, fmt.Sprintf("resolving target stream: %v", err))
		return
	}
	r.streamID = streamID

	r.results = make([]models.SegmentResult, len(job.Segments))
	for i, seg := range job.Segments {
		r.results[i] = models.SegmentResult{
			JobID:        job.ID,
			SegmentID:    seg.ID,
			SegmentIndex: i,
			Status:       models.SegmentStatusPending,
		}
	}
	if err := s.store.CreateSegmentResults(ctx, r.results); err != nil {
		log.Error("creating segment results", "error", err)
		s.fail(ctx, r, fmt.Sprintf("creating segment results: %v", err))
		return
	}

	for i := range job.Segments {
		if s.now().After(deadline) {
			s.abortRemaining(ctx, r, i, ErrJobTimeout.Error())
			log.Warn("job deadline exceeded", "segment_index", i, "timeout", s.settings.JobTimeout)
			s.fail(ctx, r, fmt.Sprintf("%v after %s", ErrJobTimeout, s.settings.JobTimeout))
			return
		}
		if err := ctx.Err(); err != nil {
			msg := fmt.Sprintf("job cancelled: %v", err)
			s.abortRemaining(ctx, r, i, msg)
			log.Warn("job cancelled", "segment_index", i, "error", err)
			s.fail(ctx, r, msg)
			return
		}
		s.runSegment(ctx, r, i)
	}

	status = s.complete(ctx, r)
}

func (s *Service) resolveStream(ctx context.Context, job *models.Job) (uuid.UUID, error) {
	if job.StreamID != nil && *job.StreamID != uuid.Nil {
		return *job.StreamID, nil
	}
	id, err := s.store.ResolveUnsortedStream(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	if id == uuid.Nil {
		return uuid.Nil, errors.New("no stream available")
	}
	return id, nil
}

func (s *Service) runSegment(ctx context.Context, r *run, i int) {
	seg := r.job.Segments[i]
	res := &r.results[i]
	log := r.log.With("segment_index", i, "segment_id", seg.ID)
	started := s.now()

	res.Status = models.SegmentStatusProcessing
	s.saveSegment(ctx, log, res)
	r.tracker.StartSegment(ctx, i)

	out, err := s.analyzer.AnalyzeSegment(ctx, analyzer.SegmentRequest{
		VideoURL:  r.videoURL,
		StartTime: seg.Start,
		EndTime:   seg.End,
		Platform:  r.job.Platform,
	}, r.tracker.SegmentFunc(ctx, i))

	if err != nil {
		res.Status = models.SegmentStatusFailed
		res.ErrorMessage = err.Error()
		r.errs = append(r.errs, fmt.Sprintf("segment %s: %v", seg.ID, err))
		log.Error("segment analysis failed", "error", err)
	} else {
		pr := s.persister.Persist(ctx, out.Hands, persist.Target{
			StreamID:       r.streamID,
			JobID:          r.job.ID,
			Segment:        seg,
			StartingNumber: r.nextNumber,
		})
		r.nextNumber += len(out.Hands)
		r.failedHands += pr.FailedCount
		for _, e := range pr.Errors {
			r.errs = append(r.errs, fmt.Sprintf("segment %s: %s", seg.ID, e))
		}
		res.Status = models.SegmentStatusSuccess
		res.HandsFound = pr.SuccessCount
		log.Info("segment analyzed",
			"hands", len(out.Hands), "persisted", pr.SuccessCount, "failed", pr.FailedCount,
			"completed", out.Completed, "diagnostics", len(out.Diagnostics))
	}

	elapsed := s.now().Sub(started)
	res.ProcessingTime = elapsed.Seconds()
	s.saveSegment(ctx, log, res)
	r.tracker.FinishSegment(ctx, i, res.HandsFound)
	s.metrics.SegmentDone(res.Status, elapsed)
}

// saveSegment writes a segment result even if ctx has expired.
func (s *Service) saveSegment(ctx context.Context, log *slog.Logger, res *models.SegmentResult) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()
	if err := s.store.UpdateSegmentResult(wctx, res); err != nil {
		log.Warn("updating segment result", "status", res.Status, "error", err)
	}
}

// abortRemaining fails every pending segment from index from onward.
func (s *Service) abortRemaining(ctx context.Context, r *run, from int, msg string) {
	for i := from; i < len(r.results); i++ {
		res := &r.results[i]
		if res.Status != models.SegmentStatusPending {
			continue
		}
		res.Status = models.SegmentStatusFailed
		res.ErrorMessage = msg
		s.saveSegment(ctx, r.log, res)
	}
}

// complete records the terminal state once every segment was attempted.
// The job fails only when no segment succeeded.
func (s *Service) complete(ctx context.Context, r *run) string {
	result := r.summary()

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	if report, err := s.checkJobHands(fctx, r.job.ID); err != nil {
		r.log.Warn("consistency check skipped", "error", err)
	} else {
		result.Consistency = report.Summary()
		s.metrics.ConsistencyFindings(report.ErrorsByType)
	}

	status := models.JobStatusCompleted
	opts := []store.JobUpdateOption{
		store.WithResult(result),
		store.WithHandsFound(result.TotalHands),
		store.WithStreamID(r.streamID),
	}
	if result.SuccessfulSegments == 0 {
		status = models.JobStatusFailed
		opts = append(opts, store.WithErrorMessage("all segments failed"))
	}

	if err := s.store.UpdateJobStatus(fctx, r.job.ID, status, opts...); err != nil {
		r.log.Error("finishing job", "status", status, "error", err)
		return models.JobStatusFailed
	}
	r.job.Status = status
	r.tracker.Publish(fctx, status)
	r.log.Info("job finished", "status", status,
		"successful_segments", result.SuccessfulSegments, "failed_segments", result.FailedSegments,
		"hands", result.TotalHands)
	return status
}

// fail marks the job failed, keeping whatever segment results exist.
func (s *Service) fail(ctx context.Context, r *run, msg string) {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	opts := []store.JobUpdateOption{store.WithErrorMessage(msg)}
	if r.results != nil {
		result := r.summary()
		result.Errors = append(result.Errors, msg)
		opts = append(opts, store.WithResult(result), store.WithHandsFound(result.TotalHands))
	}
	if r.streamID != uuid.Nil {
		opts = append(opts, store.WithStreamID(r.streamID))
	}

	if err := s.store.UpdateJobStatus(fctx, r.job.ID, models.JobStatusFailed, opts...); err != nil {
		r.log.Error("marking job failed", "error", err)
		return
	}
	r.job.Status = models.JobStatusFailed
	r.tracker.Publish(fctx, models.JobStatusFailed)
}

func (r *run) summary() *models.JobResult {
	result := &models.JobResult{
		SegmentResults: append([]models.SegmentResult(nil), r.results...),
		FailedHands:    r.failedHands,
		Errors:         append([]string(nil), r.errs...),
	}
	for _, sr := range r.results {
		switch sr.Status {
		case models.SegmentStatusSuccess:
			result.SuccessfulSegments++
			result.TotalHands += sr.HandsFound
		case models.SegmentStatusFailed:
			result.FailedSegments++
		}
	}
	return result
}

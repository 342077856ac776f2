package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kiranshivaraju/handhunter/internal/analyzer"
	"github.com/kiranshivaraju/handhunter/internal/progress"
	"github.com/kiranshivaraju/handhunter/internal/store"
	"github.com/kiranshivaraju/handhunter/pkg/models"
)

// SubmitRequest is a caller's request to analyze part of a video.
type SubmitRequest struct {
	VideoURL string           `json:"video_url" validate:"required,url"`
	Platform string           `json:"platform"`
	StreamID *uuid.UUID       `json:"stream_id,omitempty"`
	Segments []models.Segment `json:"segments" validate:"required,min=1"`
}

// Submit runs every admission check, records a pending job and queues it.
// It returns as soon as the job is queued.
func (s *Service) Submit(ctx context.Context, caller uuid.UUID, req SubmitRequest) (*models.Job, error) {
	job, err := s.submit(ctx, caller, req)
	s.metrics.JobSubmitted(submitOutcome(err))
	return job, err
}

func (s *Service) submit(ctx context.Context, caller uuid.UUID, req SubmitRequest) (*models.Job, error) {
	if strings.TrimSpace(s.settings.BackendURL) == "" {
		return nil, ErrBackendNotConfigured
	}

	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}
	youtubeID, ok := ExtractVideoID(req.VideoURL)
	if !ok {
		return nil, invalid("video_url", "not a recognized YouTube URL")
	}
	if req.Platform != "" && !analyzer.KnownPlatform(req.Platform) {
		return nil, invalid("platform", "must be one of ept, pokerstars, triton, hustler, wsop")
	}

	if caller == uuid.Nil {
		return nil, &AuthError{Err: ErrUnauthenticated}
	}

	job, video, err := s.admit(ctx, caller, youtubeID, req)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, job.ID, models.JobSnapshot{Status: models.JobStatusPending})

	videoURL := video.URL
	if err := s.queue.Submit(func(ctx context.Context) { s.Process(ctx, job, videoURL) }); err != nil {
		msg := fmt.Sprintf("could not schedule job: %v", err)
		if uerr := s.store.UpdateJobStatus(context.WithoutCancel(ctx), job.ID, models.JobStatusFailed, store.WithErrorMessage(msg)); uerr != nil {
			s.logger.Error("marking unscheduled job failed", "job_id", job.ID, "error", uerr)
		}
		s.publish(ctx, job.ID, models.JobSnapshot{Status: models.JobStatusFailed, Progress: 100})
		return nil, fmt.Errorf("%w: %v", ErrNotScheduled, err)
	}

	s.logger.Info("job queued", "job_id", job.ID, "video_id", youtubeID, "segments", len(job.Segments), "platform", job.Platform)
	return job, nil
}

// admit runs the checks that read the caller's and the video's other jobs
// and records the new job. Admissions are serialized so two concurrent
// submissions cannot both pass the hourly limit or the overlap check.
func (s *Service) admit(ctx context.Context, caller uuid.UUID, youtubeID string, req SubmitRequest) (*models.Job, *models.Video, error) {
	s.admitMu.Lock()
	defer s.admitMu.Unlock()

	since := s.now().Add(-time.Hour)
	recent, err := s.store.CountRecentJobs(ctx, caller, since)
	if err != nil {
		return nil, nil, fmt.Errorf("counting recent jobs: %w", err)
	}
	if recent >= s.settings.RateLimitPerHour {
		return nil, nil, &RateLimitError{Current: recent, Limit: s.settings.RateLimitPerHour}
	}

	user, err := s.store.GetUser(ctx, caller)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, &AuthError{Err: ErrUnauthenticated}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("looking up caller role: %w", err)
	}
	if !AllowedRoles[user.Role] {
		return nil, nil, &AuthError{Role: user.Role, Err: ErrForbidden}
	}

	segments, err := s.gameplaySegments(req.Segments)
	if err != nil {
		return nil, nil, err
	}

	video, err := s.store.UpsertVideo(ctx, req.VideoURL, youtubeID)
	if err != nil {
		return nil, nil, fmt.Errorf("resolving video: %w", err)
	}

	if err := s.checkDuplicates(ctx, video.ID, segments); err != nil {
		return nil, nil, err
	}

	now := s.now().UTC()
	job := &models.Job{
		ID:        uuid.New(),
		VideoID:   video.ID,
		StreamID:  req.StreamID,
		CreatedBy: caller,
		Platform:  analyzer.ResolvePlatform(req.Platform, s.settings.DefaultPlatform),
		Status:    models.JobStatusPending,
		Segments:  segments,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, nil, fmt.Errorf("creating job: %w", err)
	}
	return job, video, nil
}

// gameplaySegments keeps gameplay segments, re-indexes them in order,
// gives each a unique id and checks their ranges.
func (s *Service) gameplaySegments(in []models.Segment) ([]models.Segment, error) {
	var out []models.Segment
	taken := make(map[string]bool)
	for _, seg := range in {
		if !strings.EqualFold(seg.Type, models.SegmentTypeGameplay) {
			continue
		}
		seg.Type = models.SegmentTypeGameplay
		seg.Index = len(out)
		if seg.ID != "" {
			if taken[seg.ID] {
				return nil, invalid("segments", "segment id %s is used more than once", seg.ID)
			}
			taken[seg.ID] = true
		}
		out = append(out, seg)
	}
	if len(out) == 0 {
		return nil, invalid("segments", "no gameplay segments to analyze")
	}

	// Generated ids skip any id the caller chose.
	for i := range out {
		if out[i].ID != "" {
			continue
		}
		n := out[i].Index + 1
		for taken[fmt.Sprintf("segment-%d", n)] {
			n++
		}
		out[i].ID = fmt.Sprintf("segment-%d", n)
		taken[out[i].ID] = true
	}

	for _, seg := range out {
		switch {
		case seg.Start < 0:
			return nil, invalid("segments", "segment %s starts before the video", seg.ID)
		case seg.End <= seg.Start:
			return nil, invalid("segments", "segment %s must end after it starts", seg.ID)
		case seg.Duration() > s.settings.MaxSegmentSeconds:
			return nil, invalid("segments", "segment %s is %gs long, the limit is %gs",
				seg.ID, seg.Duration(), s.settings.MaxSegmentSeconds)
		}
	}
	return out, nil
}

// checkDuplicates rejects any segment overlapping a claimed range of the
// same video. Errors from the lookup also reject.
func (s *Service) checkDuplicates(ctx context.Context, videoID uuid.UUID, segments []models.Segment) error {
	claims, err := s.store.ListSegmentClaims(ctx, videoID)
	if err != nil {
		return &DuplicateAnalysisError{Err: err}
	}
	for _, seg := range segments {
		for _, c := range claims {
			if seg.Overlaps(c.Segment) {
				return &DuplicateAnalysisError{JobID: c.JobID, Segment: seg, Existing: c.Segment}
			}
		}
	}
	return nil
}

func (s *Service) publish(ctx context.Context, id uuid.UUID, snap models.JobSnapshot) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetJobSnapshot(ctx, id, snap, progress.SnapshotTTL); err != nil {
		s.logger.Warn("mirroring job snapshot", "job_id", id, "error", err)
	}
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := jsonField(fe.Field())
		switch fe.Tag() {
		case "required":
			return invalid(field, "is required")
		case "min":
			return invalid(field, "must not be empty")
		case "url":
			return invalid(field, "must be a valid URL")
		}
		return invalid(field, "failed %s validation", fe.Tag())
	}
	return invalid("", "%v", err)
}

func jsonField(name string) string {
	switch name {
	case "VideoURL":
		return "video_url"
	case "Segments":
		return "segments"
	}
	return strings.ToLower(name)
}

func submitOutcome(err error) string {
	var (
		verr *ValidationError
		aerr *AuthError
		rerr *RateLimitError
		derr *DuplicateAnalysisError
	)
	switch {
	case err == nil:
		return "accepted"
	case errors.As(err, &verr):
		return "invalid"
	case errors.As(err, &aerr):
		return "unauthorized"
	case errors.As(err, &rerr):
		return "rate_limited"
	case errors.As(err, &derr):
		return "duplicate"
	}
	return "error"
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	mw "github.com/kiranshivaraju/handhunter/internal/api/middleware"
	"github.com/kiranshivaraju/handhunter/internal/api/response"
	"github.com/kiranshivaraju/handhunter/internal/jobs"
	"github.com/kiranshivaraju/handhunter/pkg/models"
)

// JobService defines what the job handlers depend on.
type JobService interface {
	Submit(ctx context.Context, caller uuid.UUID, req jobs.SubmitRequest) (*models.Job, error)
	Status(ctx context.Context, id uuid.UUID) (*jobs.View, error)
	Report(ctx context.Context, id uuid.UUID) (*models.ErrorReport, error)
}

type submitResponse struct {
	JobID    uuid.UUID        `json:"job_id"`
	Status   string           `json:"status"`
	Platform string           `json:"platform"`
	Segments []models.Segment `json:"segments"`
}

// NewSubmitJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
// It responds 202 as soon as the job is queued.
func NewSubmitJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, response.CodeUnauthorized, "Authentication required", nil)
			return
		}

		var req jobs.SubmitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, response.CodeInvalidRequest, "Invalid JSON body", nil)
			return
		}

		job, err := svc.Submit(r.Context(), caller, req)
		if err != nil {
			writeSubmitError(w, err)
			return
		}

		response.Accepted(w, submitResponse{
			JobID:    job.ID,
			Status:   job.Status,
			Platform: job.Platform,
			Segments: job.Segments,
		})
	}
}

func writeSubmitError(w http.ResponseWriter, err error) {
	var (
		verr *jobs.ValidationError
		aerr *jobs.AuthError
		rerr *jobs.RateLimitError
		derr *jobs.DuplicateAnalysisError
	)
	switch {
	case errors.As(err, &verr):
		var details any
		if verr.Field != "" {
			details = map[string]string{"field": verr.Field}
		}
		response.Error(w, response.CodeInvalidRequest, verr.Error(), details)
	case errors.As(err, &aerr) && errors.Is(err, jobs.ErrForbidden):
		response.Error(w, response.CodeForbidden, aerr.Error(), nil)
	case errors.As(err, &aerr):
		response.Error(w, response.CodeUnauthorized, aerr.Error(), nil)
	case errors.As(err, &rerr):
		response.Error(w, response.CodeRateLimited, rerr.Error(),
			map[string]int{"current": rerr.Current, "limit": rerr.Limit})
	case errors.As(err, &derr) && derr.Err != nil:
		slog.Error("duplicate analysis check failed", "error", derr.Err)
		response.Error(w, response.CodeDuplicateCheckFailed,
			"Could not verify that the segments were not already analyzed", nil)
	case errors.As(err, &derr):
		response.Error(w, response.CodeDuplicateAnalysis, derr.Error(), map[string]any{
			"job_id":     derr.JobID,
			"segment_id": derr.Segment.ID,
		})
	case errors.Is(err, jobs.ErrBackendNotConfigured):
		response.Error(w, response.CodeBackendNotConfigured,
			"The analyzer backend is not configured", nil)
	case errors.Is(err, jobs.ErrNotScheduled):
		response.Error(w, response.CodeQueueUnavailable,
			"The job could not be scheduled, try again later", nil)
	default:
		slog.Error("submitting job", "error", err)
		response.Internal(w)
	}
}

// NewJobStatusHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewJobStatusHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}

		view, err := svc.Status(r.Context(), id)
		if err != nil {
			writeLookupError(w, err, "reading job status")
			return
		}
		response.JSON(w, view)
	}
}

// NewJobReportHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/report.
func NewJobReportHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := jobID(w, r)
		if !ok {
			return
		}

		report, err := svc.Report(r.Context(), id)
		if err != nil {
			writeLookupError(w, err, "building job report")
			return
		}
		response.JSON(w, report)
	}
}

func jobID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, response.CodeInvalidJobID, "jobID must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

func writeLookupError(w http.ResponseWriter, err error, what string) {
	if jobs.IsNotFound(err) {
		response.Error(w, response.CodeJobNotFound, "Job not found", nil)
		return
	}
	slog.Error(what, "error", err)
	response.Internal(w)
}

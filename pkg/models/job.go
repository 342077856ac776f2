package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Job tracks one asynchronous video analysis. The API returns a job_id on
// POST /api/v1/jobs; the client polls GET /api/v1/jobs/{job_id} until the
// status is completed or failed.
type Job struct {
	ID           uuid.UUID  `db:"id"            json:"id"`
	VideoID      uuid.UUID  `db:"video_id"      json:"video_id"`
	StreamID     *uuid.UUID `db:"stream_id"     json:"stream_id,omitempty"`
	CreatedBy    uuid.UUID  `db:"created_by"    json:"created_by"`
	Platform     string     `db:"platform"      json:"platform"`
	Status       string     `db:"status"        json:"status"`
	Segments     []Segment  `db:"segments"      json:"segments"`
	Progress     int        `db:"progress"      json:"progress"`
	HandsFound   int        `db:"hands_found"   json:"hands_found"`
	Result       *JobResult `db:"result"        json:"result,omitempty"`
	ErrorMessage *string    `db:"error_message" json:"error_message,omitempty"`
	StartedAt    *time.Time `db:"started_at"    json:"started_at,omitempty"`
	CompletedAt  *time.Time `db:"completed_at"  json:"completed_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"    json:"updated_at"`
}

// IsTerminal reports whether the job can no longer change.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// JobResult is the structured outcome written when a job finishes.
type JobResult struct {
	SegmentResults     []SegmentResult     `json:"segment_results"`
	SuccessfulSegments int                 `json:"successful_segments"`
	FailedSegments     int                 `json:"failed_segments"`
	TotalHands         int                 `json:"total_hands"`
	FailedHands        int                 `json:"failed_hands"`
	Errors             []string            `json:"errors,omitempty"`
	Consistency        *ConsistencySummary `json:"consistency,omitempty"`
}

// ConsistencySummary is the advisory slice of an ErrorReport kept on a job.
type ConsistencySummary struct {
	TotalErrors       int              `json:"total_errors"`
	ErrorsByType      map[string]int   `json:"errors_by_type"`
	ErrorsBySeverity  map[string]int   `json:"errors_by_severity"`
	AverageConfidence float64          `json:"average_confidence"`
	Recommendations   []Recommendation `json:"recommendations,omitempty"`
}

// JobSnapshot is the lightweight progress view mirrored into the cache.
type JobSnapshot struct {
	Status     string `json:"status"`
	Progress   int    `json:"progress"`
	HandsFound int    `json:"hands_found"`
}

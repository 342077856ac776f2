package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/handhunter/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")
var ErrInvalidTransition = errors.New("invalid status transition")

// UnsortedStreamName is the fallback stream for jobs submitted without one.
const UnsortedStreamName = "Unsorted Hands"

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error

	UpsertVideo(ctx context.Context, url, youtubeID string) (*models.Video, error)
	ResolveUnsortedStream(ctx context.Context) (uuid.UUID, error)

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
	UpdateJobProgress(ctx context.Context, id uuid.UUID, progress, handsFound int) error
	CountRecentJobs(ctx context.Context, userID uuid.UUID, since time.Time) (int, error)
	ListSegmentClaims(ctx context.Context, videoID uuid.UUID) ([]SegmentClaim, error)
	FailStaleJobs(ctx context.Context, msg string) ([]uuid.UUID, error)

	CreateSegmentResults(ctx context.Context, results []models.SegmentResult) error
	UpdateSegmentResult(ctx context.Context, result *models.SegmentResult) error
	ListSegmentResults(ctx context.Context, jobID uuid.UUID) ([]models.SegmentResult, error)

	FindOrCreatePlayer(ctx context.Context, name, normalizedName string) (uuid.UUID, error)
	CreateHand(ctx context.Context, hand *models.PersistedHand) error
	ListJobHands(ctx context.Context, jobID uuid.UUID) ([]StoredHand, error)
	ListHandsSince(ctx context.Context, since time.Time, limit int) ([]StoredHand, error)
}

// SegmentClaim is a time range of a video held by another job. A segment
// of a pending or processing job always claims its range; a segment of a
// completed or failed job claims it only if it was analyzed successfully,
// since its hands are already stored.
type SegmentClaim struct {
	JobID     uuid.UUID
	JobStatus string
	Segment   models.Segment
}

func finished(status string) bool {
	return status == models.JobStatusCompleted || status == models.JobStatusFailed
}

// StoredHand is the slice of a persisted hand needed to re-run checks.
type StoredHand struct {
	ID        uuid.UUID
	JobID     uuid.UUID
	Number    string
	Raw       models.ExtractedHand
	CreatedAt time.Time
}

// JobUpdate holds the optional fields written alongside a status change.
type JobUpdate struct {
	ErrorMessage *string
	Result       *models.JobResult
	StreamID     *uuid.UUID
	HandsFound   *int
}

type JobUpdateOption func(*JobUpdate)

// ResolveJobUpdate applies opts to an empty JobUpdate.
func ResolveJobUpdate(opts ...JobUpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(p *JobUpdate) {
		p.ErrorMessage = &msg
	}
}

func WithResult(result *models.JobResult) JobUpdateOption {
	return func(p *JobUpdate) {
		p.Result = result
	}
}

func WithStreamID(id uuid.UUID) JobUpdateOption {
	return func(p *JobUpdate) {
		p.StreamID = &id
	}
}

func WithHandsFound(n int) JobUpdateOption {
	return func(p *JobUpdate) {
		p.HandsFound = &n
	}
}

var jobTransitions = map[string][]string{
	models.JobStatusPending:    {models.JobStatusProcessing, models.JobStatusFailed},
	models.JobStatusProcessing: {models.JobStatusCompleted, models.JobStatusFailed},
}

var segmentTransitions = map[string][]string{
	models.SegmentStatusPending:    {models.SegmentStatusProcessing, models.SegmentStatusFailed},
	models.SegmentStatusProcessing: {models.SegmentStatusSuccess, models.SegmentStatusFailed},
}

// CanTransitionJob reports whether a job may move from one status to another.
func CanTransitionJob(from, to string) bool {
	return allowed(jobTransitions, from, to)
}

// CanTransitionSegment reports whether a segment result may move from one
// status to another. Terminal statuses never change.
func CanTransitionSegment(from, to string) bool {
	return allowed(segmentTransitions, from, to)
}

func allowed(m map[string][]string, from, to string) bool {
	for _, a := range m[from] {
		if a == to {
			return true
		}
	}
	return false
}

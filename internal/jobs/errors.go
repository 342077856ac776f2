package jobs

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/handhunter/pkg/models"
)

var (
	ErrBackendNotConfigured = errors.New("analyzer backend url is not configured")
	ErrUnauthenticated      = errors.New("not authenticated")
	ErrForbidden            = errors.New("role is not allowed to submit analysis jobs")
	ErrJobTimeout           = errors.New("job deadline exceeded")
	ErrNotScheduled         = errors.New("job could not be scheduled")
)

// ValidationError rejects a submission before any job is created.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// AuthError wraps ErrUnauthenticated or ErrForbidden.
type AuthError struct {
	Role string
	Err  error
}

func (e *AuthError) Error() string {
	if e.Role != "" {
		return fmt.Sprintf("%v (role %q)", e.Err, e.Role)
	}
	return e.Err.Error()
}

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitError reports the caller's recent submissions against the limit.
type RateLimitError struct {
	Current int
	Limit   int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d of %d jobs in the last hour", e.Current, e.Limit)
}

// DuplicateAnalysisError rejects a segment that overlaps one already
// analyzed or in flight. When Err is set the check itself failed and the
// submission is rejected anyway.
type DuplicateAnalysisError struct {
	JobID    uuid.UUID
	Segment  models.Segment
	Existing models.Segment
	Err      error
}

func (e *DuplicateAnalysisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("duplicate analysis check failed: %v", e.Err)
	}
	return fmt.Sprintf("segment %s (%s-%s) overlaps %s-%s already claimed by job %s",
		e.Segment.ID, seconds(e.Segment.Start), seconds(e.Segment.End),
		seconds(e.Existing.Start), seconds(e.Existing.End), e.JobID)
}

func (e *DuplicateAnalysisError) Unwrap() error { return e.Err }

func seconds(f float64) string {
	return fmt.Sprintf("%gs", f)
}

// Package progress folds per-segment progress into one job-wide percentage.
package progress

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiranshivaraju/handhunter/pkg/models"
)

// MaxRunning is the highest value reported before the job is terminal.
const MaxRunning = 99

// Overall returns floor(i*(100/n) + (p/100)*(100/n)) capped at MaxRunning.
// index is zero-based and local is the segment's own percentage.
func Overall(index, total int, local float64) int {
	if total <= 0 {
		return 0
	}
	local = math.Max(0, math.Min(100, local))
	share := 100 / float64(total)
	v := int(math.Floor(float64(index)*share + local/100*share))
	switch {
	case v < 0:
		return 0
	case v > MaxRunning:
		return MaxRunning
	}
	return v
}

// Sink persists job progress.
type Sink interface {
	UpdateJobProgress(ctx context.Context, id uuid.UUID, progress, handsFound int) error
}

// Mirror publishes a job snapshot for cheap polling.
type Mirror interface {
	SetJobSnapshot(ctx context.Context, jobID uuid.UUID, snap models.JobSnapshot, ttl time.Duration) error
}

// SnapshotTTL bounds how long a mirrored snapshot outlives its last update.
const SnapshotTTL = time.Hour

// Tracker keeps the high-water mark for one job and writes it through
// only when it moves.
type Tracker struct {
	jobID  uuid.UUID
	total  int
	sink   Sink
	mirror Mirror
	logger *slog.Logger

	mu      sync.Mutex
	current int
	hands   int
}

type Option func(*Tracker)

func WithMirror(m Mirror) Option {
	return func(t *Tracker) { t.mirror = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

func NewTracker(jobID uuid.UUID, totalSegments int, sink Sink, opts ...Option) *Tracker {
	t := &Tracker{jobID: jobID, total: totalSegments, sink: sink, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartSegment writes the baseline for segment index.
func (t *Tracker) StartSegment(ctx context.Context, index int) {
	v := Overall(index, t.total, 0)

	t.mu.Lock()
	if v > t.current {
		t.current = v
	}
	v, hands := t.current, t.hands
	t.mu.Unlock()

	t.write(ctx, v, hands)
}

// Report folds a local percentage for segment index into the job total.
// Values below the high-water mark are dropped.
func (t *Tracker) Report(ctx context.Context, index int, local float64) {
	v := Overall(index, t.total, local)

	t.mu.Lock()
	if v <= t.current {
		t.mu.Unlock()
		return
	}
	t.current = v
	hands := t.hands
	t.mu.Unlock()

	t.write(ctx, v, hands)
}

// SegmentFunc binds Report to one segment for use as a progress callback.
func (t *Tracker) SegmentFunc(ctx context.Context, index int) func(float64) {
	return func(local float64) { t.Report(ctx, index, local) }
}

// FinishSegment adds the hands found by a segment and moves progress to
// the segment's end. It writes once per segment.
func (t *Tracker) FinishSegment(ctx context.Context, index, handsFound int) {
	v := Overall(index, t.total, 100)

	t.mu.Lock()
	t.hands += handsFound
	if v > t.current {
		t.current = v
	}
	v, hands := t.current, t.hands
	t.mu.Unlock()

	t.write(ctx, v, hands)
}

// Snapshot returns the tracked view of the job.
func (t *Tracker) Snapshot(status string) models.JobSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	p := t.current
	if status == models.JobStatusCompleted || status == models.JobStatusFailed {
		p = 100
	}
	return models.JobSnapshot{Status: status, Progress: p, HandsFound: t.hands}
}

// Current returns the high-water mark.
func (t *Tracker) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current
}

// Hands returns the running hand count.
func (t *Tracker) Hands() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hands
}

// Publish mirrors the snapshot for status.
func (t *Tracker) Publish(ctx context.Context, status string) {
	if t.mirror == nil {
		return
	}
	if err := t.mirror.SetJobSnapshot(ctx, t.jobID, t.Snapshot(status), SnapshotTTL); err != nil {
		t.logger.Warn("mirroring job snapshot", "job_id", t.jobID, "error", err)
	}
}

func (t *Tracker) write(ctx context.Context, progress, hands int) {
	if err := t.sink.UpdateJobProgress(ctx, t.jobID, progress, hands); err != nil {
		t.logger.Warn("updating job progress", "job_id", t.jobID, "progress", progress, "error", err)
	}
	t.Publish(ctx, models.JobStatusProcessing)
}

// Package jobs owns the analysis job lifecycle: submission checks,
// background processing of segments, and status reads.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kiranshivaraju/handhunter/internal/analyzer"
	"github.com/kiranshivaraju/handhunter/internal/cache"
	"github.com/kiranshivaraju/handhunter/internal/config"
	"github.com/kiranshivaraju/handhunter/internal/consistency"
	"github.com/kiranshivaraju/handhunter/internal/metrics"
	"github.com/kiranshivaraju/handhunter/internal/persist"
	"github.com/kiranshivaraju/handhunter/internal/store"
	"github.com/kiranshivaraju/handhunter/internal/worker"
	"github.com/kiranshivaraju/handhunter/pkg/models"
)

// AllowedRoles may submit analysis jobs.
var AllowedRoles = map[string]bool{
	models.RoleHighTemplar: true,
	models.RoleReporter:    true,
	models.RoleAdmin:       true,
}

const reportTTL = 24 * time.Hour

// Queue accepts background tasks without running them inline.
type Queue interface {
	Submit(task worker.Task) error
}

// Settings are the job limits taken from configuration.
type Settings struct {
	BackendURL        string
	DefaultPlatform   string
	JobTimeout        time.Duration
	RateLimitPerHour  int
	MaxSegmentSeconds float64
}

func SettingsFrom(cfg *config.Config) Settings {
	return Settings{
		BackendURL:        cfg.Analyzer.BackendURL,
		DefaultPlatform:   cfg.Analyzer.DefaultPlatform,
		JobTimeout:        cfg.Jobs.Timeout,
		RateLimitPerHour:  cfg.Jobs.RateLimitPerHour,
		MaxSegmentSeconds: cfg.Jobs.MaxSegmentSeconds,
	}
}

// Service submits and runs analysis jobs.
type Service struct {
	store     store.Store
	analyzer  analyzer.Client
	queue     Queue
	persister *persist.Persister
	validator *consistency.Validator
	validate  *validator.Validate
	cache     cache.Cache
	settings  Settings
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	admitMu sync.Mutex
}

type Option func(*Service)

func WithCache(c cache.Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithValidator(v *consistency.Validator) Option {
	return func(s *Service) { s.validator = v }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires a Service. The persister shares the service's logger
// and metrics.
func NewService(st store.Store, client analyzer.Client, q Queue, settings Settings, opts ...Option) (*Service, error) {
	s := &Service{
		store:    st,
		analyzer: client,
		queue:    q,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		settings: settings,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.validator == nil {
		v, err := consistency.New()
		if err != nil {
			return nil, fmt.Errorf("loading consistency rules: %w", err)
		}
		s.validator = v
	}
	s.persister = persist.New(st, persist.WithLogger(s.logger), persist.WithMetrics(s.metrics))
	return s, nil
}

// InterruptedMessage is recorded on jobs that were still pending or
// processing when the previous server process stopped.
const InterruptedMessage = "job interrupted by server restart"

// RecoverInterrupted fails every job left pending or processing by an
// earlier process so its unanalyzed ranges can be submitted again. It must
// run before the workers accept new jobs.
func (s *Service) RecoverInterrupted(ctx context.Context) (int, error) {
	ids, err := s.store.FailStaleJobs(ctx, InterruptedMessage)
	if err != nil {
		return 0, fmt.Errorf("failing interrupted jobs: %w", err)
	}
	for _, id := range ids {
		s.publish(ctx, id, models.JobSnapshot{Status: models.JobStatusFailed, Progress: 100})
	}
	if len(ids) > 0 {
		s.logger.Warn("failed jobs interrupted by restart", "count", len(ids))
	}
	return len(ids), nil
}

// View is what pollers see of a job.
type View struct {
	ID         uuid.UUID         `json:"id"`
	Status     string            `json:"status"`
	Progress   int               `json:"progress"`
	HandsFound int               `json:"hands_found"`
	Result     *models.JobResult `json:"result,omitempty"`
	Error      *string           `json:"error,omitempty"`
}

// Status returns the job's progress. While the job runs the cached
// snapshot is served; otherwise the stored record is read.
func (s *Service) Status(ctx context.Context, id uuid.UUID) (*View, error) {
	if s.cache != nil {
		snap, ok, err := s.cache.GetJobSnapshot(ctx, id)
		if err != nil {
			s.logger.Warn("reading job snapshot", "job_id", id, "error", err)
		}
		if ok && !isTerminal(snap.Status) {
			return &View{ID: id, Status: snap.Status, Progress: snap.Progress, HandsFound: snap.HandsFound}, nil
		}
	}

	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return &View{
		ID:         job.ID,
		Status:     job.Status,
		Progress:   job.Progress,
		HandsFound: job.HandsFound,
		Result:     job.Result,
		Error:      job.ErrorMessage,
	}, nil
}

// Report re-runs the consistency checks over the hands a job persisted.
// Reports of finished jobs are cached.
func (s *Service) Report(ctx context.Context, id uuid.UUID) (*models.ErrorReport, error) {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}

	key := cache.JobReportKey(id)
	if s.cache != nil && job.IsTerminal() {
		if b, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var report models.ErrorReport
			if err := json.Unmarshal(b, &report); err == nil {
				return &report, nil
			}
		}
	}

	report, err := s.checkJobHands(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && job.IsTerminal() {
		if b, err := json.Marshal(report); err == nil {
			if err := s.cache.Set(ctx, key, b, reportTTL); err != nil {
				s.logger.Warn("caching job report", "job_id", id, "error", err)
			}
		}
	}
	return report, nil
}

func (s *Service) checkJobHands(ctx context.Context, jobID uuid.UUID) (*models.ErrorReport, error) {
	hands, err := s.store.ListJobHands(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("listing job hands: %w", err)
	}
	inputs := make([]consistency.Input, len(hands))
	for i, h := range hands {
		inputs[i] = consistency.Input{ID: h.ID.String(), Hand: h.Raw}
	}
	return s.validator.AnalyzeLabeled(inputs), nil
}

func isTerminal(status string) bool {
	return status == models.JobStatusCompleted || status == models.JobStatusFailed
}

// IsNotFound reports whether err means the job does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}

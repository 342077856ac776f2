// Package audit periodically re-runs the consistency checks over recently
// persisted hands and caches the latest report.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kiranshivaraju/handhunter/internal/cache"
	"github.com/kiranshivaraju/handhunter/internal/consistency"
	"github.com/kiranshivaraju/handhunter/internal/metrics"
	"github.com/kiranshivaraju/handhunter/internal/store"
	"github.com/kiranshivaraju/handhunter/pkg/models"
)

// MaxHands caps how many hands a single audit reads.
const MaxHands = 5000

// ReportTTL keeps a report around across a few missed runs.
const ReportTTL = 72 * time.Hour

type Store interface {
	ListHandsSince(ctx context.Context, since time.Time, limit int) ([]store.StoredHand, error)
}

// Report is one audit run as served by the API.
type Report struct {
	RanAt  time.Time           `json:"ran_at"`
	Since  time.Time           `json:"since"`
	Hands  int                 `json:"hands"`
	Report *models.ErrorReport `json:"report"`
}

type Auditor struct {
	store     Store
	cache     cache.Cache
	validator *consistency.Validator
	window    time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	cron      *cron.Cron
}

type Option func(*Auditor)

func WithLogger(l *slog.Logger) Option {
	return func(a *Auditor) { a.logger = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Auditor) { a.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(a *Auditor) { a.now = now }
}

func New(st Store, c cache.Cache, v *consistency.Validator, window time.Duration, opts ...Option) *Auditor {
	a := &Auditor{
		store:     st,
		cache:     c,
		validator: v,
		window:    window,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run audits hands persisted within the window and caches the result.
func (a *Auditor) Run(ctx context.Context) (*Report, error) {
	now := a.now().UTC()
	since := now.Add(-a.window)

	hands, err := a.store.ListHandsSince(ctx, since, MaxHands)
	if err != nil {
		return nil, fmt.Errorf("listing hands since %s: %w", since.Format(time.RFC3339), err)
	}

	inputs := make([]consistency.Input, len(hands))
	for i, h := range hands {
		inputs[i] = consistency.Input{ID: h.ID.String(), Hand: h.Raw}
	}
	report := &Report{
		RanAt:  now,
		Since:  since,
		Hands:  len(hands),
		Report: a.validator.AnalyzeLabeled(inputs),
	}
	a.metrics.ConsistencyFindings(report.Report.ErrorsByType)

	b, err := json.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("encoding audit report: %w", err)
	}
	if err := a.cache.Set(ctx, cache.AuditReportKey, b, ReportTTL); err != nil {
		return report, fmt.Errorf("caching audit report: %w", err)
	}

	a.logger.Info("consistency audit finished",
		"hands", report.Hands, "errors", report.Report.TotalErrors, "since", since)
	return report, nil
}

// Start runs the audit on schedule until Stop is called. Standard
// five-field expressions and descriptors such as "@every 6h" are accepted.
func (a *Auditor) Start(ctx context.Context, schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("parsing audit schedule %q: %w", schedule, err)
	}

	a.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := a.cron.AddFunc(schedule, func() { a.runScheduled(ctx) }); err != nil {
		return fmt.Errorf("scheduling audit: %w", err)
	}
	a.cron.Start()
	a.logger.Info("consistency audit scheduled", "schedule", schedule, "window", a.window)
	return nil
}

func (a *Auditor) runScheduled(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			a.logger.Error("panic in consistency audit", "panic", rec)
		}
	}()
	if _, err := a.Run(ctx); err != nil {
		a.logger.Error("consistency audit failed", "error", err)
	}
}

// Stop halts scheduling and waits for a running audit to finish or ctx to
// expire.
func (a *Auditor) Stop(ctx context.Context) {
	if a.cron == nil {
		return
	}
	select {
	case <-a.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Latest reads the most recent cached report.
func Latest(ctx context.Context, c cache.Cache) (*Report, bool, error) {
	b, ok, err := c.Get(ctx, cache.AuditReportKey)
	if err != nil || !ok {
		return nil, false, err
	}
	var r Report
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, false, fmt.Errorf("decoding audit report: %w", err)
	}
	return &r, true, nil
}

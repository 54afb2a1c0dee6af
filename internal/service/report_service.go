package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ecosense/enviro-api/internal/dto"
	"github.com/ecosense/enviro-api/internal/models"
	appErrors "github.com/ecosense/enviro-api/pkg/errors"
	"github.com/ecosense/enviro-api/pkg/jobs"
	"github.com/ecosense/enviro-api/pkg/random"
)

const statusCacheKeyPrefix = "report:status:"

type reportStore interface {
	Create(ctx context.Context, report *models.Report) error
	GetByID(ctx context.Context, id string) (*models.Report, error)
	ListValidating(ctx context.Context, limit int) ([]models.Report, error)
	CountByStatus(ctx context.Context) ([]models.StatusCount, error)
	CountByCategory(ctx context.Context) ([]models.CategoryCount, error)
}

type decisionScheduler interface {
	EnqueueAfter(job jobs.Job, delay time.Duration) error
}

type snapshotCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
}

type cacheMetrics interface {
	RecordCacheOperation(hit bool, duration time.Duration)
}

// ReportServiceConfig tunes intake and scheduling behaviour.
type ReportServiceConfig struct {
	DelayMin       time.Duration
	DelayMax       time.Duration
	StatusCacheTTL time.Duration
}

// ReportService owns submission intake and the idempotent status query
// surface. The decision itself runs on the validation queue; intake
// never blocks on it.
type ReportService struct {
	repo     reportStore
	queue    decisionScheduler
	cache    snapshotCache
	metrics  cacheMetrics
	rand     random.Source
	validate *validator.Validate
	logger   *zap.Logger
	cfg      ReportServiceConfig
}

// NewReportService constructs the report service.
func NewReportService(repo reportStore, queue decisionScheduler, cache snapshotCache, metrics cacheMetrics, rand random.Source, logger *zap.Logger, cfg ReportServiceConfig) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rand == nil {
		rand = random.TimeSeeded()
	}
	if cfg.DelayMin <= 0 {
		cfg.DelayMin = 3 * time.Second
	}
	if cfg.DelayMax < cfg.DelayMin {
		cfg.DelayMax = cfg.DelayMin
	}
	if cfg.StatusCacheTTL <= 0 {
		cfg.StatusCacheTTL = 10 * time.Minute
	}
	return &ReportService{
		repo:     repo,
		queue:    queue,
		cache:    cache,
		metrics:  metrics,
		rand:     rand,
		validate: newSubmissionValidator(),
		logger:   logger,
		cfg:      cfg,
	}
}

// newSubmissionValidator builds the service's own validator instance so
// the binding tag name is not imposed on any shared validator.
func newSubmissionValidator() *validator.Validate {
	v := validator.New()
	v.SetTagName("binding")
	return v
}

// Submit validates the request, creates the report in the validating
// state and schedules its decision. The response returns immediately
// with an estimated time to a verdict.
func (s *ReportService) Submit(ctx context.Context, req dto.SubmitReportRequest) (*dto.SubmitReportResponse, error) {
	if err := s.validateSubmission(req); err != nil {
		return nil, err
	}

	submittedAt := time.Now().UTC()
	if req.Timestamp != nil && !req.Timestamp.IsZero() {
		submittedAt = req.Timestamp.UTC()
	}

	report := &models.Report{
		ID:           newReportID(submittedAt),
		Category:     req.Category,
		Latitude:     *req.Latitude,
		Longitude:    *req.Longitude,
		LocationName: req.LocationName,
		Status:       models.StatusValidating,
		SubmittedBy:  req.SubmittedBy,
		SubmittedAt:  submittedAt,
	}
	if req.Classification != nil {
		report.Classification = models.Classification{
			Confidence: req.Classification.Confidence,
			Scores:     req.Classification.Scores,
			Indicators: req.Classification.Indicators,
		}
	}

	if err := s.repo.Create(ctx, report); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create report")
	}

	delay := s.decisionDelay()
	if err := s.queue.EnqueueAfter(jobs.Job{ID: report.ID, Type: "report-decision"}, delay); err != nil {
		// The record exists; recovery re-enqueues validating reports on
		// restart, so surfacing an error here would double-charge the
		// submitter for a transient queue problem.
		s.logger.Sugar().Errorw("failed to schedule decision", "report_id", report.ID, "error", err)
	}

	return &dto.SubmitReportResponse{
		ReportID:                  report.ID,
		Status:                    "submitted",
		ValidationStatus:          report.Status,
		EstimatedVerificationTime: s.estimatedVerificationSeconds(),
		Message:                   models.StatusMessage(report.Status),
	}, nil
}

// GetStatus returns the current snapshot of a report. It is read-only:
// it never advances the lifecycle or re-runs the policy. Terminal
// snapshots are served from cache when available.
func (s *ReportService) GetStatus(ctx context.Context, id string) (*dto.ReportStatusResponse, error) {
	if id == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "report id required")
	}

	if s.cache != nil {
		var cached dto.ReportStatusResponse
		start := time.Now()
		err := s.cache.Get(ctx, statusCacheKeyPrefix+id, &cached)
		if s.metrics != nil {
			s.metrics.RecordCacheOperation(err == nil, time.Since(start))
		}
		if err == nil {
			return &cached, nil
		}
	}

	report, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if appErrors.FromError(err).Code == appErrors.ErrNotFound.Code {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load report")
	}

	resp := snapshotOf(report)
	if s.cache != nil && report.Status.Terminal() {
		if err := s.cache.Set(ctx, statusCacheKeyPrefix+id, resp, s.cfg.StatusCacheTTL); err != nil {
			s.logger.Sugar().Warnw("failed to cache report snapshot", "report_id", id, "error", err)
		}
	}
	return resp, nil
}

// Stats aggregates validation outcomes across all reports.
func (s *ReportService) Stats(ctx context.Context) (*dto.ReportStatsResponse, error) {
	statusCounts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate report statuses")
	}
	categoryCounts, err := s.repo.CountByCategory(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate report categories")
	}

	resp := &dto.ReportStatsResponse{
		Categories:  make(map[string]int, len(categoryCounts)),
		GeneratedAt: time.Now().UTC(),
	}
	for _, row := range statusCounts {
		resp.Total += row.Count
		switch row.Status {
		case models.StatusValidating:
			resp.Validating = row.Count
		case models.StatusVerified:
			resp.Verified = row.Count
		case models.StatusNeedsReview:
			resp.NeedsReview = row.Count
		case models.StatusRejected:
			resp.Rejected = row.Count
		}
	}
	for _, row := range categoryCounts {
		resp.Categories[string(row.Category)] = row.Count
	}
	if resp.Total > 0 {
		resp.VerificationRate = math.Round(float64(resp.Verified)/float64(resp.Total)*1000) / 10
	}
	return resp, nil
}

// RecoverPendingDecisions re-enqueues reports stuck in validating, e.g.
// after a restart or a decision job that exhausted its retries. Reports
// still inside their scheduled delay window are left alone. The
// conditional store write keeps the transition exactly-once even if a
// report ends up enqueued twice.
func (s *ReportService) RecoverPendingDecisions(ctx context.Context) {
	pending, err := s.repo.ListValidating(ctx, 500)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover validating reports", "error", err)
		return
	}
	cutoff := time.Now().UTC().Add(-2 * s.cfg.DelayMax)
	requeued := 0
	for _, report := range pending {
		if report.SubmittedAt.After(cutoff) {
			continue
		}
		if err := s.queue.EnqueueAfter(jobs.Job{ID: report.ID, Type: "report-decision"}, s.decisionDelay()); err != nil {
			s.logger.Sugar().Warnw("failed to requeue pending decision", "report_id", report.ID, "error", err)
			continue
		}
		requeued++
	}
	if requeued > 0 {
		s.logger.Sugar().Infow("requeued pending decisions", "count", requeued)
	}
}

// StartRecovery sweeps for stranded validating reports on a fixed
// interval, so a report whose decision job was lost mid-flight still
// reaches a verdict without waiting for the next restart.
func (s *ReportService) StartRecovery(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.RecoverPendingDecisions(ctx)
			}
		}
	}()
}

func (s *ReportService) decisionDelay() time.Duration {
	window := s.cfg.DelayMax - s.cfg.DelayMin
	if window <= 0 {
		return s.cfg.DelayMin
	}
	return s.cfg.DelayMin + time.Duration(s.rand.Float64()*float64(window))
}

func (s *ReportService) estimatedVerificationSeconds() int {
	return int(math.Ceil(s.cfg.DelayMax.Seconds()))
}

func (s *ReportService) validateSubmission(req dto.SubmitReportRequest) error {
	if !models.ValidCategory(req.Category) {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown category %q", req.Category))
	}
	if err := s.validate.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid report payload")
	}
	return nil
}

// newReportID allocates a globally unique identifier: a UTC timestamp
// prefix for rough ordering plus a random suffix against collisions
// under concurrent submissions.
func newReportID(at time.Time) string {
	return fmt.Sprintf("RPT-%s-%s", at.UTC().Format("20060102150405"), uuid.NewString()[:8])
}

func snapshotOf(report *models.Report) *dto.ReportStatusResponse {
	return &dto.ReportStatusResponse{
		ReportID:    report.ID,
		Status:      report.Status,
		Category:    report.Category,
		Latitude:    report.Latitude,
		Longitude:   report.Longitude,
		Location:    report.LocationName,
		Confidence:  report.Classification.Confidence,
		Reason:      report.Reason,
		RewardCoins: report.RewardCoins,
		SubmittedAt: report.SubmittedAt,
		DecidedAt:   report.DecidedAt,
		Message:     models.StatusMessage(report.Status),
	}
}

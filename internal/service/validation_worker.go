package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/ecosense/enviro-api/internal/models"
	appErrors "github.com/ecosense/enviro-api/pkg/errors"
	"github.com/ecosense/enviro-api/pkg/jobs"
)

type decisionStore interface {
	GetByID(ctx context.Context, id string) (*models.Report, error)
	Decide(ctx context.Context, id string, verdict models.ReportStatus, reason string, rewardCoins int, decidedAt time.Time) error
}

type decisionMetrics interface {
	RecordDecision(verdict models.ReportStatus)
	RecordDecisionConflict()
}

// ValidationWorker resolves queued decisions. Each job carries only the
// report id; the worker reloads the row so it always acts on current
// state. The conditional store write makes the verdict exactly-once
// even when the same report is enqueued more than once.
type ValidationWorker struct {
	repo    decisionStore
	policy  *DecisionPolicy
	rewards *RewardCalculator
	cache   snapshotCache
	metrics decisionMetrics
	logger  *zap.Logger
	ttl     time.Duration
}

// NewValidationWorker constructs the worker.
func NewValidationWorker(repo decisionStore, policy *DecisionPolicy, rewards *RewardCalculator, cache snapshotCache, metrics decisionMetrics, logger *zap.Logger, statusCacheTTL time.Duration) *ValidationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if statusCacheTTL <= 0 {
		statusCacheTTL = 10 * time.Minute
	}
	return &ValidationWorker{
		repo:    repo,
		policy:  policy,
		rewards: rewards,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		ttl:     statusCacheTTL,
	}
}

// Handle processes one decision job.
func (w *ValidationWorker) Handle(ctx context.Context, job jobs.Job) error {
	report, err := w.repo.GetByID(ctx, job.ID)
	if err != nil {
		if errors.Is(err, appErrors.ErrNotFound) {
			w.logger.Sugar().Warnw("decision job for unknown report", "report_id", job.ID)
			return nil
		}
		return fmt.Errorf("load report %s: %w", job.ID, err)
	}

	if report.Status.Terminal() {
		w.discardDuplicate(report.ID, report.Status)
		return nil
	}

	verdict, reason := w.policy.Decide(report.Category, report.Classification)

	rewardCoins := 0
	if verdict == models.StatusVerified {
		rewardCoins = w.rewards.Calculate(report.Category, report.Classification.Confidence)
	}

	decidedAt := time.Now().UTC()
	if err := w.repo.Decide(ctx, report.ID, verdict, reason, rewardCoins, decidedAt); err != nil {
		if errors.Is(err, appErrors.ErrAlreadyDecided) {
			// Another worker won the race. The computed verdict and
			// reward are discarded; the stored verdict stands.
			w.discardDuplicate(report.ID, verdict)
			return nil
		}
		return fmt.Errorf("decide report %s: %w", report.ID, err)
	}

	if w.metrics != nil {
		w.metrics.RecordDecision(verdict)
	}
	w.logger.Sugar().Infow("report decided",
		"report_id", report.ID,
		"verdict", verdict,
		"confidence", report.Classification.Confidence,
		"reward_coins", rewardCoins,
	)

	report.Status = verdict
	report.Reason = &reason
	report.RewardCoins = rewardCoins
	report.DecidedAt = &decidedAt
	w.primeCache(ctx, report)
	return nil
}

func (w *ValidationWorker) discardDuplicate(reportID string, verdict models.ReportStatus) {
	if w.metrics != nil {
		w.metrics.RecordDecisionConflict()
	}
	w.logger.Sugar().Infow("duplicate decision attempt discarded", "report_id", reportID, "discarded_verdict", verdict)
}

func (w *ValidationWorker) primeCache(ctx context.Context, report *models.Report) {
	if w.cache == nil {
		return
	}
	if err := w.cache.Set(ctx, statusCacheKeyPrefix+report.ID, snapshotOf(report), w.ttl); err != nil {
		w.logger.Sugar().Warnw("failed to prime status cache", "report_id", report.ID, "error", err)
	}
}

package service

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecosense/enviro-api/internal/dto"
	"github.com/ecosense/enviro-api/internal/models"
	appErrors "github.com/ecosense/enviro-api/pkg/errors"
	"github.com/ecosense/enviro-api/pkg/jobs"
)

type reportStoreStub struct {
	mu      sync.Mutex
	reports map[string]*models.Report
	err     error
}

func newReportStoreStub() *reportStoreStub {
	return &reportStoreStub{reports: make(map[string]*models.Report)}
}

func (s *reportStoreStub) Create(ctx context.Context, report *models.Report) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *report
	s.reports[report.ID] = &clone
	return nil
}

func (s *reportStoreStub) GetByID(ctx context.Context, id string) (*models.Report, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	report, ok := s.reports[id]
	if !ok {
		return nil, appErrors.ErrNotFound
	}
	clone := *report
	return &clone, nil
}

func (s *reportStoreStub) Decide(ctx context.Context, id string, verdict models.ReportStatus, reason string, rewardCoins int, decidedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	report, ok := s.reports[id]
	if !ok {
		return appErrors.ErrNotFound
	}
	if report.Status != models.StatusValidating {
		return appErrors.ErrAlreadyDecided
	}
	report.Status = verdict
	report.Reason = &reason
	report.RewardCoins = rewardCoins
	report.DecidedAt = &decidedAt
	return nil
}

func (s *reportStoreStub) ListValidating(ctx context.Context, limit int) ([]models.Report, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []models.Report
	for _, report := range s.reports {
		if report.Status == models.StatusValidating {
			pending = append(pending, *report)
		}
	}
	return pending, nil
}

func (s *reportStoreStub) CountByStatus(ctx context.Context) ([]models.StatusCount, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[models.ReportStatus]int)
	for _, report := range s.reports {
		counts[report.Status]++
	}
	var rows []models.StatusCount
	for status, count := range counts {
		rows = append(rows, models.StatusCount{Status: status, Count: count})
	}
	return rows, nil
}

func (s *reportStoreStub) CountByCategory(ctx context.Context) ([]models.CategoryCount, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[models.Category]int)
	for _, report := range s.reports {
		counts[report.Category]++
	}
	var rows []models.CategoryCount
	for category, count := range counts {
		rows = append(rows, models.CategoryCount{Category: category, Count: count})
	}
	return rows, nil
}

type schedulerStub struct {
	mu     sync.Mutex
	jobs   []jobs.Job
	delays []time.Duration
	err    error
}

func (s *schedulerStub) EnqueueAfter(job jobs.Job, delay time.Duration) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	s.delays = append(s.delays, delay)
	return nil
}

type cacheStub struct {
	mu      sync.Mutex
	entries map[string][]byte
	getErr  error
}

func newCacheStub() *cacheStub {
	return &cacheStub{entries: make(map[string][]byte)}
}

func (c *cacheStub) Get(ctx context.Context, key string, dest interface{}) error {
	if c.getErr != nil {
		return c.getErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (c *cacheStub) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = raw
	return nil
}

func floatPtr(v float64) *float64 { return &v }

func newTestReportService(repo *reportStoreStub, queue *schedulerStub, cache *cacheStub) *ReportService {
	return NewReportService(repo, queue, cache, nil, &fixedRand{values: []float64{0.5}}, nil, ReportServiceConfig{
		DelayMin: 3 * time.Second,
		DelayMax: 8 * time.Second,
	})
}

func TestReportServiceSubmitSchedulesDecision(t *testing.T) {
	repo := newReportStoreStub()
	queue := &schedulerStub{}
	svc := newTestReportService(repo, queue, newCacheStub())

	resp, err := svc.Submit(context.Background(), dto.SubmitReportRequest{
		Category:  models.CategoryWater,
		Latitude:  floatPtr(-6.2),
		Longitude: floatPtr(106.8),
		Classification: &dto.ClassificationPayload{
			Confidence: 0.85,
			Indicators: []string{"foam on surface"},
		},
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(resp.ReportID, "RPT-"), "unexpected id %s", resp.ReportID)
	assert.Equal(t, "submitted", resp.Status)
	assert.Equal(t, models.StatusValidating, resp.ValidationStatus)
	assert.Equal(t, 8, resp.EstimatedVerificationTime)
	assert.NotEmpty(t, resp.Message)

	stored, err := repo.GetByID(context.Background(), resp.ReportID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusValidating, stored.Status)
	assert.Equal(t, 0.85, stored.Classification.Confidence)
	assert.Equal(t, 0, stored.RewardCoins)
	assert.Nil(t, stored.DecidedAt)

	require.Len(t, queue.jobs, 1)
	assert.Equal(t, resp.ReportID, queue.jobs[0].ID)
	assert.GreaterOrEqual(t, queue.delays[0], 3*time.Second)
	assert.LessOrEqual(t, queue.delays[0], 8*time.Second)
}

func TestReportServiceSubmitUniqueIDs(t *testing.T) {
	svc := newTestReportService(newReportStoreStub(), &schedulerStub{}, newCacheStub())
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		resp, err := svc.Submit(context.Background(), dto.SubmitReportRequest{
			Category:  models.CategoryAir,
			Latitude:  floatPtr(1.0),
			Longitude: floatPtr(2.0),
		})
		require.NoError(t, err)
		assert.False(t, seen[resp.ReportID], "duplicate id %s", resp.ReportID)
		seen[resp.ReportID] = true
	}
}

func TestReportServiceSubmitRejectsUnknownCategory(t *testing.T) {
	svc := newTestReportService(newReportStoreStub(), &schedulerStub{}, newCacheStub())
	_, err := svc.Submit(context.Background(), dto.SubmitReportRequest{
		Category:  "noise",
		Latitude:  floatPtr(1.0),
		Longitude: floatPtr(2.0),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReportServiceSubmitRejectsBadCoordinates(t *testing.T) {
	svc := newTestReportService(newReportStoreStub(), &schedulerStub{}, newCacheStub())

	_, err := svc.Submit(context.Background(), dto.SubmitReportRequest{
		Category:  models.CategoryAir,
		Longitude: floatPtr(2.0),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.Submit(context.Background(), dto.SubmitReportRequest{
		Category:  models.CategoryAir,
		Latitude:  floatPtr(120.0),
		Longitude: floatPtr(2.0),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReportServiceSubmitRejectsOutOfRangeConfidence(t *testing.T) {
	svc := newTestReportService(newReportStoreStub(), &schedulerStub{}, newCacheStub())
	_, err := svc.Submit(context.Background(), dto.SubmitReportRequest{
		Category:       models.CategoryAir,
		Latitude:       floatPtr(1.0),
		Longitude:      floatPtr(2.0),
		Classification: &dto.ClassificationPayload{Confidence: 1.2},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestReportServiceGetStatusNotFound(t *testing.T) {
	svc := newTestReportService(newReportStoreStub(), &schedulerStub{}, newCacheStub())
	_, err := svc.GetStatus(context.Background(), "RPT-unknown")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestReportServiceGetStatusIsIdempotent(t *testing.T) {
	repo := newReportStoreStub()
	svc := newTestReportService(repo, &schedulerStub{}, newCacheStub())

	resp, err := svc.Submit(context.Background(), dto.SubmitReportRequest{
		Category:  models.CategoryGarbage,
		Latitude:  floatPtr(1.0),
		Longitude: floatPtr(2.0),
	})
	require.NoError(t, err)

	first, err := svc.GetStatus(context.Background(), resp.ReportID)
	require.NoError(t, err)
	second, err := svc.GetStatus(context.Background(), resp.ReportID)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, models.StatusValidating, first.Status)
}

func TestReportServiceGetStatusCachesTerminalOnly(t *testing.T) {
	repo := newReportStoreStub()
	cache := newCacheStub()
	svc := newTestReportService(repo, &schedulerStub{}, cache)

	resp, err := svc.Submit(context.Background(), dto.SubmitReportRequest{
		Category:  models.CategoryWater,
		Latitude:  floatPtr(1.0),
		Longitude: floatPtr(2.0),
	})
	require.NoError(t, err)

	_, err = svc.GetStatus(context.Background(), resp.ReportID)
	require.NoError(t, err)
	assert.Empty(t, cache.entries, "validating snapshots must not be cached")

	require.NoError(t, repo.Decide(context.Background(), resp.ReportID, models.StatusVerified, "ok", 15, time.Now().UTC()))

	status, err := svc.GetStatus(context.Background(), resp.ReportID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusVerified, status.Status)
	assert.Len(t, cache.entries, 1)

	// Subsequent reads hit the cache.
	repo.err = assert.AnError
	cached, err := svc.GetStatus(context.Background(), resp.ReportID)
	require.NoError(t, err)
	assert.Equal(t, status.ReportID, cached.ReportID)
	assert.Equal(t, models.StatusVerified, cached.Status)
}

func TestReportServiceStats(t *testing.T) {
	repo := newReportStoreStub()
	svc := newTestReportService(repo, &schedulerStub{}, newCacheStub())

	now := time.Now().UTC()
	seed := []struct {
		status   models.ReportStatus
		category models.Category
	}{
		{models.StatusVerified, models.CategoryWater},
		{models.StatusVerified, models.CategoryAir},
		{models.StatusRejected, models.CategoryGarbage},
		{models.StatusValidating, models.CategoryWater},
	}
	for i, row := range seed {
		repo.reports[string(rune('a'+i))] = &models.Report{
			ID:          string(rune('a' + i)),
			Category:    row.category,
			Status:      row.status,
			SubmittedAt: now,
		}
	}

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Verified)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 1, stats.Validating)
	assert.Equal(t, 0, stats.NeedsReview)
	assert.Equal(t, 50.0, stats.VerificationRate)
	assert.Equal(t, 2, stats.Categories["water"])
}

func TestReportServiceRecoverPendingDecisions(t *testing.T) {
	repo := newReportStoreStub()
	queue := &schedulerStub{}
	svc := newTestReportService(repo, queue, newCacheStub())

	now := time.Now().UTC()
	stale := now.Add(-time.Minute)
	repo.reports["RPT-a"] = &models.Report{ID: "RPT-a", Category: models.CategoryAir, Status: models.StatusValidating, SubmittedAt: stale}
	decided := now
	reason := "done"
	repo.reports["RPT-b"] = &models.Report{ID: "RPT-b", Category: models.CategoryAir, Status: models.StatusVerified, Reason: &reason, DecidedAt: &decided, SubmittedAt: stale}
	// Still inside its scheduled window; must not be requeued.
	repo.reports["RPT-c"] = &models.Report{ID: "RPT-c", Category: models.CategoryAir, Status: models.StatusValidating, SubmittedAt: now}

	svc.RecoverPendingDecisions(context.Background())

	require.Len(t, queue.jobs, 1)
	assert.Equal(t, "RPT-a", queue.jobs[0].ID)
}

func TestReportServiceRecoveryLoopRequeuesStrandedReports(t *testing.T) {
	repo := newReportStoreStub()
	queue := &schedulerStub{}
	svc := NewReportService(repo, queue, newCacheStub(), nil, &fixedRand{values: []float64{0.5}}, nil, ReportServiceConfig{
		DelayMin: 10 * time.Millisecond,
		DelayMax: 10 * time.Millisecond,
	})

	repo.reports["RPT-stuck"] = &models.Report{
		ID:          "RPT-stuck",
		Category:    models.CategoryWater,
		Status:      models.StatusValidating,
		SubmittedAt: time.Now().UTC().Add(-time.Minute),
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.StartRecovery(ctx, 20*time.Millisecond)

	require.Eventually(t, func() bool {
		queue.mu.Lock()
		defer queue.mu.Unlock()
		return len(queue.jobs) >= 1 && queue.jobs[0].ID == "RPT-stuck"
	}, 2*time.Second, 10*time.Millisecond)
}

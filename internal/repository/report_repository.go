package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ecosense/enviro-api/internal/models"
	appErrors "github.com/ecosense/enviro-api/pkg/errors"
)

const reportColumns = `id, category, latitude, longitude, location_name, classification, status, reason, reward_coins, submitted_by, submitted_at, decided_at`

// ReportRepository persists citizen reports.
type ReportRepository struct {
	db *sqlx.DB
}

// NewReportRepository constructs the repository.
func NewReportRepository(db *sqlx.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

// Create inserts a new report row. The caller allocates the ID; intake
// owns the id format.
func (r *ReportRepository) Create(ctx context.Context, report *models.Report) error {
	if report.Status == "" {
		report.Status = models.StatusValidating
	}
	if report.SubmittedAt.IsZero() {
		report.SubmittedAt = time.Now().UTC()
	}
	const query = `INSERT INTO reports (id, category, latitude, longitude, location_name, classification, status, reason, reward_coins, submitted_by, submitted_at, decided_at)
VALUES (:id, :category, :latitude, :longitude, :location_name, :classification, :status, :reason, :reward_coins, :submitted_by, :submitted_at, :decided_at)`
	if _, err := r.db.NamedExecContext(ctx, query, report); err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	return nil
}

// GetByID returns a report row by its identifier.
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE id = $1`
	var report models.Report
	if err := r.db.GetContext(ctx, &report, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, fmt.Errorf("get report: %w", err)
	}
	return &report, nil
}

// Decide applies the terminal transition. The guard on the current
// status makes the write conditional: a report that already carries a
// verdict is left untouched and ErrAlreadyDecided is returned so the
// caller can discard its computed result.
func (r *ReportRepository) Decide(ctx context.Context, id string, verdict models.ReportStatus, reason string, rewardCoins int, decidedAt time.Time) error {
	if !verdict.Terminal() {
		return fmt.Errorf("decide report: %q is not a terminal status", verdict)
	}
	const query = `UPDATE reports SET status = $1, reason = $2, reward_coins = $3, decided_at = $4 WHERE id = $5 AND status = $6`
	res, err := r.db.ExecContext(ctx, query, verdict, reason, rewardCoins, decidedAt, id, models.StatusValidating)
	if err != nil {
		return fmt.Errorf("decide report: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("decide report rows affected: %w", err)
	}
	if affected == 0 {
		return appErrors.ErrAlreadyDecided
	}
	return nil
}

// ListValidating fetches reports awaiting a verdict, oldest first
// (used for cold start recovery so no report stays non-terminal).
func (r *ReportRepository) ListValidating(ctx context.Context, limit int) ([]models.Report, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + reportColumns + ` FROM reports WHERE status = 'validating' ORDER BY submitted_at ASC LIMIT $1`
	var reports []models.Report
	if err := r.db.SelectContext(ctx, &reports, query, limit); err != nil {
		return nil, fmt.Errorf("list validating reports: %w", err)
	}
	return reports, nil
}

// VerifiedFilter narrows the verified-report listing used by exports.
type VerifiedFilter struct {
	Category *models.Category
	From     *time.Time
	To       *time.Time
	Limit    int
}

// ListVerified returns verified reports matching the filter, most
// recently decided first.
func (r *ReportRepository) ListVerified(ctx context.Context, filter VerifiedFilter) ([]models.Report, error) {
	query := `SELECT ` + reportColumns + ` FROM reports WHERE status = 'verified'`
	args := make([]interface{}, 0, 4)
	argPos := 1

	if filter.Category != nil {
		query += fmt.Sprintf(" AND category = $%d", argPos)
		args = append(args, *filter.Category)
		argPos++
	}
	if filter.From != nil {
		query += fmt.Sprintf(" AND decided_at >= $%d", argPos)
		args = append(args, *filter.From)
		argPos++
	}
	if filter.To != nil {
		query += fmt.Sprintf(" AND decided_at < $%d", argPos)
		args = append(args, *filter.To)
		argPos++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 10000
	}
	query += fmt.Sprintf(" ORDER BY decided_at DESC LIMIT $%d", argPos)
	args = append(args, limit)

	var reports []models.Report
	if err := r.db.SelectContext(ctx, &reports, query, args...); err != nil {
		return nil, fmt.Errorf("list verified reports: %w", err)
	}
	return reports, nil
}

// CountByStatus aggregates report counts per lifecycle status.
func (r *ReportRepository) CountByStatus(ctx context.Context) ([]models.StatusCount, error) {
	const query = `SELECT status, COUNT(*) AS count FROM reports GROUP BY status`
	var rows []models.StatusCount
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("count reports by status: %w", err)
	}
	return rows, nil
}

// CountByCategory aggregates report counts per category.
func (r *ReportRepository) CountByCategory(ctx context.Context) ([]models.CategoryCount, error) {
	const query = `SELECT category, COUNT(*) AS count FROM reports GROUP BY category`
	var rows []models.CategoryCount
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("count reports by category: %w", err)
	}
	return rows, nil
}

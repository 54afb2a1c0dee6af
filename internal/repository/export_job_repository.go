package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ecosense/enviro-api/internal/models"
)

// ExportJobRepository persists export job metadata.
type ExportJobRepository struct {
	db *sqlx.DB
}

// NewExportJobRepository constructs the repository.
func NewExportJobRepository(db *sqlx.DB) *ExportJobRepository {
	return &ExportJobRepository{db: db}
}

// Create inserts a new export job row with generated defaults.
func (r *ExportJobRepository) Create(ctx context.Context, job *models.ExportJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.ExportStatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO export_jobs (id, params, status, progress, result_url, created_at, finished_at, error_message)
VALUES (:id, :params, :status, :progress, :result_url, :created_at, :finished_at, :error_message)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create export job: %w", err)
	}
	return nil
}

// GetByID returns a job row by its identifier.
func (r *ExportJobRepository) GetByID(ctx context.Context, id string) (*models.ExportJob, error) {
	const query = `SELECT id, params, status, progress, result_url, created_at, finished_at, error_message
FROM export_jobs WHERE id = $1`
	var job models.ExportJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, fmt.Errorf("get export job: %w", err)
	}
	return &job, nil
}

// UpdateExportJobParams defines the mutable fields.
type UpdateExportJobParams struct {
	Status       *models.ExportStatus
	Progress     *int
	ResultURL    *string
	ErrorMessage *string
	FinishedAt   *time.Time
}

// Update persists the provided changes for a job row.
func (r *ExportJobRepository) Update(ctx context.Context, id string, params UpdateExportJobParams) error {
	set := make([]string, 0, 5)
	args := make([]interface{}, 0, 6)
	argPos := 1

	if params.Status != nil {
		set = append(set, fmt.Sprintf("status = $%d", argPos))
		args = append(args, *params.Status)
		argPos++
	}
	if params.Progress != nil {
		set = append(set, fmt.Sprintf("progress = $%d", argPos))
		args = append(args, *params.Progress)
		argPos++
	}
	if params.ResultURL != nil {
		set = append(set, fmt.Sprintf("result_url = $%d", argPos))
		args = append(args, *params.ResultURL)
		argPos++
	}
	if params.ErrorMessage != nil {
		set = append(set, fmt.Sprintf("error_message = $%d", argPos))
		args = append(args, *params.ErrorMessage)
		argPos++
	}
	if params.FinishedAt != nil {
		set = append(set, fmt.Sprintf("finished_at = $%d", argPos))
		args = append(args, *params.FinishedAt)
		argPos++
	}

	if len(set) == 0 {
		return nil
	}

	query := fmt.Sprintf("UPDATE export_jobs SET %s WHERE id = $%d", strings.Join(set, ", "), argPos)
	args = append(args, id)

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update export job: %w", err)
	}
	return nil
}

// ListQueued fetches queued jobs (used for cold start recovery).
func (r *ExportJobRepository) ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error) {
	if limit <= 0 {
		limit = 20
	}
	const query = `SELECT id, params, status, progress, result_url, created_at, finished_at, error_message
FROM export_jobs WHERE status = 'QUEUED' ORDER BY created_at ASC LIMIT $1`
	var jobs []models.ExportJob
	if err := r.db.SelectContext(ctx, &jobs, query, limit); err != nil {
		return nil, fmt.Errorf("list queued export jobs: %w", err)
	}
	return jobs, nil
}

// ListFinishedBefore retrieves completed jobs prior to cutoff for cleanup.
func (r *ExportJobRepository) ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, params, status, progress, result_url, created_at, finished_at, error_message
FROM export_jobs WHERE status = 'FINISHED' AND finished_at IS NOT NULL AND finished_at < $1 ORDER BY finished_at ASC LIMIT $2`
	var jobs []models.ExportJob
	if err := r.db.SelectContext(ctx, &jobs, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("list finished export jobs: %w", err)
	}
	return jobs, nil
}

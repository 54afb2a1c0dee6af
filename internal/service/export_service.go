package service

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ecosense/enviro-api/internal/dto"
	"github.com/ecosense/enviro-api/internal/models"
	"github.com/ecosense/enviro-api/internal/repository"
	appErrors "github.com/ecosense/enviro-api/pkg/errors"
	"github.com/ecosense/enviro-api/pkg/export"
	"github.com/ecosense/enviro-api/pkg/jobs"
	"github.com/ecosense/enviro-api/pkg/storage"
)

type verifiedReportLister interface {
	ListVerified(ctx context.Context, filter repository.VerifiedFilter) ([]models.Report, error)
}

type exportJobStore interface {
	Create(ctx context.Context, job *models.ExportJob) error
	GetByID(ctx context.Context, id string) (*models.ExportJob, error)
	Update(ctx context.Context, id string, params repository.UpdateExportJobParams) error
	ListQueued(ctx context.Context, limit int) ([]models.ExportJob, error)
	ListFinishedBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.ExportJob, error)
}

type exportScheduler interface {
	Enqueue(job jobs.Job) error
}

type fileStorage interface {
	Save(name string, data []byte) (string, error)
	Open(rel string) (*os.File, error)
	Delete(rel string) error
	Sweep(ttl time.Duration) ([]string, error)
}

type csvRenderer interface {
	Render(doc export.Document) ([]byte, error)
}

type pdfRenderer interface {
	Render(doc export.Document) ([]byte, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportService enqueues verified-report exports, renders them and
// manages the signed download artifacts.
type ExportService struct {
	reports verifiedReportLister
	store   exportJobStore
	queue   exportScheduler
	storage fileStorage
	csv     csvRenderer
	pdf     pdfRenderer
	signer  *storage.TicketSigner
	logger  *zap.Logger
	cfg     ExportConfig
}

// NewExportService constructs an ExportService.
func NewExportService(reports verifiedReportLister, store exportJobStore, queue exportScheduler, fs fileStorage, signer *storage.TicketSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		reports: reports,
		store:   store,
		queue:   queue,
		storage: fs,
		csv:     csv,
		pdf:     pdf,
		signer:  signer,
		logger:  logger,
		cfg:     cfg,
	}
}

// Enqueue creates an export job row and schedules its generation.
func (s *ExportService) Enqueue(ctx context.Context, req dto.ExportRequest) (*dto.ExportJobResponse, error) {
	if req.Format != models.ExportFormatCSV && req.Format != models.ExportFormatPDF {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", req.Format))
	}
	if req.Category != nil && !models.ValidCategory(*req.Category) {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown category %q", *req.Category))
	}
	if req.From != nil && req.To != nil && req.To.Before(*req.From) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date range end precedes start")
	}

	job := &models.ExportJob{
		Params: models.ExportJobParams{
			Category: req.Category,
			From:     req.From,
			To:       req.To,
			Format:   req.Format,
		},
		Status: models.ExportStatusQueued,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create export job")
	}

	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "verified-export"}); err != nil {
		s.logger.Sugar().Errorw("failed to schedule export job", "job_id", job.ID, "error", err)
	}

	return &dto.ExportJobResponse{ID: job.ID, Status: job.Status, Progress: job.Progress}, nil
}

// Status returns the job row projected for API consumption.
func (s *ExportService) Status(ctx context.Context, id string) (*dto.ExportStatusResponse, error) {
	job, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export job not found")
	}
	return &dto.ExportStatusResponse{
		ID:        job.ID,
		Status:    job.Status,
		Progress:  job.Progress,
		ResultURL: job.ResultURL,
		Error:     job.ErrorMessage,
	}, nil
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ExportFormat
	ExpiresAt    time.Time
}

// Generate renders the dataset for a job and stores the artifact.
func (s *ExportService) Generate(ctx context.Context, job *models.ExportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	doc, err := s.buildDocument(ctx, job.Params)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ExportFormatCSV:
		payload, err = s.csv.Render(doc)
	case models.ExportFormatPDF:
		payload, err = s.pdf.Render(doc)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	relPath, err := s.storage.Save(s.buildFilename(job), payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Mint(job.ID, string(job.Params.Format), relPath)
	if err != nil {
		return nil, err
	}
	prefix := strings.TrimRight(s.cfg.APIPrefix, "/")
	if prefix == "" {
		prefix = "/api/v1"
	}

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          fmt.Sprintf("%s/export/%s", prefix, token),
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// VerifyTicket validates a download token and returns its metadata.
func (s *ExportService) VerifyTicket(token string, allowExpired bool) (*storage.DownloadTicket, error) {
	return s.signer.Verify(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// RecoverQueued re-enqueues jobs left queued across a restart.
func (s *ExportService) RecoverQueued(ctx context.Context) {
	queued, err := s.store.ListQueued(ctx, 50)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover queued export jobs", "error", err)
		return
	}
	for _, job := range queued {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: "verified-export"}); err != nil {
			s.logger.Sugar().Warnw("failed to requeue export job", "job_id", job.ID, "error", err)
		}
	}
	if len(queued) > 0 {
		s.logger.Sugar().Infow("requeued export jobs", "count", len(queued))
	}
}

// Cleanup removes expired artifacts and marks their finished jobs.
func (s *ExportService) Cleanup(ctx context.Context) {
	deleted, err := s.storage.Sweep(s.cfg.ResultTTL)
	if err != nil {
		s.logger.Sugar().Warnw("export cleanup failed", "error", err)
		return
	}
	if len(deleted) > 0 {
		s.logger.Sugar().Infow("expired export artifacts removed", "count", len(deleted))
	}

	cutoff := time.Now().UTC().Add(-s.cfg.ResultTTL)
	expired, err := s.store.ListFinishedBefore(ctx, cutoff, 50)
	if err != nil {
		s.logger.Sugar().Warnw("failed to list expired export jobs", "error", err)
		return
	}
	for _, job := range expired {
		empty := ""
		if err := s.store.Update(ctx, job.ID, repository.UpdateExportJobParams{ResultURL: &empty}); err != nil {
			s.logger.Sugar().Warnw("failed to clear expired export result", "job_id", job.ID, "error", err)
		}
	}
}

// StartCleanup launches a background loop invoking Cleanup at the given interval.
func (s *ExportService) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Cleanup(ctx)
			}
		}
	}()
}

func (s *ExportService) buildFilename(job *models.ExportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	categoryPart := "all"
	if job.Params.Category != nil {
		categoryPart = string(*job.Params.Category)
	}
	return fmt.Sprintf("verified_%s_%s.%s", categoryPart, timestamp, job.Params.Format)
}

func (s *ExportService) buildDocument(ctx context.Context, params models.ExportJobParams) (export.Document, error) {
	reports, err := s.reports.ListVerified(ctx, repository.VerifiedFilter{
		Category: params.Category,
		From:     params.From,
		To:       params.To,
	})
	if err != nil {
		return export.Document{}, err
	}

	doc := export.Document{
		Title:       "Verified Reports",
		GeneratedAt: time.Now().UTC(),
		Rows:        make([]export.ReportRow, 0, len(reports)),
	}
	if params.Category != nil {
		doc.Title = fmt.Sprintf("Verified Reports (%s)", *params.Category)
	}
	for _, report := range reports {
		doc.Rows = append(doc.Rows, export.ReportRow{
			ReportID:    report.ID,
			Category:    string(report.Category),
			Latitude:    report.Latitude,
			Longitude:   report.Longitude,
			Location:    report.LocationName,
			Confidence:  report.Classification.Confidence,
			RewardCoins: report.RewardCoins,
			DecidedAt:   report.DecidedAt,
		})
	}
	return doc, nil
}

// ExportWorker drives queued export jobs through their lifecycle.
type ExportWorker struct {
	exports *ExportService
	store   exportJobStore
	logger  *zap.Logger
}

// NewExportWorker constructs the worker.
func NewExportWorker(exports *ExportService, store exportJobStore, logger *zap.Logger) *ExportWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportWorker{exports: exports, store: store, logger: logger}
}

// Handle generates the artifact for one export job.
func (w *ExportWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.store.GetByID(ctx, job.ID)
	if err != nil {
		w.logger.Sugar().Warnw("export job not found", "job_id", job.ID, "error", err)
		return nil
	}
	if record.Status == models.ExportStatusFinished {
		return nil
	}

	processing := models.ExportStatusProcessing
	progress := 10
	if err := w.store.Update(ctx, record.ID, repository.UpdateExportJobParams{Status: &processing, Progress: &progress}); err != nil {
		return fmt.Errorf("mark export job processing: %w", err)
	}

	result, err := w.exports.Generate(ctx, record)
	if err != nil {
		failed := models.ExportStatusFailed
		message := err.Error()
		now := time.Now().UTC()
		if updateErr := w.store.Update(ctx, record.ID, repository.UpdateExportJobParams{
			Status:       &failed,
			ErrorMessage: &message,
			FinishedAt:   &now,
		}); updateErr != nil {
			w.logger.Sugar().Errorw("failed to mark export job failed", "job_id", record.ID, "error", updateErr)
		}
		return fmt.Errorf("generate export %s: %w", record.ID, err)
	}

	finished := models.ExportStatusFinished
	done := 100
	now := time.Now().UTC()
	if err := w.store.Update(ctx, record.ID, repository.UpdateExportJobParams{
		Status:     &finished,
		Progress:   &done,
		ResultURL:  &result.URL,
		FinishedAt: &now,
	}); err != nil {
		return fmt.Errorf("mark export job finished: %w", err)
	}

	w.logger.Sugar().Infow("export job finished", "job_id", record.ID, "format", result.Format, "path", result.RelativePath)
	return nil
}

package dto

import (
	"time"

	"github.com/ecosense/enviro-api/internal/models"
)

// ExportRequest captures POST /exports payload.
type ExportRequest struct {
	Category *models.Category    `json:"category,omitempty"`
	From     *time.Time          `json:"from,omitempty"`
	To       *time.Time          `json:"to,omitempty"`
	Format   models.ExportFormat `json:"format" binding:"required"`
}

// ExportJobResponse is returned after enqueueing an export.
type ExportJobResponse struct {
	ID       string              `json:"id"`
	Status   models.ExportStatus `json:"status"`
	Progress int                 `json:"progress"`
}

// ExportStatusResponse exposes export job progress metadata.
type ExportStatusResponse struct {
	ID        string              `json:"id"`
	Status    models.ExportStatus `json:"status"`
	Progress  int                 `json:"progress"`
	ResultURL *string             `json:"resultUrl,omitempty"`
	Error     *string             `json:"error,omitempty"`
}

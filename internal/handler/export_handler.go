package handler

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ecosense/enviro-api/internal/dto"
	appErrors "github.com/ecosense/enviro-api/pkg/errors"
	"github.com/ecosense/enviro-api/pkg/response"
	"github.com/ecosense/enviro-api/pkg/storage"
)

type exportService interface {
	Enqueue(ctx context.Context, req dto.ExportRequest) (*dto.ExportJobResponse, error)
	Status(ctx context.Context, id string) (*dto.ExportStatusResponse, error)
	VerifyTicket(token string, allowExpired bool) (*storage.DownloadTicket, error)
	Open(relPath string) (*os.File, error)
}

// ExportHandler exposes verified-report export endpoints.
type ExportHandler struct {
	service exportService
}

// NewExportHandler constructs the handler.
func NewExportHandler(service exportService) *ExportHandler {
	return &ExportHandler{service: service}
}

// Create godoc
// @Summary Enqueue a verified-report export
// @Tags Exports
// @Accept json
// @Produce json
// @Param payload body dto.ExportRequest true "Export parameters"
// @Success 202 {object} response.Envelope
// @Router /exports [post]
func (h *ExportHandler) Create(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "export service not configured"))
		return
	}
	var req dto.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid export payload"))
		return
	}
	job, err := h.service.Enqueue(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, job)
}

// Status godoc
// @Summary Poll export job status
// @Tags Exports
// @Produce json
// @Param id path string true "Export job ID"
// @Success 200 {object} response.Envelope
// @Router /exports/{id} [get]
func (h *ExportHandler) Status(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "export service not configured"))
		return
	}
	job, err := h.service.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// Download godoc
// @Summary Download an export artifact via signed token
// @Tags Exports
// @Produce octet-stream
// @Param token path string true "Signed token"
// @Success 200 {file} binary
// @Router /export/{token} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "export service not configured"))
		return
	}
	token := strings.TrimSpace(c.Param("token"))
	if token == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}
	ticket, err := h.service.VerifyTicket(token, false)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token"))
		return
	}
	file, err := h.service.Open(ticket.Path)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrNotFound, "export file no longer available"))
		return
	}
	defer file.Close() //nolint:errcheck

	info, err := file.Stat()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to stat export file"))
		return
	}
	filename := filepath.Base(ticket.Path)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.DataFromReader(http.StatusOK, info.Size(), contentTypeFor(ticket.Format, filename), file, nil)
}

func contentTypeFor(format, filename string) string {
	switch {
	case format == "csv" || strings.HasSuffix(filename, ".csv"):
		return "text/csv"
	case format == "pdf" || strings.HasSuffix(filename, ".pdf"):
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ecosense/enviro-api/internal/dto"
	appErrors "github.com/ecosense/enviro-api/pkg/errors"
	"github.com/ecosense/enviro-api/pkg/response"
)

type reportService interface {
	Submit(ctx context.Context, req dto.SubmitReportRequest) (*dto.SubmitReportResponse, error)
	GetStatus(ctx context.Context, id string) (*dto.ReportStatusResponse, error)
	Stats(ctx context.Context) (*dto.ReportStatsResponse, error)
}

// ReportHandler exposes the report intake and polling endpoints.
type ReportHandler struct {
	service reportService
}

// NewReportHandler constructs the handler.
func NewReportHandler(service reportService) *ReportHandler {
	return &ReportHandler{service: service}
}

// Submit godoc
// @Summary Submit an environmental report
// @Tags Reports
// @Accept json
// @Produce json
// @Param payload body dto.SubmitReportRequest true "Report payload"
// @Success 202 {object} response.Envelope
// @Router /reports [post]
func (h *ReportHandler) Submit(c *gin.Context) {
	var req dto.SubmitReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid report payload"))
		return
	}
	result, err := h.service.Submit(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, result)
}

// Status godoc
// @Summary Poll report validation status
// @Tags Reports
// @Produce json
// @Param id path string true "Report ID"
// @Success 200 {object} response.Envelope
// @Router /reports/{id}/status [get]
func (h *ReportHandler) Status(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "report id required"))
		return
	}
	result, err := h.service.GetStatus(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Stats godoc
// @Summary Aggregate validation statistics
// @Tags Reports
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /reports/stats [get]
func (h *ReportHandler) Stats(c *gin.Context) {
	result, err := h.service.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

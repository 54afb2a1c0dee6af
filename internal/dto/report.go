package dto

import (
	"time"

	"github.com/ecosense/enviro-api/internal/models"
)

// ClassificationPayload mirrors the external image classifier output.
// The whole block is optional; a missing classification is treated as
// zero confidence downstream.
type ClassificationPayload struct {
	Confidence float64            `json:"confidence" binding:"gte=0,lte=1"`
	Scores     map[string]float64 `json:"scores,omitempty"`
	Indicators []string           `json:"indicators,omitempty"`
}

// SubmitReportRequest captures POST /reports payload. Coordinates are
// pointers so that a missing field is distinguishable from 0.
type SubmitReportRequest struct {
	Category       models.Category        `json:"category" binding:"required"`
	Latitude       *float64               `json:"latitude" binding:"required,gte=-90,lte=90"`
	Longitude      *float64               `json:"longitude" binding:"required,gte=-180,lte=180"`
	LocationName   string                 `json:"location_name,omitempty"`
	Classification *ClassificationPayload `json:"classification,omitempty"`
	SubmittedBy    string                 `json:"submitted_by,omitempty"`
	Timestamp      *time.Time             `json:"timestamp,omitempty"`
}

// SubmitReportResponse is returned immediately after intake; the
// decision itself resolves asynchronously.
type SubmitReportResponse struct {
	ReportID                  string              `json:"report_id"`
	Status                    string              `json:"status"`
	ValidationStatus          models.ReportStatus `json:"validation_status"`
	EstimatedVerificationTime int                 `json:"estimated_verification_time"`
	Message                   string              `json:"message"`
}

// ReportStatusResponse is the full snapshot served to pollers.
type ReportStatusResponse struct {
	ReportID    string              `json:"report_id"`
	Status      models.ReportStatus `json:"status"`
	Category    models.Category     `json:"category"`
	Latitude    float64             `json:"latitude"`
	Longitude   float64             `json:"longitude"`
	Location    string              `json:"location,omitempty"`
	Confidence  float64             `json:"confidence_score"`
	Reason      *string             `json:"validation_reason,omitempty"`
	RewardCoins int                 `json:"reward_coins"`
	SubmittedAt time.Time           `json:"submitted_at"`
	DecidedAt   *time.Time          `json:"decided_at,omitempty"`
	Message     string              `json:"message"`
}

// ReportStatsResponse summarises pipeline outcomes.
type ReportStatsResponse struct {
	Total            int            `json:"total"`
	Validating       int            `json:"validating"`
	Verified         int            `json:"verified"`
	NeedsReview      int            `json:"needs_review"`
	Rejected         int            `json:"rejected"`
	VerificationRate float64        `json:"verification_rate"`
	Categories       map[string]int `json:"categories"`
	GeneratedAt      time.Time      `json:"generated_at"`
}

package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Category enumerates the closed set of reportable environmental issues.
type Category string

const (
	CategoryAir          Category = "air"
	CategoryGarbage      Category = "garbage"
	CategoryConstruction Category = "construction"
	CategoryWater        Category = "water"
)

// ValidCategory reports whether c belongs to the closed category set.
func ValidCategory(c Category) bool {
	switch c {
	case CategoryAir, CategoryGarbage, CategoryConstruction, CategoryWater:
		return true
	default:
		return false
	}
}

// ReportStatus captures the report validation lifecycle. Validating is
// the only initial state; the other three are terminal and a report
// transitions at most once.
type ReportStatus string

const (
	StatusValidating  ReportStatus = "validating"
	StatusVerified    ReportStatus = "verified"
	StatusNeedsReview ReportStatus = "needs-review"
	StatusRejected    ReportStatus = "rejected"
)

// Terminal reports whether the status admits no further transition.
func (s ReportStatus) Terminal() bool {
	switch s {
	case StatusVerified, StatusNeedsReview, StatusRejected:
		return true
	default:
		return false
	}
}

// Classification is the image classifier output attached at submission
// time. It is stored once and never mutated; absence is represented by
// zero confidence and an empty indicator list.
type Classification struct {
	Confidence float64            `json:"confidence"`
	Scores     map[string]float64 `json:"scores,omitempty"`
	Indicators []string           `json:"indicators,omitempty"`
}

// Value marshals the classification to JSON for persistence.
func (c Classification) Value() (driver.Value, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal classification: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the classification struct.
func (c *Classification) Scan(value interface{}) error {
	if value == nil {
		*c = Classification{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for Classification", value)
	}
	if len(data) == 0 {
		*c = Classification{}
		return nil
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("unmarshal classification: %w", err)
	}
	return nil
}

// Report is the central entity of the validation pipeline. Reason,
// RewardCoins and DecidedAt are written exactly once, together with the
// terminal status transition.
type Report struct {
	ID             string         `db:"id" json:"report_id"`
	Category       Category       `db:"category" json:"category"`
	Latitude       float64        `db:"latitude" json:"latitude"`
	Longitude      float64        `db:"longitude" json:"longitude"`
	LocationName   string         `db:"location_name" json:"location_name,omitempty"`
	Classification Classification `db:"classification" json:"classification"`
	Status         ReportStatus   `db:"status" json:"status"`
	Reason         *string        `db:"reason" json:"reason,omitempty"`
	RewardCoins    int            `db:"reward_coins" json:"reward_coins"`
	SubmittedBy    string         `db:"submitted_by" json:"submitted_by,omitempty"`
	SubmittedAt    time.Time      `db:"submitted_at" json:"submitted_at"`
	DecidedAt      *time.Time     `db:"decided_at" json:"decided_at,omitempty"`
}

// StatusMessage returns the user-facing explanation shown to pollers.
func StatusMessage(s ReportStatus) string {
	switch s {
	case StatusValidating:
		return "AI validation in progress. This usually takes a few seconds."
	case StatusVerified:
		return "Report verified! Your contribution helps monitor environmental conditions."
	case StatusNeedsReview:
		return "Report queued for expert review. This may take a few minutes."
	case StatusRejected:
		return "Unable to verify this report. Consider resubmitting with clearer evidence."
	default:
		return "Processing your report..."
	}
}

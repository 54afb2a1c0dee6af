package export

import (
	"strconv"
	"time"
)

// ReportRow is one verified report inside an export document.
type ReportRow struct {
	ReportID    string
	Category    string
	Latitude    float64
	Longitude   float64
	Location    string
	Confidence  float64
	RewardCoins int
	DecidedAt   *time.Time
}

// Document is a renderable batch of verified reports.
type Document struct {
	Title       string
	GeneratedAt time.Time
	Rows        []ReportRow
}

// Columns is the verified-report table layout shared by every output
// format.
var Columns = []string{"Report ID", "Category", "Latitude", "Longitude", "Location", "Confidence", "Reward Coins", "Decided At"}

func (r ReportRow) record() []string {
	decided := ""
	if r.DecidedAt != nil {
		decided = r.DecidedAt.UTC().Format(time.RFC3339)
	}
	return []string{
		r.ReportID,
		r.Category,
		strconv.FormatFloat(r.Latitude, 'f', 6, 64),
		strconv.FormatFloat(r.Longitude, 'f', 6, 64),
		r.Location,
		strconv.FormatFloat(r.Confidence, 'f', 2, 64),
		strconv.Itoa(r.RewardCoins),
		decided,
	}
}

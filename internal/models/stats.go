package models

// StatusCount is a repository aggregation row.
type StatusCount struct {
	Status ReportStatus `db:"status"`
	Count  int          `db:"count"`
}

// CategoryCount is a repository aggregation row.
type CategoryCount struct {
	Category Category `db:"category"`
	Count    int      `db:"count"`
}

package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
)

// CSVExporter renders verified-report documents as CSV.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Render writes the column header followed by one record per report.
func (e *CSVExporter) Render(doc Document) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(Columns); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range doc.Rows {
		if err := writer.Write(row.record()); err != nil {
			return nil, fmt.Errorf("write csv record: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

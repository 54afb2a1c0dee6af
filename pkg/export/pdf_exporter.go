package export

import (
	"bytes"
	"fmt"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// columnWidths sizes the verified-report table for landscape A4
// (277mm usable). Identifier and location columns get the room the
// numeric columns do not need.
var columnWidths = []float64{52, 28, 26, 26, 55, 24, 28, 38}

// PDFExporter renders verified-report documents as a tabular PDF.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Render creates a landscape PDF with the document title, generation
// timestamp and one table row per report.
func (e *PDFExporter) Render(doc Document) ([]byte, error) {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	title := doc.Title
	if title == "" {
		title = "Verified Reports"
	}
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 10, title, "", 1, "C", false, 0, "")
	if !doc.GeneratedAt.IsZero() {
		pdf.SetFont("Arial", "", 9)
		pdf.CellFormat(0, 6, "Generated "+doc.GeneratedAt.UTC().Format(time.RFC1123), "", 1, "C", false, 0, "")
	}
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 9)
	for i, column := range Columns {
		pdf.CellFormat(columnWidths[i], 8, column, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 8)
	for _, row := range doc.Rows {
		for i, cell := range row.record() {
			pdf.CellFormat(columnWidths[i], 7, cell, "1", 0, "", false, 0, "")
		}
		pdf.Ln(-1)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"github.com/noah-isme/gridkit/internal/models"
)

const (
	pdfMargin     = 10.0
	pdfRowHeight  = 6.0
	pdfHeadHeight = 7.0
)

// PDFExporter renders rows into a landscape A4 table. The column header is
// repeated at the top of every page.
//
// gofpdf keeps the document in memory until it is written, so very large
// result sets are better exported as CSV or XLSX.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

// Export implements Exporter.
func (e *PDFExporter) Export(ctx context.Context, rows RowIterator, columns []models.Column, meta models.ExportMeta, destination string) (*models.ExportResult, error) {
	if err := checkColumns(columns); err != nil {
		return nil, err
	}
	if err := ensureDir(destination); err != nil {
		return nil, err
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(false, pdfMargin)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.AddPage()

	pageW, pageH := pdf.GetPageSize()
	colWidth := (pageW - 2*pdfMargin) / float64(len(columns))

	title := meta.Title
	if title == "" {
		title = "Report"
	}
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 9, tr(title), "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 9)
	pdf.CellFormat(0, 5, tr(fmt.Sprintf("Generated at %s | %d rows", meta.GeneratedAt.UTC().Format(time.RFC3339), meta.TotalRows)), "", 1, "L", false, 0, "")
	if meta.QuerySummary != "" {
		pdf.CellFormat(0, 5, fitText(pdf, tr(meta.QuerySummary), pageW-2*pdfMargin), "", 1, "L", false, 0, "")
	}
	pdf.Ln(3)

	titles := headerTitles(columns)
	drawHeader := func() {
		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(221, 221, 221)
		for _, t := range titles {
			pdf.CellFormat(colWidth, pdfHeadHeight, fitText(pdf, tr(t), colWidth), "1", 0, "L", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", 8)
	}
	drawHeader()

	written := 0
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if pdf.GetY()+pdfRowHeight > pageH-pdfMargin {
			pdf.AddPage()
			drawHeader()
		}
		row := rows.Row()
		for _, col := range columns {
			pdf.CellFormat(colWidth, pdfRowHeight, fitText(pdf, tr(cellText(row, col.Field)), colWidth), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
		written++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := pdf.Error(); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	if err := pdf.OutputFileAndClose(destination); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return &models.ExportResult{Destination: destination, RowsExported: written}, nil
}

// fitText truncates s with an ellipsis so it fits inside a cell of width w.
// s is already in the single-byte font encoding.
func fitText(pdf *gofpdf.Fpdf, s string, w float64) string {
	limit := w - 2*pdf.GetCellMargin()
	if pdf.GetStringWidth(s) <= limit {
		return s
	}
	const ellipsis = "..."
	for len(s) > 0 {
		s = s[:len(s)-1]
		if pdf.GetStringWidth(strings.TrimRight(s, " ")+ellipsis) <= limit {
			return strings.TrimRight(s, " ") + ellipsis
		}
	}
	return ""
}

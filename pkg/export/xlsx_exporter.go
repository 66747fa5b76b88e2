package export

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/noah-isme/gridkit/internal/models"
	"github.com/noah-isme/gridkit/pkg/textnorm"
)

const (
	xlsxSheet     = "Data"
	xlsxHeaderRow = 6
)

// XLSXExporter streams rows into a single-sheet workbook. Rows 1-4 hold the
// title, generation time, row count and query summary; the column header is
// on row 6 and stays frozen while scrolling.
type XLSXExporter struct{}

// NewXLSXExporter builds an XLSX exporter.
func NewXLSXExporter() *XLSXExporter {
	return &XLSXExporter{}
}

// Export implements Exporter.
func (e *XLSXExporter) Export(ctx context.Context, rows RowIterator, columns []models.Column, meta models.ExportMeta, destination string) (*models.ExportResult, error) {
	if err := checkColumns(columns); err != nil {
		return nil, err
	}
	if err := ensureDir(destination); err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck

	if err := f.SetSheetName("Sheet1", xlsxSheet); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	boldStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create title style: %w", err)
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDDDDD"}},
	})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	sw, err := f.NewStreamWriter(xlsxSheet)
	if err != nil {
		return nil, fmt.Errorf("open stream writer: %w", err)
	}

	titles := headerTitles(columns)
	for i, title := range titles {
		if err := sw.SetColWidth(i+1, i+1, columnWidth(title)); err != nil {
			return nil, fmt.Errorf("set column width: %w", err)
		}
	}
	topLeft, _ := excelize.CoordinatesToCellName(1, xlsxHeaderRow+1)
	if err := sw.SetPanes(&excelize.Panes{
		Freeze:      true,
		YSplit:      xlsxHeaderRow,
		TopLeftCell: topLeft,
		ActivePane:  "bottomLeft",
	}); err != nil {
		return nil, fmt.Errorf("freeze header: %w", err)
	}

	metaRows := [][]interface{}{
		{excelize.Cell{StyleID: boldStyle, Value: meta.Title}},
		{"Generated at", meta.GeneratedAt.UTC().Format(time.RFC3339)},
		{"Total rows", meta.TotalRows},
		{"Query", meta.QuerySummary},
	}
	for i, values := range metaRows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := sw.SetRow(cell, values); err != nil {
			return nil, fmt.Errorf("write metadata: %w", err)
		}
	}

	header := make([]interface{}, len(titles))
	for i, title := range titles {
		header[i] = excelize.Cell{StyleID: headerStyle, Value: title}
	}
	cell, _ := excelize.CoordinatesToCellName(1, xlsxHeaderRow)
	if err := sw.SetRow(cell, header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	written := 0
	values := make([]interface{}, len(columns))
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := rows.Row()
		for i, col := range columns {
			values[i] = xlsxValue(row[col.Field])
		}
		cell, _ := excelize.CoordinatesToCellName(1, xlsxHeaderRow+1+written)
		if err := sw.SetRow(cell, values); err != nil {
			return nil, fmt.Errorf("write row %d: %w", written+1, err)
		}
		written++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := sw.Flush(); err != nil {
		return nil, fmt.Errorf("flush workbook: %w", err)
	}
	if err := f.SaveAs(destination); err != nil {
		return nil, fmt.Errorf("save workbook: %w", err)
	}
	return &models.ExportResult{Destination: destination, RowsExported: written}, nil
}

// columnWidth sizes a column from its header title, between 10 and 60.
func columnWidth(title string) float64 {
	w := len([]rune(title)) + 2
	return float64(max(10, min(60, w)))
}

// xlsxValue keeps numbers, booleans and times native so spreadsheet
// formulas and sorting work on them.
func xlsxValue(v any) interface{} {
	switch t := v.(type) {
	case nil:
		return nil
	case string, bool, time.Time,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return t
	default:
		return textnorm.ValueString(v)
	}
}

package export

import (
	"context"
	"encoding/csv"
	"fmt"

	"github.com/noah-isme/gridkit/internal/models"
)

// CSVExporter streams rows into a CSV file: one header record of column
// titles followed by one record per row.
type CSVExporter struct{}

// NewCSVExporter builds a CSV exporter.
func NewCSVExporter() *CSVExporter {
	return &CSVExporter{}
}

// Export implements Exporter.
func (e *CSVExporter) Export(ctx context.Context, rows RowIterator, columns []models.Column, _ models.ExportMeta, destination string) (*models.ExportResult, error) {
	if err := checkColumns(columns); err != nil {
		return nil, err
	}
	file, err := createFile(destination)
	if err != nil {
		return nil, err
	}
	defer file.Close() //nolint:errcheck

	writer := csv.NewWriter(file)
	if err := writer.Write(headerTitles(columns)); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}

	record := make([]string, len(columns))
	written := 0
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row := rows.Row()
		for i, col := range columns {
			record[i] = cellText(row, col.Field)
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
		written++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("close csv: %w", err)
	}
	return &models.ExportResult{Destination: destination, RowsExported: written}, nil
}

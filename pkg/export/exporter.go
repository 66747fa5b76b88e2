// Package export serializes grid rows to document formats. Exporters consume
// a forward-only row iterator so callers can stream result sets larger than
// memory.
package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/noah-isme/gridkit/internal/models"
	"github.com/noah-isme/gridkit/pkg/textnorm"
)

// RowIterator yields rows one at a time. It is consumed once; after Next
// returns false, Err reports why iteration stopped.
type RowIterator interface {
	Next() bool
	Row() models.Row
	Err() error
}

// Exporter writes rows to destination. Implementations must pull from rows
// lazily, in order, exactly once, and fail if rows.Err is non-nil at the end.
type Exporter interface {
	Export(ctx context.Context, rows RowIterator, columns []models.Column, meta models.ExportMeta, destination string) (*models.ExportResult, error)
}

// SliceIterator iterates over an in-memory slice.
type SliceIterator struct {
	rows []models.Row
	pos  int
}

// NewSliceIterator wraps rows.
func NewSliceIterator(rows []models.Row) *SliceIterator {
	return &SliceIterator{rows: rows, pos: -1}
}

// Next implements RowIterator.
func (it *SliceIterator) Next() bool {
	if it.pos+1 >= len(it.rows) {
		it.pos = len(it.rows)
		return false
	}
	it.pos++
	return true
}

// Row implements RowIterator.
func (it *SliceIterator) Row() models.Row {
	if it.pos < 0 || it.pos >= len(it.rows) {
		return nil
	}
	return it.rows[it.pos]
}

// Err implements RowIterator.
func (it *SliceIterator) Err() error { return nil }

func createFile(destination string) (*os.File, error) {
	if destination == "" {
		return nil, fmt.Errorf("export destination required")
	}
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return nil, fmt.Errorf("prepare export directory: %w", err)
	}
	f, err := os.Create(destination)
	if err != nil {
		return nil, fmt.Errorf("create export file: %w", err)
	}
	return f, nil
}

func ensureDir(destination string) error {
	if destination == "" {
		return fmt.Errorf("export destination required")
	}
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return fmt.Errorf("prepare export directory: %w", err)
	}
	return nil
}

func headerTitles(columns []models.Column) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = c.Title
		if out[i] == "" {
			out[i] = c.Field
		}
	}
	return out
}

func cellText(row models.Row, field string) string {
	return textnorm.ValueString(row[field])
}

func checkColumns(columns []models.Column) error {
	if len(columns) == 0 {
		return fmt.Errorf("export requires at least one column")
	}
	return nil
}

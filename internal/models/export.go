package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ExportMode selects which rows an export covers.
type ExportMode string

const (
	ExportCurrentPage ExportMode = "current_page"
	ExportAllResults  ExportMode = "all_results"
)

// Valid reports whether m is a known export mode.
func (m ExportMode) Valid() bool {
	return m == ExportCurrentPage || m == ExportAllResults
}

// Export formats registered by default.
const (
	ExportFormatCSV  = "csv"
	ExportFormatXLSX = "xlsx"
	ExportFormatPDF  = "pdf"
)

// DefaultChunkPageSize is the page size used to stream all_results exports.
const DefaultChunkPageSize = 1000

// ExportRequest describes one export run.
type ExportRequest struct {
	Query         Query      `json:"query"`
	Columns       []Column   `json:"columns"`
	Mode          ExportMode `json:"mode"`
	Format        string     `json:"format"`
	Destination   string     `json:"destination"`
	Title         string     `json:"title"`
	ChunkPageSize int        `json:"chunk_page_size"`
}

// ExportMeta is the document header handed to exporters.
type ExportMeta struct {
	Title        string    `json:"title"`
	GeneratedAt  time.Time `json:"generated_at"`
	TotalRows    int       `json:"total_rows"`
	QuerySummary string    `json:"query_summary,omitempty"`
}

// ExportResult is produced once, when an export completes.
type ExportResult struct {
	Destination  string        `json:"destination"`
	RowsExported int           `json:"rows_exported"`
	Duration     time.Duration `json:"duration"`
}

// ExportStatus captures background export job lifecycle states.
type ExportStatus string

const (
	ExportStatusQueued   ExportStatus = "QUEUED"
	ExportStatusRunning  ExportStatus = "RUNNING"
	ExportStatusFinished ExportStatus = "FINISHED"
	ExportStatusFailed   ExportStatus = "FAILED"
)

// ExportJob tracks an asynchronous export. Request.Destination holds the
// file path relative to export storage.
type ExportJob struct {
	ID           string        `db:"id" json:"id"`
	Grid         string        `db:"grid" json:"grid"`
	Request      ExportRequest `db:"request" json:"request"`
	Status       ExportStatus  `db:"status" json:"status"`
	Done         int           `db:"done" json:"done"`
	Total        int           `db:"total" json:"total"`
	RowsExported int           `db:"rows_exported" json:"rows_exported"`
	ResultURL    *string       `db:"result_url" json:"result_url,omitempty"`
	ExpiresAt    *time.Time    `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	FinishedAt   *time.Time    `db:"finished_at" json:"finished_at,omitempty"`
	ErrorMessage *string       `db:"error_message" json:"error_message,omitempty"`
}

// Value marshals the request to JSON for persistence.
func (r ExportRequest) Value() (driver.Value, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal export request: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSON payload into the request. Numeric filter values come
// back as float64.
func (r *ExportRequest) Scan(value interface{}) error {
	if value == nil {
		*r = ExportRequest{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for ExportRequest", value)
	}
	if len(data) == 0 {
		*r = ExportRequest{}
		return nil
	}
	if err := json.Unmarshal(data, r); err != nil {
		return fmt.Errorf("unmarshal export request: %w", err)
	}
	return nil
}

// Progress returns completion as a 0..100 percentage. Unknown totals report 0
// until the job finishes.
func (j ExportJob) Progress() int {
	if j.Status == ExportStatusFinished {
		return 100
	}
	if j.Total <= 0 {
		return 0
	}
	pct := j.Done * 100 / j.Total
	if pct > 99 {
		pct = 99
	}
	return pct
}

package dto

import (
	"time"

	"github.com/noah-isme/gridkit/internal/models"
)

// GridQueryParams captures GET /grids/:name/rows query parameters.
//
// sort is a comma separated field list, "-" prefix for descending
// ("city,-name"). Each filter is "field:op:value"; "in" takes values
// separated by "|". Values parse as booleans, null or numbers unless wrapped
// in double quotes.
type GridQueryParams struct {
	Page              int      `form:"page"`
	PageSize          int      `form:"page_size"`
	Search            string   `form:"search"`
	Mode              string   `form:"mode"`
	CaseSensitive     bool     `form:"case_sensitive"`
	AccentInsensitive *bool    `form:"accent_insensitive"`
	Sort              string   `form:"sort"`
	Filters           []string `form:"filter"`
	Fields            string   `form:"fields"`
}

// GridQuery is the structured query accepted in JSON bodies.
type GridQuery struct {
	Page              int                 `json:"page" validate:"gte=0"`
	PageSize          int                 `json:"page_size" validate:"gte=0"`
	Search            string              `json:"search"`
	Mode              models.SearchMode   `json:"mode" validate:"omitempty,oneof=contains starts_with equals regex"`
	CaseSensitive     bool                `json:"case_sensitive"`
	AccentInsensitive *bool               `json:"accent_insensitive,omitempty"`
	Sort              []models.SortSpec   `json:"sort,omitempty" validate:"dive"`
	Filters           []models.FilterSpec `json:"filters,omitempty" validate:"dive"`
	Fields            []string            `json:"fields,omitempty"`
}

// GridInfo describes a registered grid.
type GridInfo struct {
	Name             string          `json:"name"`
	Title            string          `json:"title"`
	Columns          []models.Column `json:"columns"`
	SearchableFields []string        `json:"searchable_fields,omitempty"`
}

// GridRowsResponse is returned by GET /grids/:name/rows.
type GridRowsResponse struct {
	Rows         []models.Row `json:"rows"`
	QuerySummary string       `json:"query_summary,omitempty"`
}

// ExportJobRequest captures POST /grids/:name/exports payload.
type ExportJobRequest struct {
	Format        string            `json:"format" validate:"required,max=16"`
	Mode          models.ExportMode `json:"mode" validate:"required,oneof=current_page all_results"`
	Title         string            `json:"title" validate:"max=200"`
	Fields        []string          `json:"fields,omitempty"`
	ChunkPageSize int               `json:"chunk_page_size" validate:"gte=0,lte=100000"`
	Query         GridQuery         `json:"query"`
}

// ExportJobResponse is returned after enqueueing an export.
type ExportJobResponse struct {
	ID       string              `json:"id"`
	Status   models.ExportStatus `json:"status"`
	Progress int                 `json:"progress"`
}

// ExportStatusResponse exposes export job progress.
type ExportStatusResponse struct {
	ID           string              `json:"id"`
	Grid         string              `json:"grid"`
	Status       models.ExportStatus `json:"status"`
	Progress     int                 `json:"progress"`
	Done         int                 `json:"done"`
	Total        int                 `json:"total"`
	RowsExported int                 `json:"rows_exported"`
	ResultURL    *string             `json:"result_url,omitempty"`
	ExpiresAt    *time.Time          `json:"expires_at,omitempty"`
	Error        *string             `json:"error,omitempty"`
}

package models

import (
	"fmt"
	"slices"
	"strings"

	"github.com/noah-isme/gridkit/pkg/textnorm"
)

// Default grid settings.
const (
	DefaultPageSize = 50
)

// SearchMode selects how the search needle is matched against cell text.
type SearchMode string

const (
	SearchContains   SearchMode = "contains"
	SearchStartsWith SearchMode = "starts_with"
	SearchEquals     SearchMode = "equals"
	SearchRegex      SearchMode = "regex"
)

// Valid reports whether m is a known search mode.
func (m SearchMode) Valid() bool {
	switch m {
	case SearchContains, SearchStartsWith, SearchEquals, SearchRegex:
		return true
	default:
		return false
	}
}

// FilterOp enumerates filter operators.
type FilterOp string

const (
	OpEquals         FilterOp = "equals"
	OpNotEquals      FilterOp = "not_equals"
	OpContains       FilterOp = "contains"
	OpStartsWith     FilterOp = "starts_with"
	OpEndsWith       FilterOp = "ends_with"
	OpGreaterThan    FilterOp = "greater_than"
	OpGreaterOrEqual FilterOp = "greater_or_equal"
	OpLessThan       FilterOp = "less_than"
	OpLessOrEqual    FilterOp = "less_or_equal"
	OpIn             FilterOp = "in"
)

// Valid reports whether op is a known filter operator.
func (op FilterOp) Valid() bool {
	switch op {
	case OpEquals, OpNotEquals, OpContains, OpStartsWith, OpEndsWith,
		OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual, OpIn:
		return true
	default:
		return false
	}
}

// Relational reports whether op orders values rather than matching them.
func (op FilterOp) Relational() bool {
	switch op {
	case OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual:
		return true
	default:
		return false
	}
}

// FilterSpec is a single field predicate. All filters of a query are ANDed.
type FilterSpec struct {
	Field string   `json:"field" validate:"required"`
	Op    FilterOp `json:"op" validate:"required,filter_op"`
	Value any      `json:"value"`
}

// SortSpec orders by one field. In a sort list the first entry is primary.
type SortSpec struct {
	Field     string `json:"field" validate:"required"`
	Ascending bool   `json:"ascending"`
}

// Row is one record keyed by field name.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Column pairs a field with its display title.
type Column struct {
	Field string `json:"field"`
	Title string `json:"title"`
}

// Query describes one data request. Treat it as a value: build a new one
// rather than mutating a shared instance.
type Query struct {
	Page     int `json:"page"`
	PageSize int `json:"page_size"`

	SearchText              string     `json:"search_text,omitempty"`
	SearchMode              SearchMode `json:"search_mode,omitempty"`
	SearchCaseSensitive     bool       `json:"search_case_sensitive"`
	SearchAccentInsensitive bool       `json:"search_accent_insensitive"`

	Filters          []FilterSpec `json:"filters,omitempty"`
	Sort             []SortSpec   `json:"sort,omitempty"`
	SearchableFields []string     `json:"searchable_fields,omitempty"`
}

// Validate checks the paging invariants.
func (q Query) Validate() error {
	if q.Page < 1 {
		return fmt.Errorf("page must be >= 1, got %d", q.Page)
	}
	if q.PageSize < 1 {
		return fmt.Errorf("page size must be > 0, got %d", q.PageSize)
	}
	return nil
}

// Offset is the zero-based index of the first row of the page.
func (q Query) Offset() int {
	if q.Page < 1 {
		return 0
	}
	return (q.Page - 1) * q.PageSize
}

// WithPage copies q overriding only the pagination fields.
func (q Query) WithPage(page, pageSize int) Query {
	out := q
	out.Page = page
	out.PageSize = pageSize
	out.Filters = slices.Clone(q.Filters)
	out.Sort = slices.Clone(q.Sort)
	out.SearchableFields = slices.Clone(q.SearchableFields)
	return out
}

// Summary renders the active search, filter and sort state for humans,
// e.g. `search="ana" (contains) | filters: active equals true | sort: city asc`.
func (q Query) Summary() string {
	parts := make([]string, 0, 3)
	if s := strings.TrimSpace(q.SearchText); s != "" {
		mode := q.SearchMode
		if mode == "" {
			mode = SearchContains
		}
		parts = append(parts, fmt.Sprintf("search=%q (%s)", s, mode))
	}
	if len(q.Filters) > 0 {
		items := make([]string, 0, len(q.Filters))
		for _, f := range q.Filters {
			items = append(items, fmt.Sprintf("%s %s %s", f.Field, f.Op, textnorm.ValueString(f.Value)))
		}
		parts = append(parts, "filters: "+strings.Join(items, ", "))
	}
	if len(q.Sort) > 0 {
		items := make([]string, 0, len(q.Sort))
		for _, s := range q.Sort {
			dir := "asc"
			if !s.Ascending {
				dir = "desc"
			}
			items = append(items, s.Field+" "+dir)
		}
		parts = append(parts, "sort: "+strings.Join(items, ", "))
	}
	return strings.Join(parts, " | ")
}

// Page is one fetched batch of rows plus the count of every row matching the
// query regardless of pagination.
type Page struct {
	Rows      []Row `json:"rows"`
	TotalRows int   `json:"total_rows"`
	Page      int   `json:"page"`
	PageSize  int   `json:"page_size"`
}

// TotalPages derives the page count for the page's size.
func (p Page) TotalPages() int {
	return TotalPages(p.TotalRows, p.PageSize)
}

// TotalPages returns max(1, ceil(totalRows/pageSize)). A non-positive page
// size is treated as 1.
func TotalPages(totalRows, pageSize int) int {
	if pageSize < 1 {
		pageSize = 1
	}
	if totalRows <= 0 {
		return 1
	}
	return (totalRows + pageSize - 1) / pageSize
}

// Pagination contains pagination metadata returned in list responses.
type Pagination struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	TotalCount int `json:"total_count"`
	TotalPages int `json:"total_pages"`
}

// PaginationFor builds list metadata from a page.
func PaginationFor(p Page) *Pagination {
	return &Pagination{
		Page:       p.Page,
		PageSize:   p.PageSize,
		TotalCount: p.TotalRows,
		TotalPages: p.TotalPages(),
	}
}

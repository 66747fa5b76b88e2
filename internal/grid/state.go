package grid

import (
	"slices"

	"github.com/noah-isme/gridkit/internal/models"
	"github.com/noah-isme/gridkit/pkg/textnorm"
)

// state is the controller's view of the grid. Only the owning goroutine
// touches it.
type state struct {
	page      int
	pageSize  int
	totalRows int

	searchText        string
	searchMode        models.SearchMode
	caseSensitive     bool
	accentInsensitive bool

	filters    []models.FilterSpec
	sort       []models.SortSpec
	searchable []string

	rows []models.Row
}

func newState(pageSize int) state {
	if pageSize < 1 {
		pageSize = models.DefaultPageSize
	}
	return state{
		page:              1,
		pageSize:          pageSize,
		searchMode:        models.SearchContains,
		accentInsensitive: true,
	}
}

func (s *state) totalPages() int {
	return models.TotalPages(s.totalRows, s.pageSize)
}

// query composes the Query for the current state. The search needle is
// lower-cased unless the search is case-sensitive and stripped of accents
// when accent-insensitive, so sources compare it against cells folded the
// same way.
func (s *state) query() models.Query {
	return models.Query{
		Page:                    s.page,
		PageSize:                s.pageSize,
		SearchText:              textnorm.Fold(s.searchText, s.caseSensitive, s.accentInsensitive),
		SearchMode:              s.searchMode,
		SearchCaseSensitive:     s.caseSensitive,
		SearchAccentInsensitive: s.accentInsensitive,
		Filters:                 slices.Clone(s.filters),
		Sort:                    slices.Clone(s.sort),
		SearchableFields:        slices.Clone(s.searchable),
	}
}

func (s *state) applyPage(p models.Page, appended bool) {
	s.totalRows = p.TotalRows
	if appended {
		s.rows = append(s.rows, p.Rows...)
		return
	}
	s.rows = append(s.rows[:0:0], p.Rows...)
}

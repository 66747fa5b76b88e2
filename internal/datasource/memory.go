package datasource

import (
	"context"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/noah-isme/gridkit/internal/models"
	appErrors "github.com/noah-isme/gridkit/pkg/errors"
	"github.com/noah-isme/gridkit/pkg/textnorm"
)

// MemorySource serves pages from a fixed slice of rows. It is the reference
// implementation of the matching rules the grid relies on:
//
//   - search runs first; contains/starts_with/equals compare the already
//     normalized needle with each searchable cell folded the same way, while
//     regex compiles the needle against raw cell text and ignores accent
//     insensitivity;
//   - filters are ANDed and nil cells never satisfy relational operators;
//   - sort keys apply first-listed-wins, nil after non-nil in either direction;
//   - the result is sliced by page.
//
// The rows are never mutated after construction, so FetchPage is safe for
// concurrent use.
type MemorySource struct {
	rows   []models.Row
	folded []map[string]string
}

// NewMemorySource copies rows and precomputes their folded cell text.
func NewMemorySource(rows []models.Row) *MemorySource {
	s := &MemorySource{
		rows:   make([]models.Row, len(rows)),
		folded: make([]map[string]string, len(rows)),
	}
	for i, r := range rows {
		s.rows[i] = r.Clone()
		cache := make(map[string]string, len(r))
		for k, v := range r {
			cache[k] = textnorm.FoldValue(v, false, true)
		}
		s.folded[i] = cache
	}
	return s
}

// Len returns the number of rows held.
func (s *MemorySource) Len() int {
	return len(s.rows)
}

// FetchPage implements Source.
func (s *MemorySource) FetchPage(ctx context.Context, q models.Query) (models.Page, error) {
	if err := q.Validate(); err != nil {
		return models.Page{}, appErrors.Wrap(err, appErrors.ErrInvalidQuery.Code, appErrors.ErrInvalidQuery.Status, appErrors.ErrInvalidQuery.Message)
	}
	if err := ctx.Err(); err != nil {
		return models.Page{}, err
	}

	idxs := make([]int, len(s.rows))
	for i := range idxs {
		idxs[i] = i
	}

	idxs = s.search(idxs, q)
	for _, f := range q.Filters {
		idxs = s.filter(idxs, f)
	}
	s.sort(idxs, q.Sort)

	total := len(idxs)
	start := q.Offset()
	if start > total {
		start = total
	}
	end := start + q.PageSize
	if end > total {
		end = total
	}

	rows := make([]models.Row, 0, end-start)
	for _, i := range idxs[start:end] {
		rows = append(rows, s.rows[i].Clone())
	}
	return models.Page{Rows: rows, TotalRows: total, Page: q.Page, PageSize: q.PageSize}, nil
}

func (s *MemorySource) cell(i int, field string, caseSensitive, accentInsensitive bool) string {
	if !caseSensitive && accentInsensitive {
		return s.folded[i][field]
	}
	return textnorm.FoldValue(s.rows[i][field], caseSensitive, accentInsensitive)
}

func (s *MemorySource) search(idxs []int, q models.Query) []int {
	needle := q.SearchText
	if needle == "" {
		return idxs
	}

	var rx *regexp.Regexp
	if q.SearchMode == models.SearchRegex {
		pattern := needle
		if !q.SearchCaseSensitive {
			pattern = "(?i)" + pattern
		}
		compiled, err := regexp.Compile(pattern)
		if err != nil {
			// an unparsable pattern matches nothing
			return idxs[:0]
		}
		rx = compiled
	}

	kept := idxs[:0]
	for _, i := range idxs {
		for _, field := range s.searchFields(i, q.SearchableFields) {
			var hit bool
			if rx != nil {
				hit = rx.MatchString(textnorm.ValueString(s.rows[i][field]))
			} else {
				hit = matchNeedle(q.SearchMode, s.cell(i, field, q.SearchCaseSensitive, q.SearchAccentInsensitive), needle)
			}
			if hit {
				kept = append(kept, i)
				break
			}
		}
	}
	return kept
}

func (s *MemorySource) searchFields(i int, searchable []string) []string {
	if len(searchable) > 0 {
		return searchable
	}
	fields := make([]string, 0, len(s.rows[i]))
	for k := range s.rows[i] {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}

func matchNeedle(mode models.SearchMode, haystack, needle string) bool {
	switch mode {
	case models.SearchEquals:
		return haystack == needle
	case models.SearchStartsWith:
		return strings.HasPrefix(haystack, needle)
	default:
		return strings.Contains(haystack, needle)
	}
}

func (s *MemorySource) filter(idxs []int, f models.FilterSpec) []int {
	kept := idxs[:0]
	for _, i := range idxs {
		if s.matchFilter(i, f) {
			kept = append(kept, i)
		}
	}
	return kept
}

func (s *MemorySource) matchFilter(i int, f models.FilterSpec) bool {
	cell, present := s.rows[i][f.Field]
	switch f.Op {
	case models.OpEquals:
		return present && valuesEqual(cell, f.Value)
	case models.OpNotEquals:
		return !present || !valuesEqual(cell, f.Value)
	case models.OpContains, models.OpStartsWith, models.OpEndsWith:
		needle := textnorm.FoldValue(f.Value, false, true)
		hay := s.folded[i][f.Field]
		switch f.Op {
		case models.OpStartsWith:
			return strings.HasPrefix(hay, needle)
		case models.OpEndsWith:
			return strings.HasSuffix(hay, needle)
		default:
			return strings.Contains(hay, needle)
		}
	case models.OpIn:
		if !present {
			return false
		}
		for _, v := range sliceValues(f.Value) {
			if valuesEqual(cell, v) {
				return true
			}
		}
		return false
	case models.OpGreaterThan, models.OpGreaterOrEqual, models.OpLessThan, models.OpLessOrEqual:
		if !present || isNil(cell) || isNil(f.Value) {
			return false
		}
		c, ok := compareOrdered(cell, f.Value)
		if !ok {
			return false
		}
		switch f.Op {
		case models.OpGreaterThan:
			return c > 0
		case models.OpGreaterOrEqual:
			return c >= 0
		case models.OpLessThan:
			return c < 0
		default:
			return c <= 0
		}
	default:
		return false
	}
}

func (s *MemorySource) sort(idxs []int, specs []models.SortSpec) {
	if len(specs) == 0 {
		return
	}
	slices.SortStableFunc(idxs, func(a, b int) int {
		for _, spec := range specs {
			va, vb := s.rows[a][spec.Field], s.rows[b][spec.Field]
			aNil, bNil := isNil(va), isNil(vb)
			switch {
			case aNil && bNil:
				continue
			case aNil:
				return 1
			case bNil:
				return -1
			}
			c := compareSortKeys(va, vb)
			if c == 0 {
				continue
			}
			if !spec.Ascending {
				c = -c
			}
			return c
		}
		return 0
	})
}

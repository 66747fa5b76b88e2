package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gridkit/internal/datasource"
	"github.com/noah-isme/gridkit/internal/dto"
	"github.com/noah-isme/gridkit/internal/models"
	appErrors "github.com/noah-isme/gridkit/pkg/errors"
)

func peopleGrid() GridDefinition {
	return GridDefinition{
		Name:  "People",
		Title: "People",
		Columns: []models.Column{
			{Field: "name", Title: "Name"},
			{Field: "city", Title: "City"},
			{Field: "age", Title: "Age"},
		},
		SearchableFields: []string{"name", "city"},
		DefaultSort:      []models.SortSpec{{Field: "name", Ascending: true}},
		Source: datasource.NewMemorySource([]models.Row{
			{"name": "Ana", "city": "São Paulo", "age": 31},
			{"name": "Bruno", "city": "Recife", "age": 25},
			{"name": "Álvaro", "city": "Lisboa", "age": 47},
			{"name": "Carla", "city": "Sao Paulo", "age": 19},
		}),
	}
}

func newGridServiceForTest(t *testing.T) *GridService {
	t.Helper()
	svc := NewGridService(nil, GridServiceConfig{DefaultPageSize: 2, MaxPageSize: 3}, nil)
	require.NoError(t, svc.Register(peopleGrid()))
	return svc
}

func TestGridServiceRegisterAndList(t *testing.T) {
	svc := newGridServiceForTest(t)
	require.NoError(t, svc.Register(GridDefinition{
		Name:    "animals",
		Columns: []models.Column{{Field: "kind"}},
		Source:  datasource.NewMemorySource(nil),
	}))

	grids := svc.List()
	require.Len(t, grids, 2)
	assert.Equal(t, "animals", grids[0].Name)
	assert.Equal(t, "animals", grids[0].Title)
	assert.Equal(t, "people", grids[1].Name)

	def, err := svc.Grid(" PEOPLE ")
	require.NoError(t, err)
	assert.Equal(t, "People", def.Title)

	_, err = svc.Grid("missing")
	assert.True(t, errors.Is(err, appErrors.ErrUnknownGrid))

	assert.Error(t, svc.Register(GridDefinition{Name: "x", Columns: []models.Column{{Field: "a"}}}))
	assert.Error(t, svc.Register(GridDefinition{Name: "x", Source: datasource.NewMemorySource(nil)}))
	assert.Error(t, svc.Register(GridDefinition{Columns: []models.Column{{Field: "a"}}, Source: datasource.NewMemorySource(nil)}))
}

func TestGridServiceBuildQueryDefaults(t *testing.T) {
	svc := newGridServiceForTest(t)
	def, err := svc.Grid("people")
	require.NoError(t, err)

	q, err := svc.BuildQuery(def, dto.GridQuery{Search: "  São  "})
	require.NoError(t, err)
	assert.Equal(t, 1, q.Page)
	assert.Equal(t, 2, q.PageSize)
	assert.Equal(t, models.SearchContains, q.SearchMode)
	assert.True(t, q.SearchAccentInsensitive)
	assert.Equal(t, "sao", q.SearchText)
	assert.Equal(t, []string{"name", "city"}, q.SearchableFields)
	assert.Equal(t, def.DefaultSort, q.Sort)

	off := false
	q, err = svc.BuildQuery(def, dto.GridQuery{Page: 4, PageSize: 100, Search: "São", CaseSensitive: true, AccentInsensitive: &off})
	require.NoError(t, err)
	assert.Equal(t, 4, q.Page)
	assert.Equal(t, 3, q.PageSize, "page size is capped")
	assert.Equal(t, "São", q.SearchText)
}

func TestGridServiceBuildQueryRejectsBadInput(t *testing.T) {
	svc := newGridServiceForTest(t)
	def, _ := svc.Grid("people")

	cases := []struct {
		name string
		req  dto.GridQuery
		want *appErrors.Error
	}{
		{"bad mode", dto.GridQuery{Mode: "fuzzy"}, appErrors.ErrValidation},
		{"bad op", dto.GridQuery{Filters: []models.FilterSpec{{Field: "age", Op: "between"}}}, appErrors.ErrValidation},
		{"missing filter field", dto.GridQuery{Filters: []models.FilterSpec{{Op: models.OpEquals}}}, appErrors.ErrValidation},
		{"negative page", dto.GridQuery{Page: -1}, appErrors.ErrValidation},
		{"unknown filter field", dto.GridQuery{Filters: []models.FilterSpec{{Field: "salary", Op: models.OpEquals, Value: 1}}}, appErrors.ErrInvalidQuery},
		{"unknown sort field", dto.GridQuery{Sort: []models.SortSpec{{Field: "salary"}}}, appErrors.ErrInvalidQuery},
		{"unknown search field", dto.GridQuery{Fields: []string{"salary"}}, appErrors.ErrInvalidQuery},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.BuildQuery(def, tc.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestGridServiceRows(t *testing.T) {
	svc := newGridServiceForTest(t)

	res, pagination, err := svc.Rows(context.Background(), "people", dto.GridQuery{Search: "sao paulo"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "Ana", res.Rows[0]["name"])
	assert.Equal(t, "Carla", res.Rows[1]["name"])
	assert.Equal(t, 2, pagination.TotalCount)
	assert.Equal(t, 1, pagination.TotalPages)
	assert.Contains(t, res.QuerySummary, `search="sao paulo"`)

	res, pagination, err = svc.Rows(context.Background(), "people", dto.GridQuery{
		Page:    2,
		Sort:    []models.SortSpec{{Field: "age", Ascending: false}},
		Filters: []models.FilterSpec{{Field: "age", Op: models.OpGreaterThan, Value: 18}},
	})
	require.NoError(t, err)
	assert.Equal(t, 4, pagination.TotalCount)
	assert.Equal(t, 2, pagination.TotalPages)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, 25, res.Rows[0]["age"])
	assert.Equal(t, 19, res.Rows[1]["age"])

	_, _, err = svc.Rows(context.Background(), "missing", dto.GridQuery{})
	assert.True(t, errors.Is(err, appErrors.ErrUnknownGrid))
}

func TestParseParams(t *testing.T) {
	q, err := ParseParams(dto.GridQueryParams{
		Page:     2,
		PageSize: 10,
		Search:   "ana",
		Mode:     " Starts_With ",
		Sort:     "city, -age,+name",
		Filters:  []string{"age:greater_or_equal:18", "active:equals:true", "city:in:Recife|Lisboa", "note:contains:a:b"},
		Fields:   "name,city",
	})
	require.NoError(t, err)

	assert.Equal(t, 2, q.Page)
	assert.Equal(t, models.SearchStartsWith, q.Mode)
	assert.Equal(t, []string{"name", "city"}, q.Fields)
	assert.Equal(t, []models.SortSpec{
		{Field: "city", Ascending: true},
		{Field: "age", Ascending: false},
		{Field: "name", Ascending: true},
	}, q.Sort)
	assert.Equal(t, []models.FilterSpec{
		{Field: "age", Op: models.OpGreaterOrEqual, Value: float64(18)},
		{Field: "active", Op: models.OpEquals, Value: true},
		{Field: "city", Op: models.OpIn, Value: []any{"Recife", "Lisboa"}},
		{Field: "note", Op: models.OpContains, Value: "a:b"},
	}, q.Filters)
}

func TestParseParamsScalarValues(t *testing.T) {
	q, err := ParseParams(dto.GridQueryParams{Filters: []string{
		`sku:equals:"123"`,
		"sku:in:\"007\"|8",
		"label:equals:NaN",
		"label:equals:Inf",
		"price:less_than:-2.5",
		`note:equals:"`,
	}})
	require.NoError(t, err)

	values := make([]any, len(q.Filters))
	for i, f := range q.Filters {
		values[i] = f.Value
	}
	assert.Equal(t, []any{
		"123",
		[]any{"007", float64(8)},
		"NaN",
		"Inf",
		-2.5,
		`"`,
	}, values)
}

func TestRowsQuotedFilterMatchesTextCell(t *testing.T) {
	svc := NewGridService(nil, GridServiceConfig{}, nil)
	require.NoError(t, svc.Register(GridDefinition{
		Name:    "codes",
		Columns: []models.Column{{Field: "sku", Title: "SKU"}},
		Source:  datasource.NewMemorySource([]models.Row{{"sku": "123"}, {"sku": "124"}}),
	}))

	quoted, err := ParseParams(dto.GridQueryParams{Filters: []string{`sku:equals:"123"`}})
	require.NoError(t, err)
	res, _, err := svc.Rows(context.Background(), "codes", quoted)
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, "123", res.Rows[0]["sku"])

	bare, err := ParseParams(dto.GridQueryParams{Filters: []string{"sku:equals:123"}})
	require.NoError(t, err)
	res, _, err = svc.Rows(context.Background(), "codes", bare)
	require.NoError(t, err)
	assert.Empty(t, res.Rows, "unquoted digits are numbers")
}

func TestParseParamsErrors(t *testing.T) {
	for _, p := range []dto.GridQueryParams{
		{Filters: []string{"age"}},
		{Filters: []string{":equals:1"}},
		{Filters: []string{"age:between:1"}},
		{Sort: "-"},
	} {
		_, err := ParseParams(p)
		assert.True(t, errors.Is(err, appErrors.ErrValidation), "params %+v", p)
	}
}

package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTotalPages(t *testing.T) {
	cases := []struct {
		total, size, want int
	}{
		{0, 1, 1},
		{0, 50, 1},
		{1, 50, 1},
		{50, 50, 1},
		{51, 50, 2},
		{100, 50, 2},
		{101, 50, 3},
		{5, 2, 3},
		{7, 1, 7},
		{10, 0, 10},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, TotalPages(tc.total, tc.size), "total=%d size=%d", tc.total, tc.size)
	}
	for total := 0; total <= 40; total++ {
		for size := 1; size <= 12; size++ {
			want := 1
			if total > 0 {
				want = (total + size - 1) / size
			}
			require.Equal(t, want, TotalPages(total, size))
		}
	}
}

func TestQueryValidate(t *testing.T) {
	require.NoError(t, Query{Page: 1, PageSize: 1}.Validate())
	require.Error(t, Query{Page: 0, PageSize: 10}.Validate())
	require.Error(t, Query{Page: 1, PageSize: 0}.Validate())
}

func TestQueryWithPageCopiesEverythingButPaging(t *testing.T) {
	q := Query{
		Page:                    3,
		PageSize:                25,
		SearchText:              "sao",
		SearchMode:              SearchStartsWith,
		SearchAccentInsensitive: true,
		Filters:                 []FilterSpec{{Field: "active", Op: OpEquals, Value: true}},
		Sort:                    []SortSpec{{Field: "city", Ascending: true}},
		SearchableFields:        []string{"name"},
	}
	out := q.WithPage(1, 1000)

	assert.Equal(t, 1, out.Page)
	assert.Equal(t, 1000, out.PageSize)
	assert.Equal(t, q.SearchText, out.SearchText)
	assert.Equal(t, q.SearchMode, out.SearchMode)
	assert.Equal(t, q.SearchAccentInsensitive, out.SearchAccentInsensitive)
	assert.Equal(t, q.Filters, out.Filters)
	assert.Equal(t, q.Sort, out.Sort)
	assert.Equal(t, q.SearchableFields, out.SearchableFields)

	out.Filters[0].Field = "changed"
	assert.Equal(t, "active", q.Filters[0].Field)
	assert.Equal(t, 3, q.Page)
}

func TestQuerySummary(t *testing.T) {
	assert.Equal(t, "", Query{Page: 1, PageSize: 10}.Summary())

	q := Query{
		SearchText: "ana",
		SearchMode: SearchContains,
		Filters:    []FilterSpec{{Field: "active", Op: OpEquals, Value: true}},
		Sort:       []SortSpec{{Field: "city", Ascending: true}, {Field: "name", Ascending: false}},
	}
	assert.Equal(t, `search="ana" (contains) | filters: active equals true | sort: city asc, name desc`, q.Summary())
}

func TestExportJobProgress(t *testing.T) {
	assert.Equal(t, 0, ExportJob{Status: ExportStatusRunning}.Progress())
	assert.Equal(t, 50, ExportJob{Status: ExportStatusRunning, Done: 5, Total: 10}.Progress())
	assert.Equal(t, 99, ExportJob{Status: ExportStatusRunning, Done: 10, Total: 10}.Progress())
	assert.Equal(t, 100, ExportJob{Status: ExportStatusFinished}.Progress())
}

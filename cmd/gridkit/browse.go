package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/noah-isme/gridkit/internal/dto"
	"github.com/noah-isme/gridkit/internal/grid"
	"github.com/noah-isme/gridkit/internal/models"
	"github.com/noah-isme/gridkit/internal/service"
	"github.com/noah-isme/gridkit/pkg/textnorm"
)

// queryFlags are the grid query flags shared by browse and export.
type queryFlags struct {
	grid          string
	search        string
	mode          string
	caseSensitive bool
	keepAccents   bool
	fields        string
	sort          string
	filters       []string
	page          int
	pageSize      int
}

func (f *queryFlags) bind(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVar(&f.grid, "grid", "", "grid name (defaults to the only registered grid)")
	flags.StringVarP(&f.search, "search", "s", "", "search text")
	flags.StringVar(&f.mode, "mode", "", "search mode: contains, starts_with, equals or regex")
	flags.BoolVar(&f.caseSensitive, "case-sensitive", false, "case sensitive search")
	flags.BoolVar(&f.keepAccents, "keep-accents", false, "do not fold accents when searching")
	flags.StringVar(&f.fields, "fields", "", "comma separated fields to search")
	flags.StringVar(&f.sort, "sort", "", `sort keys, e.g. "city,-price"`)
	flags.StringArrayVarP(&f.filters, "filter", "f", nil, `filter as field:op:value, repeatable ("in" values split by |)`)
	flags.IntVar(&f.page, "page", 1, "page number")
	flags.IntVar(&f.pageSize, "page-size", 0, "rows per page (defaults to GRID_DEFAULT_PAGE_SIZE)")
}

func (f *queryFlags) gridQuery() (dto.GridQuery, error) {
	accentInsensitive := !f.keepAccents
	return service.ParseParams(dto.GridQueryParams{
		Page:              f.page,
		PageSize:          f.pageSize,
		Search:            f.search,
		Mode:              f.mode,
		CaseSensitive:     f.caseSensitive,
		AccentInsensitive: &accentInsensitive,
		Sort:              f.sort,
		Filters:           f.filters,
		Fields:            f.fields,
	})
}

// resolve picks the grid and validates the flags against it.
func (f *queryFlags) resolve(a *app) (*service.GridDefinition, dto.GridQuery, models.Query, error) {
	name := f.grid
	if name == "" {
		grids := a.grids.List()
		if len(grids) != 1 {
			return nil, dto.GridQuery{}, models.Query{}, fmt.Errorf("--grid is required")
		}
		name = grids[0].Name
	}
	def, err := a.grids.Grid(name)
	if err != nil {
		return nil, dto.GridQuery{}, models.Query{}, err
	}
	req, err := f.gridQuery()
	if err != nil {
		return nil, dto.GridQuery{}, models.Query{}, err
	}
	q, err := a.grids.BuildQuery(def, req)
	if err != nil {
		return nil, dto.GridQuery{}, models.Query{}, err
	}
	return def, req, q, nil
}

type browseOptions struct {
	query   queryFlags
	more    int
	append  bool
	timeout time.Duration
}

func newBrowseCmd() *cobra.Command {
	opts := &browseOptions{}
	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Page through a grid in the terminal",
		Long: `browse drives a grid controller: it applies the search, filters and sort,
loads the requested page and then --more further pages, either one at a time
or appended to the rows already shown (--append).`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return browse(cmd.Context(), a, opts, cmd.OutOrStdout())
		},
	}
	opts.query.bind(cmd)
	cmd.Flags().IntVar(&opts.more, "more", 0, "number of further pages to load")
	cmd.Flags().BoolVar(&opts.append, "append", false, "append further pages instead of replacing the rows shown")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 30*time.Second, "time allowed for each page load")
	return cmd
}

func browse(ctx context.Context, a *app, opts *browseOptions, out io.Writer) error {
	def, req, q, err := opts.query.resolve(a)
	if err != nil {
		return err
	}
	columns, err := def.ColumnsFor(nil)
	if err != nil {
		return err
	}

	var fetchErr string
	ctrl := grid.NewController(def.Source, grid.Options{
		PageSize: q.PageSize,
		Workers:  a.cfg.Grid.FetchWorkers,
		Buffer:   a.cfg.Grid.FetchBuffer,
		Logger:   a.logger,
		Metrics:  a.metrics,
		Listener: grid.ListenerFuncs{
			PageChanged: func(page models.Page, requestID uint64, appended bool) {
				printPage(out, columns, page, appended)
			},
			Error: func(message string) { fetchErr = message },
		},
	})
	ctrl.Start(ctx)
	defer ctrl.Stop()

	// Only the last of these loads reaches the listener; the earlier ones are
	// superseded before they complete.
	ctrl.SetSearchableFields(q.SearchableFields)
	ctrl.SetSort(q.Sort)
	ctrl.SetFilters(q.Filters)
	ctrl.SetSearch(req.Search, q.SearchMode, q.SearchCaseSensitive, q.SearchAccentInsensitive)
	if q.Page > 1 {
		ctrl.GotoPage(q.Page)
	}

	wait := func() error {
		waitCtx, cancel := context.WithTimeout(ctx, opts.timeout)
		defer cancel()
		if err := ctrl.Await(waitCtx); err != nil {
			return err
		}
		if fetchErr != "" {
			return fmt.Errorf("fetch failed: %s", fetchErr)
		}
		return nil
	}
	if err := wait(); err != nil {
		return err
	}

	for i := 0; i < opts.more && ctrl.Page() < ctrl.TotalPages(); i++ {
		if opts.append {
			ctrl.LoadNextAppend()
		} else {
			ctrl.NextPage()
		}
		if err := wait(); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "page %d of %d, %d rows shown, %d total\n",
		ctrl.Page(), ctrl.TotalPages(), len(ctrl.Rows()), ctrl.TotalRows())
	return nil
}

func printPage(out io.Writer, columns []models.Column, page models.Page, appended bool) {
	table := tablewriter.NewWriter(out)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	if !appended {
		titles := make([]string, len(columns))
		for i, c := range columns {
			titles[i] = c.Title
		}
		table.SetHeader(titles)
	}
	for _, row := range page.Rows {
		cells := make([]string, len(columns))
		for i, c := range columns {
			cells[i] = textnorm.ValueString(row[c.Field])
		}
		table.Append(cells)
	}
	table.Render()
}

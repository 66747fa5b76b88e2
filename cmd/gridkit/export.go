package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-isme/gridkit/internal/models"
)

type exportOptions struct {
	query   queryFlags
	format  string
	mode    string
	output  string
	title   string
	columns string
	chunk   int
}

func newExportCmd() *cobra.Command {
	opts := &exportOptions{}
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export grid rows to a CSV, XLSX or PDF file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()
			return runExport(cmd.Context(), a, opts, cmd.OutOrStdout())
		},
	}
	opts.query.bind(cmd)
	flags := cmd.Flags()
	flags.StringVar(&opts.format, "format", "csv", "output format: csv, xlsx or pdf")
	flags.StringVar(&opts.mode, "export-mode", string(models.ExportAllResults), "current_page or all_results")
	flags.StringVarP(&opts.output, "output", "o", "", "destination file (defaults to <grid>.<format>)")
	flags.StringVar(&opts.title, "title", "", "report title (defaults to EXPORTS_DEFAULT_TITLE)")
	flags.StringVar(&opts.columns, "columns", "", "comma separated columns to export (defaults to all)")
	flags.IntVar(&opts.chunk, "chunk", 0, "rows fetched per chunk for all_results (defaults to EXPORTS_CHUNK_PAGE_SIZE)")
	return cmd
}

func runExport(ctx context.Context, a *app, opts *exportOptions, out io.Writer) error {
	def, _, q, err := opts.query.resolve(a)
	if err != nil {
		return err
	}

	var fields []string
	for _, f := range strings.Split(opts.columns, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	columns, err := def.ColumnsFor(fields)
	if err != nil {
		return err
	}

	format := strings.ToLower(opts.format)
	destination := opts.output
	if destination == "" {
		destination = def.Name + "." + format
	}
	if destination, err = filepath.Abs(destination); err != nil {
		return err
	}

	req := models.ExportRequest{
		Query:         q,
		Columns:       columns,
		Mode:          models.ExportMode(opts.mode),
		Format:        format,
		Title:         opts.title,
		Destination:   destination,
		ChunkPageSize: opts.chunk,
	}

	var currentRows []models.Row
	if req.Mode == models.ExportCurrentPage {
		page, err := def.Source.FetchPage(ctx, q)
		if err != nil {
			return fmt.Errorf("fetch page %d: %w", q.Page, err)
		}
		currentRows = page.Rows
		if currentRows == nil {
			currentRows = []models.Row{}
		}
	}

	lastPct := -10
	progress := func(done, total int) {
		if total <= 0 {
			return
		}
		if pct := done * 100 / total; pct/10 != lastPct/10 {
			lastPct = pct
			fmt.Fprintf(out, "exported %d of %d rows (%d%%)\n", done, total, pct)
		}
	}

	res, err := a.exports.Execute(ctx, req, def.Source, currentRows, progress)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "wrote %d rows to %s\n", res.RowsExported, res.Destination)
	return nil
}

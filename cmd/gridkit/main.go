package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gridkit",
		Short: "gridkit - paged, searchable data grids with streaming exports",
		Long: `gridkit serves paged, searchable and sortable data grids over HTTP and
exports their rows to CSV, XLSX or PDF.

Settings are read from the environment (or a .env file):
- GRID_SOURCE=memory serves the demo product catalogue
- GRID_SOURCE=postgres pages over GRID_SQL_TABLE
`,
		SilenceUsage:      true,
		DisableAutoGenTag: true,
	}

	cmd.AddCommand(newServeCmd(), newBrowseCmd(), newExportCmd())
	return cmd
}

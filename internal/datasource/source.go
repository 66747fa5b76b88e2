// Package datasource provides the data source port consumed by the grid
// controller and the export pipeline, plus in-memory, SQL and cached
// implementations.
package datasource

import (
	"context"

	"github.com/noah-isme/gridkit/internal/models"
)

// Source returns one page of rows for a query. Implementations must be safe
// for concurrent use and must fail with an error rather than return a
// partial page.
type Source interface {
	FetchPage(ctx context.Context, q models.Query) (models.Page, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, q models.Query) (models.Page, error)

// FetchPage calls f.
func (f SourceFunc) FetchPage(ctx context.Context, q models.Query) (models.Page, error) {
	return f(ctx, q)
}

package export

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/noah-isme/gridkit/internal/models"
	appErrors "github.com/noah-isme/gridkit/pkg/errors"
)

// Registry maps format names to exporters. Names are case-insensitive.
type Registry struct {
	mu        sync.RWMutex
	exporters map[string]Exporter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{exporters: make(map[string]Exporter)}
}

// NewDefaultRegistry registers the csv, xlsx and pdf exporters.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(models.ExportFormatCSV, NewCSVExporter())
	r.Register(models.ExportFormatXLSX, NewXLSXExporter())
	r.Register(models.ExportFormatPDF, NewPDFExporter())
	return r
}

func normalizeFormat(format string) string {
	return strings.ToLower(strings.TrimSpace(format))
}

// Register adds or replaces the exporter for format.
func (r *Registry) Register(format string, e Exporter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exporters[normalizeFormat(format)] = e
}

// Get resolves format. Unknown formats yield ErrUnsupportedFormat.
func (r *Registry) Get(format string) (Exporter, error) {
	key := normalizeFormat(format)
	r.mu.RLock()
	e, ok := r.exporters[key]
	r.mu.RUnlock()
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnsupportedFormat, fmt.Sprintf("export format %q not supported", format))
	}
	return e, nil
}

// Formats lists registered format names in order.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.exporters))
	for k := range r.exporters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ContentType returns the MIME type served for a format's files.
func ContentType(format string) string {
	switch normalizeFormat(format) {
	case models.ExportFormatCSV:
		return "text/csv"
	case models.ExportFormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case models.ExportFormatPDF:
		return "application/pdf"
	default:
		return "application/octet-stream"
	}
}

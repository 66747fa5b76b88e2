package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/gridkit/internal/datasource"
	"github.com/noah-isme/gridkit/internal/models"
	appErrors "github.com/noah-isme/gridkit/pkg/errors"
	"github.com/noah-isme/gridkit/pkg/export"
)

// ProgressFunc receives (rows done, total rows) as an export advances.
type ProgressFunc func(done, total int)

type exporterRegistry interface {
	Get(format string) (export.Exporter, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	DefaultTitle  string
	ChunkPageSize int
}

// ExportService runs one export: it picks the exporter for the requested
// format, streams rows from the current page or from the data source in
// chunks, and reports progress along the way.
type ExportService struct {
	registry exporterRegistry
	metrics  *MetricsService
	logger   *zap.Logger
	cfg      ExportConfig
	now      func() time.Time
}

// NewExportService constructs an ExportService.
func NewExportService(registry exporterRegistry, metrics *MetricsService, cfg ExportConfig, logger *zap.Logger) *ExportService {
	if registry == nil {
		registry = export.NewDefaultRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(cfg.DefaultTitle) == "" {
		cfg.DefaultTitle = "Report"
	}
	if cfg.ChunkPageSize <= 0 {
		cfg.ChunkPageSize = models.DefaultChunkPageSize
	}
	return &ExportService{registry: registry, metrics: metrics, logger: logger, cfg: cfg, now: time.Now}
}

// Execute runs req. current_page exports need currentRows (an empty, non-nil
// slice exports just the header); all_results exports need source. progress
// may be nil.
func (s *ExportService) Execute(ctx context.Context, req models.ExportRequest, source datasource.Source, currentRows []models.Row, progress ProgressFunc) (*models.ExportResult, error) {
	start := s.now()
	if progress == nil {
		progress = func(int, int) {}
	}

	exporter, err := s.registry.Get(req.Format)
	if err != nil {
		return nil, err
	}
	if !req.Mode.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown export mode %q", req.Mode))
	}
	if len(req.Columns) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "export requires at least one column")
	}

	var (
		rows  countingRows
		total int
	)
	switch req.Mode {
	case models.ExportCurrentPage:
		if currentRows == nil {
			return nil, appErrors.ErrMissingCurrentRows
		}
		total = len(currentRows)
		progress(0, total)
		rows = newPageRows(currentRows, progress)
	case models.ExportAllResults:
		if source == nil {
			return nil, appErrors.ErrMissingDataSource
		}
		chunk := req.ChunkPageSize
		if chunk <= 0 {
			chunk = s.cfg.ChunkPageSize
		}
		first, err := source.FetchPage(ctx, req.Query.WithPage(1, chunk))
		if err != nil {
			s.observe(req, "error", 0, start)
			return nil, fmt.Errorf("fetch export chunk 1: %w", err)
		}
		total = first.TotalRows
		progress(0, total)
		rows = newChunkedRows(ctx, source, req.Query, chunk, first, progress)
	}

	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = s.cfg.DefaultTitle
	}
	meta := models.ExportMeta{
		Title:        title,
		GeneratedAt:  s.now().UTC(),
		TotalRows:    total,
		QuerySummary: req.Query.Summary(),
	}

	s.logger.Info("export started",
		zap.String("format", req.Format),
		zap.String("mode", string(req.Mode)),
		zap.String("destination", req.Destination),
		zap.Int("total_rows", total))

	_, err = exporter.Export(ctx, rows, req.Columns, meta, req.Destination)
	if err == nil {
		// exporters are pluggable and may stop at the first false Next
		err = rows.Err()
	}
	if err != nil {
		s.observe(req, "error", rows.Yielded(), start)
		s.logger.Warn("export failed", zap.String("destination", req.Destination), zap.Int("rows_yielded", rows.Yielded()), zap.Error(err))
		return nil, err
	}

	result := &models.ExportResult{
		Destination:  req.Destination,
		RowsExported: rows.Yielded(),
		Duration:     s.now().Sub(start),
	}
	s.observe(req, "ok", result.RowsExported, start)
	s.logger.Info("export finished",
		zap.String("destination", result.Destination),
		zap.Int("rows_exported", result.RowsExported),
		zap.Duration("duration", result.Duration))
	return result, nil
}

func (s *ExportService) observe(req models.ExportRequest, status string, rows int, start time.Time) {
	s.metrics.ObserveExport(strings.ToLower(strings.TrimSpace(req.Format)), req.Mode, status, rows, s.now().Sub(start))
}

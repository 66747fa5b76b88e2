package service

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/gridkit/internal/datasource"
	"github.com/noah-isme/gridkit/internal/dto"
	"github.com/noah-isme/gridkit/internal/models"
	appErrors "github.com/noah-isme/gridkit/pkg/errors"
	"github.com/noah-isme/gridkit/pkg/textnorm"
)

// GridDefinition binds a grid name to its columns and data source.
type GridDefinition struct {
	Name             string
	Title            string
	Columns          []models.Column
	SearchableFields []string
	DefaultSort      []models.SortSpec
	Source           datasource.Source
}

func (d *GridDefinition) hasField(field string) bool {
	for _, c := range d.Columns {
		if c.Field == field {
			return true
		}
	}
	return false
}

// ColumnsFor returns the columns matching fields, in the order given. An
// empty list selects every column.
func (d *GridDefinition) ColumnsFor(fields []string) ([]models.Column, error) {
	if len(fields) == 0 {
		return append([]models.Column(nil), d.Columns...), nil
	}
	out := make([]models.Column, 0, len(fields))
	for _, f := range fields {
		found := false
		for _, c := range d.Columns {
			if c.Field == f {
				out = append(out, c)
				found = true
				break
			}
		}
		if !found {
			return nil, appErrors.Clone(appErrors.ErrInvalidQuery, fmt.Sprintf("unknown column %q", f))
		}
	}
	return out, nil
}

// GridServiceConfig bounds paging requests.
type GridServiceConfig struct {
	DefaultPageSize int
	MaxPageSize     int
}

// GridService keeps the registry of named grids and turns request
// parameters into queries against them.
type GridService struct {
	mu        sync.RWMutex
	grids     map[string]*GridDefinition
	validator *validator.Validate
	logger    *zap.Logger
	cfg       GridServiceConfig
}

// NewGridService constructs the service.
func NewGridService(validate *validator.Validate, cfg GridServiceConfig, logger *zap.Logger) *GridService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = models.DefaultPageSize
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 500
	}
	registerGridValidations(validate)
	return &GridService{grids: make(map[string]*GridDefinition), validator: validate, logger: logger, cfg: cfg}
}

// registerGridValidations installs the custom tags used by grid DTOs.
func registerGridValidations(v *validator.Validate) {
	_ = v.RegisterValidation("filter_op", func(fl validator.FieldLevel) bool {
		return models.FilterOp(fl.Field().String()).Valid()
	})
}

// Register adds or replaces a grid.
func (s *GridService) Register(def GridDefinition) error {
	name := strings.ToLower(strings.TrimSpace(def.Name))
	if name == "" {
		return fmt.Errorf("grid name required")
	}
	if def.Source == nil {
		return fmt.Errorf("grid %s requires a source", name)
	}
	if len(def.Columns) == 0 {
		return fmt.Errorf("grid %s requires columns", name)
	}
	def.Name = name
	if def.Title == "" {
		def.Title = name
	}
	s.mu.Lock()
	s.grids[name] = &def
	s.mu.Unlock()
	s.logger.Info("grid registered", zap.String("grid", name), zap.Int("columns", len(def.Columns)))
	return nil
}

// Grid resolves a grid by name.
func (s *GridService) Grid(name string) (*GridDefinition, error) {
	s.mu.RLock()
	def, ok := s.grids[strings.ToLower(strings.TrimSpace(name))]
	s.mu.RUnlock()
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrUnknownGrid, fmt.Sprintf("grid %q not found", name))
	}
	return def, nil
}

// List describes every registered grid, ordered by name.
func (s *GridService) List() []dto.GridInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]dto.GridInfo, 0, len(s.grids))
	for _, def := range s.grids {
		out = append(out, dto.GridInfo{
			Name:             def.Name,
			Title:            def.Title,
			Columns:          def.Columns,
			SearchableFields: def.SearchableFields,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Rows fetches one page of a grid.
func (s *GridService) Rows(ctx context.Context, name string, req dto.GridQuery) (*dto.GridRowsResponse, *models.Pagination, error) {
	def, err := s.Grid(name)
	if err != nil {
		return nil, nil, err
	}
	q, err := s.BuildQuery(def, req)
	if err != nil {
		return nil, nil, err
	}
	page, err := def.Source.FetchPage(ctx, q)
	if err != nil {
		return nil, nil, err
	}
	return &dto.GridRowsResponse{Rows: page.Rows, QuerySummary: q.Summary()}, models.PaginationFor(page), nil
}

// BuildQuery validates req against def and composes the Query a source
// receives. Search text is folded the same way the grid controller folds it.
func (s *GridService) BuildQuery(def *GridDefinition, req dto.GridQuery) (models.Query, error) {
	if err := s.validator.Struct(req); err != nil {
		return models.Query{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid grid query")
	}

	page := max(1, req.Page)
	size := req.PageSize
	if size <= 0 {
		size = s.cfg.DefaultPageSize
	}
	size = min(size, s.cfg.MaxPageSize)

	mode := req.Mode
	if mode == "" {
		mode = models.SearchContains
	}
	accentInsensitive := true
	if req.AccentInsensitive != nil {
		accentInsensitive = *req.AccentInsensitive
	}

	fields := req.Fields
	if len(fields) == 0 {
		fields = def.SearchableFields
	}
	sortSpecs := req.Sort
	if len(sortSpecs) == 0 {
		sortSpecs = def.DefaultSort
	}

	for _, f := range fields {
		if !def.hasField(f) {
			return models.Query{}, appErrors.Clone(appErrors.ErrInvalidQuery, fmt.Sprintf("unknown search field %q", f))
		}
	}
	for _, f := range req.Filters {
		if !def.hasField(f.Field) {
			return models.Query{}, appErrors.Clone(appErrors.ErrInvalidQuery, fmt.Sprintf("unknown filter field %q", f.Field))
		}
	}
	for _, o := range sortSpecs {
		if !def.hasField(o.Field) {
			return models.Query{}, appErrors.Clone(appErrors.ErrInvalidQuery, fmt.Sprintf("unknown sort field %q", o.Field))
		}
	}

	return models.Query{
		Page:                    page,
		PageSize:                size,
		SearchText:              textnorm.Fold(req.Search, req.CaseSensitive, accentInsensitive),
		SearchMode:              mode,
		SearchCaseSensitive:     req.CaseSensitive,
		SearchAccentInsensitive: accentInsensitive,
		Filters:                 append([]models.FilterSpec(nil), req.Filters...),
		Sort:                    append([]models.SortSpec(nil), sortSpecs...),
		SearchableFields:        append([]string(nil), fields...),
	}, nil
}

// ParseParams converts URL parameters into a GridQuery.
func ParseParams(p dto.GridQueryParams) (dto.GridQuery, error) {
	q := dto.GridQuery{
		Page:              p.Page,
		PageSize:          p.PageSize,
		Search:            p.Search,
		Mode:              models.SearchMode(strings.ToLower(strings.TrimSpace(p.Mode))),
		CaseSensitive:     p.CaseSensitive,
		AccentInsensitive: p.AccentInsensitive,
		Fields:            splitList(p.Fields),
	}

	for _, item := range splitList(p.Sort) {
		spec := models.SortSpec{Field: item, Ascending: true}
		switch {
		case strings.HasPrefix(item, "-"):
			spec = models.SortSpec{Field: item[1:], Ascending: false}
		case strings.HasPrefix(item, "+"):
			spec.Field = item[1:]
		}
		if spec.Field == "" {
			return dto.GridQuery{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid sort %q", item))
		}
		q.Sort = append(q.Sort, spec)
	}

	for _, raw := range p.Filters {
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) != 3 || parts[0] == "" {
			return dto.GridQuery{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid filter %q, expected field:op:value", raw))
		}
		op := models.FilterOp(strings.ToLower(parts[1]))
		if !op.Valid() {
			return dto.GridQuery{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown filter operator %q", parts[1]))
		}
		var value any
		if op == models.OpIn {
			items := strings.Split(parts[2], "|")
			values := make([]any, len(items))
			for i, item := range items {
				values[i] = parseScalar(item)
			}
			value = values
		} else {
			value = parseScalar(parts[2])
		}
		q.Filters = append(q.Filters, models.FilterSpec{Field: parts[0], Op: op, Value: value})
	}
	return q, nil
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseScalar reads booleans, null and finite numbers; anything else stays a
// string. A value wrapped in double quotes is always a string, so
// sku:equals:"123" matches the text "123".
func parseScalar(raw string) any {
	if len(raw) >= 2 && strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`) {
		return raw[1 : len(raw)-1]
	}
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	case "null":
		return nil
	}
	if n, err := strconv.ParseFloat(raw, 64); err == nil && !math.IsNaN(n) && !math.IsInf(n, 0) {
		return n
	}
	return raw
}

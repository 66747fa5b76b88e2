package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/gridkit/internal/datasource"
	"github.com/noah-isme/gridkit/internal/demo"
	"github.com/noah-isme/gridkit/internal/models"
	"github.com/noah-isme/gridkit/internal/repository"
	"github.com/noah-isme/gridkit/internal/service"
	"github.com/noah-isme/gridkit/pkg/cache"
	"github.com/noah-isme/gridkit/pkg/config"
	"github.com/noah-isme/gridkit/pkg/database"
	"github.com/noah-isme/gridkit/pkg/export"
	"github.com/noah-isme/gridkit/pkg/logger"
)

// app holds the components shared by every command.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	validate *validator.Validate
	metrics  *service.MetricsService
	formats  *export.Registry
	grids    *service.GridService
	exports  *service.ExportService

	db    *sqlx.DB
	redis *redis.Client
}

func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logr, err := logger.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return newApp(ctx, cfg, logr)
}

func newApp(ctx context.Context, cfg *config.Config, logr *zap.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logr,
		validate: validator.New(),
		metrics:  service.NewMetricsService(),
		formats:  export.NewDefaultRegistry(),
	}
	a.grids = service.NewGridService(a.validate, service.GridServiceConfig{
		DefaultPageSize: cfg.Grid.DefaultPageSize,
		MaxPageSize:     cfg.Grid.MaxPageSize,
	}, logr)
	a.exports = service.NewExportService(a.formats, a.metrics, service.ExportConfig{
		DefaultTitle:  cfg.Exports.DefaultTitle,
		ChunkPageSize: cfg.Exports.ChunkPageSize,
	}, logr)

	def, err := a.gridDefinition(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	if cfg.Grid.CacheEnabled {
		def.Source = a.withCache(ctx, def.Name, def.Source)
	}
	if err := a.grids.Register(def); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) gridDefinition(ctx context.Context) (service.GridDefinition, error) {
	if a.cfg.Grid.Source == config.SourceMemory {
		return service.GridDefinition{
			Name:             demo.GridName,
			Title:            "Products",
			Columns:          demo.Columns(),
			SearchableFields: demo.SearchableFields(),
			DefaultSort:      demo.DefaultSort(),
			Source:           datasource.NewMemorySource(demo.Products(a.cfg.Grid.DemoRows)),
		}, nil
	}

	db, err := a.database(ctx)
	if err != nil {
		return service.GridDefinition{}, err
	}
	src, err := datasource.NewSQLSource(db, datasource.SQLConfig{
		Table:     a.cfg.Grid.SQLTable,
		Columns:   a.cfg.Grid.SQLColumns,
		KeyColumn: a.cfg.Grid.SQLKeyColumn,
		Unaccent:  a.cfg.Grid.SQLUnaccent,
	}, a.metrics)
	if err != nil {
		return service.GridDefinition{}, err
	}

	columns := make([]models.Column, len(a.cfg.Grid.SQLColumns))
	for i, c := range a.cfg.Grid.SQLColumns {
		columns[i] = models.Column{Field: c, Title: columnTitle(c)}
	}
	return service.GridDefinition{
		Name:        a.cfg.Grid.SQLTable,
		Columns:     columns,
		DefaultSort: []models.SortSpec{{Field: a.cfg.Grid.SQLColumns[0], Ascending: true}},
		Source:      src,
	}, nil
}

func (a *app) database(ctx context.Context) (*sqlx.DB, error) {
	if a.db != nil {
		return a.db, nil
	}
	db, err := database.NewPostgres(ctx, a.cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	a.db = db
	return db, nil
}

// withCache wraps src in the Redis page cache. Without Redis the grid is
// served uncached.
func (a *app) withCache(ctx context.Context, grid string, src datasource.Source) datasource.Source {
	client, err := cache.NewRedis(ctx, a.cfg.Redis)
	if err != nil {
		a.logger.Warn("grid cache disabled", zap.String("grid", grid), zap.Error(err))
		return src
	}
	a.redis = client

	cacheSvc := service.NewCacheService(repository.NewCacheRepository(client, a.logger), a.metrics, service.CacheConfig{
		Enabled:    true,
		DefaultTTL: a.cfg.Grid.CacheTTL,
		Namespace:  "gridkit",
	}, a.logger)
	return datasource.NewCachedSource(src, cacheSvc, grid, a.cfg.Grid.CacheTTL, a.logger)
}

func (a *app) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	_ = a.logger.Sync()
}

func columnTitle(field string) string {
	words := strings.Fields(strings.ReplaceAll(field, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

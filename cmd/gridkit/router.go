package main

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/gridkit/internal/handler"
	"github.com/noah-isme/gridkit/internal/middleware"
	"github.com/noah-isme/gridkit/internal/service"
	"github.com/noah-isme/gridkit/pkg/config"
	"github.com/noah-isme/gridkit/pkg/logger"
	corsmiddleware "github.com/noah-isme/gridkit/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/gridkit/pkg/middleware/requestid"
)

func newRouter(cfg *config.Config, logr *zap.Logger, metrics *service.MetricsService, grids *service.GridService, exports *service.ExportJobService) *gin.Engine {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	metricsHandler := handler.NewMetricsHandler(metrics)
	gridHandler := handler.NewGridHandler(grids)
	exportHandler := handler.NewExportHandler(exports)

	r.GET("/health", metricsHandler.Health)
	r.GET("/metrics", metricsHandler.Prometheus)

	api := r.Group(cfg.APIPrefix)
	api.GET("/metrics/summary", metricsHandler.Summary)

	gridRoutes := api.Group("/grids")
	gridRoutes.GET("", gridHandler.List)
	gridRoutes.GET("/:name/rows", middleware.WithResponseMeta(), gridHandler.Rows)
	gridRoutes.POST("/:name/exports", exportHandler.CreateExport)

	exportRoutes := api.Group("/exports")
	exportRoutes.GET("/:id", exportHandler.ExportStatus)
	exportRoutes.GET("/download/:token", exportHandler.Download)

	return r
}

package main

import (
	"net/http"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/checkup-export-api/internal/handler"
	"github.com/noah-isme/checkup-export-api/internal/middleware"
	"github.com/noah-isme/checkup-export-api/internal/service"
	"github.com/noah-isme/checkup-export-api/pkg/config"
	"github.com/noah-isme/checkup-export-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/checkup-export-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/checkup-export-api/pkg/middleware/requestid"
)

type routerDeps struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *service.MetricsService
	exports *handler.ExportHandler
	ready   func() error
}

func newRouter(deps routerDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(deps.logger, "/health", "/ready", "/metrics"))
	r.Use(corsmiddleware.New(deps.cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(deps.metrics))

	metricsHandler := handler.NewMetricsHandler(deps.metrics)
	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if deps.ready != nil {
			if err := deps.ready(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)
	r.GET("/metrics/summary", metricsHandler.Summary)

	if deps.cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(deps.cfg.APIPrefix)
	exports := api.Group("/exports")
	exports.POST("", deps.exports.CreateExport)
	exports.GET("", deps.exports.ListExports)
	exports.POST("/sync", deps.exports.RunExport)
	exports.GET("/download/:token", deps.exports.DownloadExport)
	exports.GET("/:id", deps.exports.ExportStatus)

	return r
}

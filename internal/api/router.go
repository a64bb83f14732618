package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/localmind/localmind/pkg/config"
	"github.com/localmind/localmind/pkg/metrics"
	"github.com/localmind/localmind/pkg/tracing"
)

// NewRouter creates and configures the status API router
func NewRouter(cfg *config.Config, handler *StatusHandler, m *metrics.Metrics, tracer *tracing.TracingService) *gin.Engine {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(RequestIDMiddleware())
	router.Use(ErrorHandlingMiddleware())
	router.Use(SecurityHeadersMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"http://localhost", "http://127.0.0.1"},
		AllowMethods: []string{"GET", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", "X-Request-ID"},
	}))
	if tracer != nil {
		router.Use(tracer.TracingMiddleware())
	}
	if m != nil {
		router.Use(m.PrometheusMiddleware())
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	router.GET("/health", handler.Health)
	router.GET("/status", handler.Status)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/capabilities/:name", handler.Capability)
	}

	return router
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/orrn/thermal-spool/internal/api/handlers"
	"github.com/orrn/thermal-spool/internal/api/middleware"
	"github.com/orrn/thermal-spool/internal/logger"
)

type RouterConfig struct {
	Logger   *zap.Logger
	Auth     *middleware.AuthMiddleware
	Jobs     *handlers.JobHandler
	Printers *handlers.PrinterHandler
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}

	r := gin.New()
	r.Use(logger.GinMiddleware(log), logger.Recovery(log))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	v1 := r.Group("/api/v1")
	if cfg.Auth != nil {
		v1.POST("/auth/token", cfg.Auth.TokenHandler)
		v1.GET("/auth/status", cfg.Auth.StatusHandler)
	}

	protected := v1.Group("")
	if cfg.Auth != nil {
		protected.Use(cfg.Auth.RequireAuth())
	}
	if cfg.Jobs != nil {
		cfg.Jobs.RegisterRoutes(protected)
	}
	if cfg.Printers != nil {
		cfg.Printers.RegisterRoutes(protected)
	}

	return r
}

// Package api wires the operator HTTP surface: /ops, /analytics,
// /bus/events and the Prometheus scrape endpoint.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/opscore/command-center/internal/api/handlers"
	"github.com/opscore/command-center/internal/api/middleware"
	"github.com/opscore/command-center/internal/config"
)

type Server struct {
	Config  *config.Config
	Router  *gin.Engine
	handler *handlers.Handler
}

func NewServer(cfg *config.Config, handler *handlers.Handler, logger *zap.Logger) *Server {
	gin.SetMode(cfg.Server.Mode)
	router := gin.New()

	router.Use(middleware.Logger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.CORS())

	server := &Server{
		Config:  cfg,
		Router:  router,
		handler: handler,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	h := s.handler
	operator := middleware.OperatorRequired(s.Config.RBAC.OperatorMarkers)

	// Publicly readable.
	s.Router.GET("/ops/health", h.GetHealth)
	s.Router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	ops := s.Router.Group("/ops")
	ops.Use(operator)
	{
		ops.GET("/db", h.GetDB)
		ops.GET("/replication", h.GetReplication)
		ops.POST("/restart", h.Restart)
	}

	analytics := s.Router.Group("/analytics")
	analytics.Use(operator)
	{
		analytics.GET("/summary", h.GetSummary)
		analytics.GET("/tenants/:tenant", h.GetTenantReport)
		analytics.GET("/audit", h.GetAuditEntries)
		analytics.GET("/learning", h.GetLearning)
	}

	bus := s.Router.Group("/bus")
	{
		bus.POST("/events", h.PublishEvent)
		bus.GET("/events", h.QueryEvents)
	}
}

package server

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (s *Server) registerRoutes() {
	// Observability endpoints (no auth required)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// Operational snapshot (read-only, external to the socket protocol)
	s.echo.GET("/api/intelligence/health", s.handleIntelligenceHealth)

	// WebSocket upgrade endpoint; the path carries the tenant
	s.echo.GET("/ws/intelligence/:tenant", s.handleIntelligenceSocket)
}

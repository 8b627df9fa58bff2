package server

import (
	"context"
	"time"

	"github.com/labstack/echo/v4"
)

func (s *Server) handleLiveness(c echo.Context) error {
	return c.JSON(200, map[string]any{
		"status": "ok",
		"uptime": s.monitor.Uptime().Seconds(),
	})
}

func (s *Server) handleReadiness(c echo.Context) error {
	if s.redisClient != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := s.redisClient.Ping(ctx).Err(); err != nil {
			return c.JSON(503, map[string]any{
				"status":       "unhealthy",
				"failed_check": "redis",
				"error":        err.Error(),
			})
		}
	}
	return c.JSON(200, map[string]string{"status": "ready"})
}

func (s *Server) handleIntelligenceHealth(c echo.Context) error {
	report := s.monitor.Snapshot()
	status := 200
	if !report.Healthy {
		status = 503
	}
	return c.JSON(status, report)
}

package server

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/MagistrTheOne/deadlinecome-realtime/internal/platform/version"
)

func (s *Server) handleLiveness(c echo.Context) error {
	uptime := time.Since(s.startTime).Seconds()
	return c.JSON(200, map[string]any{
		"status": "ok",
		"uptime": uptime,
		"build":  version.Get(),
	})
}

func (s *Server) handleReadiness(c echo.Context) error {
	if s.limiter.Current() >= s.limiter.Max() {
		return c.JSON(503, map[string]any{
			"status":      "unhealthy",
			"failed_check": "connection_capacity",
			"connections": s.limiter.Current(),
		})
	}

	// A stats round-trip proves the registry actor is alive.
	stats := s.registry.Stats()
	return c.JSON(200, map[string]any{
		"status":      "ready",
		"connections": stats.TotalClients,
		"rooms":       stats.TotalRooms,
	})
}

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

	// Websocket admission; identity is resolved upstream and passed as
	// query parameters by the gateway.
	s.echo.GET("/ws", s.handleWebSocket,
		newRateLimiter(s.config.HandshakeRatePerSecond, s.config.HandshakeBurst))

	// Collaborator API, called by the application layer after it has
	// persisted a change.
	s.echo.GET("/api/stats", s.handleStats)
	s.echo.GET("/api/health", s.handleHealth)
	s.echo.POST("/api/notify/room/:roomId", s.handleNotifyRoom)
	s.echo.POST("/api/notify/user/:userId", s.handleNotifyUser)
}

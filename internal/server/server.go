package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/MagistrTheOne/deadlinecome-realtime/internal/events"
	"github.com/MagistrTheOne/deadlinecome-realtime/internal/platform/config"
	"github.com/MagistrTheOne/deadlinecome-realtime/internal/realtime"
)

type Server struct {
	echo      *echo.Echo
	config    *config.Config
	registry  *realtime.Registry
	events    *events.Publisher
	limiter   *GlobalConnectionLimiter
	ipLimiter *IPConnectionLimiter
	startTime time.Time
}

func NewServer(cfg *config.Config, registry *realtime.Registry, publisher *events.Publisher) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus: true,
		LogURI:    true,
		LogMethod: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Debug("request",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
			)
			return nil
		},
	}))

	srv := &Server{
		echo:      e,
		config:    cfg,
		registry:  registry,
		events:    publisher,
		limiter:   NewGlobalConnectionLimiter(cfg.MaxConnections),
		ipLimiter: NewIPConnectionLimiter(cfg.MaxConnectionsPerIP),
		startTime: time.Now(),
	}

	srv.registerRoutes()
	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	return s.echo.Start(fmt.Sprintf(":%s", s.config.Port))
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	"github.com/MagistrTheOne/deadlinecome-realtime/internal/events"
	"github.com/MagistrTheOne/deadlinecome-realtime/internal/platform/config"
	"github.com/MagistrTheOne/deadlinecome-realtime/internal/platform/logging"
	"github.com/MagistrTheOne/deadlinecome-realtime/internal/platform/version"
	"github.com/MagistrTheOne/deadlinecome-realtime/internal/realtime"
	"github.com/MagistrTheOne/deadlinecome-realtime/internal/server"
)

func runGracefulShutdown(cfg *config.Config, srv *server.Server, registry *realtime.Registry) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		registry.Stop()
		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Realtime service starting",
		"env", cfg.AppEnv,
		"port", cfg.Port,
		"version", version.Get().Version,
	)

	registry := realtime.NewRegistry(realtime.Config{
		PingInterval:   cfg.PingInterval,
		PongTimeout:    cfg.PongTimeout,
		SendBufferSize: cfg.SendBufferSize,
	}, clock)

	publisher := events.NewPublisher(registry, clock)
	srv := server.NewServer(cfg, registry, publisher)

	done := runGracefulShutdown(cfg, srv, registry)

	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}

	<-done
	slog.Info("Shutdown complete")
}

package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/MagistrTheOne/deadlinecome-realtime/internal/metrics"
	"github.com/MagistrTheOne/deadlinecome-realtime/internal/realtime"
)

const (
	maxMessageSize = 4096
	// The read deadline outlives the heartbeat cycle; the supervisor kills
	// dead peers long before this fires.
	readWait = 90 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Origin is enforced by the gateway in front of this service
	},
}

func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()

	if !s.limiter.Acquire() {
		metrics.HandshakesRejectedTotal.WithLabelValues("capacity").Inc()
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "connection capacity reached"})
	}
	if !s.ipLimiter.Acquire(ip) {
		s.limiter.Release()
		metrics.HandshakesRejectedTotal.WithLabelValues("ip_limit").Inc()
		return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "too many connections from this address"})
	}
	defer func() {
		s.ipLimiter.Release(ip)
		s.limiter.Release()
	}()

	// Admission parameters, supplied out-of-band by the identity resolver.
	identity := realtime.Identity{
		UserID:      c.QueryParam("userId"),
		WorkspaceID: c.QueryParam("workspaceId"),
		ProjectID:   c.QueryParam("projectId"),
	}

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade websocket: %w", err)
	}

	connID, err := s.registry.Admit(conn, identity)
	if err != nil {
		// Admission closes the transport itself on refusal.
		slog.Warn("Admission refused", "remote_ip", ip, "error", err)
		return nil
	}

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		s.registry.Pong(connID)
		return nil
	})

	// Read pump — blocks until the connection closes.
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		var envelope realtime.Envelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			// Malformed frame: drop it, keep the connection open.
			slog.Warn("Unparseable frame dropped", "connection_id", connID.String(), "error", err)
			continue
		}
		s.registry.Dispatch(connID, envelope)
	}

	s.registry.Disconnect(connID, "client closed")
	return nil
}

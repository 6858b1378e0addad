package server

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
)

type notifyRequest struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type notifyResponse struct {
	Delivered int `json:"delivered"`
}

func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.registry.Stats())
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, s.registry.Health())
}

func (s *Server) handleNotifyRoom(c echo.Context) error {
	roomID := c.Param("roomId")

	var req notifyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Event == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "event is required"})
	}

	delivered := s.events.RoomEvent(roomID, req.Event, req.Payload)
	return c.JSON(http.StatusOK, notifyResponse{Delivered: delivered})
}

func (s *Server) handleNotifyUser(c echo.Context) error {
	userID := c.Param("userId")

	var req notifyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Event == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "event is required"})
	}

	delivered := s.events.UserEvent(userID, req.Event, req.Payload)
	return c.JSON(http.StatusOK, notifyResponse{Delivered: delivered})
}

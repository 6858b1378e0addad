// Package server implements the HTTP surface using the Echo framework.
//
// Routes: websocket admission (/ws), observability (/health/live, /health/ready,
// /metrics) and the collaborator API (/api/stats, /api/notify/...).
// Handlers split by concern: handlers_ws.go, handlers_health.go, handlers_api.go.
package server

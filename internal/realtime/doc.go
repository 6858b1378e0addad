// Package realtime implements the connection and room-broadcast core using the actor pattern.
//
// A single Registry goroutine owns all connection and room state (no mutexes on the hot path).
// Per-connection write goroutines absorb slow clients, and a heartbeat supervisor per
// connection detects dead peers via websocket ping/pong control frames.
package realtime

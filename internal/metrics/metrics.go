// Package metrics defines the prometheus collectors for the realtime service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection lifecycle metrics
var (
	// ActiveConnections tracks currently open websocket connections
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_active_connections",
			Help: "Number of currently open websocket connections",
		},
	)

	// ConnectionsTotal tracks total admitted connections
	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_connections_total",
			Help: "Total websocket connections admitted",
		},
	)

	// DisconnectsTotal tracks closed connections by cause
	DisconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_disconnects_total",
			Help: "Total connections closed, by cause",
		},
		[]string{"cause"},
	)

	// ActiveRooms tracks the number of non-empty rooms
	ActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_active_rooms",
			Help: "Number of non-empty broadcast rooms",
		},
	)
)

// Message flow metrics
var (
	// MessagesDispatched tracks inbound messages by envelope type
	MessagesDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_messages_dispatched_total",
			Help: "Inbound messages dispatched, by envelope type",
		},
		[]string{"type"},
	)

	// FanoutRecipients tracks how many connections each broadcast reached
	FanoutRecipients = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "realtime_fanout_recipients",
			Help:    "Recipients per broadcast fan-out",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	// MessageSendDuration tracks websocket write latency in seconds
	MessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "realtime_message_send_duration_seconds",
			Help:    "Websocket message write duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
		},
	)

	// SendFailuresTotal tracks failed websocket writes
	SendFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_send_failures_total",
			Help: "Total failed websocket writes",
		},
	)

	// SlowClientsEvictedTotal tracks clients disconnected for a full send buffer
	SlowClientsEvictedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_slow_clients_evicted_total",
			Help: "Total clients disconnected because their send buffer was full",
		},
	)
)

// Heartbeat metrics
var (
	// HeartbeatTimeoutsTotal tracks connections terminated by a missed pong
	HeartbeatTimeoutsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_heartbeat_timeouts_total",
			Help: "Total connections terminated after a pong timeout",
		},
	)

	// HeartbeatPingFailuresTotal tracks failed ping control-frame writes
	HeartbeatPingFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_heartbeat_ping_failures_total",
			Help: "Total failed ping control-frame writes",
		},
	)
)

// Admission metrics
var (
	// HandshakesRejectedTotal tracks refused websocket handshakes by reason
	HandshakesRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_handshakes_rejected_total",
			Help: "Websocket handshakes refused before admission, by reason",
		},
		[]string{"reason"},
	)
)

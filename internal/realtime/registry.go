package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/MagistrTheOne/deadlinecome-realtime/internal/metrics"
)

const (
	commandTimeout = 5 * time.Second // Actor command timeout
	stopTimeout    = 10 * time.Second
)

// Disconnect causes, used as the metrics label.
const (
	causeClient     = "client"
	causeServer     = "server"
	causeHeartbeat  = "heartbeat"
	causeSlowClient = "slow_client"
	causeShutdown   = "shutdown"
)

var (
	// ErrMissingIdentity is returned when admission is attempted without a user id.
	ErrMissingIdentity = errors.New("missing user identity")
	// ErrRegistryClosed is returned when the registry has been stopped.
	ErrRegistryClosed = errors.New("registry closed")
)

// Config controls per-connection behavior of the Registry.
type Config struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	SendBufferSize int
}

func (c Config) withDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = DefaultPongTimeout
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = 16
	}
	return c
}

// Stats is the collaborator-facing view of the registry.
type Stats struct {
	TotalClients int        `json:"totalClients"`
	TotalRooms   int        `json:"totalRooms"`
	Rooms        []RoomStat `json:"rooms"`
}

// registryCmd is the command interface for the Registry actor.
type registryCmd interface{ isRegistryCmd() }

type baseRegistryCmd struct{}

func (baseRegistryCmd) isRegistryCmd() {}

type admitResult struct {
	id  uuid.UUID
	err error
}

type admitCmd struct {
	baseRegistryCmd
	transport Transport
	identity  Identity
	reply     chan admitResult
}

type dispatchCmd struct {
	baseRegistryCmd
	connID   uuid.UUID
	envelope Envelope
}

type disconnectCmd struct {
	baseRegistryCmd
	connID   uuid.UUID
	reason   string
	cause    string
	abnormal bool
}

type pongCmd struct {
	baseRegistryCmd
	connID uuid.UUID
}

type pushToUserCmd struct {
	baseRegistryCmd
	userID   string
	envelope Envelope
	reply    chan int
}

type pushToRoomCmd struct {
	baseRegistryCmd
	roomID   string
	envelope Envelope
	reply    chan int
}

type onlineUsersCmd struct {
	baseRegistryCmd
	reply chan []Identity
}

type statsCmd struct {
	baseRegistryCmd
	reply chan Stats
}

type stopCmd struct {
	baseRegistryCmd
}

// Registry is the top-level coordinator: it admits connections, binds
// identity, dispatches inbound messages, and fans out broadcasts. A single
// goroutine owns every map, so no locking happens on the message path;
// callers talk to it through the command channel.
type Registry struct {
	cmdCh   chan registryCmd
	clock   clockwork.Clock
	cfg     Config
	conns   map[uuid.UUID]*connection
	byUser  map[string]map[uuid.UUID]struct{}
	rooms   *RoomDirectory
	cleanup *CleanupManager
	health  *HealthMonitor
	done    chan struct{}
}

// NewRegistry creates the registry and starts its actor goroutine.
func NewRegistry(cfg Config, clock clockwork.Clock) *Registry {
	r := &Registry{
		cmdCh:   make(chan registryCmd, 256),
		clock:   clock,
		cfg:     cfg.withDefaults(),
		conns:   make(map[uuid.UUID]*connection),
		byUser:  make(map[string]map[uuid.UUID]struct{}),
		rooms:   NewRoomDirectory(),
		cleanup: NewCleanupManager(),
		health:  NewHealthMonitor(),
	}
	r.done = make(chan struct{})
	go r.run()
	return r
}

// Admit registers a transport under the given identity. The user id is
// mandatory: without it the transport is closed with a policy-violation
// code and no resources are allocated. On success the connection is
// heartbeat-supervised, auto-joined to its workspace and project rooms,
// and greeted with a connection_established frame.
func (r *Registry) Admit(transport Transport, identity Identity) (uuid.UUID, error) {
	reply := make(chan admitResult, 1)
	select {
	case r.cmdCh <- admitCmd{transport: transport, identity: identity, reply: reply}:
	case <-r.done:
		return uuid.Nil, ErrRegistryClosed
	}

	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case res := <-reply:
		return res.id, res.err
	case <-timer.Chan():
		return uuid.Nil, fmt.Errorf("admit command timed out after %v", commandTimeout)
	}
}

// Dispatch routes one inbound envelope for a connection. Unknown ids and
// unknown types are dropped, never fatal.
func (r *Registry) Dispatch(connID uuid.UUID, envelope Envelope) {
	select {
	case r.cmdCh <- dispatchCmd{connID: connID, envelope: envelope}:
	case <-r.done:
	}
}

// Disconnect closes a connection. Idempotent: disconnecting an unknown or
// already-closed connection is a no-op.
func (r *Registry) Disconnect(connID uuid.UUID, reason string) {
	select {
	case r.cmdCh <- disconnectCmd{connID: connID, reason: reason, cause: causeClient}:
	case <-r.done:
	}
}

// Pong forwards a transport-level pong to the connection's heartbeat
// supervisor.
func (r *Registry) Pong(connID uuid.UUID) {
	select {
	case r.cmdCh <- pongCmd{connID: connID}:
	case <-r.done:
	}
}

// PushToUser delivers an envelope to every open connection of a user,
// regardless of room membership. Returns the number of recipients.
func (r *Registry) PushToUser(userID string, envelope Envelope) int {
	reply := make(chan int, 1)
	select {
	case r.cmdCh <- pushToUserCmd{userID: userID, envelope: envelope, reply: reply}:
	case <-r.done:
		return 0
	}
	return r.awaitCount(reply, "PushToUser")
}

// PushToRoom delivers an envelope to every member of a room. There is no
// sender here, so nobody is excluded. Unknown rooms deliver to nobody.
func (r *Registry) PushToRoom(roomID string, envelope Envelope) int {
	reply := make(chan int, 1)
	select {
	case r.cmdCh <- pushToRoomCmd{roomID: roomID, envelope: envelope, reply: reply}:
	case <-r.done:
		return 0
	}
	return r.awaitCount(reply, "PushToRoom")
}

// OnlineUsers returns a snapshot of the identity of every open connection,
// one entry per connection.
func (r *Registry) OnlineUsers() []Identity {
	reply := make(chan []Identity, 1)
	select {
	case r.cmdCh <- onlineUsersCmd{reply: reply}:
	case <-r.done:
		return nil
	}

	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case users := <-reply:
		return users
	case <-timer.Chan():
		slog.Warn("OnlineUsers timed out", "timeout", commandTimeout)
		return nil
	}
}

// Stats returns the room and client counts for collaborators.
func (r *Registry) Stats() Stats {
	reply := make(chan Stats, 1)
	select {
	case r.cmdCh <- statsCmd{reply: reply}:
	case <-r.done:
		return Stats{Rooms: []RoomStat{}}
	}

	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case stats := <-reply:
		return stats
	case <-timer.Chan():
		slog.Warn("Stats timed out", "timeout", commandTimeout)
		return Stats{Rooms: []RoomStat{}}
	}
}

// Health returns a copy of the lifecycle statistics. The monitor is
// internally synchronized, so this does not go through the actor.
func (r *Registry) Health() HealthSnapshot {
	return r.health.Snapshot()
}

// Stop shuts the registry down: every outstanding cleanup runs and every
// client receives a close frame. Blocks until the actor exits or the stop
// timeout is reached.
func (r *Registry) Stop() {
	select {
	case r.cmdCh <- stopCmd{}:
	case <-r.done:
		return
	}

	timer := r.clock.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-r.done:
		slog.Info("Registry stopped gracefully")
	case <-timer.Chan():
		slog.Warn("Registry stop timeout exceeded", "timeout", stopTimeout)
	}
}

func (r *Registry) awaitCount(reply chan int, op string) int {
	timer := r.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-reply:
		return count
	case <-timer.Chan():
		slog.Warn("Registry command timed out", "op", op, "timeout", commandTimeout)
		return 0
	}
}

// disconnectAsync schedules a disconnect from outside the actor goroutine
// (heartbeat supervisors, slow-client eviction).
func (r *Registry) disconnectAsync(connID uuid.UUID, reason, cause string, abnormal bool) {
	select {
	case r.cmdCh <- disconnectCmd{connID: connID, reason: reason, cause: cause, abnormal: abnormal}:
	case <-r.done:
	}
}

func (r *Registry) run() {
	defer close(r.done)

	for cmd := range r.cmdCh {
		switch c := cmd.(type) {
		case admitCmd:
			r.handleAdmit(c)
		case dispatchCmd:
			r.handleDispatch(c)
		case disconnectCmd:
			r.handleDisconnect(c)
		case pongCmd:
			if conn, ok := r.conns[c.connID]; ok {
				conn.heartbeat.PongReceived()
			}
		case pushToUserCmd:
			c.reply <- r.handlePushToUser(c)
		case pushToRoomCmd:
			c.reply <- r.handlePushToRoom(c)
		case onlineUsersCmd:
			c.reply <- r.snapshotIdentities()
		case statsCmd:
			c.reply <- Stats{
				TotalClients: len(r.conns),
				TotalRooms:   r.rooms.RoomCount(),
				Rooms:        r.rooms.Snapshot(),
			}
		case stopCmd:
			r.handleStop()
			return
		default:
			slog.Warn("Registry received unknown command type", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (r *Registry) handleAdmit(c admitCmd) {
	if c.identity.UserID == "" {
		// Policy violation: refuse before allocating anything.
		deadline := r.clock.Now().Add(writeDeadline)
		msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "user identity required")
		_ = c.transport.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.transport.Close()
		metrics.HandshakesRejectedTotal.WithLabelValues("missing_identity").Inc()
		c.reply <- admitResult{err: ErrMissingIdentity}
		return
	}

	id := uuid.New()
	conn := &connection{
		id:            id,
		identity:      c.identity,
		transport:     c.transport,
		establishedAt: r.clock.Now(),
	}
	conn.writer = newClientWriter(c.transport, r.clock, r.cfg.SendBufferSize)
	conn.heartbeat = NewHeartbeatSupervisor(c.transport, r.clock, r.cfg.PingInterval, r.cfg.PongTimeout, func(reason string) {
		r.disconnectAsync(id, reason, causeHeartbeat, true)
	})
	conn.cleanup = r.cleanup.Build(id, c.transport, []Task{conn.heartbeat, conn.writer}, nil)

	r.conns[id] = conn
	userConns, ok := r.byUser[c.identity.UserID]
	if !ok {
		userConns = make(map[uuid.UUID]struct{})
		r.byUser[c.identity.UserID] = userConns
	}
	userConns[id] = struct{}{}

	if c.identity.WorkspaceID != "" {
		r.rooms.Join(WorkspaceRoom(c.identity.WorkspaceID), id)
	}
	if c.identity.ProjectID != "" {
		r.rooms.Join(ProjectRoom(c.identity.ProjectID), id)
	}

	r.health.RecordStart()
	metrics.ConnectionsTotal.Inc()
	metrics.ActiveConnections.Set(float64(len(r.conns)))
	metrics.ActiveRooms.Set(float64(r.rooms.RoomCount()))

	conn.heartbeat.Start()

	r.sendTo(conn, TypeConnectionEstablished, connectionEstablishedData{
		ConnectionID: id.String(),
		UserID:       c.identity.UserID,
	})

	slog.Info("Connection established",
		"connection_id", id.String(),
		"user_id", c.identity.UserID,
		"workspace_id", c.identity.WorkspaceID,
		"project_id", c.identity.ProjectID,
	)
	c.reply <- admitResult{id: id}
}

func (r *Registry) handleDispatch(c dispatchCmd) {
	conn, ok := r.conns[c.connID]
	if !ok {
		return
	}

	switch c.envelope.Type {
	case TypePing:
		// Application-level ping: reply to the sender only. Liveness
		// accounting is driven by the transport heartbeat, not by this.
		r.sendTo(conn, TypePong, nil)

	case TypeJoinRoom:
		req, ok := decodePayload[roomRequest](c.envelope.Data)
		if !ok || req.RoomID == "" {
			r.dropMalformed(conn, c.envelope.Type)
			return
		}
		r.rooms.Join(req.RoomID, conn.id)
		metrics.ActiveRooms.Set(float64(r.rooms.RoomCount()))
		r.sendTo(conn, TypeRoomJoined, roomAckData{RoomID: req.RoomID})
		slog.Debug("Room joined", "connection_id", conn.id.String(), "room_id", req.RoomID)

	case TypeLeaveRoom:
		req, ok := decodePayload[roomRequest](c.envelope.Data)
		if !ok || req.RoomID == "" {
			r.dropMalformed(conn, c.envelope.Type)
			return
		}
		r.rooms.Leave(req.RoomID, conn.id)
		metrics.ActiveRooms.Set(float64(r.rooms.RoomCount()))
		r.sendTo(conn, TypeRoomLeft, roomAckData{RoomID: req.RoomID})
		slog.Debug("Room left", "connection_id", conn.id.String(), "room_id", req.RoomID)

	case TypeBroadcastToRoom:
		req, ok := decodePayload[roomBroadcastRequest](c.envelope.Data)
		if !ok || req.RoomID == "" {
			r.dropMalformed(conn, c.envelope.Type)
			return
		}
		// Nonexistent room: silently no recipients, not an error.
		r.fanOut(r.rooms.MembersOf(req.RoomID), conn.id, TypeRoomBroadcast, roomBroadcastData{
			RoomID:  req.RoomID,
			From:    conn.identity.UserID,
			Payload: req.Payload,
		})

	case TypeGetOnlineUsers:
		users := r.snapshotIdentities()
		r.sendTo(conn, TypeOnlineUsers, onlineUsersData{Users: users, Count: len(users)})

	case TypeGetRoomStats:
		req, ok := decodePayload[roomRequest](c.envelope.Data)
		if !ok {
			r.dropMalformed(conn, c.envelope.Type)
			return
		}
		r.sendTo(conn, TypeRoomStats, roomStatsData{
			RoomID:           req.RoomID,
			MemberCount:      r.rooms.MemberCount(req.RoomID),
			TotalConnections: len(r.conns),
			TotalRooms:       r.rooms.RoomCount(),
		})

	default:
		slog.Warn("Unknown message type dropped",
			"connection_id", conn.id.String(),
			"message_type", c.envelope.Type,
		)
		metrics.MessagesDispatched.WithLabelValues("unknown").Inc()
		return
	}

	metrics.MessagesDispatched.WithLabelValues(c.envelope.Type).Inc()
}

func (r *Registry) handleDisconnect(c disconnectCmd) {
	conn, ok := r.conns[c.connID]
	if !ok {
		return
	}
	r.teardown(conn, c.reason, c.cause, c.abnormal)
}

func (r *Registry) handlePushToUser(c pushToUserCmd) int {
	ids := make([]uuid.UUID, 0, len(r.byUser[c.userID]))
	for connID := range r.byUser[c.userID] {
		ids = append(ids, connID)
	}
	return r.deliver(ids, uuid.Nil, c.envelope)
}

func (r *Registry) handlePushToRoom(c pushToRoomCmd) int {
	// Collaborator push: no sender exists, so nobody is excluded.
	return r.deliver(r.rooms.MembersOf(c.roomID), uuid.Nil, c.envelope)
}

// fanOut builds one envelope and delivers it to every listed connection
// except the sender.
func (r *Registry) fanOut(ids []uuid.UUID, exclude uuid.UUID, messageType string, data any) {
	envelope, err := NewEnvelope(messageType, data, r.clock.Now())
	if err != nil {
		slog.Error("Failed to build broadcast envelope", "message_type", messageType, "error", err)
		return
	}
	r.deliver(ids, exclude, envelope)
}

// deliver writes one envelope to each listed connection. A failed recipient
// never aborts delivery to the rest: it is logged, counted, and scheduled
// for disconnect after the loop.
func (r *Registry) deliver(ids []uuid.UUID, exclude uuid.UUID, envelope Envelope) int {
	data, err := json.Marshal(envelope)
	if err != nil {
		slog.Error("Failed to marshal envelope", "message_type", envelope.Type, "error", err)
		return 0
	}

	delivered := 0
	var slow []*connection
	for _, connID := range ids {
		if connID == exclude {
			continue
		}
		conn, ok := r.conns[connID]
		if !ok {
			continue
		}
		if conn.writer.enqueue(data) {
			delivered++
		} else {
			slow = append(slow, conn)
		}
	}

	for _, conn := range slow {
		slog.Warn("Disconnecting slow client",
			"connection_id", conn.id.String(),
			"user_id", conn.identity.UserID,
		)
		metrics.SlowClientsEvictedTotal.Inc()
		r.teardown(conn, "send buffer full", causeSlowClient, false)
	}

	metrics.FanoutRecipients.Observe(float64(delivered))
	return delivered
}

// sendTo marshals and enqueues a single frame for one connection.
func (r *Registry) sendTo(conn *connection, messageType string, data any) {
	envelope, err := NewEnvelope(messageType, data, r.clock.Now())
	if err != nil {
		slog.Error("Failed to build envelope", "message_type", messageType, "error", err)
		return
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		slog.Error("Failed to marshal envelope", "message_type", messageType, "error", err)
		return
	}
	if !conn.writer.enqueue(raw) {
		slog.Warn("Disconnecting slow client",
			"connection_id", conn.id.String(),
			"user_id", conn.identity.UserID,
		)
		metrics.SlowClientsEvictedTotal.Inc()
		r.teardown(conn, "send buffer full", causeSlowClient, false)
	}
}

// teardown runs the close path exactly once per connection: the CAS guard
// makes a second trigger (timeout racing an explicit close) a no-op.
func (r *Registry) teardown(conn *connection, reason, cause string, abnormal bool) {
	if !conn.beginClose() {
		return
	}

	closeCode := websocket.CloseNormalClosure
	if cause == causeShutdown {
		closeCode = websocket.CloseGoingAway
	}
	msg := websocket.FormatCloseMessage(closeCode, reason)
	_ = conn.transport.WriteControl(websocket.CloseMessage, msg, r.clock.Now().Add(writeDeadline))

	conn.cleanup()
	r.rooms.RemoveEverywhere(conn.id)
	delete(r.conns, conn.id)
	if userConns, ok := r.byUser[conn.identity.UserID]; ok {
		delete(userConns, conn.id)
		if len(userConns) == 0 {
			delete(r.byUser, conn.identity.UserID)
		}
	}

	r.health.RecordEnd(r.clock.Since(conn.establishedAt))
	if abnormal {
		r.health.RecordError()
	}
	conn.finishClose()

	metrics.ActiveConnections.Set(float64(len(r.conns)))
	metrics.ActiveRooms.Set(float64(r.rooms.RoomCount()))
	metrics.DisconnectsTotal.WithLabelValues(cause).Inc()

	slog.Info("Connection closed",
		"connection_id", conn.id.String(),
		"user_id", conn.identity.UserID,
		"reason", reason,
		"abnormal", abnormal,
	)
}

func (r *Registry) handleStop() {
	total := len(r.conns)
	slog.Info("Registry shutting down", "connections", total, "rooms", r.rooms.RoomCount())

	for _, conn := range r.conns {
		r.teardown(conn, "server shutting down", causeShutdown, false)
	}
	// Belt and braces: drain anything the teardown loop missed.
	r.cleanup.RunAll()

	slog.Info("Registry shutdown complete", "disconnected_clients", total)
}

func (r *Registry) snapshotIdentities() []Identity {
	users := make([]Identity, 0, len(r.conns))
	for _, conn := range r.conns {
		users = append(users, conn.identity)
	}
	return users
}

func (r *Registry) dropMalformed(conn *connection, messageType string) {
	slog.Warn("Malformed message dropped",
		"connection_id", conn.id.String(),
		"message_type", messageType,
	)
}

func decodePayload[T any](raw json.RawMessage) (T, bool) {
	var payload T
	if len(raw) == 0 {
		return payload, false
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return payload, false
	}
	return payload, true
}

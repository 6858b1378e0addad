package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// Inbound message types.
const (
	TypePing            = "ping"
	TypeJoinRoom        = "join_room"
	TypeLeaveRoom       = "leave_room"
	TypeBroadcastToRoom = "broadcast_to_room"
	TypeGetOnlineUsers  = "get_online_users"
	TypeGetRoomStats    = "get_room_stats"
)

// Outbound message types.
const (
	TypeConnectionEstablished = "connection_established"
	TypePong                  = "pong"
	TypeRoomJoined            = "room_joined"
	TypeRoomLeft              = "room_left"
	TypeRoomBroadcast         = "room_broadcast"
	TypeOnlineUsers           = "online_users"
	TypeRoomStats             = "room_stats"
	TypeUserMessage           = "user_message"
)

// Envelope is the uniform wire frame for inbound and outbound messages.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// NewEnvelope builds an outbound envelope, marshalling data into the frame.
// A nil data leaves the data field empty.
func NewEnvelope(messageType string, data any, now time.Time) (Envelope, error) {
	env := Envelope{Type: messageType, Timestamp: now.UnixMilli()}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s data: %w", messageType, err)
		}
		env.Data = raw
	}
	return env, nil
}

// Identity is the caller identity bound to a connection at admission time.
// It is captured once and never changes for the lifetime of the connection.
type Identity struct {
	UserID      string `json:"userId"`
	WorkspaceID string `json:"workspaceId,omitempty"`
	ProjectID   string `json:"projectId,omitempty"`
}

// WorkspaceRoom returns the room key for a workspace.
func WorkspaceRoom(workspaceID string) string { return "workspace:" + workspaceID }

// ProjectRoom returns the room key for a project.
func ProjectRoom(projectID string) string { return "project:" + projectID }

// Inbound payloads.

type roomRequest struct {
	RoomID string `json:"roomId"`
}

type roomBroadcastRequest struct {
	RoomID  string          `json:"roomId"`
	Payload json.RawMessage `json:"payload"`
}

// Outbound payloads.

type connectionEstablishedData struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
}

type roomAckData struct {
	RoomID string `json:"roomId"`
}

type roomBroadcastData struct {
	RoomID  string          `json:"roomId"`
	From    string          `json:"from,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type onlineUsersData struct {
	Users []Identity `json:"users"`
	Count int        `json:"count"`
}

type roomStatsData struct {
	RoomID           string `json:"roomId"`
	MemberCount      int    `json:"memberCount"`
	TotalConnections int    `json:"totalConnections"`
	TotalRooms       int    `json:"totalRooms"`
}

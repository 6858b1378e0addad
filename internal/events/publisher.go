// Package events is the collaborator-facing fan-out facade. The application
// layer calls it after persisting a change; it never blocks on persistence
// itself and delivery is best effort by design.
package events

import (
	"encoding/json"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/MagistrTheOne/deadlinecome-realtime/internal/realtime"
)

// Event names pushed by the application layer.
const (
	EventBugCreated    = "bug_created"
	EventTaskUpdated   = "task_updated"
	EventTestGenerated = "test_generated"
)

// pusher is the slice of the registry the publisher needs.
type pusher interface {
	PushToRoom(roomID string, envelope realtime.Envelope) int
	PushToUser(userID string, envelope realtime.Envelope) int
}

type roomEventData struct {
	RoomID  string          `json:"roomId"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type userEventData struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Publisher wraps application events into wire envelopes and fans them out.
type Publisher struct {
	registry pusher
	clock    clockwork.Clock
}

func NewPublisher(registry pusher, clock clockwork.Clock) *Publisher {
	return &Publisher{registry: registry, clock: clock}
}

// BugCreated notifies every member of the project room. Returns the number
// of connections reached.
func (p *Publisher) BugCreated(projectID string, payload json.RawMessage) int {
	return p.RoomEvent(realtime.ProjectRoom(projectID), EventBugCreated, payload)
}

// TaskUpdated notifies every member of the project room.
func (p *Publisher) TaskUpdated(projectID string, payload json.RawMessage) int {
	return p.RoomEvent(realtime.ProjectRoom(projectID), EventTaskUpdated, payload)
}

// TestGenerated notifies every member of the project room.
func (p *Publisher) TestGenerated(projectID string, payload json.RawMessage) int {
	return p.RoomEvent(realtime.ProjectRoom(projectID), EventTestGenerated, payload)
}

// WorkspaceEvent notifies every member of the workspace room.
func (p *Publisher) WorkspaceEvent(workspaceID, event string, payload json.RawMessage) int {
	return p.RoomEvent(realtime.WorkspaceRoom(workspaceID), event, payload)
}

// RoomEvent pushes an arbitrary event to a room. No sender exists here, so
// every member receives it.
func (p *Publisher) RoomEvent(roomID, event string, payload json.RawMessage) int {
	envelope, err := realtime.NewEnvelope(realtime.TypeRoomBroadcast, roomEventData{
		RoomID:  roomID,
		Event:   event,
		Payload: payload,
	}, p.clock.Now())
	if err != nil {
		slog.Error("Failed to build room event", "room_id", roomID, "event", event, "error", err)
		return 0
	}
	return p.registry.PushToRoom(roomID, envelope)
}

// UserEvent pushes an event to every open connection of one user.
func (p *Publisher) UserEvent(userID, event string, payload json.RawMessage) int {
	envelope, err := realtime.NewEnvelope(realtime.TypeUserMessage, userEventData{
		Event:   event,
		Payload: payload,
	}, p.clock.Now())
	if err != nil {
		slog.Error("Failed to build user event", "user_id", userID, "event", event, "error", err)
		return 0
	}
	return p.registry.PushToUser(userID, envelope)
}

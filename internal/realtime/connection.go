package realtime

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Transport is the minimal write-side surface the core needs from a websocket
// connection. *websocket.Conn satisfies it. Per gorilla's concurrency contract
// WriteControl and Close may be called concurrently with WriteMessage, which is
// what lets the heartbeat supervisor ping outside the write pump.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Close progresses open -> closing -> closed. Only the trigger that wins the
// CAS from open runs teardown; every later trigger is a no-op.
const (
	stateOpen int32 = iota
	stateClosing
	stateClosed
)

type connection struct {
	id            uuid.UUID
	identity      Identity
	transport     Transport
	writer        *clientWriter
	heartbeat     *HeartbeatSupervisor
	cleanup       CleanupFunc
	establishedAt time.Time
	state         atomic.Int32
}

// beginClose claims the right to tear the connection down.
func (c *connection) beginClose() bool {
	return c.state.CompareAndSwap(stateOpen, stateClosing)
}

func (c *connection) finishClose() {
	c.state.Store(stateClosed)
}

package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// fakeTransport records frames instead of writing to a socket. The gate,
// when armed, blocks data writes so tests can fill a send buffer.
type fakeTransport struct {
	mu          sync.Mutex
	frames      [][]byte
	closeFrames [][]byte
	pings       int
	attempts    int
	closed      bool
	writeErr    error
	controlErr  error
	gate        chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{}
}

func newGatedTransport() *fakeTransport {
	return &fakeTransport{gate: make(chan struct{})}
}

func (t *fakeTransport) WriteMessage(messageType int, data []byte) error {
	t.mu.Lock()
	t.attempts++
	gate := t.gate
	err := t.writeErr
	t.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if messageType == websocket.TextMessage {
		t.frames = append(t.frames, append([]byte(nil), data...))
	}
	return nil
}

func (t *fakeTransport) WriteControl(messageType int, data []byte, _ time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.controlErr != nil {
		return t.controlErr
	}
	switch messageType {
	case websocket.PingMessage:
		t.pings++
	case websocket.CloseMessage:
		t.closeFrames = append(t.closeFrames, append([]byte(nil), data...))
	}
	return nil
}

func (t *fakeTransport) SetWriteDeadline(time.Time) error { return nil }

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) releaseGate() {
	t.mu.Lock()
	gate := t.gate
	t.gate = nil
	t.mu.Unlock()
	if gate != nil {
		close(gate)
	}
}

func (t *fakeTransport) isClosed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *fakeTransport) pingCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pings
}

func (t *fakeTransport) writeAttempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

func (t *fakeTransport) closeFrameCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.closeFrames)
}

// envelopes decodes every recorded text frame.
func (t *fakeTransport) envelopes() []Envelope {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Envelope, 0, len(t.frames))
	for _, frame := range t.frames {
		var env Envelope
		if err := json.Unmarshal(frame, &env); err == nil {
			out = append(out, env)
		}
	}
	return out
}

// envelopesOfType filters decoded frames by message type.
func (t *fakeTransport) envelopesOfType(messageType string) []Envelope {
	var out []Envelope
	for _, env := range t.envelopes() {
		if env.Type == messageType {
			out = append(out, env)
		}
	}
	return out
}

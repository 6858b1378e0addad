package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/MagistrTheOne/deadlinecome-realtime/internal/metrics"
)

const writeDeadline = 5 * time.Second

// clientWriter serializes outbound data frames onto one transport.
// All data writes go through its goroutine; only heartbeat control frames
// bypass it (via WriteControl, which gorilla allows concurrently).
type clientWriter struct {
	transport   Transport
	clock       clockwork.Clock
	sendChannel chan []byte
	doneChannel chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
}

func newClientWriter(transport Transport, clock clockwork.Clock, bufferSize int) *clientWriter {
	cw := &clientWriter{
		transport:   transport,
		clock:       clock,
		sendChannel: make(chan []byte, bufferSize),
		doneChannel: make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.run()
	return cw
}

func (cw *clientWriter) run() {
	defer cw.wg.Done()

	for {
		select {
		case msg := <-cw.sendChannel:
			start := cw.clock.Now()
			_ = cw.transport.SetWriteDeadline(start.Add(writeDeadline))
			if err := cw.transport.WriteMessage(websocket.TextMessage, msg); err != nil {
				metrics.SendFailuresTotal.Inc()
				return
			}
			metrics.MessageSendDuration.Observe(cw.clock.Since(start).Seconds())
		case <-cw.doneChannel:
			return
		}
	}
}

// enqueue hands a frame to the write pump without blocking.
// Returns false when the buffer is full, marking the client as slow.
func (cw *clientWriter) enqueue(msg []byte) bool {
	select {
	case cw.sendChannel <- msg:
		return true
	default:
		return false
	}
}

// stop terminates the write pump and waits for it to exit. Idempotent.
func (cw *clientWriter) stop() {
	cw.stopOnce.Do(func() {
		close(cw.doneChannel)
	})
	cw.wg.Wait()
}

// Cancel implements Task so the cleanup path can stop the pump.
func (cw *clientWriter) Cancel() { cw.stop() }

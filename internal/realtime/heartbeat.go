package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/MagistrTheOne/deadlinecome-realtime/internal/metrics"
)

// Heartbeat defaults; overridable via Config.
const (
	DefaultPingInterval = 30 * time.Second
	DefaultPongTimeout  = 5 * time.Second
)

// HeartbeatSupervisor runs the ping/pong liveness protocol for a single
// connection. Each ping tick sends a control frame and arms a pong timer;
// the pong cancels the timer, a fired timer reports the connection dead.
// onDead fires at most once, and never after Cancel.
type HeartbeatSupervisor struct {
	transport    Transport
	clock        clockwork.Clock
	pingInterval time.Duration
	pongTimeout  time.Duration
	onDead       func(reason string)

	pongChannel chan struct{}
	doneChannel chan struct{}
	cancelOnce  sync.Once
}

func NewHeartbeatSupervisor(transport Transport, clock clockwork.Clock, pingInterval, pongTimeout time.Duration, onDead func(reason string)) *HeartbeatSupervisor {
	return &HeartbeatSupervisor{
		transport:    transport,
		clock:        clock,
		pingInterval: pingInterval,
		pongTimeout:  pongTimeout,
		onDead:       onDead,
		pongChannel:  make(chan struct{}, 1),
		doneChannel:  make(chan struct{}),
	}
}

// Start launches the supervision loop.
func (hs *HeartbeatSupervisor) Start() {
	go hs.run()
}

func (hs *HeartbeatSupervisor) run() {
	ticker := hs.clock.NewTicker(hs.pingInterval)
	defer ticker.Stop()

	var pongTimer clockwork.Timer
	var timeoutChannel <-chan time.Time
	defer func() {
		if pongTimer != nil {
			pongTimer.Stop()
		}
	}()

	alive := true
	for {
		select {
		case <-ticker.Chan():
			if !alive {
				// Ping already outstanding; the pong timer decides.
				continue
			}
			deadline := hs.clock.Now().Add(hs.pongTimeout)
			if err := hs.transport.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				metrics.HeartbeatPingFailuresTotal.Inc()
				hs.onDead("ping write failed")
				return
			}
			alive = false
			pongTimer = hs.clock.NewTimer(hs.pongTimeout)
			timeoutChannel = pongTimer.Chan()

		case <-hs.pongChannel:
			alive = true
			if pongTimer != nil {
				pongTimer.Stop()
				pongTimer = nil
				timeoutChannel = nil
			}

		case <-timeoutChannel:
			// A cancel racing the timeout must win: a cancelled supervisor
			// never reports the connection dead.
			select {
			case <-hs.doneChannel:
				return
			default:
			}
			metrics.HeartbeatTimeoutsTotal.Inc()
			hs.onDead("pong timeout")
			return

		case <-hs.doneChannel:
			return
		}
	}
}

// PongReceived marks the connection alive again. Called from the
// transport's pong handler; never blocks.
func (hs *HeartbeatSupervisor) PongReceived() {
	select {
	case hs.pongChannel <- struct{}{}:
	default:
	}
}

// Cancel stops the supervision loop. Implements Task; idempotent.
func (hs *HeartbeatSupervisor) Cancel() {
	hs.cancelOnce.Do(func() {
		close(hs.doneChannel)
	})
}

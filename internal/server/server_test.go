package server

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/MagistrTheOne/deadlinecome-realtime/internal/events"
	"github.com/MagistrTheOne/deadlinecome-realtime/internal/platform/config"
	"github.com/MagistrTheOne/deadlinecome-realtime/internal/realtime"
)

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:                 "test",
		Port:                   "0",
		PingInterval:           time.Hour, // keep heartbeats quiet in tests
		PongTimeout:            5 * time.Second,
		SendBufferSize:         16,
		MaxConnections:         100,
		MaxConnectionsPerIP:    100,
		HandshakeRatePerSecond: 1000,
		HandshakeBurst:         1000,
		ShutdownTimeout:        time.Second,
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *Server {
	t.Helper()
	clock := clockwork.NewRealClock()
	registry := realtime.NewRegistry(realtime.Config{
		PingInterval:   cfg.PingInterval,
		PongTimeout:    cfg.PongTimeout,
		SendBufferSize: cfg.SendBufferSize,
	}, clock)
	t.Cleanup(registry.Stop)
	publisher := events.NewPublisher(registry, clock)
	return NewServer(cfg, registry, publisher)
}

// stubTransport satisfies realtime.Transport for tests that admit
// connections without a real socket.
type stubTransport struct {
	mu     sync.Mutex
	closed bool
}

func newStubTransport() *stubTransport { return &stubTransport{} }

func (s *stubTransport) WriteMessage(int, []byte) error           { return nil }
func (s *stubTransport) WriteControl(int, []byte, time.Time) error { return nil }
func (s *stubTransport) SetWriteDeadline(time.Time) error          { return nil }

func (s *stubTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

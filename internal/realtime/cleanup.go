package realtime

import (
	"sync"

	"github.com/google/uuid"
)

// Task is a cancellable background activity tied to a connection, such as a
// heartbeat supervisor or a write pump. Cancel must be safe to call more
// than once; a cancelled task never fires again.
type Task interface {
	Cancel()
}

// TaskFunc adapts a plain function to a Task.
type TaskFunc func()

func (f TaskFunc) Cancel() { f() }

// CleanupFunc tears down one connection's resources. Calling it more than
// once is safe: every invocation after the first is a silent no-op.
type CleanupFunc func()

// CleanupManager builds the single teardown path for each connection and
// tracks every outstanding one so server shutdown can drain them all.
// Whichever trigger runs first (client close, heartbeat timeout, shutdown)
// wins; the cleanup contract is an explicit list of tasks and detach
// callbacks collected at build time, not an implicit detach-everything.
type CleanupManager struct {
	mu      sync.Mutex
	pending map[uuid.UUID]CleanupFunc
}

func NewCleanupManager() *CleanupManager {
	return &CleanupManager{pending: make(map[uuid.UUID]CleanupFunc)}
}

// Build registers and returns the teardown function for a connection:
// cancel every task, run every detach callback, close the transport.
func (m *CleanupManager) Build(connID uuid.UUID, transport Transport, tasks []Task, detach []func()) CleanupFunc {
	var once sync.Once
	fn := func() {
		once.Do(func() {
			for _, task := range tasks {
				task.Cancel()
			}
			for _, d := range detach {
				d()
			}
			_ = transport.Close()

			m.mu.Lock()
			delete(m.pending, connID)
			m.mu.Unlock()
		})
	}

	m.mu.Lock()
	m.pending[connID] = fn
	m.mu.Unlock()
	return fn
}

// RunAll executes every outstanding cleanup. Used on server shutdown,
// before the process-wide registries are released.
func (m *CleanupManager) RunAll() {
	m.mu.Lock()
	fns := make([]CleanupFunc, 0, len(m.pending))
	for _, fn := range m.pending {
		fns = append(fns, fn)
	}
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Outstanding returns the number of connections not yet cleaned up.
func (m *CleanupManager) Outstanding() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

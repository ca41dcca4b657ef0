package batch

import (
	"context"
	"errors"
	"sync"

	"github.com/ytget/tubegrab/internal/model"
)

// ErrBatchActive is returned when a submission arrives while another batch
// is still running.
var ErrBatchActive = errors.New("another batch is already running")

// Manager enforces the one-active-batch rule: a new submission is rejected,
// not silently layered over a running one. A finished batch stays inspectable
// until dismissed or replaced.
type Manager struct {
	mu     sync.Mutex
	active *Coordinator
}

// NewManager creates an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// Submit starts a new batch for the given jobs. It fails with ErrBatchActive
// while a previous batch is still running; a finished one is replaced.
func (m *Manager) Submit(ctx context.Context, jobs []*model.Job, limit int, makeRunner RunnerFactory) (*Coordinator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && m.active.Running() {
		return nil, ErrBatchActive
	}

	coord := New(jobs, limit, makeRunner)
	if err := coord.Start(ctx); err != nil {
		return nil, err
	}
	m.active = coord
	return coord, nil
}

// Active returns the current batch, running or finished, or nil.
func (m *Manager) Active() *Coordinator {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Dismiss drops a finished batch. A running batch must be cancelled first.
func (m *Manager) Dismiss() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil
	}
	if m.active.Running() {
		return ErrStillRunning
	}
	m.active = nil
	return nil
}

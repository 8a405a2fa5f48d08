package tasks

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/sueda-gl/bookspire-backend-public/internal/platform/logger"
)

// DefaultDrainTimeout bounds how long a disconnect waits for the
// connection's tasks to observe cancellation and exit.
const DefaultDrainTimeout = 2 * time.Second

// Manager owns the background work spawned on behalf of a connection. Every
// task is tied to its connection key; when the connection goes away the
// whole group is cancelled and drained within a bounded window.
type Manager struct {
	log   *logger.Logger
	drain time.Duration

	mu     sync.Mutex
	groups map[string]*connGroup
}

type connGroup struct {
	cancel context.CancelFunc
	g      *errgroup.Group
	ctx    context.Context
}

func NewManager(drain time.Duration, log *logger.Logger) *Manager {
	if drain <= 0 {
		drain = DefaultDrainTimeout
	}
	return &Manager{
		log:    log.With("service", "TaskManager"),
		drain:  drain,
		groups: make(map[string]*connGroup),
	}
}

// Spawn runs fn under connKey's group. fn must return promptly once its
// context is cancelled. A task failure never cancels its siblings.
func (m *Manager) Spawn(connKey, name string, fn func(ctx context.Context)) {
	m.mu.Lock()
	grp := m.groups[connKey]
	if grp == nil {
		ctx, cancel := context.WithCancel(context.Background())
		g := new(errgroup.Group)
		grp = &connGroup{cancel: cancel, g: g, ctx: ctx}
		m.groups[connKey] = grp
	}
	m.mu.Unlock()

	taskLog := m.log.With("conn_key", connKey, "task", name)
	grp.g.Go(func() error {
		defer func() {
			if r := recover(); r != nil {
				taskLog.Error("Task panicked", "panic", r)
			}
		}()
		fn(grp.ctx)
		return nil
	})
}

// OnDisconnect cancels connKey's tasks and waits up to the drain timeout for
// them to finish. Returns false when tasks were still running at the
// deadline; they keep their cancelled context and are expected to die soon.
func (m *Manager) OnDisconnect(connKey string) bool {
	m.mu.Lock()
	grp := m.groups[connKey]
	delete(m.groups, connKey)
	m.mu.Unlock()
	if grp == nil {
		return true
	}

	grp.cancel()

	done := make(chan struct{})
	go func() {
		_ = grp.g.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(m.drain):
		m.log.Warn("Tasks did not drain before deadline", "conn_key", connKey, "timeout", m.drain)
		return false
	}
}

// ActiveGroups reports how many connections currently own tasks.
func (m *Manager) ActiveGroups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.groups)
}

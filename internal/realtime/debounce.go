package realtime

import (
	"strings"
	"sync"
	"time"

	"github.com/sueda-gl/bookspire-backend-public/internal/platform/logger"
)

// DefaultQuietPeriod is how long input must stay quiet before a pending
// fire runs.
const DefaultQuietPeriod = 1500 * time.Millisecond

// Coalescer debounces bursty input per key. Each Submit cancels the key's
// pending fire and schedules a new one, so only the latest payload ever
// fires. CancelAll drops pending fires for a key prefix and waits out any
// fire already in flight.
type Coalescer struct {
	log   *logger.Logger
	quiet time.Duration

	mu      sync.Mutex
	pending map[string]*pendingFire
}

type pendingFire struct {
	timer *time.Timer
	done  chan struct{}
}

func NewCoalescer(quiet time.Duration, log *logger.Logger) *Coalescer {
	if quiet <= 0 {
		quiet = DefaultQuietPeriod
	}
	return &Coalescer{
		log:     log.With("service", "Coalescer"),
		quiet:   quiet,
		pending: make(map[string]*pendingFire),
	}
}

// Submit schedules fn to run after the quiet period, replacing any pending
// fire for key. fn runs on the timer goroutine.
func (c *Coalescer) Submit(key string, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old := c.pending[key]; old != nil {
		c.cancelLocked(key, old)
	}

	p := &pendingFire{done: make(chan struct{})}
	p.timer = time.AfterFunc(c.quiet, func() {
		defer close(p.done)
		c.mu.Lock()
		if c.pending[key] != p {
			// Replaced or cancelled between timer fire and lock acquisition.
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		// The entry stays in the map while fn runs so CancelAll can find the
		// in-flight fire and wait on done.
		fn()

		c.mu.Lock()
		if c.pending[key] == p {
			delete(c.pending, key)
		}
		c.mu.Unlock()
	})
	c.pending[key] = p
}

// Cancel drops the pending fire for key, if any, without waiting.
func (c *Coalescer) Cancel(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p := c.pending[key]; p != nil {
		c.cancelLocked(key, p)
	}
}

// CancelAll drops every pending fire whose key starts with prefix and blocks
// until fires already past the point of no return have finished.
func (c *Coalescer) CancelAll(prefix string) {
	c.mu.Lock()
	var inflight []*pendingFire
	for key, p := range c.pending {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		c.cancelLocked(key, p)
		inflight = append(inflight, p)
	}
	c.mu.Unlock()

	for _, p := range inflight {
		<-p.done
	}
}

// cancelLocked stops p's timer and removes it from the map. If the timer
// already fired, the fire goroutine owns closing done; otherwise we close it
// here so waiters never block on a fire that will not happen.
func (c *Coalescer) cancelLocked(key string, p *pendingFire) {
	delete(c.pending, key)
	if p.timer.Stop() {
		close(p.done)
	}
}

// PendingCount reports pending fires, for tests and shutdown accounting.
func (c *Coalescer) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

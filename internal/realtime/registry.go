package realtime

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	apperrors "github.com/sueda-gl/bookspire-backend-public/internal/pkg/errors"
	"github.com/sueda-gl/bookspire-backend-public/internal/platform/logger"
)

// Registry tracks live connections keyed by (session, participant). One
// connection per key: a reconnect supersedes and closes the previous one.
// Locking is per session bucket so sessions never contend with each other.
type Registry struct {
	log *logger.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*sessionBucket
}

type sessionBucket struct {
	mu    sync.Mutex
	conns map[string]Conn
	// dead marks a bucket retired from r.sessions; no insert may land in it.
	dead bool
}

func NewRegistry(log *logger.Logger) *Registry {
	return &Registry{
		log:      log.With("service", "ConnRegistry"),
		sessions: make(map[uuid.UUID]*sessionBucket),
	}
}

// Connect registers conn under (sessionID, participantID). If a connection
// already holds the key it is closed and replaced; its owner sees the close
// on its read loop and unwinds through Disconnect, which is a no-op by then.
func (r *Registry) Connect(sessionID uuid.UUID, participantID string, conn Conn) {
	var prev Conn
	for {
		r.mu.Lock()
		b := r.sessions[sessionID]
		if b == nil {
			b = &sessionBucket{conns: make(map[string]Conn)}
			r.sessions[sessionID] = b
		}
		r.mu.Unlock()

		b.mu.Lock()
		if b.dead {
			// A concurrent disconnect retired this bucket between the two
			// locks; take a fresh one so the registration stays reachable.
			b.mu.Unlock()
			continue
		}
		prev = b.conns[participantID]
		b.conns[participantID] = conn
		b.mu.Unlock()
		break
	}

	if prev != nil && prev != conn {
		r.log.Info("Superseding connection", "session_id", sessionID, "participant_id", participantID)
		_ = prev.Close(websocket.CloseNormalClosure, "superseded by newer connection")
	}
}

// Disconnect removes the key only if it still maps to conn, so a stale
// goroutine cannot evict its successor. Safe to call repeatedly.
func (r *Registry) Disconnect(sessionID uuid.UUID, participantID string, conn Conn) {
	r.mu.RLock()
	b := r.sessions[sessionID]
	r.mu.RUnlock()
	if b == nil {
		return
	}

	b.mu.Lock()
	current := b.conns[participantID]
	if current == conn {
		delete(b.conns, participantID)
	}
	empty := len(b.conns) == 0
	b.mu.Unlock()

	if empty {
		r.mu.Lock()
		if bb := r.sessions[sessionID]; bb == b {
			bb.mu.Lock()
			if len(bb.conns) == 0 {
				bb.dead = true
				delete(r.sessions, sessionID)
			}
			bb.mu.Unlock()
		}
		r.mu.Unlock()
	}
}

// SendTo delivers one envelope. Any write failure drops the connection on
// the spot; the caller gets the error but never retries through a dead pipe.
// Sending to a key with no live connection reports ErrConnClosed.
func (r *Registry) SendTo(sessionID uuid.UUID, participantID string, v any) error {
	r.mu.RLock()
	b := r.sessions[sessionID]
	r.mu.RUnlock()
	if b == nil {
		return fmt.Errorf("no connection for %s/%s: %w", sessionID, participantID, apperrors.ErrConnClosed)
	}

	b.mu.Lock()
	conn := b.conns[participantID]
	b.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("no connection for %s/%s: %w", sessionID, participantID, apperrors.ErrConnClosed)
	}

	if err := conn.SendJSON(v); err != nil {
		r.log.Warn("Send failed, dropping connection", "session_id", sessionID, "participant_id", participantID, "error", err)
		r.Disconnect(sessionID, participantID, conn)
		_ = conn.Close(websocket.CloseInternalServerErr, "send failed")
		return err
	}
	return nil
}

// Broadcast sends to every participant in the session, skipping except when
// it names one. A failing connection is dropped without affecting delivery
// to the others.
func (r *Registry) Broadcast(sessionID uuid.UUID, v any, except string) {
	r.mu.RLock()
	b := r.sessions[sessionID]
	r.mu.RUnlock()
	if b == nil {
		return
	}

	b.mu.Lock()
	targets := make(map[string]Conn, len(b.conns))
	for id, c := range b.conns {
		if except != "" && id == except {
			continue
		}
		targets[id] = c
	}
	b.mu.Unlock()

	for id, c := range targets {
		if err := c.SendJSON(v); err != nil {
			r.log.Warn("Broadcast send failed, dropping connection", "session_id", sessionID, "participant_id", id, "error", err)
			r.Disconnect(sessionID, id, c)
			_ = c.Close(websocket.CloseInternalServerErr, "send failed")
		}
	}
}

// Participant reports whether the key currently has a live connection.
func (r *Registry) Participant(sessionID uuid.UUID, participantID string) bool {
	r.mu.RLock()
	b := r.sessions[sessionID]
	r.mu.RUnlock()
	if b == nil {
		return false
	}
	b.mu.Lock()
	_, ok := b.conns[participantID]
	b.mu.Unlock()
	return ok
}

package broker

import (
	"sync"
	"time"

	"beacon/internal/proto"
)

// Registry is the broker-wide table of live device sessions. It is the single
// source of truth for "is this device currently connected": at most one
// session exists per identity at any instant.
type Registry struct {
	mu       sync.RWMutex
	sessions map[proto.DeviceID]*Session
}

// SessionInfo is a read-only snapshot of one registered session.
type SessionInfo struct {
	DeviceID    proto.DeviceID `json:"device_id"`
	RemoteAddr  string         `json:"remote_addr"`
	ConnectedAt time.Time      `json:"connected_at"`
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[proto.DeviceID]*Session),
	}
}

// Register inserts a session under its device identity, replacing any session
// already registered there. The replaced session is torn down so a caller
// blocked on it observes ErrDisconnected rather than a silent leak.
func (r *Registry) Register(s *Session) {
	r.mu.Lock()
	old := r.sessions[s.DeviceID()]
	r.sessions[s.DeviceID()] = s
	r.mu.Unlock()

	// Teardown happens outside the lock: the evicted session deregisters
	// itself, which is a no-op here since the entry now points at s.
	if old != nil {
		old.teardown()
	}
}

// Lookup returns the live session for an identity, if any.
func (r *Registry) Lookup(id proto.DeviceID) (*Session, bool) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	return s, ok
}

// Remove deletes the registry entry for id only if it still points at s.
// Idempotent: removing an absent or already-replaced session is a no-op.
func (r *Registry) Remove(id proto.DeviceID, s *Session) {
	r.mu.Lock()
	if current, ok := r.sessions[id]; ok && current == s {
		delete(r.sessions, id)
	}
	r.mu.Unlock()
}

// Len returns the number of connected devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot returns session info for every connected device.
func (r *Registry) Snapshot() []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		infos = append(infos, SessionInfo{
			DeviceID:    s.DeviceID(),
			RemoteAddr:  s.RemoteAddr(),
			ConnectedAt: s.ConnectedAt(),
		})
	}
	return infos
}

// Close tears down every registered session. Used on broker shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.teardown()
	}
}

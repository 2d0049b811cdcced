package session

import (
	"errors"
	"sort"
	"sync"

	"github.com/ent0n29/callrelay/internal/protocol"
	"github.com/ent0n29/callrelay/internal/transport"
)

var ErrNotFound = errors.New("session not found")

// Registry holds the active calls, the current observer connection and the
// process-wide session configuration override.
type Registry struct {
	mu            sync.RWMutex
	sessions      map[string]*Session
	observer      transport.Conn
	defaultConfig protocol.SessionConfig
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// GetOrCreate returns the session for streamSID, creating and starting it
// when absent. created reports whether a new session was made.
func (r *Registry) GetOrCreate(streamSID string) (s *Session, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[streamSID]; ok && !s.Stopped() {
		return s, false
	}
	s = newSession(streamSID)
	r.sessions[streamSID] = s
	return s, true
}

func (r *Registry) Get(streamSID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[streamSID]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Remove drops s from the registry if it is still the entry for its stream.
func (r *Registry) Remove(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[s.StreamSID]
	if !ok || cur != s {
		return false
	}
	delete(r.sessions, s.StreamSID)
	return true
}

// Sessions returns the active sessions ordered by stream id.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamSID < out[j].StreamSID })
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// SetObserver makes conn the current observer and closes the one it replaces.
func (r *Registry) SetObserver(conn transport.Conn) {
	r.mu.Lock()
	prev := r.observer
	r.observer = conn
	r.mu.Unlock()
	if prev != nil && prev != conn {
		_ = prev.Close()
	}
}

// ClearObserver forgets conn if it is still the current observer.
func (r *Registry) ClearObserver(conn transport.Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.observer == nil || r.observer != conn {
		return false
	}
	r.observer = nil
	return true
}

func (r *Registry) Observer() transport.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.observer
}

// Broadcast sends v to the current observer, if any.
func (r *Registry) Broadcast(v any) error {
	return transport.Send(r.Observer(), v)
}

// DefaultConfig returns the process-wide configuration override.
func (r *Registry) DefaultConfig() protocol.SessionConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.defaultConfig
}

func (r *Registry) SetDefaultConfig(cfg protocol.SessionConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultConfig = cfg
}

// Shutdown stops every session loop and empties the registry.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	observer := r.observer
	r.observer = nil
	r.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
	if observer != nil {
		_ = observer.Close()
	}
}

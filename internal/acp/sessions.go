package acp

import (
	"sync"
	"time"
)

// Session is the gateway-side bookkeeping for one ACP conversation. The
// manager owns every session for its lifetime; nothing is shared across
// session ids.
type Session struct {
	ID        string
	Cwd       string
	Mode      string
	Provider  string
	CreatedAt time.Time
}

// SessionManager tracks live ACP sessions behind a read/write lock. The
// lock is held only for the map operation, never across I/O.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*Session)}
}

// Create registers a session under id, replacing any previous entry.
func (m *SessionManager) Create(id, cwd, mode, provider string) *Session {
	s := &Session{
		ID:        id,
		Cwd:       cwd,
		Mode:      mode,
		Provider:  provider,
		CreatedAt: time.Now(),
	}
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return s
}

// Get returns the session for id, if present.
func (m *SessionManager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove drops the session bookkeeping. It does not cancel an in-flight
// prompt; a running bridge call completes (or times out) on its own.
func (m *SessionManager) Remove(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Len reports the number of live sessions.
func (m *SessionManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

package stream

import (
	"sync"
)

// Manager is the process-wide registry of streaming sessions, keyed by
// session id. Creation, lookup and close are guarded by one mutex.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// CreateSession registers a fresh session under id. An existing session
// with the same id is replaced; the old one is stopped asynchronously so
// its handlers drain without blocking the new request.
func (m *Manager) CreateSession(id string) *Session {
	s := NewSession(id)

	m.mu.Lock()
	old := m.sessions[id]
	m.sessions[id] = s
	m.mu.Unlock()

	if old != nil {
		go old.Stop()
	}
	return s
}

// Get returns the session registered under id, or nil.
func (m *Manager) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id]
}

// CloseSession stops and removes the session registered under id.
func (m *Manager) CloseSession(id string) {
	m.mu.Lock()
	s := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if s != nil {
		s.Stop()
	}
}

// CloseAll stops and removes every registered session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	all := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Stop()
	}
}

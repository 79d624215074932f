package controller

import (
	"sort"
	"sync"
	"time"

	"github.com/ctagard/deepdbg/internal/launchconfig"
	"github.com/ctagard/deepdbg/pkg/types"
)

// Session is a debug session the host reported as running.
type Session struct {
	ID            int
	ParentID      int
	Configuration *launchconfig.Configuration
	StartedAt     time.Time
}

// Info returns a summary of the session.
func (s *Session) Info() types.SessionInfo {
	info := types.SessionInfo{SessionID: s.ID, ParentSessionID: s.ParentID}
	if cfg := s.Configuration; cfg != nil {
		info.Name = cfg.Name
		info.Type = cfg.Type
		info.Program = cfg.Program
		info.HookPipe = cfg.HookPipe
	}
	return info
}

// SessionMap maps relay session ids to live sessions.
type SessionMap struct {
	mu       sync.RWMutex
	sessions map[int]*Session
}

// NewSessionMap creates an empty map.
func NewSessionMap() *SessionMap {
	return &SessionMap{sessions: make(map[int]*Session)}
}

// Add records a session, replacing any previous one with the same id.
func (m *SessionMap) Add(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

// Get returns the session with the given id.
func (m *SessionMap) Get(id int) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove deletes and returns the session with the given id.
func (m *SessionMap) Remove(id int) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	return s, ok
}

// Len returns the number of live sessions.
func (m *SessionMap) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// List returns all sessions ordered by id.
func (m *SessionMap) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

package orchestrator

import (
	"sync"
	"time"
)

// SessionManager owns one State per session ID, creating it lazily on
// first use, with exactly the lookup/expire operations the turn loop
// and background sweeps need.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*State
}

// NewSessionManager returns an empty SessionManager.
func NewSessionManager() *SessionManager {
	return &SessionManager{sessions: make(map[string]*State)}
}

// Get returns the State for sessionID, creating one if this is the
// session's first turn.
func (m *SessionManager) Get(sessionID string) *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		s = New()
		m.sessions[sessionID] = s
	}
	return s
}

// Delete removes sessionID's State entirely, e.g. on explicit logout.
func (m *SessionManager) Delete(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Len returns the number of tracked sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ExpirePendingConfirmations sweeps every tracked session's pending
// confirmations, removing timed-out tokens, and returns the total count
// removed across all sessions.
func (m *SessionManager) ExpirePendingConfirmations(now time.Time) int {
	m.mu.Lock()
	sessions := make([]*State, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	total := 0
	for _, s := range sessions {
		total += s.ExpirePendingConfirmations(now)
	}
	return total
}

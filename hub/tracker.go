package hub

import (
	"sync"

	"github.com/zardlove1991/AudioDock-sub000/internal"
)

type set map[string]struct{}

// SessionTracker tracks which connections are members of which sync sessions.
// Membership decides who receives relayed playback events, so it must stay exact
// under concurrent joins and leaves: in particular the empty-session check is
// computed under the same lock as the removal that triggers it, so two
// simultaneous leaves cannot both observe a non-empty session.
type SessionTracker struct {
	sessionToConns map[string]set
	connToSessions map[string]set
	mu             *sync.RWMutex
}

func NewSessionTracker() *SessionTracker {
	return &SessionTracker{
		sessionToConns: make(map[string]set),
		connToSessions: make(map[string]set),
		mu:             &sync.RWMutex{},
	}
}

// Join adds the connection to the session. Idempotent: joining twice has no
// additional effect. Returns true if the connection was not already a member.
func (t *SessionTracker) Join(sessionID, connID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	conns := t.sessionToConns[sessionID]
	if conns == nil {
		conns = make(set)
		t.sessionToConns[sessionID] = conns
	}
	if _, exists := conns[connID]; exists {
		return false
	}
	conns[connID] = struct{}{}
	sessions := t.connToSessions[connID]
	if sessions == nil {
		sessions = make(set)
		t.connToSessions[connID] = sessions
	}
	sessions[sessionID] = struct{}{}
	return true
}

// Leave removes the connection from the session. Returns whether the connection
// was a member, and how many members remain. A zero remainder means the session
// no longer exists: the entry is discarded before the lock is released.
func (t *SessionTracker) Leave(sessionID, connID string) (wasMember bool, remaining int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	conns := t.sessionToConns[sessionID]
	if _, exists := conns[connID]; !exists {
		return false, len(conns)
	}
	delete(conns, connID)
	sessions := t.connToSessions[connID]
	delete(sessions, sessionID)
	if len(sessions) == 0 {
		delete(t.connToSessions, connID)
	}
	if len(conns) == 0 {
		delete(t.sessionToConns, sessionID)
		return true, 0
	}
	return true, len(conns)
}

func (t *SessionTracker) IsMember(sessionID, connID string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, exists := t.sessionToConns[sessionID][connID]
	return exists
}

// ConnsInSession returns the member connection ids, in no particular order.
func (t *SessionTracker) ConnsInSession(sessionID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return internal.Keys(t.sessionToConns[sessionID])
}

// SessionsForConn returns every session this connection belongs to. Used by the
// disconnect hook to leave them all.
func (t *SessionTracker) SessionsForConn(connID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return internal.Keys(t.connToSessions[connID])
}

func (t *SessionTracker) NumSessions() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessionToConns)
}

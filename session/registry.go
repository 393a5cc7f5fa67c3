package session

import "sync"

// Registry is the arena of live call sessions, keyed by call SID. Inserts
// and removes are linearizable; it is the only structure shared across
// calls.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Insert registers a session under its call SID. It reports false if a
// session for the call already exists, leaving the existing one in place.
func (r *Registry) Insert(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.CallSID]; ok {
		return false
	}
	r.sessions[s.CallSID] = s
	return true
}

// Get looks up a live session. A miss is not an error: teardown races
// in-flight work, and callers treat a missing session as a no-op.
func (r *Registry) Get(callSID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[callSID]
	return s, ok
}

// Remove releases a session. It reports whether the session was present.
func (r *Registry) Remove(callSID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[callSID]; !ok {
		return false
	}
	delete(r.sessions, callSID)
	return true
}

// Len returns the number of live calls.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Package session holds per-call state and the registry of live calls.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the coarse activity state of a call.
type State string

const (
	// StateListening means caller audio is being streamed to STT.
	StateListening State = "listening"

	// StateThinking means a dialogue turn is in flight.
	StateThinking State = "thinking"

	// StateSpeaking means a synthesized reply is being streamed out.
	StateSpeaking State = "speaking"
)

// Session is the per-call state container. It is created when the media
// stream's start frame arrives and released on stop, disconnect or idle
// timeout. Only the orchestrator's own tasks touch a session's queues; the
// timestamp and state fields here are the sole cross-task mutable state,
// guarded by the mutex.
type Session struct {
	CallSID           string
	StreamSID         string
	CallerID          string
	DialogueSessionID string
	StartTime         time.Time

	mu           sync.RWMutex
	lastActivity time.Time
	state        State
	active       bool
}

// New creates a session for a started media stream.
func New(callSID, streamSID, callerID string) *Session {
	now := time.Now()
	return &Session{
		CallSID:           callSID,
		StreamSID:         streamSID,
		CallerID:          callerID,
		DialogueSessionID: fmt.Sprintf("call_%s_%s", callSID, uuid.NewString()[:8]),
		StartTime:         now,
		lastActivity:      now,
		state:             StateListening,
		active:            true,
	}
}

// Touch records caller or collaborator activity.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// IdleSince reports how long the call has been without activity.
func (s *Session) IdleSince() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Since(s.lastActivity)
}

// SetState transitions the activity state.
func (s *Session) SetState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns the current activity state.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Deactivate marks the session as ended. It reports whether this call
// performed the transition, so teardown runs once.
func (s *Session) Deactivate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false
	}
	s.active = false
	return true
}

// Active reports whether the call is still live.
func (s *Session) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Duration returns the call duration so far.
func (s *Session) Duration() time.Duration {
	return time.Since(s.StartTime)
}

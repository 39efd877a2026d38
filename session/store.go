package session

import (
	"sync"
	"time"

	"github.com/hupe1980/agentbridge/agui"
)

// Store keeps an ordered per-session event history. Implementations must be
// safe for concurrent use. Durable backends live outside this module; the
// bridge only requires the narrow surface below.
type Store interface {
	Append(sessionID string, ev agui.Event) error
	History(sessionID string) ([]agui.Event, error)
	Delete(sessionID string) error
}

// InMemoryStore is a volatile Store implementation keeping histories in a
// process local map. It is safe for concurrent access and best suited for
// tests or ephemeral demo servers. Returned histories are defensive copies.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*history
}

type history struct {
	events  []agui.Event
	updated time.Time
}

// NewInMemoryStore constructs an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*history)}
}

// Append adds an event to an existing or lazily created session history.
func (s *InMemoryStore) Append(sessionID string, ev agui.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.sessions[sessionID]
	if !ok {
		h = &history{}
		s.sessions[sessionID] = h
	}

	h.events = append(h.events, ev)
	h.updated = time.Now()

	return nil
}

// History returns a copy of the session's event history in emission order.
// Unknown sessions yield an empty history, not an error.
func (s *InMemoryStore) History(sessionID string) ([]agui.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}

	events := make([]agui.Event, len(h.events))
	copy(events, h.events)

	return events, nil
}

// Delete removes a session's history. Deleting an unknown session is a no-op.
func (s *InMemoryStore) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, sessionID)

	return nil
}

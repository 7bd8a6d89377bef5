package dream

import (
	"context"
	"sync"
)

// SessionStore persists dream sessions between requests.
type SessionStore interface {
	Save(ctx context.Context, session *DreamSession) error
	Load(ctx context.Context, id string) (*DreamSession, error)
	Delete(ctx context.Context, id string) error
}

// MemorySessionStore is the in-process store used when Redis is not
// configured. It stores copies so callers cannot mutate stored state through
// retained pointers.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]DreamSession
}

// NewMemorySessionStore creates an empty in-memory store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]DreamSession),
	}
}

// Save stores a copy of the session.
func (s *MemorySessionStore) Save(_ context.Context, session *DreamSession) error {
	if session == nil || session.ID == "" {
		return ErrSessionNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = *session
	return nil
}

// Load returns a copy of the stored session.
func (s *MemorySessionStore) Load(_ context.Context, id string) (*DreamSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	out := session
	return &out, nil
}

// Delete removes the session. Deleting an unknown ID is not an error.
func (s *MemorySessionStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

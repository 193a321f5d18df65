package session

import (
	"sync"
	"time"
)

// Store mirrors the monitor's latest snapshot for concurrent readers
// (HTTP handlers, the websocket broadcaster). Only the monitor writes it.
type Store struct {
	mu        sync.RWMutex
	sessions  Snapshot
	updatedAt time.Time
}

func NewStore() *Store {
	return &Store{
		sessions: make(Snapshot),
	}
}

func (s *Store) Get(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// GetAll returns the stored sessions ordered by identifier.
func (s *Store) GetAll() []Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessions.Sessions()
}

// Replace swaps in a new snapshot. The store keeps its own copy so later
// changes to snap are not visible to readers.
func (s *Store) Replace(snap Snapshot, at time.Time) {
	cp := make(Snapshot, len(snap))
	for id, sess := range snap {
		cp[id] = sess
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = cp
	s.updatedAt = at
}

func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// UpdatedAt returns the time of the last successful Replace.
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt
}

package domain

import (
	"sort"
	"sync"
	"time"
)

// Session is one authenticated live connection and its local room
// memberships. Once closed it accepts no new rooms.
type Session struct {
	ID        string
	UserID    string
	Handle    string
	CreatedAt time.Time

	mu     sync.RWMutex
	rooms  map[string]struct{}
	closed bool
}

func NewSession(id string, identity *Identity) *Session {
	return &Session{
		ID:        id,
		UserID:    identity.UserID,
		Handle:    identity.Handle,
		CreatedAt: time.Now(),
		rooms:     make(map[string]struct{}),
	}
}

// AddRoom records a membership. It reports false if the room was already
// joined and fails with ErrSessionClosed after Close.
func (s *Session) AddRoom(room string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, ErrSessionClosed
	}
	if _, ok := s.rooms[room]; ok {
		return false, nil
	}
	s.rooms[room] = struct{}{}
	return true, nil
}

// RemoveRoom drops a membership and reports whether it existed.
func (s *Session) RemoveRoom(room string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rooms[room]; !ok {
		return false
	}
	delete(s.rooms, room)
	return true
}

func (s *Session) HasRoom(room string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.rooms[room]
	return ok
}

// Rooms returns the joined rooms in sorted order.
func (s *Session) Rooms() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedRooms(s.rooms)
}

// Close marks the session closed and returns the rooms it held. Only the
// first call returns rooms.
func (s *Session) Close() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return sortedRooms(s.rooms)
}

func (s *Session) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func sortedRooms(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for r := range set {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

package state

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	session   *Session
	expiresAt time.Time
}

// MemoryStore is an in-process Store for tests and single-instance deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	ttl      time.Duration
	now      func() time.Time
	sessions map[int64]memoryEntry
}

// NewMemoryStore constructs a MemoryStore. A nil clock uses time.Now; a
// non-positive ttl uses DefaultTTL.
func NewMemoryStore(ttl time.Duration, clock func() time.Time) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &MemoryStore{
		ttl:      ttl,
		now:      clock,
		sessions: make(map[int64]memoryEntry),
	}
}

// Get returns a copy of the user's session unless it is absent or expired.
func (m *MemoryStore) Get(_ context.Context, userID int64) (*Session, bool, error) {
	m.mu.RLock()
	entry, ok := m.sessions[userID]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(entry.expiresAt) {
		m.mu.Lock()
		if cur, still := m.sessions[userID]; still && cur.expiresAt.Equal(entry.expiresAt) {
			delete(m.sessions, userID)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return entry.session.Clone(), true, nil
}

// Put stores a copy of the session and resets its TTL.
func (m *MemoryStore) Put(_ context.Context, userID int64, s *Session) error {
	if s == nil {
		return m.Clear(context.Background(), userID)
	}
	now := m.now()
	stored := s.Clone()
	if stored.Data == nil {
		stored.Data = Data{}
	}
	stored.UpdatedAt = now

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[userID] = memoryEntry{session: stored, expiresAt: now.Add(m.ttl)}
	return nil
}

// Clear removes the entire session for a user.
func (m *MemoryStore) Clear(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
	return nil
}

// Sweep drops expired sessions and returns how many were removed.
func (m *MemoryStore) Sweep() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, entry := range m.sessions {
		if !now.Before(entry.expiresAt) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

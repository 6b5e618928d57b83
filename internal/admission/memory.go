package admission

import (
	"context"
	"sync"
	"time"

	"github.com/m3rciful/appealbot/internal/rating"
)

type stampedBody struct {
	body string
	at   time.Time
}

type counter struct {
	n       int
	resetAt time.Time
}

type userWindow struct {
	blockedUntil time.Time
	rate         counter
	invalid      counter
	bodies       []stampedBody
	total        int
	rejected     int
	attempts     []time.Time
}

// MemoryStore keeps admission windows in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	users map[int64]*userWindow
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[int64]*userWindow)}
}

func (m *MemoryStore) user(id int64) *userWindow {
	w, ok := m.users[id]
	if !ok {
		w = &userWindow{}
		m.users[id] = w
	}
	return w
}

func (m *MemoryStore) BlockedUntil(_ context.Context, userID int64, now time.Time) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.users[userID]
	if !ok || !now.Before(w.blockedUntil) {
		return time.Time{}, false, nil
	}
	return w.blockedUntil, true, nil
}

func (m *MemoryStore) Block(_ context.Context, userID int64, until time.Time, _ time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.user(userID)
	if until.After(w.blockedUntil) {
		w.blockedUntil = until
	}
	return nil
}

func (m *MemoryStore) Window(_ context.Context, userID int64, now time.Time) (int, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.users[userID]
	if !ok || !now.Before(w.rate.resetAt) {
		return 0, time.Time{}, nil
	}
	return w.rate.n, w.rate.resetAt, nil
}

func (m *MemoryStore) IncrWindow(_ context.Context, userID int64, window time.Duration, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bump(&m.user(userID).rate, window, now)
	return nil
}

func bump(c *counter, window time.Duration, now time.Time) int {
	if !now.Before(c.resetAt) {
		c.n = 0
		c.resetAt = now.Add(window)
	}
	c.n++
	return c.n
}

func (m *MemoryStore) RecentBodies(_ context.Context, userID int64, since time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	var out []string
	for i := len(w.bodies) - 1; i >= 0; i-- {
		if w.bodies[i].at.After(since) {
			out = append(out, w.bodies[i].body)
		}
	}
	return out, nil
}

func (m *MemoryStore) PushBody(_ context.Context, userID int64, body string, keep int, lookback time.Duration, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.user(userID)
	cutoff := now.Add(-lookback)
	kept := w.bodies[:0]
	for _, b := range w.bodies {
		if b.at.After(cutoff) {
			kept = append(kept, b)
		}
	}
	kept = append(kept, stampedBody{body: body, at: now})
	if keep > 0 && len(kept) > keep {
		kept = kept[len(kept)-keep:]
	}
	w.bodies = kept
	return nil
}

func (m *MemoryStore) RecordAttempt(_ context.Context, userID int64, rejected bool, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := m.user(userID)
	w.total++
	if rejected {
		w.rejected++
	}
	w.attempts = append(w.attempts, now)
	return nil
}

func (m *MemoryStore) Stats(_ context.Context, userID int64, since time.Time) (rating.Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.users[userID]
	if !ok {
		return rating.Stats{}, nil
	}
	recent := w.attempts[:0]
	for _, at := range w.attempts {
		if at.After(since) {
			recent = append(recent, at)
		}
	}
	w.attempts = recent
	return rating.Stats{Total: w.total, Rejected: w.rejected, Recent: len(recent)}, nil
}

func (m *MemoryStore) IncrInvalid(_ context.Context, userID int64, window time.Duration, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return bump(&m.user(userID).invalid, window, now), nil
}

func (m *MemoryStore) ResetInvalid(_ context.Context, userID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.users[userID]; ok {
		w.invalid = counter{}
	}
	return nil
}

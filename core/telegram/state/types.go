package state

import (
	"context"
	"time"
)

// State identifies a finite-state-machine step used in conversations.
type State string

const (
	// StateIdle indicates there is no active conversation with the user.
	StateIdle State = "idle"
)

// DefaultTTL is the inactivity window after which a session is discarded.
const DefaultTTL = 30 * time.Minute

// Data is the key/value bag accumulated across steps.
type Data map[string]string

// Clone returns an independent copy so handlers can mutate without touching stored state.
func (d Data) Clone() Data {
	out := make(Data, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Get returns the value for key or "".
func (d Data) Get(key string) string {
	if d == nil {
		return ""
	}
	return d[key]
}

// Has reports whether key is set to a non-empty value.
func (d Data) Has(key string) bool {
	return d.Get(key) != ""
}

// Session stores conversation state and accumulated data for a user.
type Session struct {
	Step      State
	Data      Data
	UpdatedAt time.Time
}

// NewSession starts a session at step with empty data.
func NewSession(step State) *Session {
	return &Session{Step: step, Data: Data{}}
}

// Clone deep-copies the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	return &Session{Step: s.Step, Data: s.Data.Clone(), UpdatedAt: s.UpdatedAt}
}

// Store keeps one session per user. Every Put resets the TTL; callers
// read-modify-write whole sessions.
type Store interface {
	Get(ctx context.Context, userID int64) (*Session, bool, error)
	Put(ctx context.Context, userID int64, s *Session) error
	Clear(ctx context.Context, userID int64) error
}

package admission

import (
	"context"
	"time"

	"github.com/m3rciful/appealbot/internal/rating"
)

// Store persists per-user admission windows. Implementations partition all
// state by userID.
type Store interface {
	// BlockedUntil returns the expiry of an active block.
	BlockedUntil(ctx context.Context, userID int64, now time.Time) (time.Time, bool, error)
	Block(ctx context.Context, userID int64, until time.Time, now time.Time) error

	// Window returns the submission count of the current rate window and its reset time.
	Window(ctx context.Context, userID int64, now time.Time) (int, time.Time, error)
	IncrWindow(ctx context.Context, userID int64, window time.Duration, now time.Time) error

	// RecentBodies returns bodies submitted after since, newest first.
	RecentBodies(ctx context.Context, userID int64, since time.Time) ([]string, error)
	PushBody(ctx context.Context, userID int64, body string, keep int, lookback time.Duration, now time.Time) error

	RecordAttempt(ctx context.Context, userID int64, rejected bool, now time.Time) error
	Stats(ctx context.Context, userID int64, since time.Time) (rating.Stats, error)

	IncrInvalid(ctx context.Context, userID int64, window time.Duration, now time.Time) (int, error)
	ResetInvalid(ctx context.Context, userID int64) error
}

// Package admission decides whether a user may submit an appeal right now:
// block list, fixed-window rate limit and duplicate detection, plus the
// moderation-driven escalation to a block through the behavior rating.
package admission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/m3rciful/appealbot/core/logger"
	"github.com/m3rciful/appealbot/internal/appeal"
	"github.com/m3rciful/appealbot/internal/rating"
)

const component = "service.admission"

// Config holds admission policy knobs.
type Config struct {
	RateLimitCount     int
	RateLimitWindow    time.Duration
	BlockDuration      time.Duration
	DuplicateLookback  time.Duration
	DuplicateThreshold float64
	DuplicateKeep      int
	InvalidLimit       int
	InvalidWindow      time.Duration
	BlockFloor         int
}

// DefaultConfig mirrors the reference policy.
func DefaultConfig() Config {
	return Config{
		RateLimitCount:     5,
		RateLimitWindow:    time.Hour,
		BlockDuration:      24 * time.Hour,
		DuplicateLookback:  24 * time.Hour,
		DuplicateThreshold: DefaultSimilarityThreshold,
		DuplicateKeep:      10,
		InvalidLimit:       5,
		InvalidWindow:      30 * time.Minute,
		BlockFloor:         rating.DefaultBlockFloor,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RateLimitCount <= 0 {
		c.RateLimitCount = d.RateLimitCount
	}
	if c.RateLimitWindow <= 0 {
		c.RateLimitWindow = d.RateLimitWindow
	}
	if c.BlockDuration <= 0 {
		c.BlockDuration = d.BlockDuration
	}
	if c.DuplicateLookback <= 0 {
		c.DuplicateLookback = d.DuplicateLookback
	}
	if c.DuplicateThreshold <= 0 || c.DuplicateThreshold > 1 {
		c.DuplicateThreshold = d.DuplicateThreshold
	}
	if c.DuplicateKeep <= 0 {
		c.DuplicateKeep = d.DuplicateKeep
	}
	if c.InvalidLimit <= 0 {
		c.InvalidLimit = d.InvalidLimit
	}
	if c.InvalidWindow <= 0 {
		c.InvalidWindow = d.InvalidWindow
	}
	if c.BlockFloor <= 0 {
		c.BlockFloor = d.BlockFloor
	}
	return c
}

// Controller evaluates and records admission decisions.
type Controller struct {
	store Store
	cfg   Config
	now   func() time.Time
}

// NewController builds a Controller; zero config fields take DefaultConfig values.
func NewController(store Store, cfg Config, clock func() time.Time) *Controller {
	if clock == nil {
		clock = time.Now
	}
	return &Controller{store: store, cfg: cfg.withDefaults(), now: clock}
}

// Check runs the block, rate and duplicate gates in that order. A refusal is
// returned as *appeal.AdmissionDenied; any other error is infrastructure.
func (c *Controller) Check(ctx context.Context, userID int64, body string) error {
	now := c.now()

	until, blocked, err := c.store.BlockedUntil(ctx, userID, now)
	if err != nil {
		return fmt.Errorf("admission: block check: %w", err)
	}
	if blocked {
		c.logDenied(ctx, userID, appeal.DenyBlocked)
		return &appeal.AdmissionDenied{Reason: appeal.DenyBlocked, Until: until}
	}

	count, resetAt, err := c.store.Window(ctx, userID, now)
	if err != nil {
		return fmt.Errorf("admission: rate check: %w", err)
	}
	if count >= c.cfg.RateLimitCount {
		c.logDenied(ctx, userID, appeal.DenyRateLimited)
		return &appeal.AdmissionDenied{Reason: appeal.DenyRateLimited, Until: resetAt}
	}

	recent, err := c.store.RecentBodies(ctx, userID, now.Add(-c.cfg.DuplicateLookback))
	if err != nil {
		return fmt.Errorf("admission: duplicate check: %w", err)
	}
	for _, prev := range recent {
		if IsDuplicate(body, prev, c.cfg.DuplicateThreshold) {
			c.logDenied(ctx, userID, appeal.DenyDuplicate)
			return &appeal.AdmissionDenied{Reason: appeal.DenyDuplicate}
		}
	}
	return nil
}

// RecordSubmission counts a committed appeal toward the rate window and the
// duplicate lookback.
func (c *Controller) RecordSubmission(ctx context.Context, userID int64, body string) error {
	now := c.now()
	if err := c.store.IncrWindow(ctx, userID, c.cfg.RateLimitWindow, now); err != nil {
		return err
	}
	return c.store.PushBody(ctx, userID, body, c.cfg.DuplicateKeep, c.cfg.DuplicateLookback, now)
}

// RecordModeration feeds a moderation outcome into the behavior statistics and
// blocks the user when the resulting score falls below the floor.
func (c *Controller) RecordModeration(ctx context.Context, userID int64, rejected bool) (score int, blocked bool, err error) {
	now := c.now()
	if err := c.store.RecordAttempt(ctx, userID, rejected, now); err != nil {
		return 0, false, err
	}
	stats, err := c.store.Stats(ctx, userID, now.Add(-24*time.Hour))
	if err != nil {
		return 0, false, err
	}
	score = rating.Score(stats)
	if !rejected || !rating.ShouldBlock(score, c.cfg.BlockFloor) {
		return score, false, nil
	}
	if err := c.store.Block(ctx, userID, now.Add(c.cfg.BlockDuration), now); err != nil {
		return score, false, err
	}
	logger.Warn(ctx, component, "admission.escalated",
		slog.Int64("user_id", userID),
		slog.Int("score", score),
		slog.String("band", rating.Band(score)),
		slog.Int("rejected", stats.Rejected),
		slog.Int("total", stats.Total),
	)
	return score, true, nil
}

// RecordInvalidInput counts an invalid value on a sensitive field and blocks
// the user once the limit is reached within the window.
func (c *Controller) RecordInvalidInput(ctx context.Context, userID int64) (bool, error) {
	now := c.now()
	n, err := c.store.IncrInvalid(ctx, userID, c.cfg.InvalidWindow, now)
	if err != nil {
		return false, err
	}
	if n < c.cfg.InvalidLimit {
		return false, nil
	}
	if err := c.store.Block(ctx, userID, now.Add(c.cfg.BlockDuration), now); err != nil {
		return false, err
	}
	if err := c.store.ResetInvalid(ctx, userID); err != nil {
		return true, err
	}
	logger.Warn(ctx, component, "admission.invalid_input_block",
		slog.Int64("user_id", userID),
		slog.Int("attempts", n),
	)
	return true, nil
}

// Block sets an explicit block for the configured duration.
func (c *Controller) Block(ctx context.Context, userID int64) (time.Time, error) {
	now := c.now()
	until := now.Add(c.cfg.BlockDuration)
	return until, c.store.Block(ctx, userID, until, now)
}

// BlockedUntil reports an active block.
func (c *Controller) BlockedUntil(ctx context.Context, userID int64) (time.Time, bool, error) {
	return c.store.BlockedUntil(ctx, userID, c.now())
}

// Rating returns the user's current behavior score.
func (c *Controller) Rating(ctx context.Context, userID int64) (int, error) {
	stats, err := c.store.Stats(ctx, userID, c.now().Add(-24*time.Hour))
	if err != nil {
		return 0, err
	}
	return rating.Score(stats), nil
}

func (c *Controller) logDenied(ctx context.Context, userID int64, reason appeal.DenyReason) {
	logger.Info(ctx, component, "admission.denied",
		slog.Int64("user_id", userID),
		slog.String("reason", string(reason)),
	)
}

package admission

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/appealbot/internal/appeal"
)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time          { return c.t }
func (c *clock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newController(t *testing.T, cfg Config) (*Controller, *clock) {
	t.Helper()
	c := &clock{t: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewController(NewMemoryStore(), cfg, c.Now), c
}

func denial(t *testing.T, err error) *appeal.AdmissionDenied {
	t.Helper()
	var denied *appeal.AdmissionDenied
	require.True(t, errors.As(err, &denied), "expected AdmissionDenied, got %v", err)
	return denied
}

const body = "Mahallamizda uch kundan beri ichimlik suvi yo'q, iltimos yordam bering"

func TestCheckAllowsFreshUser(t *testing.T) {
	ctrl, _ := newController(t, Config{})
	require.NoError(t, ctrl.Check(context.Background(), 1, body))
}

func TestDuplicateRejectedWithDuplicateReason(t *testing.T) {
	ctrl, clk := newController(t, Config{})
	ctx := context.Background()

	require.NoError(t, ctrl.Check(ctx, 1, body))
	require.NoError(t, ctrl.RecordSubmission(ctx, 1, body))

	clk.Advance(10 * time.Minute)
	d := denial(t, ctrl.Check(ctx, 1, body))
	assert.Equal(t, appeal.DenyDuplicate, d.Reason)

	// another user's identical text is not a duplicate for this user
	require.NoError(t, ctrl.Check(ctx, 2, body))
}

func TestNearDuplicateRejected(t *testing.T) {
	ctrl, _ := newController(t, Config{})
	ctx := context.Background()
	require.NoError(t, ctrl.RecordSubmission(ctx, 1, "the street lamp on Navoi street number 12 is broken for two weeks already"))

	d := denial(t, ctrl.Check(ctx, 1, "The street lamp on Navoi street number 12 is broken for two weeks already!!"))
	assert.Equal(t, appeal.DenyDuplicate, d.Reason)

	require.NoError(t, ctrl.Check(ctx, 1, "garbage has not been collected near school 45 since Monday"))
}

func TestDuplicateLookbackExpires(t *testing.T) {
	ctrl, clk := newController(t, Config{DuplicateLookback: time.Hour})
	ctx := context.Background()
	require.NoError(t, ctrl.RecordSubmission(ctx, 1, body))
	clk.Advance(61 * time.Minute)
	require.NoError(t, ctrl.Check(ctx, 1, body))
}

func TestRateLimitReportsReset(t *testing.T) {
	ctrl, clk := newController(t, Config{RateLimitCount: 2, RateLimitWindow: time.Hour})
	ctx := context.Background()
	start := clk.Now()

	require.NoError(t, ctrl.RecordSubmission(ctx, 1, "first appeal about roads and potholes"))
	clk.Advance(time.Minute)
	require.NoError(t, ctrl.RecordSubmission(ctx, 1, "second appeal about water supply"))

	d := denial(t, ctrl.Check(ctx, 1, "a third and entirely different topic: electricity"))
	assert.Equal(t, appeal.DenyRateLimited, d.Reason)
	assert.Equal(t, start.Add(time.Hour), d.Until)

	clk.Advance(time.Hour)
	require.NoError(t, ctrl.Check(ctx, 1, "a third and entirely different topic: electricity"))
}

func TestBlockPreemptsOtherGates(t *testing.T) {
	ctrl, clk := newController(t, Config{BlockDuration: 24 * time.Hour})
	ctx := context.Background()
	require.NoError(t, ctrl.RecordSubmission(ctx, 1, body))

	until, err := ctrl.Block(ctx, 1)
	require.NoError(t, err)

	d := denial(t, ctrl.Check(ctx, 1, body))
	assert.Equal(t, appeal.DenyBlocked, d.Reason)
	assert.Equal(t, until, d.Until)

	clk.Advance(24 * time.Hour)
	_, blocked, err := ctrl.BlockedUntil(ctx, 1)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestModerationEscalatesToBlock(t *testing.T) {
	ctrl, _ := newController(t, Config{})
	ctx := context.Background()

	// three earlier rejections today leave the score at the floor
	for i := 0; i < 3; i++ {
		_, blocked, err := ctrl.RecordModeration(ctx, 1, true)
		require.NoError(t, err)
		require.False(t, blocked)
	}

	var (
		score   int
		blocked bool
		err     error
	)
	for i := 0; i < 3; i++ {
		require.NoError(t, ctrl.Check(ctx, 1, "fresh text number "+string(rune('a'+i))))
		score, blocked, err = ctrl.RecordModeration(ctx, 1, true)
		require.NoError(t, err)
	}
	assert.True(t, blocked)
	assert.Less(t, score, 30)

	d := denial(t, ctrl.Check(ctx, 1, "any new text at all"))
	assert.Equal(t, appeal.DenyBlocked, d.Reason)
}

func TestApprovedModerationNeverBlocks(t *testing.T) {
	ctrl, _ := newController(t, Config{})
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, blocked, err := ctrl.RecordModeration(ctx, 1, false)
		require.NoError(t, err)
		assert.False(t, blocked)
	}
}

func TestInvalidInputBlocksAtLimit(t *testing.T) {
	ctrl, _ := newController(t, Config{InvalidLimit: 3})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		blocked, err := ctrl.RecordInvalidInput(ctx, 1)
		require.NoError(t, err)
		require.False(t, blocked)
	}
	blocked, err := ctrl.RecordInvalidInput(ctx, 1)
	require.NoError(t, err)
	assert.True(t, blocked)

	d := denial(t, ctrl.Check(ctx, 1, body))
	assert.Equal(t, appeal.DenyBlocked, d.Reason)
}

func TestSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, Similarity("a b c", "c b a"), 1e-9)
	assert.InDelta(t, 0.5, Similarity("a b", "a b c d"), 1e-9)
	assert.InDelta(t, 0.0, Similarity("a b", "c d"), 1e-9)
	assert.True(t, IsDuplicate("  Hello   World ", "hello world", 0.8))
	assert.False(t, IsDuplicate("a b c d e", "a b c d f", 0.8))

	assert.InDelta(t, 0.0, Similarity("!!!", "???"), 1e-9)
	assert.False(t, IsDuplicate("🙏🙏", "???", 0.8))
	assert.True(t, IsDuplicate(" 🙏🙏 ", "🙏🙏", 0.8))
}

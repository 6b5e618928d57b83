package state

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRedisStore_Integration requires a running Redis and is skipped otherwise.
func TestRedisStore_Integration(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379", DB: 15})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skip("Skipping Redis integration test: redis not available")
	}
	defer client.Close()

	store := NewRedisStore(client, time.Minute)
	const uid = int64(900001)
	defer func() { _ = store.Clear(ctx, uid) }()

	s := NewSession("organization")
	s.Data["region"] = "1"
	s.Data["district"] = "12"
	require.NoError(t, store.Put(ctx, uid, s))

	got, ok, err := store.Get(ctx, uid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, State("organization"), got.Step)
	assert.Equal(t, "12", got.Data.Get("district"))

	ttl, err := client.TTL(ctx, dataKey(uid)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))

	// Put replaces the data bag wholesale.
	require.NoError(t, store.Put(ctx, uid, NewSession("region")))
	got, ok, err = store.Get(ctx, uid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, got.Data)

	require.NoError(t, store.Clear(ctx, uid))
	_, ok, err = store.Get(ctx, uid)
	require.NoError(t, err)
	assert.False(t, ok)
}

package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore persists sessions as two keys sharing one TTL:
// state:{uid}:step (string) and state:{uid}:data (hash).
type RedisStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewRedisStore constructs a Store backed by Redis.
func NewRedisStore(client redis.Cmdable, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func stepKey(userID int64) string { return fmt.Sprintf("state:%d:step", userID) }
func dataKey(userID int64) string { return fmt.Sprintf("state:%d:data", userID) }

// Get loads the session; a missing step key means no session.
func (r *RedisStore) Get(ctx context.Context, userID int64) (*Session, bool, error) {
	var (
		stepCmd *redis.StringCmd
		dataCmd *redis.MapStringStringCmd
	)
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		stepCmd = p.Get(ctx, stepKey(userID))
		dataCmd = p.HGetAll(ctx, dataKey(userID))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("state: load session: %w", err)
	}

	step, err := stepCmd.Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("state: load step: %w", err)
	}
	fields, err := dataCmd.Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, false, fmt.Errorf("state: load data: %w", err)
	}

	data := make(Data, len(fields))
	for k, v := range fields {
		data[k] = v
	}
	return &Session{Step: State(step), Data: data}, true, nil
}

// Put replaces the session atomically and resets the TTL of both keys.
func (r *RedisStore) Put(ctx context.Context, userID int64, s *Session) error {
	if s == nil {
		return r.Clear(ctx, userID)
	}
	sk, dk := stepKey(userID), dataKey(userID)
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, sk, string(s.Step), r.ttl)
		p.Del(ctx, dk)
		if len(s.Data) > 0 {
			values := make(map[string]any, len(s.Data))
			for k, v := range s.Data {
				values[k] = v
			}
			p.HSet(ctx, dk, values)
			p.Expire(ctx, dk, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("state: save session: %w", err)
	}
	return nil
}

// Clear deletes both session keys.
func (r *RedisStore) Clear(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, stepKey(userID), dataKey(userID)).Err(); err != nil {
		return fmt.Errorf("state: clear session: %w", err)
	}
	return nil
}

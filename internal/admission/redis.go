package admission

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/m3rciful/appealbot/internal/rating"
)

// RedisStore keeps admission windows in Redis using the key layout
// blocked:{uid}, ratelimit:{uid}, recent:{uid}, stats:{uid}, attempts:{uid}, invalid:{uid}.
type RedisStore struct {
	client redis.Cmdable
}

// NewRedisStore constructs a Store backed by Redis.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

func key(prefix string, userID int64) string {
	return prefix + ":" + strconv.FormatInt(userID, 10)
}

// statsTTL bounds how long rolling statistics survive without new attempts.
const statsTTL = 30 * 24 * time.Hour

func (r *RedisStore) BlockedUntil(ctx context.Context, userID int64, now time.Time) (time.Time, bool, error) {
	raw, err := r.client.Get(ctx, key("blocked", userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("admission: read block: %w", err)
	}
	unix, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("admission: parse block: %w", err)
	}
	until := time.Unix(unix, 0)
	if !now.Before(until) {
		return time.Time{}, false, nil
	}
	return until, true, nil
}

func (r *RedisStore) Block(ctx context.Context, userID int64, until time.Time, now time.Time) error {
	ttl := until.Sub(now)
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, key("blocked", userID), until.Unix(), ttl).Err(); err != nil {
		return fmt.Errorf("admission: set block: %w", err)
	}
	return nil
}

func (r *RedisStore) Window(ctx context.Context, userID int64, now time.Time) (int, time.Time, error) {
	k := key("ratelimit", userID)
	var (
		getCmd *redis.StringCmd
		ttlCmd *redis.DurationCmd
	)
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		getCmd = p.Get(ctx, k)
		ttlCmd = p.PTTL(ctx, k)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, time.Time{}, fmt.Errorf("admission: read window: %w", err)
	}
	n, err := getCmd.Int()
	if errors.Is(err, redis.Nil) {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("admission: parse window: %w", err)
	}
	ttl := ttlCmd.Val()
	if ttl <= 0 {
		// A counter without an expiry has no window to enforce.
		return 0, time.Time{}, nil
	}
	return n, now.Add(ttl), nil
}

func (r *RedisStore) IncrWindow(ctx context.Context, userID int64, window time.Duration, _ time.Time) error {
	_, err := incrWithWindow(ctx, r.client, key("ratelimit", userID), window)
	return err
}

// incrWithWindow increments k and starts its expiry on the first hit of a
// window. Both commands run in one MULTI so the counter never outlives it;
// EXPIRE NX also repairs a key left without a TTL.
func incrWithWindow(ctx context.Context, c redis.Cmdable, k string, window time.Duration) (int, error) {
	var incr *redis.IntCmd
	_, err := c.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, k)
		p.ExpireNX(ctx, k, window)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("admission: incr %s: %w", k, err)
	}
	return int(incr.Val()), nil
}

func (r *RedisStore) RecentBodies(ctx context.Context, userID int64, since time.Time) ([]string, error) {
	out, err := r.client.ZRevRangeByScore(ctx, key("recent", userID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(since.UnixNano(), 10),
		Max: "+inf",
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("admission: read recent: %w", err)
	}
	return out, nil
}

func (r *RedisStore) PushBody(ctx context.Context, userID int64, body string, keep int, lookback time.Duration, now time.Time) error {
	k := key("recent", userID)
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixNano()), Member: body})
		p.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(now.Add(-lookback).UnixNano(), 10))
		if keep > 0 {
			p.ZRemRangeByRank(ctx, k, 0, int64(-keep-1))
		}
		p.Expire(ctx, k, lookback)
		return nil
	})
	if err != nil {
		return fmt.Errorf("admission: push recent: %w", err)
	}
	return nil
}

func (r *RedisStore) RecordAttempt(ctx context.Context, userID int64, rejected bool, now time.Time) error {
	sk, ak := key("stats", userID), key("attempts", userID)
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HIncrBy(ctx, sk, "total", 1)
		if rejected {
			p.HIncrBy(ctx, sk, "rejected", 1)
		}
		p.Expire(ctx, sk, statsTTL)
		p.ZAdd(ctx, ak, redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
		p.ZRemRangeByScore(ctx, ak, "-inf", strconv.FormatInt(now.Add(-24*time.Hour).UnixNano(), 10))
		p.Expire(ctx, ak, 24*time.Hour)
		return nil
	})
	if err != nil {
		return fmt.Errorf("admission: record attempt: %w", err)
	}
	return nil
}

func (r *RedisStore) Stats(ctx context.Context, userID int64, since time.Time) (rating.Stats, error) {
	var (
		statsCmd  *redis.MapStringStringCmd
		recentCmd *redis.IntCmd
	)
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		statsCmd = p.HGetAll(ctx, key("stats", userID))
		recentCmd = p.ZCount(ctx, key("attempts", userID), "("+strconv.FormatInt(since.UnixNano(), 10), "+inf")
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return rating.Stats{}, fmt.Errorf("admission: read stats: %w", err)
	}
	fields := statsCmd.Val()
	total, _ := strconv.Atoi(fields["total"])
	rejected, _ := strconv.Atoi(fields["rejected"])
	return rating.Stats{Total: total, Rejected: rejected, Recent: int(recentCmd.Val())}, nil
}

func (r *RedisStore) IncrInvalid(ctx context.Context, userID int64, window time.Duration, _ time.Time) (int, error) {
	return incrWithWindow(ctx, r.client, key("invalid", userID), window)
}

func (r *RedisStore) ResetInvalid(ctx context.Context, userID int64) error {
	if err := r.client.Del(ctx, key("invalid", userID)).Err(); err != nil {
		return fmt.Errorf("admission: reset invalid: %w", err)
	}
	return nil
}

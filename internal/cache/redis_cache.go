package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"posgo/backend/internal/domain"
)

type RedisShiftSummaryCache struct {
	client *redis.Client
}

func NewRedisShiftSummaryCache(addr string, password string, db int) *RedisShiftSummaryCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisShiftSummaryCache{client: client}
}

func (c *RedisShiftSummaryCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisShiftSummaryCache) Close() error {
	return c.client.Close()
}

// generationTTL outlives any summary entry so an expired counter can never
// resurrect an old generation that still has a live entry.
const generationTTL = 24 * time.Hour

func (c *RedisShiftSummaryCache) Generation(ctx context.Context, key string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisShiftSummaryCache) Invalidate(ctx context.Context, key string) error {
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, generationKey(key))
	pipe.Expire(ctx, generationKey(key), generationTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisShiftSummaryCache) Get(ctx context.Context, key string, generation int64) (*domain.ShiftSummary, bool, error) {
	val, err := c.client.Get(ctx, entryKey(key, generation)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var summary domain.ShiftSummary
	if err := json.Unmarshal(val, &summary); err != nil {
		return nil, false, err
	}
	return &summary, true, nil
}

func (c *RedisShiftSummaryCache) Set(ctx context.Context, key string, generation int64, value *domain.ShiftSummary, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, entryKey(key, generation), payload, ttl).Err()
}

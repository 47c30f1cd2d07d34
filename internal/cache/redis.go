package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Domenick1991/slotbooking/config"
	"github.com/Domenick1991/slotbooking/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisCache keeps recent calendar busy lookups so repeated availability reads within the
// TTL skip the external call.
type RedisCache struct {
	client  *redis.Client
	busyTTL time.Duration
}

func NewRedisCache(cfg config.RedisConfig, busyTTL time.Duration) *RedisCache {
	return NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB}), busyTTL)
}

func NewRedisCacheWithClient(client *redis.Client, busyTTL time.Duration) *RedisCache {
	return &RedisCache{client: client, busyTTL: busyTTL}
}

type cachedInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (c *RedisCache) GetBusy(ctx context.Context, responderID string, window domain.Interval) ([]domain.Interval, bool, error) {
	data, err := c.client.Get(ctx, busyKey(responderID, window)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var cached []cachedInterval
	if err := json.Unmarshal(data, &cached); err != nil {
		return nil, false, err
	}
	busy := make([]domain.Interval, 0, len(cached))
	for _, ci := range cached {
		busy = append(busy, domain.Interval{Start: ci.Start.UTC(), End: ci.End.UTC()})
	}
	return busy, true, nil
}

func (c *RedisCache) SetBusy(ctx context.Context, responderID string, window domain.Interval, busy []domain.Interval) error {
	if c.busyTTL <= 0 {
		return nil
	}
	cached := make([]cachedInterval, 0, len(busy))
	for _, b := range busy {
		cached = append(cached, cachedInterval{Start: b.Start, End: b.End})
	}
	payload, err := json.Marshal(cached)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, busyKey(responderID, window), payload, c.busyTTL).Err()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func busyKey(responderID string, window domain.Interval) string {
	return fmt.Sprintf("cache:busy:%s:%d:%d", responderID, window.Start.Unix(), window.End.Unix())
}

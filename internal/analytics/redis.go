package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisEventPrefix = "routiium:analytics:event:"
	redisTimeIndex   = "routiium:analytics:by_time"
)

// RedisBackend stores events as JSON values with a sorted-set time index
// plus per-model and per-endpoint sets. The configured TTL applies to the
// event values only; the index keys do not expire, and time-index entries
// whose event has expired are pruned by Query.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisBackend parses url, verifies the connection, and returns the
// backend. ttl == 0 keeps events forever.
func NewRedisBackend(ctx context.Context, url string, ttl time.Duration) (*RedisBackend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("analytics: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("analytics: redis ping: %w", err)
	}
	return &RedisBackend{client: client, ttl: ttl}, nil
}

// NewRedisBackendFromClient wraps an existing client for tests.
func NewRedisBackendFromClient(client *redis.Client, ttl time.Duration) *RedisBackend {
	return &RedisBackend{client: client, ttl: ttl}
}

func (b *RedisBackend) Append(ctx context.Context, events []*Event) error {
	pipe := b.client.TxPipeline()
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		key := redisEventPrefix + e.ID
		pipe.Set(ctx, key, data, b.ttl)
		pipe.ZAdd(ctx, redisTimeIndex, redis.Z{Score: float64(e.Timestamp), Member: e.ID})
		if e.Request.Model != "" {
			pipe.SAdd(ctx, "routiium:analytics:by_model:"+e.Request.Model, e.ID)
		}
		pipe.SAdd(ctx, "routiium:analytics:by_endpoint:"+e.Request.Endpoint, e.ID)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (b *RedisBackend) Query(ctx context.Context, start, end int64, limit int) ([]*Event, error) {
	rangeBy := &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", start),
		Max: fmt.Sprintf("%d", end),
	}
	if limit > 0 {
		rangeBy.Count = int64(limit)
	}
	ids, err := b.client.ZRangeByScore(ctx, redisTimeIndex, rangeBy).Result()
	if err != nil {
		return nil, err
	}

	out := make([]*Event, 0, len(ids))
	for _, id := range ids {
		data, err := b.client.Get(ctx, redisEventPrefix+id).Bytes()
		if errors.Is(err, redis.Nil) {
			// Event expired under its TTL but the index entry survived.
			b.client.ZRem(ctx, redisTimeIndex, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		var e Event
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		out = append(out, &e)
	}
	return out, nil
}

func (b *RedisBackend) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := b.client.Scan(ctx, cursor, "routiium:analytics:*", 500).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := b.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (b *RedisBackend) Stats(ctx context.Context) (map[string]any, error) {
	total, err := b.client.ZCard(ctx, redisTimeIndex).Result()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"backend":      "redis",
		"total_events": total,
		"ttl_seconds":  int64(b.ttl / time.Second),
	}, nil
}

func (b *RedisBackend) Close() error { return b.client.Close() }

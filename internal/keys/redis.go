package keys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "routiium:key:"
	redisIndexKey  = "routiium:keys"
)

// RedisStore is a Redis-backed Store for multi-replica deployments. Records
// are JSON values under routiium:key:<id> with an id set for listing.
type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
}

// NewRedisStore parses url, verifies the connection with a PING and returns
// the store.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("keys: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("keys: redis ping: %w", err)
	}
	return &RedisStore{client: client, timeout: 500 * time.Millisecond}, nil
}

// NewRedisStoreFromClient wraps an existing client; the caller owns its
// lifecycle.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, timeout: 500 * time.Millisecond}
}

func (s *RedisStore) Put(ctx context.Context, rec *Record) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisKeyPrefix+rec.ID, data, 0)
	pipe.SAdd(ctx, redisIndexKey, rec.ID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	data, err := s.client.Get(ctx, redisKeyPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *RedisStore) List(ctx context.Context) ([]*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	ids, err := s.client.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Index entry outlived its record; self-heal.
			s.client.SRem(ctx, redisIndexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *RedisStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int, error) {
	recs, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, rec := range recs {
		if rec.ExpiresAt > 0 && rec.ExpiresAt < cutoff.Unix() {
			pipe := s.client.TxPipeline()
			pipe.Del(ctx, redisKeyPrefix+rec.ID)
			pipe.SRem(ctx, redisIndexKey, rec.ID)
			if _, err := pipe.Exec(ctx); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vayux/mcp-intentful-agent/internal/domain"
)

const redisPrefix = "idempotency:"

// RedisStore implements Store on Redis so cached results survive tool server restarts.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a store backed by the Redis instance at addr.
func NewRedisStore(addr, password string, db int, ttl time.Duration) *RedisStore {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: rdb, ttl: ttl}
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Get(ctx context.Context, key string) (domain.ToolResult, bool, error) {
	raw, err := s.client.Get(ctx, redisPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ToolResult{}, false, nil
	}
	if err != nil {
		return domain.ToolResult{}, false, fmt.Errorf("redis get %s: %w", key, err)
	}

	var r domain.ToolResult
	if err := json.Unmarshal(raw, &r); err != nil {
		return domain.ToolResult{}, false, fmt.Errorf("decode cached result %s: %w", key, err)
	}
	return r, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, result domain.ToolResult) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	if err := s.client.Set(ctx, redisPrefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Close releases the connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)

package fingerprint

import (
	"context"
	"errors"
	"fmt"

	"coin_market/internal/pkg/combination"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps fingerprints in Redis under fingerprint:<a>-<b>-<c>.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps the given Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Get returns the stored fingerprint of triple, if any.
func (s *RedisStore) Get(ctx context.Context, triple combination.Triple) (string, bool, error) {
	value, err := s.client.Get(ctx, key(triple)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("fingerprint get: %w", err)
	}
	return value, true, nil
}

// Set stores the fingerprint of triple without expiry.
func (s *RedisStore) Set(ctx context.Context, triple combination.Triple, value string) error {
	if err := s.client.Set(ctx, key(triple), value, 0).Err(); err != nil {
		return fmt.Errorf("fingerprint set: %w", err)
	}
	return nil
}

func key(triple combination.Triple) string {
	return "fingerprint:" + triple.String()
}

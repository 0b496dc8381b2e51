package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sapienshq/sapiens/internal/config"
)

// RedisStore keeps session flags in Redis so multiple server instances
// share one view of which sessions already registered.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore from configuration. The connection
// is lazy; the first Has/Set call surfaces connectivity errors.
func NewRedisStore(cfg config.RedisConfig) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// Has implements Store.
func (s *RedisStore) Has(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("session: redis exists: %w", err)
	}
	return n > 0, nil
}

// Set implements Store.
func (s *RedisStore) Set(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("session: redis set: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

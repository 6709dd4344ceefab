package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

// DefaultRedisKey is used when no key is configured.
const DefaultRedisKey = "spredd-degen:checkpoint:mentions"

// RedisStore keeps the checkpoint under a single Redis string key.
type RedisStore struct {
	client *redis.Client
	key    string
	logger *slog.Logger
}

func NewRedisStore(client *redis.Client, key string, logger *slog.Logger) *RedisStore {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisStore{client: client, key: key, logger: loggerOrDefault(logger)}
}

var _ Store = (*RedisStore)(nil)

func (s *RedisStore) Load(ctx context.Context) (uint64, bool, error) {
	raw, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis GET %s: %w", s.key, err)
	}
	id, ok := parse(s.logger, "redis", raw)
	return id, ok, nil
}

func (s *RedisStore) Save(ctx context.Context, id uint64) error {
	if err := s.client.Set(ctx, s.key, format(id), 0).Err(); err != nil {
		return fmt.Errorf("redis SET %s: %w", s.key, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

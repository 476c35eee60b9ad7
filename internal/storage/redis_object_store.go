package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Compile-time check
var _ ObjectStore = (*redisObjectStore)(nil)

type redisObjectStore struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisObjectStore создает ObjectStore поверх Redis.
// Значения хранятся без TTL: документ истории и изображения живут до
// явного удаления.
func NewRedisObjectStore(client *redis.Client, logger *zap.Logger) ObjectStore {
	return &redisObjectStore{
		client: client,
		logger: logger.Named("RedisObjectStore"),
	}
}

func (s *redisObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrObjectNotFound
		}
		s.logger.Error("Failed to get object from redis", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("failed to get object %q from redis: %w", key, err)
	}
	return data, nil
}

func (s *redisObjectStore) Put(ctx context.Context, key string, data []byte) error {
	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		s.logger.Error("Failed to put object to redis",
			zap.String("key", key),
			zap.Int("size_bytes", len(data)),
			zap.Error(err),
		)
		return fmt.Errorf("failed to put object %q to redis: %w", key, err)
	}
	s.logger.Debug("Object stored in redis", zap.String("key", key), zap.Int("size_bytes", len(data)))
	return nil
}

func (s *redisObjectStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		s.logger.Error("Failed to delete object from redis", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to delete object %q from redis: %w", key, err)
	}
	return nil
}

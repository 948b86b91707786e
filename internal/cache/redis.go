package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ent0n29/duplex/internal/logging"
)

// RedisStore shares answers between processes. Redis enforces the TTL; a
// failed lookup or write degrades to a cache miss.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
	logger *zap.Logger
}

func NewRedisStore(ctx context.Context, url string, ttl time.Duration, logger *zap.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisStore{client: client, ttl: ttl, prefix: "duplex:answer:", logger: logging.OrNop(logger)}, nil
}

func (s *RedisStore) Lookup(ctx context.Context, fingerprint string) (string, bool) {
	v, err := s.client.Get(ctx, s.prefix+fingerprint).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			s.logger.Warn("answer cache lookup failed", zap.Error(err))
		}
		return "", false
	}
	return v, true
}

func (s *RedisStore) Store(ctx context.Context, fingerprint, answer string) {
	if fingerprint == "" || answer == "" {
		return
	}
	if err := s.client.Set(ctx, s.prefix+fingerprint, answer, s.ttl).Err(); err != nil && ctx.Err() == nil {
		s.logger.Warn("answer cache store failed", zap.Error(err))
	}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

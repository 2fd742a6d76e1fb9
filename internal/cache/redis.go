package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"chronicle/proofread/internal/analysis"
)

// RedisStore keeps responses in Redis with a per-key expiry.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore connects to redisURL and checks the connection.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, ttl), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		client: client,
		prefix: "proofread:analysis:",
		ttl:    ttl,
	}
}

func (s *RedisStore) key(fingerprint string) string {
	return s.prefix + fingerprint
}

func (s *RedisStore) Get(ctx context.Context, key string) (analysis.Response, bool, error) {
	data, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return analysis.Response{}, false, nil
	}
	if err != nil {
		return analysis.Response{}, false, fmt.Errorf("get cached analysis: %w", err)
	}
	e, err := decode(data)
	if err != nil {
		return analysis.Response{}, false, err
	}
	return e.Response, true, nil
}

func (s *RedisStore) Put(ctx context.Context, key string, resp analysis.Response) error {
	data, err := encode(resp, time.Now())
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(key), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save cached analysis: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const redisPrefix = "vaultgraph:llm:"

// RedisBackend stores cache entries as plain Redis strings.
type RedisBackend struct {
	rdb *goredis.Client
	ttl time.Duration
}

// NewRedisBackend connects to the server at url (redis://...). A zero ttl
// keeps entries until they are evicted.
func NewRedisBackend(ctx context.Context, url string, ttl time.Duration) (*RedisBackend, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 5 * time.Second
	}
	rdb := goredis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBackend{rdb: rdb, ttl: ttl}, nil
}

func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := b.rdb.Get(ctx, redisPrefix+key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

func (b *RedisBackend) Put(ctx context.Context, key string, value []byte) error {
	return b.rdb.Set(ctx, redisPrefix+key, value, b.ttl).Err()
}

func (b *RedisBackend) Close() error {
	return b.rdb.Close()
}

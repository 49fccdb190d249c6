// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package l2

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pdiddy/docudactyl/pkg/types"
)

const scanBatch = 1000

// RedisStore keeps entries in Redis or a protocol-compatible server such
// as Dragonfly. TTL maps onto key expiry.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore builds a client for cfg.Endpoint (host:port). The client
// dials lazily.
func NewRedisStore(cfg types.L2Config) (*RedisStore, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("redis endpoint (host:port) is required")
	}
	timeout := cfg.OpTimeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Endpoint,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   1,
	})
	return &RedisStore{client: client}, nil
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, val, ttl).Err()
}

func (r *RedisStore) Count(ctx context.Context, prefix string) (uint64, error) {
	match := escapeGlob(prefix) + "*"
	var (
		cursor uint64
		total  uint64
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return 0, fmt.Errorf("scanning %s: %w", match, err)
		}
		total += uint64(len(keys))
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}

func (r *RedisStore) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisStore) Close() error { return r.client.Close() }

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string { return globEscaper.Replace(s) }

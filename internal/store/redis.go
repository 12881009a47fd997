package store

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"feedline/internal/logging"

	"github.com/redis/go-redis/v9"
)

// RedisStore maps scopes onto prefixed redis keys. Session entries use the
// native key TTL.
type RedisStore struct {
	client *redis.Client
	opts   Options
	prefix string
}

// NewRedisStore connects and pings the server.
func NewRedisStore(ctx context.Context, opts Options) (*RedisStore, error) {
	ro := &redis.Options{
		Addr:     opts.RedisAddr,
		Password: opts.RedisPassword,
		DB:       opts.RedisDB,
	}
	if opts.RedisTLS {
		ro.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(ro)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.RedisAddr, err)
	}
	logging.Store("Redis store connected (%s db %d)", opts.RedisAddr, opts.RedisDB)
	return newRedisStore(client, opts), nil
}

func newRedisStore(client *redis.Client, opts Options) *RedisStore {
	prefix := opts.RedisPrefix
	if prefix == "" {
		prefix = "feedline"
	}
	return &RedisStore{client: client, opts: opts, prefix: prefix}
}

func (r *RedisStore) key(scope Scope, key string) string {
	return strings.Join([]string{r.prefix, string(scope), key}, ":")
}

func (r *RedisStore) Get(ctx context.Context, scope Scope, key string) (string, bool, error) {
	if err := checkScope(scope); err != nil {
		return "", false, err
	}
	v, err := r.client.Get(ctx, r.key(scope, key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, scope Scope, key, value string) error {
	if err := checkScope(scope); err != nil {
		return err
	}
	var ttl time.Duration
	if scope == ScopeSession {
		ttl = r.opts.ttl()
	}
	if err := r.client.Set(ctx, r.key(scope, key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisStore) Remove(ctx context.Context, scope Scope, key string) error {
	if err := checkScope(scope); err != nil {
		return err
	}
	if err := r.client.Del(ctx, r.key(scope, key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Clear deletes every key under the prefix using SCAN.
func (r *RedisStore) Clear(ctx context.Context) error {
	for _, scope := range Scopes {
		iter := r.client.Scan(ctx, 0, r.key(scope, "*"), 100).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) == 0 {
			continue
		}
		if err := r.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// refreshScript extends the lock key's expiry only while it still holds our token.
var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLockerOptions configures the Redis locker.
type RedisLockerOptions struct {
	// URL is the Redis connection URL (e.g., redis://localhost:6379/0)
	URL string

	// Prefix is prepended to all lock keys
	Prefix string

	// TTL bounds how long a crashed holder can keep the lock. A live holder
	// keeps extending it until unlock.
	TTL time.Duration

	// RetryInterval is the pause between acquisition attempts
	RetryInterval time.Duration

	// ConnectTimeout is the timeout for establishing a connection
	ConnectTimeout time.Duration
}

// DefaultRedisLockerOptions returns sensible defaults.
func DefaultRedisLockerOptions() RedisLockerOptions {
	return RedisLockerOptions{
		Prefix:         "statistics:lock:",
		TTL:            30 * time.Second,
		RetryInterval:  100 * time.Millisecond,
		ConnectTimeout: 5 * time.Second,
	}
}

// RedisLocker serialises callers across processes sharing a Redis server.
type RedisLocker struct {
	client *redis.Client
	opts   RedisLockerOptions
}

// NewRedisLocker connects to Redis and verifies the connection.
func NewRedisLocker(opts RedisLockerOptions) (*RedisLocker, error) {
	if opts.URL == "" {
		return nil, errors.New("redis URL is required")
	}

	redisOpts, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, err
	}
	if opts.ConnectTimeout > 0 {
		redisOpts.DialTimeout = opts.ConnectTimeout
	}

	client := redis.NewClient(redisOpts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &RedisLocker{client: client, opts: opts}, nil
}

// Lock polls SET NX until the key is acquired or ctx is done.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	fullKey := l.opts.Prefix + key

	for {
		ok, err := l.client.SetNX(ctx, fullKey, token, l.opts.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
		}
		if ok {
			stop := make(chan struct{})
			done := make(chan struct{})
			go func() {
				defer close(done)
				l.keepAlive(fullKey, token, stop)
			}()

			var once sync.Once
			return func() {
				once.Do(func() {
					close(stop)
					<-done
					releaseCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
					defer cancel()
					_ = releaseScript.Run(releaseCtx, l.client, []string{fullKey}, token).Err()
				})
			}, nil
		}

		select {
		case <-time.After(l.opts.RetryInterval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// refreshInterval is how often a held lock's expiry is pushed back: a
// third of the TTL, so two refreshes can fail before the key lapses.
func (l *RedisLocker) refreshInterval() time.Duration {
	if l.opts.TTL <= 0 {
		return 0
	}
	return max(l.opts.TTL/3, time.Millisecond)
}

// keepAlive extends the key's TTL until stop is closed or the token no
// longer owns the key.
func (l *RedisLocker) keepAlive(fullKey, token string, stop <-chan struct{}) {
	interval := l.refreshInterval()
	if interval == 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			n, err := refreshScript.Run(ctx, l.client, []string{fullKey}, token, l.opts.TTL.Milliseconds()).Int64()
			cancel()
			if err == nil && n == 0 {
				slog.Warn("job lock lost before release", "category", "scheduler", "key", fullKey)
				return
			}
		}
	}
}

// Close closes the Redis connection.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// defaultLockTTL bounds how long a crashed worker can stall the cycle.
const defaultLockTTL = 5 * time.Minute

// Lock serializes scheduler cycles across worker instances.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// lockRedis is the slice of the redis client the lock needs.
type lockRedis interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
}

// RedisLock implements Lock with SETNX and a TTL. Each acquisition writes
// a fresh owner token so Release never deletes a lock another instance
// took over after this one's TTL expired.
type RedisLock struct {
	client lockRedis
	key    string
	ttl    time.Duration
	owner  string
}

// NewRedisLock builds a SETNX-based lock on the given key.
func NewRedisLock(client lockRedis, key string, ttl time.Duration) (*RedisLock, error) {
	switch {
	case client == nil:
		return nil, errors.New("redis client is required")
	case key == "":
		return nil, errors.New("lock key must not be empty")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{client: client, key: key, ttl: ttl}, nil
}

// Acquire claims the key for the configured TTL, reporting whether this
// instance now holds it.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	owner := uuid.NewString()
	claimed, err := l.client.SetNX(ctx, l.key, owner, l.ttl)
	if err != nil {
		return false, fmt.Errorf("claim cron lock: %w", err)
	}
	if claimed {
		l.owner = owner
	}
	return claimed, nil
}

// Release deletes the lock only while the stored owner token still matches.
func (l *RedisLock) Release(ctx context.Context) error {
	if l.owner == "" {
		return nil
	}
	current, err := l.client.Get(ctx, l.key)
	switch {
	case errors.Is(err, redis.Nil):
		return nil
	case err != nil:
		return fmt.Errorf("inspect cron lock: %w", err)
	case current != l.owner:
		// Our TTL lapsed and another instance took the lock over.
		return nil
	}
	if err := l.client.Del(ctx, l.key); err != nil {
		return fmt.Errorf("drop cron lock: %w", err)
	}
	l.owner = ""
	return nil
}

// Package cache provides the TTL caches behind the decision and workspace
// context caches. Cache failures are never surfaced to callers: a backend
// error reads as a miss and a failed write is logged and dropped.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Cache is a string keyed TTL cache. A ttl <= 0 stores without expiry.
type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	Set(ctx context.Context, key string, value V, ttl time.Duration)
	Delete(ctx context.Context, keys ...string)
	// DeletePrefix removes every key starting with prefix
	DeletePrefix(ctx context.Context, prefix string)
	Purge(ctx context.Context)
	// Sweep removes expired entries and returns how many were removed.
	// Backends that expire on their own return 0.
	Sweep(ctx context.Context) int
	Len() int
}

// Clock returns the current time. Tests inject a fake one to drive expiry.
type Clock func() time.Time

// Backend names a cache implementation
type Backend string

const (
	BackendMemory Backend = "memory"
	BackendLRU    Backend = "lru"
	BackendRedis  Backend = "redis"
)

// Options selects and configures a backend
type Options struct {
	Backend   Backend
	LRUSize   int
	Redis     *redis.Client
	Namespace string
	Clock     Clock
	Logger    *logrus.Logger
}

// New builds a cache for the configured backend
func New[V any](opts Options) (Cache[V], error) {
	switch opts.Backend {
	case BackendMemory, "":
		return NewMemory[V](opts.Clock), nil
	case BackendLRU:
		if opts.LRUSize <= 0 {
			return nil, fmt.Errorf("lru cache size must be positive, got %d", opts.LRUSize)
		}
		return NewLRU[V](opts.LRUSize, opts.Clock), nil
	case BackendRedis:
		if opts.Redis == nil {
			return nil, fmt.Errorf("redis cache backend requires a client")
		}
		return NewRedis[V](opts.Redis, opts.Namespace, opts.Logger), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

func newEntry[V any](value V, ttl time.Duration, now time.Time) *entry[V] {
	e := &entry[V]{value: value}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	return e
}

func (e *entry[V]) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

const scanBatch = 200

// Redis is a cache shared by every engine instance. Values are stored as
// JSON under namespace:key and expire through Redis TTLs.
type Redis[V any] struct {
	client    *redis.Client
	namespace string
	log       *logrus.Logger
}

// NewRedis creates a Redis backed cache
func NewRedis[V any](client *redis.Client, namespace string, log *logrus.Logger) *Redis[V] {
	if namespace == "" {
		namespace = "permengine"
	}
	if log == nil {
		log = logrus.New()
	}
	return &Redis[V]{client: client, namespace: namespace, log: log}
}

func (r *Redis[V]) key(k string) string {
	return r.namespace + ":" + k
}

func (r *Redis[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return zero, false
	} else if err != nil {
		r.log.WithError(err).WithField("key", key).Warn("redis cache get failed")
		return zero, false
	}

	var value V
	if err := json.Unmarshal(data, &value); err != nil {
		// Drop the corrupt entry so the next load repopulates it
		r.client.Del(ctx, r.key(key))
		r.log.WithError(err).WithField("key", key).Warn("redis cache entry corrupt")
		return zero, false
	}
	return value, true
}

func (r *Redis[V]) Set(ctx context.Context, key string, value V, ttl time.Duration) {
	data, err := json.Marshal(value)
	if err != nil {
		r.log.WithError(err).WithField("key", key).Error("redis cache marshal failed")
		return
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.key(key), data, ttl).Err(); err != nil {
		r.log.WithError(err).WithField("key", key).Warn("redis cache set failed")
	}
}

func (r *Redis[V]) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		r.log.WithError(err).Warn("redis cache delete failed")
	}
}

func (r *Redis[V]) DeletePrefix(ctx context.Context, prefix string) {
	keys, err := r.scan(ctx, prefix)
	if err != nil {
		r.log.WithError(err).WithField("prefix", prefix).Warn("redis cache scan failed")
		return
	}
	for start := 0; start < len(keys); start += scanBatch {
		end := start + scanBatch
		if end > len(keys) {
			end = len(keys)
		}
		if err := r.client.Del(ctx, keys[start:end]...).Err(); err != nil {
			r.log.WithError(err).WithField("prefix", prefix).Warn("redis cache delete failed")
			return
		}
	}
}

func (r *Redis[V]) Purge(ctx context.Context) {
	r.DeletePrefix(ctx, "")
}

// Sweep is a no-op; Redis expires keys itself
func (r *Redis[V]) Sweep(context.Context) int {
	return 0
}

func (r *Redis[V]) Len() int {
	keys, err := r.scan(context.Background(), "")
	if err != nil {
		return 0
	}
	return len(keys)
}

func (r *Redis[V]) scan(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, escapeGlob(r.key(prefix))+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys, iter.Err()
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}

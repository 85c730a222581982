package cache

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// LRU is a size bounded in-process cache. The least recently used entry is
// evicted when the cache is full. Per-entry TTLs are tracked on top of the
// LRU so callers can mix lifetimes.
type LRU[V any] struct {
	lru *expirable.LRU[string, *entry[V]]
	now Clock
}

// NewLRU creates an LRU cache holding at most size entries
func NewLRU[V any](size int, clock Clock) *LRU[V] {
	if clock == nil {
		clock = time.Now
	}
	return &LRU[V]{
		// ttl 0 disables the library's own expiry; entries carry their own
		lru: expirable.NewLRU[string, *entry[V]](size, nil, 0),
		now: clock,
	}
}

func (l *LRU[V]) Get(_ context.Context, key string) (V, bool) {
	var zero V
	e, ok := l.lru.Get(key)
	if !ok {
		return zero, false
	}
	if e.expired(l.now()) {
		l.lru.Remove(key)
		return zero, false
	}
	return e.value, true
}

func (l *LRU[V]) Set(_ context.Context, key string, value V, ttl time.Duration) {
	l.lru.Add(key, newEntry(value, ttl, l.now()))
}

func (l *LRU[V]) Delete(_ context.Context, keys ...string) {
	for _, k := range keys {
		l.lru.Remove(k)
	}
}

func (l *LRU[V]) DeletePrefix(_ context.Context, prefix string) {
	for _, k := range l.lru.Keys() {
		if strings.HasPrefix(k, prefix) {
			l.lru.Remove(k)
		}
	}
}

func (l *LRU[V]) Purge(_ context.Context) {
	l.lru.Purge()
}

func (l *LRU[V]) Sweep(_ context.Context) int {
	now := l.now()
	removed := 0
	for _, k := range l.lru.Keys() {
		if e, ok := l.lru.Peek(k); ok && e.expired(now) {
			if l.lru.Remove(k) {
				removed++
			}
		}
	}
	return removed
}

func (l *LRU[V]) Len() int {
	return l.lru.Len()
}

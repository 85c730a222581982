package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

// Memory is an unbounded in-process cache. Entries expire lazily on read and
// are removed in bulk by Sweep. Reads and writes on different keys do not
// contend.
type Memory[V any] struct {
	entries sync.Map
	now     Clock
}

// NewMemory creates a memory cache. A nil clock uses time.Now.
func NewMemory[V any](clock Clock) *Memory[V] {
	if clock == nil {
		clock = time.Now
	}
	return &Memory[V]{now: clock}
}

func (m *Memory[V]) Get(_ context.Context, key string) (V, bool) {
	var zero V
	raw, ok := m.entries.Load(key)
	if !ok {
		return zero, false
	}
	e := raw.(*entry[V])
	if e.expired(m.now()) {
		m.entries.CompareAndDelete(key, raw)
		return zero, false
	}
	return e.value, true
}

func (m *Memory[V]) Set(_ context.Context, key string, value V, ttl time.Duration) {
	m.entries.Store(key, newEntry(value, ttl, m.now()))
}

func (m *Memory[V]) Delete(_ context.Context, keys ...string) {
	for _, k := range keys {
		m.entries.Delete(k)
	}
}

func (m *Memory[V]) DeletePrefix(_ context.Context, prefix string) {
	m.entries.Range(func(k, _ any) bool {
		if strings.HasPrefix(k.(string), prefix) {
			m.entries.Delete(k)
		}
		return true
	})
}

func (m *Memory[V]) Purge(_ context.Context) {
	m.entries.Clear()
}

func (m *Memory[V]) Sweep(_ context.Context) int {
	now := m.now()
	removed := 0
	m.entries.Range(func(k, raw any) bool {
		if raw.(*entry[V]).expired(now) && m.entries.CompareAndDelete(k, raw) {
			removed++
		}
		return true
	})
	return removed
}

func (m *Memory[V]) Len() int {
	n := 0
	m.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

package cache

import (
	"context"

	"github.com/pharmacare/permengine/pkg/observability"
)

// Instrumented records hit, miss and sweep metrics for a cache under a name
type Instrumented[V any] struct {
	Cache[V]
	name    string
	metrics *observability.Metrics
}

// Instrument wraps c so its lookups are counted
func Instrument[V any](c Cache[V], name string, metrics *observability.Metrics) *Instrumented[V] {
	return &Instrumented[V]{Cache: c, name: name, metrics: metrics}
}

func (i *Instrumented[V]) Get(ctx context.Context, key string) (V, bool) {
	v, ok := i.Cache.Get(ctx, key)
	if ok {
		i.metrics.CacheHitsTotal.WithLabelValues(i.name).Inc()
	} else {
		i.metrics.CacheMissesTotal.WithLabelValues(i.name).Inc()
	}
	return v, ok
}

func (i *Instrumented[V]) Sweep(ctx context.Context) int {
	n := i.Cache.Sweep(ctx)
	i.metrics.CacheSweptTotal.WithLabelValues(i.name).Add(float64(n))
	i.metrics.CacheEntries.WithLabelValues(i.name).Set(float64(i.Cache.Len()))
	return n
}

package satellite

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
	"github.com/couchcryptid/wildlife-risk-engine/internal/features"
	"github.com/couchcryptid/wildlife-risk-engine/internal/observability"
)

// CachedSource wraps a VegetationSource with an in-memory LRU cache keyed by
// bounding box and date window. Repeated analyses of the same area reuse the
// composite.
type CachedSource struct {
	inner   features.VegetationSource
	cache   *lruCache[features.Raster]
	metrics *observability.Metrics
}

// NewCachedSource creates a cache decorator around a vegetation source.
func NewCachedSource(inner features.VegetationSource, maxEntries int, metrics *observability.Metrics) *CachedSource {
	return &CachedSource{
		inner:   inner,
		cache:   newLRUCache[features.Raster](maxEntries),
		metrics: metrics,
	}
}

// NDVI serves repeated windows from the cache. Errors are not cached.
func (c *CachedSource) NDVI(ctx context.Context, bounds domain.Bounds, dr domain.DateRange) (features.Raster, error) {
	key := fmt.Sprintf("%.5f,%.5f,%.5f,%.5f|%s|%s",
		bounds.SouthWest.Lat, bounds.SouthWest.Lng, bounds.NorthEast.Lat, bounds.NorthEast.Lng,
		dr.Start.Format(time.DateOnly), dr.End.Format(time.DateOnly))
	if r, ok := c.cache.get(key); ok {
		c.metrics.SatelliteCache.WithLabelValues("hit").Inc()
		return r, nil
	}
	c.metrics.SatelliteCache.WithLabelValues("miss").Inc()

	r, err := c.inner.NDVI(ctx, bounds, dr)
	if err != nil {
		return nil, err
	}
	c.cache.put(key, r)
	return r, nil
}

// Len reports the number of cached composites.
func (c *CachedSource) Len() int {
	return c.cache.len()
}

// lruCache is a mutex-guarded LRU over container/list. The front of order
// is the most recently used key.
type lruCache[V any] struct {
	mu      sync.Mutex
	limit   int
	order   *list.List
	entries map[string]*list.Element
}

type lruItem[V any] struct {
	key   string
	value V
}

func newLRUCache[V any](limit int) *lruCache[V] {
	return &lruCache[V]{
		limit:   max(1, limit),
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (c *lruCache[V]) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *lruCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*lruItem[V]).value, true
}

func (c *lruCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*lruItem[V]).value = value
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&lruItem[V]{key: key, value: value})
	for c.order.Len() > c.limit {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*lruItem[V]).key)
	}
}

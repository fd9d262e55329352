package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// PriceStore is a read-mostly TTL cache. Values must not be mutated after Set.
type PriceStore[V any] interface {
	Get(key string) (V, bool)
	Set(key string, value V)
	Len() int
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache stores immutable entries in a sync.Map so concurrent readers never
// contend on a lock. Once maxEntries is reached, expired entries are pruned
// and new keys are dropped until room frees up.
type TTLCache[V any] struct {
	data       sync.Map
	size       atomic.Int64
	ttl        time.Duration
	maxEntries int64
	now        func() time.Time
}

func NewTTLCache[V any](ttl time.Duration, maxEntries int) *TTLCache[V] {
	if maxEntries <= 0 {
		maxEntries = 1024
	}
	return &TTLCache[V]{
		ttl:        ttl,
		maxEntries: int64(maxEntries),
		now:        time.Now,
	}
}

func (c *TTLCache[V]) Get(key string) (V, bool) {
	var zero V
	raw, ok := c.data.Load(key)
	if !ok {
		return zero, false
	}
	e := raw.(*entry[V])
	if c.now().After(e.expiresAt) {
		if c.data.CompareAndDelete(key, raw) {
			c.size.Add(-1)
		}
		return zero, false
	}
	return e.value, true
}

func (c *TTLCache[V]) Set(key string, value V) {
	if c.size.Load() >= c.maxEntries {
		c.prune()
		if c.size.Load() >= c.maxEntries {
			return
		}
	}

	e := &entry[V]{value: value, expiresAt: c.now().Add(c.ttl)}
	if _, loaded := c.data.Swap(key, e); !loaded {
		c.size.Add(1)
	}
}

func (c *TTLCache[V]) Len() int {
	return int(c.size.Load())
}

func (c *TTLCache[V]) prune() {
	now := c.now()
	c.data.Range(func(key, raw any) bool {
		if now.After(raw.(*entry[V]).expiresAt) {
			if c.data.CompareAndDelete(key, raw) {
				c.size.Add(-1)
			}
		}
		return true
	})
}

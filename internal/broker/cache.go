package broker

import (
	"context"
	"sync"
	"time"
)

// ValueCache is a read-through cache for a single float value (last balance,
// last price) with a short TTL. The refresh lock prevents duplicate
// concurrent loads of the same key.
type ValueCache struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time

	values map[string]cachedValue
}

type cachedValue struct {
	v  float64
	at time.Time
}

// NewValueCache builds a cache with the given TTL.
func NewValueCache(ttl time.Duration) *ValueCache {
	return &ValueCache{
		ttl:    ttl,
		now:    time.Now,
		values: make(map[string]cachedValue),
	}
}

// WithClock overrides the clock for tests.
func (c *ValueCache) WithClock(now func() time.Time) *ValueCache {
	c.now = now
	return c
}

// Get returns the cached value for key, invoking load under the lock when the
// entry is missing or stale. A load failure leaves any stale entry untouched.
func (c *ValueCache) Get(ctx context.Context, key string, load func(context.Context) (float64, error)) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.values[key]; ok && c.now().Sub(entry.at) < c.ttl {
		return entry.v, nil
	}

	v, err := load(ctx)
	if err != nil {
		return 0, err
	}
	c.values[key] = cachedValue{v: v, at: c.now()}
	return v, nil
}

// Put stores a value directly, used by push feeds such as the tick stream.
func (c *ValueCache) Put(key string, v float64) {
	c.mu.Lock()
	c.values[key] = cachedValue{v: v, at: c.now()}
	c.mu.Unlock()
}

// Peek returns the cached value without loading, regardless of staleness.
func (c *ValueCache) Peek(key string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.values[key]
	return entry.v, ok
}

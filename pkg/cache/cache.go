// Package cache is a small in-process read-through cache. Bosun puts it in
// front of lookout signal fetches so a scheduler pass does not hammer the
// signal service with one request per candidate slot.
package cache

import (
	"context"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type Options struct {
	// TTL is how long a loaded value counts as fresh.
	TTL time.Duration
	// StaleWhileRevalidate extends the window past TTL during which the
	// stale value is still served while one background reload runs.
	StaleWhileRevalidate time.Duration
	// NegativeTTL caches loader misses and errors. Zero disables negative
	// caching.
	NegativeTTL time.Duration
	// MaxEntries caps the cache size, oldest entries evicted first. Zero
	// means unbounded.
	MaxEntries int
}

// MetricsHooks are optional callbacks for wiring cache behaviour into
// service metrics. Nil hooks are skipped.
type MetricsHooks struct {
	OnHit   func()
	OnMiss  func()
	OnStale func()
	OnStore func()
}

// Loader fetches the value for a key on miss. ok=false with a nil or non-nil
// err is a cacheable negative when NegativeTTL is set.
type Loader func(ctx context.Context, key string) (interface{}, bool, error)

type entry struct {
	value     interface{}
	err       error
	expiresAt time.Time
	staleAt   time.Time
	negative  bool
}

type loadResult struct {
	val interface{}
	ok  bool
	err error
}

type Cache struct {
	mu      sync.RWMutex
	items   map[string]*entry
	order   []string
	opts    Options
	metrics MetricsHooks
	sf      singleflight.Group
}

func New(opts Options, hooks MetricsHooks) *Cache {
	return &Cache{
		items:   map[string]*entry{},
		opts:    opts,
		metrics: hooks,
	}
}

// Get returns the cached value for key, loading it through loader on a miss.
// Concurrent misses for the same key share one loader call. Entries inside
// the stale window are served immediately while a single background reload
// refreshes them.
func (c *Cache) Get(ctx context.Context, key string, loader Loader) (interface{}, bool, error) {
	now := time.Now()

	c.mu.RLock()
	e, ok := c.items[key]
	if ok {
		if now.Before(e.expiresAt) {
			val, err, negative := e.value, e.err, e.negative
			c.mu.RUnlock()
			if c.metrics.OnHit != nil {
				c.metrics.OnHit()
			}
			if negative {
				return nil, false, err
			}
			return val, true, nil
		}

		if now.Before(e.staleAt) {
			val, err, negative := e.value, e.err, e.negative
			c.mu.RUnlock()
			if c.metrics.OnStale != nil {
				c.metrics.OnStale()
			}
			// The refresh must outlive the request that triggered it.
			refreshCtx := context.WithoutCancel(ctx)
			go func() {
				_, _, _ = c.sf.Do("refresh:"+key, func() (interface{}, error) {
					v, vok, verr := loader(refreshCtx, key)
					c.store(key, v, vok, verr)
					return nil, nil
				})
			}()
			if negative {
				return nil, false, err
			}
			return val, true, nil
		}
	}
	c.mu.RUnlock()

	if ok {
		// Hard expired, drop before reloading.
		c.mu.Lock()
		if cur, still := c.items[key]; still && cur == e {
			delete(c.items, key)
			c.removeFromOrder(key)
		}
		c.mu.Unlock()
	}

	if c.metrics.OnMiss != nil {
		c.metrics.OnMiss()
	}

	result, _, _ := c.sf.Do(key, func() (interface{}, error) {
		val, vok, err := loader(ctx, key)
		c.store(key, val, vok, err)
		return loadResult{val: val, ok: vok, err: err}, nil
	})

	res := result.(loadResult)
	if !res.ok {
		return nil, false, res.err
	}
	return res.val, true, nil
}

// Set inserts a value directly with an explicit TTL.
func (c *Cache) Set(key string, val interface{}, ttl time.Duration) {
	now := time.Now()
	e := &entry{
		value:     val,
		expiresAt: now.Add(ttl),
		staleAt:   now.Add(ttl).Add(c.opts.StaleWhileRevalidate),
	}

	c.insert(key, e)
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.removeFromOrder(key)
	c.mu.Unlock()
}

// Len reports the number of cached entries, including negatives.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Cache) store(key string, val interface{}, ok bool, err error) {
	now := time.Now()
	e := &entry{}
	if ok {
		e.value = val
		e.expiresAt = now.Add(c.opts.TTL)
		e.staleAt = e.expiresAt.Add(c.opts.StaleWhileRevalidate)
	} else {
		if c.opts.NegativeTTL <= 0 {
			return
		}
		e.err = err
		e.negative = true
		e.expiresAt = now.Add(c.opts.NegativeTTL)
		e.staleAt = e.expiresAt
	}

	c.insert(key, e)

	if c.metrics.OnStore != nil {
		c.metrics.OnStore()
	}
}

// insert stores the entry and registers new keys in insertion order.
func (c *Cache) insert(key string, e *entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, seen := c.items[key]; !seen {
		c.order = append(c.order, key)
	}
	c.items[key] = e
	c.evictIfNeeded()
}

// removeFromOrder and evictIfNeeded are called with mu held.

func (c *Cache) removeFromOrder(key string) {
	if i := slices.Index(c.order, key); i >= 0 {
		c.order = slices.Delete(c.order, i, i+1)
	}
}

func (c *Cache) evictIfNeeded() {
	if c.opts.MaxEntries <= 0 {
		return
	}
	for len(c.items) > c.opts.MaxEntries && len(c.order) > 0 {
		victim := c.order[0]
		c.order = c.order[1:]
		delete(c.items, victim)
	}
}

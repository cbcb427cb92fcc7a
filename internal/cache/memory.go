package cache

import (
	"math"
	"sort"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryCache keeps curves in process. When maxEntries is set, the entries
// closest to expiry are evicted first to make room.
type MemoryCache struct {
	mu         sync.Mutex // held across the bound check, eviction and insert
	items      *gocache.Cache
	maxEntries int
}

// NewMemoryCache creates an unbounded in-process cache
func NewMemoryCache(ttl, sweep time.Duration) *MemoryCache {
	return NewBoundedMemoryCache(ttl, sweep, 0)
}

// NewBoundedMemoryCache creates an in-process cache holding at most maxEntries.
// maxEntries <= 0 means no bound.
func NewBoundedMemoryCache(ttl, sweep time.Duration, maxEntries int) *MemoryCache {
	return &MemoryCache{
		items:      gocache.New(ttl, sweep),
		maxEntries: maxEntries,
	}
}

func (c *MemoryCache) Get(key string) ([]byte, bool) {
	v, found := c.items.Get(key)
	if !found {
		return nil, false
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, false
	}
	return append([]byte(nil), b...), true
}

// Set stores a copy of value. ttl 0 uses the cache default.
func (c *MemoryCache) Set(key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = gocache.DefaultExpiration
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.maxEntries > 0 {
		if _, exists := c.items.Get(key); !exists && c.items.ItemCount() >= c.maxEntries {
			c.evict(c.items.ItemCount() - c.maxEntries + 1)
		}
	}
	c.items.Set(key, append([]byte(nil), value...), ttl)
	return nil
}

func (c *MemoryCache) Delete(key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Delete(key)
	return nil
}

func (c *MemoryCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items.Flush()
	return nil
}

// Len returns the number of stored entries, expired ones included until swept
func (c *MemoryCache) Len() int {
	return c.items.ItemCount()
}

// evict drops n entries, soonest to expire first. Entries that never expire go last.
// Callers hold mu.
func (c *MemoryCache) evict(n int) {
	c.items.DeleteExpired()
	items := c.items.Items()
	if len(items) < c.maxEntries {
		return
	}
	type aged struct {
		key     string
		expires int64
	}
	order := make([]aged, 0, len(items))
	for k, it := range items {
		exp := it.Expiration
		if exp == 0 {
			exp = math.MaxInt64
		}
		order = append(order, aged{k, exp})
	}
	sort.Slice(order, func(i, j int) bool {
		if order[i].expires != order[j].expires {
			return order[i].expires < order[j].expires
		}
		return order[i].key < order[j].key
	})
	for i := 0; i < n && i < len(order); i++ {
		c.items.Delete(order[i].key)
	}
}

package cache

import (
	"sync"
	"time"
)

type item struct {
	value      interface{}
	expiration time.Time
}

// Cache is a small in-process TTL map. Expired entries are dropped lazily on
// read and by Sweep.
type Cache struct {
	items map[string]item
	mu    sync.RWMutex
	now   func() time.Time
}

func New() *Cache {
	return &Cache{
		items: make(map[string]item),
		now:   time.Now,
	}
}

func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	entry, exists := c.items[key]
	c.mu.RUnlock()
	if !exists {
		return nil, false
	}

	if c.now().After(entry.expiration) {
		c.mu.Lock()
		if cur, ok := c.items[key]; ok && cur.expiration.Equal(entry.expiration) {
			delete(c.items, key)
		}
		c.mu.Unlock()
		return nil, false
	}
	return entry.value, true
}

func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = item{
		value:      value,
		expiration: c.now().Add(ttl),
	}
}

func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Sweep removes expired entries and returns how many were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	n := 0
	for k, v := range c.items {
		if now.After(v.expiration) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

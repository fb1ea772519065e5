package cache

import (
	"sync"
	"time"
)

// Options configures a cache
type Options struct {
	// TTL is the default lifetime of an entry; zero means entries never expire
	TTL time.Duration
	// MaxItems bounds the number of entries; zero means unbounded
	MaxItems int
	// CleanupInterval controls the expired-entry sweep; zero disables it
	CleanupInterval time.Duration
}

type item[V any] struct {
	value      V
	expiration int64
	addedAt    int64
}

func (i item[V]) expired(now int64) bool {
	return i.expiration != 0 && now > i.expiration
}

// Cache is a thread-safe in-memory cache with expiration
type Cache[K comparable, V any] struct {
	mu        sync.RWMutex
	items     map[K]item[V]
	opts      Options
	stop      chan struct{}
	stopOnce  sync.Once
	onEvicted func(K, V)
}

// New creates a cache and starts its sweeper when configured
func New[K comparable, V any](opts Options) *Cache[K, V] {
	c := &Cache[K, V]{
		items: make(map[K]item[V]),
		opts:  opts,
		stop:  make(chan struct{}),
	}

	if opts.CleanupInterval > 0 {
		go c.startCleanupTimer()
	}

	return c
}

// Set adds an item with the default TTL
func (c *Cache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.opts.TTL)
}

// SetWithTTL adds an item with a specific lifetime
func (c *Cache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	now := time.Now().UnixNano()
	var exp int64
	if ttl > 0 {
		exp = now + int64(ttl)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; !exists && c.opts.MaxItems > 0 && len(c.items) >= c.opts.MaxItems {
		c.evictOldest()
	}

	c.items[key] = item[V]{value: value, expiration: exp, addedAt: now}
}

// Get retrieves an unexpired item
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	it, found := c.items[key]
	if !found || it.expired(time.Now().UnixNano()) {
		var zero V
		return zero, false
	}
	return it.value, true
}

// Delete removes an item from the cache
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if it, found := c.items[key]; found {
		delete(c.items, key)
		if c.onEvicted != nil {
			c.onEvicted(key, it.value)
		}
	}
}

// Count returns the number of items, including expired ones not yet swept
func (c *Cache[K, V]) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.items)
}

// SetOnEvicted sets the callback invoked when an item leaves the cache
func (c *Cache[K, V]) SetOnEvicted(f func(K, V)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.onEvicted = f
}

// Stop ends the background sweeper
func (c *Cache[K, V]) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Cache[K, V]) startCleanupTimer() {
	ticker := time.NewTicker(c.opts.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stop:
			return
		}
	}
}

func (c *Cache[K, V]) deleteExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UnixNano()
	for k, it := range c.items {
		if it.expired(now) {
			delete(c.items, k)
			if c.onEvicted != nil {
				c.onEvicted(k, it.value)
			}
		}
	}
}

// evictOldest drops the entry inserted first. Caller holds the lock.
func (c *Cache[K, V]) evictOldest() {
	var (
		oldestKey K
		oldest    int64
		found     bool
	)
	for k, it := range c.items {
		if !found || it.addedAt < oldest {
			oldestKey, oldest, found = k, it.addedAt, true
		}
	}
	if !found {
		return
	}

	it := c.items[oldestKey]
	delete(c.items, oldestKey)
	if c.onEvicted != nil {
		c.onEvicted(oldestKey, it.value)
	}
}

package cache

import (
	"container/list"
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryCache is an in-process Cache with TTL expiry and LRU eviction.
//
// Recency is kept in a list ordered from most to least recently accessed;
// Get and Set move an entry to the front, Peek and Has do not.
type MemoryCache struct {
	policy Policy
	now    func() time.Time

	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List

	hits        int64
	misses      int64
	evictions   int64
	expirations int64
}

type memoryItem struct {
	key   string
	entry Entry
}

// MemoryOption configures a MemoryCache.
type MemoryOption func(*MemoryCache)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(c *MemoryCache) {
		if now != nil {
			c.now = now
		}
	}
}

// NewMemoryCache creates a new in-memory cache with the given policy.
func NewMemoryCache(policy Policy, opts ...MemoryOption) *MemoryCache {
	c := &MemoryCache{
		policy: policy,
		now:    time.Now,
		items:  make(map[string]*list.Element),
		lru:    list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns a fresh entry and marks it most recently used. An expired
// entry is evicted.
func (c *MemoryCache) Get(_ context.Context, key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}

	item := el.Value.(*memoryItem)
	if item.entry.Stale(c.now()) {
		c.removeLocked(el)
		c.expirations++
		c.misses++
		return nil, false
	}

	c.lru.MoveToFront(el)
	c.hits++
	e := item.entry
	return &e, true
}

// Peek returns the entry whether or not it is stale.
func (c *MemoryCache) Peek(_ context.Context, key string) (*Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	e := el.Value.(*memoryItem).entry
	return &e, true
}

// Set stores data with the given TTL (see Policy.EffectiveTTL).
func (c *MemoryCache) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	return c.SetEntry(ctx, key, Entry{Data: data, TTL: ttl})
}

// SetEntry stores entry under key. When the store is full the least
// recently accessed entry is evicted.
func (c *MemoryCache) SetEntry(_ context.Context, key string, entry Entry) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	entry.TTL = c.policy.EffectiveTTL(entry.TTL)
	if entry.TTL <= 0 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry.WrittenAt.IsZero() {
		entry.WrittenAt = c.now()
	}

	if el, ok := c.items[key]; ok {
		el.Value.(*memoryItem).entry = entry
		c.lru.MoveToFront(el)
		return nil
	}

	c.items[key] = c.lru.PushFront(&memoryItem{key: key, entry: entry})

	if c.policy.MaxEntries > 0 {
		for c.lru.Len() > c.policy.MaxEntries {
			c.removeLocked(c.lru.Back())
			c.evictions++
		}
	}
	return nil
}

// Has reports whether a fresh entry exists without touching recency.
func (c *MemoryCache) Has(_ context.Context, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	return ok && !el.Value.(*memoryItem).entry.Stale(c.now())
}

// Delete removes a value from the cache. Idempotent - no error on miss.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
	return nil
}

// Clear removes every entry.
func (c *MemoryCache) Clear(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.lru.Init()
	return nil
}

// ClearByTag removes every key containing tag. The match is a plain
// substring test, so "stocks" also removes "/stocks/AAPL/prices".
func (c *MemoryCache) ClearByTag(_ context.Context, tag string) (int, error) {
	if tag == "" {
		return 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, el := range c.items {
		if strings.Contains(key, tag) {
			c.removeLocked(el)
			removed++
		}
	}
	return removed, nil
}

// ShouldRevalidate reports whether key has aged past ttl*threshold.
// Missing keys report false.
func (c *MemoryCache) ShouldRevalidate(_ context.Context, key string, threshold float64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return false
	}
	return el.Value.(*memoryItem).entry.NeedsRevalidation(c.now(), c.policy.Threshold(threshold))
}

// ConditionalHeaders returns the stored validators for key.
func (c *MemoryCache) ConditionalHeaders(_ context.Context, key string) Validators {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return Validators{}
	}
	return el.Value.(*memoryItem).entry.Validators()
}

// Sweep removes entries that have been stale for longer than
// Policy.StaleRetention and returns how many were removed.
func (c *MemoryCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, el := range c.items {
		e := &el.Value.(*memoryItem).entry
		if e.Age(now) > e.TTL+c.policy.StaleRetention {
			c.removeLocked(el)
			c.expirations++
			removed++
		}
	}
	return removed
}

// StartSweeper runs Sweep every interval until ctx is done.
func (c *MemoryCache) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep()
			}
		}
	}()
}

// Len returns the number of stored entries, stale ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Entries:     c.lru.Len(),
		Capacity:    c.policy.MaxEntries,
		Hits:        c.hits,
		Misses:      c.misses,
		Evictions:   c.evictions,
		Expirations: c.expirations,
	}
}

func (c *MemoryCache) removeLocked(el *list.Element) {
	item := c.lru.Remove(el).(*memoryItem)
	delete(c.items, item.key)
}

// Stats is a snapshot of cache activity.
type Stats struct {
	Entries     int
	Capacity    int
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
}

// HitRate returns hits / (hits + misses), or 0 before any lookup.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Ensure MemoryCache implements Cache
var _ Cache = (*MemoryCache)(nil)

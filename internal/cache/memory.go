package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// DefaultMemoryCapacity is the entry limit used when none is configured.
const DefaultMemoryCapacity = 1024

// MemoryCache is an in-process LRU cache with per-entry expiry.
type MemoryCache struct {
	mu       sync.Mutex
	entries  map[Key]*list.Element
	order    *list.List
	capacity int
	now      func() time.Time
}

type memoryEntry struct {
	key       Key
	value     []byte
	expiresAt time.Time
}

var _ ResultCache = (*MemoryCache)(nil)

// NewMemoryCache creates a MemoryCache holding at most capacity entries.
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	return &MemoryCache{
		entries:  make(map[Key]*list.Element),
		order:    list.New(),
		capacity: capacity,
		now:      time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, key Key) ([]byte, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, time.Time{}, false
	}
	e := el.Value.(*memoryEntry)
	if !c.now().Before(e.expiresAt) {
		c.remove(el)
		return nil, time.Time{}, false
	}
	c.order.MoveToFront(el)
	return append([]byte(nil), e.value...), e.expiresAt, true
}

func (c *MemoryCache) Set(_ context.Context, key Key, value []byte, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.now().Before(expiresAt) {
		return
	}
	stored := append([]byte(nil), value...)

	if el, ok := c.entries[key]; ok {
		el.Value = &memoryEntry{key: key, value: stored, expiresAt: expiresAt}
		c.order.MoveToFront(el)
		return
	}

	for c.order.Len() >= c.capacity {
		c.remove(c.order.Back())
	}
	c.entries[key] = c.order.PushFront(&memoryEntry{key: key, value: stored, expiresAt: expiresAt})
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *MemoryCache) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*memoryEntry).key)
}

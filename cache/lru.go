// Package cache provides the byte-bounded LRU memory cache used by the engine.
package cache

import (
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/Skryldev/image-loader/core"
)

type entry struct {
	res  core.Resource
	size int64
}

type evicted struct {
	key core.Key
	res core.Resource
}

// LRU is a thread-safe memory cache bounded by the sum of Resource.Size.
// simplelru keeps recency order; LRU does its own byte accounting.
type LRU struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[core.Key, entry]
	maxBytes int64
	size     int64
	onRemove func(key core.Key, res core.Resource)
}

// NewLRU creates a cache holding at most maxBytes of resources.
func NewLRU(maxBytes int64) (*LRU, error) {
	l, err := simplelru.NewLRU[core.Key, entry](math.MaxInt, nil)
	if err != nil {
		return nil, err
	}
	return &LRU{lru: l, maxBytes: maxBytes}, nil
}

// SetRemovalListener sets the function called for every entry that leaves
// the cache through eviction, replacement or Clear. It runs after the cache
// lock is released.
func (c *LRU) SetRemovalListener(fn func(key core.Key, res core.Resource)) {
	c.mu.Lock()
	c.onRemove = fn
	c.mu.Unlock()
}

// Get returns the resource for key and marks it most recently used.
func (c *LRU) Get(key core.Key) (core.Resource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	return e.res, true
}

// Put inserts res, then evicts least recently used entries other than res
// until the cache fits its budget. A single entry larger than the budget
// stays until something else is inserted.
func (c *LRU) Put(key core.Key, res core.Resource) {
	c.mu.Lock()
	var out []evicted
	if old, ok := c.lru.Peek(key); ok {
		// The listener releases the replaced value's reference even when it
		// is res itself; the caller brought a fresh one.
		c.size -= old.size
		out = append(out, evicted{key, old.res})
	}
	size := int64(res.Size())
	c.lru.Add(key, entry{res: res, size: size})
	c.size += size

	for c.size > c.maxBytes && c.lru.Len() > 1 {
		k, e, ok := c.lru.RemoveOldest()
		if !ok {
			break
		}
		c.size -= e.size
		out = append(out, evicted{k, e.res})
	}
	fn := c.onRemove
	c.mu.Unlock()

	c.notify(fn, out)
}

// Remove drops key without calling the removal listener; the caller takes
// over the cache's reference.
func (c *LRU) Remove(key core.Key) (core.Resource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.lru.Peek(key)
	if !ok {
		return nil, false
	}
	c.lru.Remove(key)
	c.size -= e.size
	return e.res, true
}

// Clear empties the cache, oldest first, notifying the listener per entry.
func (c *LRU) Clear() {
	c.mu.Lock()
	out := make([]evicted, 0, c.lru.Len())
	for {
		k, e, ok := c.lru.RemoveOldest()
		if !ok {
			break
		}
		out = append(out, evicted{k, e.res})
	}
	c.size = 0
	fn := c.onRemove
	c.mu.Unlock()

	c.notify(fn, out)
}

// Resize changes the budget and evicts down to it.
func (c *LRU) Resize(maxBytes int64) {
	c.mu.Lock()
	c.maxBytes = maxBytes
	var out []evicted
	for c.size > c.maxBytes && c.lru.Len() > 0 {
		k, e, ok := c.lru.RemoveOldest()
		if !ok {
			break
		}
		c.size -= e.size
		out = append(out, evicted{k, e.res})
	}
	fn := c.onRemove
	c.mu.Unlock()

	c.notify(fn, out)
}

func (c *LRU) notify(fn func(core.Key, core.Resource), out []evicted) {
	if fn == nil {
		return
	}
	for _, ev := range out {
		fn(ev.key, ev.res)
	}
}

// Size returns the bytes currently held.
func (c *LRU) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// MaxSize returns the byte budget.
func (c *LRU) MaxSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxBytes
}

// Len returns the number of entries.
func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

var _ core.MemoryCache = (*LRU)(nil)

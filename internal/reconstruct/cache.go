package reconstruct

import (
	"sync"
	"sync/atomic"

	"github.com/swarmguard/ewig/internal/ewigerr"
	"github.com/swarmguard/ewig/internal/wireformat"
)

type cacheEntry struct {
	snapshot     Snapshot
	lastAccessed int64
	accessCount  uint64
}

// Cache is a fixed-size LRU snapshot cache keyed by event hash,
// evicting the entry with the smallest last-accessed tick when full.
// lastAccessed is a logical tick rather than a wall-clock timestamp,
// so ordering stays strict even under coarse timer resolution or
// back-to-back accesses within the same instant.
type Cache struct {
	mu      sync.Mutex
	maxSize int
	entries map[wireformat.Hash]*cacheEntry
	clock   atomic.Int64
}

// NewCache constructs a cache holding at most maxSize snapshots.
func NewCache(maxSize int) *Cache {
	return &Cache{
		maxSize: maxSize,
		entries: make(map[wireformat.Hash]*cacheEntry),
	}
}

func (c *Cache) tick() int64 { return c.clock.Add(1) }

// Get returns the cached snapshot for eventHash, updating its access
// bookkeeping, or ewigerr.ErrNotFound on a miss.
func (c *Cache) Get(eventHash wireformat.Hash) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[eventHash]
	if !ok {
		return Snapshot{}, ewigerr.ErrNotFound
	}
	e.lastAccessed = c.tick()
	e.accessCount++
	return e.snapshot, nil
}

// Put inserts or refreshes snap under eventHash, evicting the
// least-recently-accessed entry if the cache is already at capacity.
func (c *Cache) Put(eventHash wireformat.Hash, snap Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[eventHash]; ok {
		e.snapshot = snap
		e.lastAccessed = c.tick()
		return
	}
	if c.maxSize > 0 && len(c.entries) >= c.maxSize {
		c.evictLocked()
	}
	c.entries[eventHash] = &cacheEntry{snapshot: snap, lastAccessed: c.tick(), accessCount: 1}
}

func (c *Cache) evictLocked() {
	var victim wireformat.Hash
	var oldest int64
	first := true
	for h, e := range c.entries {
		if first || e.lastAccessed < oldest {
			victim = h
			oldest = e.lastAccessed
			first = false
		}
	}
	if !first {
		delete(c.entries, victim)
	}
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

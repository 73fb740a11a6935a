package cache

import (
	"context"
	"sync"
	"time"
)

// Compile-time check: *MemoryCache implements Cache.
var _ Cache = (*MemoryCache)(nil)

type memoryEntry struct {
	payload []byte
	expires time.Time
}

// MemoryCache is an in-process cache. Expired entries are dropped when read,
// when their repository is written to, and by a full sweep that Put runs at
// most once per DefaultTTL.
type MemoryCache struct {
	mu        sync.Mutex
	entries   map[string]memoryEntry
	byRepo    map[int64]map[string]struct{}
	now       func() time.Time
	lastSweep time.Time
}

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		byRepo:  make(map[int64]map[string]struct{}),
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, repoID int64, op, path, branch string) ([]byte, bool) {
	key := Key(repoID, op, path, branch)

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expires) {
		c.dropLocked(repoID, key)
		return nil, false
	}
	return append([]byte(nil), e.payload...), true
}

func (c *MemoryCache) Put(_ context.Context, repoID int64, op, path, branch string, payload []byte, ttl time.Duration) {
	key := Key(repoID, op, path, branch)

	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if now.Sub(c.lastSweep) >= DefaultTTL {
		for id := range c.byRepo {
			c.sweepLocked(id, now)
		}
		c.lastSweep = now
	} else {
		c.sweepLocked(repoID, now)
	}

	c.entries[key] = memoryEntry{
		payload: append([]byte(nil), payload...),
		expires: now.Add(effectiveTTL(ttl)),
	}
	keys := c.byRepo[repoID]
	if keys == nil {
		keys = make(map[string]struct{})
		c.byRepo[repoID] = keys
	}
	keys[key] = struct{}{}
}

func (c *MemoryCache) Invalidate(_ context.Context, repoID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.byRepo[repoID] {
		delete(c.entries, key)
	}
	delete(c.byRepo, repoID)
}

// Len reports the number of live entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for _, e := range c.entries {
		if now.Before(e.expires) {
			n++
		}
	}
	return n
}

// stored reports the number of entries held, expired ones included.
func (c *MemoryCache) stored() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// sweepLocked drops the expired entries of one repository.
func (c *MemoryCache) sweepLocked(repoID int64, now time.Time) {
	for key := range c.byRepo[repoID] {
		if e, ok := c.entries[key]; !ok || !now.Before(e.expires) {
			c.dropLocked(repoID, key)
		}
	}
}

func (c *MemoryCache) dropLocked(repoID int64, key string) {
	delete(c.entries, key)
	keys := c.byRepo[repoID]
	if keys == nil {
		return
	}
	delete(keys, key)
	if len(keys) == 0 {
		delete(c.byRepo, repoID)
	}
}

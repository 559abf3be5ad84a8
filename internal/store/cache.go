// Package store holds the cross-cutting translation state shared by pipeline
// workers: an in-memory LRU+TTL translation cache and the persistent learned
// dictionary.
//
// Both stores are owned by the orchestrator and handed to optimizers as
// read/write handles — the stores themselves never hold references back into
// the pipeline. Both are safe for concurrent use; lookups return copies, so a
// fetched entry can be read without holding any lock.
package store

import (
	"container/list"
	"strings"
	"sync"
	"time"

	"github.com/lenslate/lenslate/pkg/types"
)

// DefaultCacheCapacity is used when a Cache is constructed with a
// non-positive capacity.
const DefaultCacheCapacity = 1024

// DefaultCacheTTL is used when a Cache is constructed with a non-positive TTL.
const DefaultCacheTTL = 10 * time.Minute

// CacheKey identifies a cached translation: normalized source text plus the
// language pair.
func CacheKey(source, srcLang, dstLang string) string {
	return strings.TrimSpace(source) + "\x00" + srcLang + "\x00" + dstLang
}

// cacheEntry is the internal LRU node payload.
type cacheEntry struct {
	key        string
	unit       types.TranslationUnit
	insertedAt time.Time
	lastAccess time.Time
}

// Cache is a strict-LRU translation cache with per-entry TTL.
//
// Invariants:
//   - the cache never holds more than its configured capacity;
//   - eviction removes exactly the least-recently-used entry;
//   - Get counts as a use for LRU ordering;
//   - an entry older than the TTL is never returned.
//
// All methods are safe for concurrent use.
type Cache struct {
	capacity int
	ttl      time.Duration

	// now is swappable so TTL expiry can be tested without sleeping.
	now func() time.Time

	mu      sync.Mutex
	order   *list.List               // front = most recently used
	entries map[string]*list.Element // key → element whose Value is *cacheEntry

	hits   uint64
	misses uint64
}

// NewCache creates a Cache. Non-positive capacity or ttl fall back to
// [DefaultCacheCapacity] and [DefaultCacheTTL].
func NewCache(capacity int, ttl time.Duration) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

// Get returns a copy of the cached unit for (source, srcLang, dstLang),
// re-tagged with [types.ProvenanceCache]. The second return is false on miss
// or when the entry has outlived its TTL; expired entries are removed.
func (c *Cache) Get(source, srcLang, dstLang string) (types.TranslationUnit, bool) {
	key := CacheKey(source, srcLang, dstLang)

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return types.TranslationUnit{}, false
	}

	ent := el.Value.(*cacheEntry)
	if c.now().Sub(ent.insertedAt) >= c.ttl {
		c.order.Remove(el)
		delete(c.entries, key)
		c.misses++
		return types.TranslationUnit{}, false
	}

	ent.lastAccess = c.now()
	c.order.MoveToFront(el)
	c.hits++

	unit := ent.unit // copy
	unit.Provenance = types.ProvenanceCache
	return unit, true
}

// Put stores a copy of unit under its source text and language pair. Inserting
// into a full cache evicts the least-recently-used entry first.
func (c *Cache) Put(unit types.TranslationUnit) {
	key := CacheKey(unit.Source, unit.SourceLang, unit.TargetLang)

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		ent := el.Value.(*cacheEntry)
		ent.unit = unit
		ent.insertedAt = c.now()
		ent.lastAccess = c.now()
		c.order.MoveToFront(el)
		return
	}

	for c.order.Len() >= c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}

	ent := &cacheEntry{
		key:        key,
		unit:       unit,
		insertedAt: c.now(),
		lastAccess: c.now(),
	}
	c.entries[key] = c.order.PushFront(ent)
}

// Len returns the current number of entries, including any not yet reaped
// expired ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear removes all entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	clear(c.entries)
}

// Stats reports cumulative hit and miss counts.
func (c *Cache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

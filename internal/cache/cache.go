// Package cache implements C4: a bounded TTL+capacity JSON response cache
// and an LRU+TTL search-result cache, grounded on
// original_source/python/search/optimized_search_engine.py's QueryCache
// and state_manager's connection-pool style eviction. Both caches are
// safe for concurrent readers and writers; no blocking call is ever made
// while holding the lock.
package cache

import (
	"container/list"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// JSONCache is a keyed fetch-or-compute cache with a TTL and a fixed
// max-entry bound, used by the fetch layer for raw JSON responses.
// Eviction: on every insert, entries older than TTL are dropped, then if
// still over capacity the oldest-by-insertion-time entries are evicted.
type JSONCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	entries  map[string]*jsonEntry
	order    []string // insertion order, oldest first
	now      func() time.Time
}

type jsonEntry struct {
	value      []byte
	insertedAt time.Time
}

// NewJSONCache constructs a JSONCache with the given TTL (seconds) and
// capacity. Non-positive values fall back to spec defaults (300s, 1000).
func NewJSONCache(ttlSeconds, capacity int) *JSONCache {
	if ttlSeconds <= 0 {
		ttlSeconds = 300
	}
	if capacity <= 0 {
		capacity = 1000
	}
	return &JSONCache{
		ttl:      time.Duration(ttlSeconds) * time.Second,
		capacity: capacity,
		entries:  make(map[string]*jsonEntry),
		now:      time.Now,
	}
}

// Key builds the cache key for a fetch: URL plus an authenticated flag,
// per spec.md §4.4.
func Key(url string, authenticated bool) string {
	if authenticated {
		return url + "|auth"
	}
	return url + "|anon"
}

// Get returns the cached value and true if present and fresh.
func (c *JSONCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.insertedAt) > c.ttl {
		return nil, false
	}
	return e.value, true
}

// Put inserts or replaces a value, then evicts expired entries and, if
// still over capacity, the oldest entries by insertion time.
func (c *JSONCache) Put(key string, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = &jsonEntry{value: value, insertedAt: c.now()}

	c.evictExpiredLocked()
	c.evictOverCapacityLocked()
}

func (c *JSONCache) evictExpiredLocked() {
	now := c.now()
	kept := c.order[:0]
	for _, k := range c.order {
		e, ok := c.entries[k]
		if !ok {
			continue
		}
		if now.Sub(e.insertedAt) > c.ttl {
			delete(c.entries, k)
			continue
		}
		kept = append(kept, k)
	}
	c.order = kept
}

func (c *JSONCache) evictOverCapacityLocked() {
	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

// SearchQuery mirrors the fields a search accepts; CacheKey canonically
// serializes it (sorted filter lists) so two semantically identical
// queries produce the same key regardless of slice ordering.
type SearchQuery struct {
	Text       string
	Subreddits []string
	Authors    []string
	Tags       []string
	MinUpvotes *int
	MaxUpvotes *int
	DateFrom   *int64
	DateTo     *int64
	Sort       string
	Limit      int
	Offset     int
}

// CacheKey produces the canonical serialization used as the search
// result cache key.
func (q SearchQuery) CacheKey() string {
	subs := append([]string{}, q.Subreddits...)
	sort.Strings(subs)
	authors := append([]string{}, q.Authors...)
	sort.Strings(authors)
	tags := append([]string{}, q.Tags...)
	sort.Strings(tags)

	fields := []string{
		q.Text,
		strings.Join(subs, ","),
		strings.Join(authors, ","),
		strings.Join(tags, ","),
		intPtrStr(q.MinUpvotes),
		intPtrStr(q.MaxUpvotes),
		int64PtrStr(q.DateFrom),
		int64PtrStr(q.DateTo),
		q.Sort,
		strconv.Itoa(q.Limit),
		strconv.Itoa(q.Offset),
	}
	return strings.Join(fields, "|")
}

func intPtrStr(p *int) string {
	if p == nil {
		return ""
	}
	return strconv.Itoa(*p)
}

func int64PtrStr(p *int64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatInt(*p, 10)
}

// SearchCache is an LRU+TTL cache keyed by SearchQuery.CacheKey(). Get
// moves the key to the most-recently-used end; Put evicts the oldest
// entry when over capacity.
type SearchCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	capacity int
	entries  map[string]*list.Element
	order    *list.List // front = MRU, back = LRU
	now      func() time.Time

	hits   int64
	misses int64
}

type searchEntry struct {
	key        string
	value      any
	insertedAt time.Time
}

// NewSearchCache constructs a SearchCache. Non-positive values fall back
// to spec defaults (300s TTL, 1000 capacity).
func NewSearchCache(ttlSeconds, capacity int) *SearchCache {
	if ttlSeconds <= 0 {
		ttlSeconds = 300
	}
	if capacity <= 0 {
		capacity = 1000
	}
	return &SearchCache{
		ttl:      time.Duration(ttlSeconds) * time.Second,
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the cached value for key, moving it to MRU position on hit.
func (c *SearchCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	se := el.Value.(*searchEntry)
	if c.now().Sub(se.insertedAt) > c.ttl {
		c.order.Remove(el)
		delete(c.entries, key)
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return se.value, true
}

// Put inserts or replaces value under key, evicting the LRU entry if the
// cache is now over capacity.
func (c *SearchCache) Put(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}

	se := &searchEntry{key: key, value: value, insertedAt: c.now()}
	el := c.order.PushFront(se)
	c.entries[key] = el

	for c.order.Len() > c.capacity {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.order.Remove(back)
		delete(c.entries, back.Value.(*searchEntry).key)
	}
}

// Clear empties the cache.
func (c *SearchCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// HitRate returns the fraction of Get calls that were hits, 0 if no
// Get calls have happened yet.
func (c *SearchCache) HitRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	if total == 0 {
		return 0
	}
	return float64(c.hits) / float64(total)
}

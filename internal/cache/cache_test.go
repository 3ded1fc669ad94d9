package cache

import (
	"testing"
	"time"
)

func TestJSONCacheTTLExpiry(t *testing.T) {
	c := NewJSONCache(10, 100)
	current := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }

	c.Put("k", []byte("v"))
	if v, ok := c.Get("k"); !ok || string(v) != "v" {
		t.Fatal("expected fresh hit")
	}

	current = current.Add(11 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Fatal("expected expired entry to miss")
	}
}

func TestJSONCacheCapacityEviction(t *testing.T) {
	c := NewJSONCache(300, 2)
	current := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return current }

	c.Put("a", []byte("1"))
	current = current.Add(time.Second)
	c.Put("b", []byte("2"))
	current = current.Add(time.Second)
	c.Put("c", []byte("3"))

	if _, ok := c.Get("a"); ok {
		t.Fatal("expected oldest entry evicted")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatal("expected newest entry present")
	}
}

func TestSearchCacheIdempotence(t *testing.T) {
	c := NewSearchCache(300, 10)
	q := SearchQuery{Text: "golang", Subreddits: []string{"b", "a"}}
	c.Put(q.CacheKey(), "result")

	v1, ok1 := c.Get(q.CacheKey())
	v2, ok2 := c.Get(q.CacheKey())
	if !ok1 || !ok2 || v1 != v2 {
		t.Fatal("expected two Gets within TTL to return identical values")
	}
}

func TestSearchQueryCacheKeyOrderIndependent(t *testing.T) {
	q1 := SearchQuery{Subreddits: []string{"golang", "rust"}}
	q2 := SearchQuery{Subreddits: []string{"rust", "golang"}}
	if q1.CacheKey() != q2.CacheKey() {
		t.Fatal("expected order-independent cache keys")
	}
}

func TestSearchCacheLRUEviction(t *testing.T) {
	c := NewSearchCache(300, 2)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Get("a") // a is now MRU
	c.Put("c", 3) // evicts b (LRU)

	if _, ok := c.Get("b"); ok {
		t.Fatal("expected b to be evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected a to remain")
	}
}

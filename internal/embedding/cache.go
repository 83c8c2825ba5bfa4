package embedding

import (
	"container/list"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Cache stores embeddings by key. Misses are never errors.
type Cache interface {
	Get(key string) ([]float32, bool)
	Set(key string, value []float32, ttl time.Duration)
	Delete(key string)
	Len() int
	Close() error
}

// EmbeddingCache is an in-memory LRU cache with per-entry TTL. Keys are spread
// over independently locked shards so unrelated keys do not contend.
type EmbeddingCache struct {
	shards     []*cacheShard
	shardCount int
	now        func() time.Time
}

type cacheShard struct {
	capacity int
	items    map[string]*list.Element
	lru      *list.List
	mu       sync.Mutex
}

type cacheEntry struct {
	key       string
	value     []float32
	expiresAt time.Time
}

// CacheOption configures an EmbeddingCache.
type CacheOption func(*EmbeddingCache)

// WithShards sets the number of shards.
func WithShards(n int) CacheOption {
	return func(c *EmbeddingCache) {
		if n > 0 {
			c.shardCount = n
		}
	}
}

// WithClock overrides the time source used for TTL checks.
func WithClock(now func() time.Time) CacheOption {
	return func(c *EmbeddingCache) {
		c.now = now
	}
}

// NewEmbeddingCache creates a cache holding at most capacity entries. A
// capacity of zero or less disables caching.
func NewEmbeddingCache(capacity int, opts ...CacheOption) *EmbeddingCache {
	c := &EmbeddingCache{now: time.Now, shardCount: 16}
	for _, opt := range opts {
		opt(c)
	}
	shards := c.shardCount
	if capacity <= 0 {
		return c
	}
	if shards > capacity {
		shards = capacity
	}
	per := (capacity + shards - 1) / shards
	c.shards = make([]*cacheShard, shards)
	for i := range c.shards {
		c.shards[i] = &cacheShard{
			capacity: per,
			items:    make(map[string]*list.Element),
			lru:      list.New(),
		}
	}
	return c
}

func (c *EmbeddingCache) shard(key string) *cacheShard {
	if len(c.shards) == 0 {
		return nil
	}
	return c.shards[xxhash.Sum64String(key)%uint64(len(c.shards))]
}

// Get returns a copy of the cached embedding for key if present and unexpired.
func (c *EmbeddingCache) Get(key string) ([]float32, bool) {
	value, _, ok := c.get(key)
	return value, ok
}

func (c *EmbeddingCache) get(key string) ([]float32, time.Time, bool) {
	s := c.shard(key)
	if s == nil {
		return nil, time.Time{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		return nil, time.Time{}, false
	}
	entry := elem.Value.(*cacheEntry)
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		s.lru.Remove(elem)
		delete(s.items, key)
		return nil, time.Time{}, false
	}
	s.lru.MoveToFront(elem)
	return cloneVector(entry.value), entry.expiresAt, true
}

// Set stores a copy of value under key, evicting the least recently used
// entry of the shard if it is full. A ttl of zero or less never expires.
func (c *EmbeddingCache) Set(key string, value []float32, ttl time.Duration) {
	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}
	c.setUntil(key, value, expiresAt)
}

func (c *EmbeddingCache) setUntil(key string, value []float32, expiresAt time.Time) {
	s := c.shard(key)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.items[key]; ok {
		s.lru.MoveToFront(elem)
		entry := elem.Value.(*cacheEntry)
		entry.value = cloneVector(value)
		entry.expiresAt = expiresAt
		return
	}

	entry := &cacheEntry{key: key, value: cloneVector(value), expiresAt: expiresAt}
	s.items[key] = s.lru.PushFront(entry)

	if s.lru.Len() > s.capacity {
		oldest := s.lru.Back()
		if oldest != nil {
			s.lru.Remove(oldest)
			delete(s.items, oldest.Value.(*cacheEntry).key)
		}
	}
}

// Delete removes key.
func (c *EmbeddingCache) Delete(key string) {
	s := c.shard(key)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.items[key]; ok {
		s.lru.Remove(elem)
		delete(s.items, key)
	}
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *EmbeddingCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += s.lru.Len()
		s.mu.Unlock()
	}
	return n
}

// Close is a no-op for the in-memory cache.
func (c *EmbeddingCache) Close() error {
	return nil
}

func cloneVector(v []float32) []float32 {
	if v == nil {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}

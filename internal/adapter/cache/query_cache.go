// Package cache memoizes search results per course.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"coursekb/internal/domain"
)

// QueryCache is an LRU cache with TTL. Entries remember the course
// generation they were computed at and are dropped once it moves on.
type QueryCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	order   []string
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

type cacheEntry struct {
	courseID   string
	results    []domain.SearchResult
	timestamp  time.Time
	generation uint64
}

func NewQueryCache(maxSize int, ttl time.Duration) *QueryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{
		entries: make(map[string]*cacheEntry),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

func cacheKey(courseID, query string, topK int, filter domain.SearchFilter) string {
	types := make([]string, 0, len(filter.DocTypes))
	for _, t := range filter.DocTypes {
		types = append(types, strings.ToLower(strings.TrimSpace(t)))
	}
	sort.Strings(types)

	h := sha256.New()
	for _, part := range []string{courseID, query, strconv.Itoa(topK), strings.Join(types, ",")} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// Get returns cached results computed at the given course generation.
func (c *QueryCache) Get(courseID, query string, topK int, filter domain.SearchFilter, generation uint64) ([]domain.SearchResult, bool) {
	key := cacheKey(courseID, query, topK, filter)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists {
		return nil, false
	}
	if c.now().Sub(entry.timestamp) > c.ttl || entry.generation != generation {
		delete(c.entries, key)
		c.removeFromOrder(key)
		return nil, false
	}

	c.moveToEnd(key)
	return entry.results, true
}

func (c *QueryCache) Put(courseID, query string, topK int, filter domain.SearchFilter, generation uint64, results []domain.SearchResult) {
	key := cacheKey(courseID, query, topK, filter)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; exists {
		c.moveToEnd(key)
	} else {
		if len(c.entries) >= c.maxSize {
			c.evictOldest()
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = &cacheEntry{
		courseID:   courseID,
		results:    results,
		timestamp:  c.now(),
		generation: generation,
	}
}

// Invalidate drops every entry of a course.
func (c *QueryCache) Invalidate(courseID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, entry := range c.entries {
		if entry.courseID == courseID {
			delete(c.entries, key)
			c.removeFromOrder(key)
		}
	}
}

func (c *QueryCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *QueryCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

func (c *QueryCache) moveToEnd(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

func (c *QueryCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

package fx

import (
	"container/list"
	"sync"
	"time"

	"divvy/internal/core"
)

// DefaultCacheTTL is how long a resolved rate stays usable. Staleness up
// to this window is accepted; no upstream invalidation exists.
const DefaultCacheTTL = 6 * time.Hour

// RateCache remembers resolved rates keyed by (from, to, hour bucket)
// with TTL expiry and LRU size eviction. It is constructed once and
// handed to the resolver, never reached as ambient state, so tests can
// start fresh or pre-seed entries.
//
// Safe for concurrent use. Two callers racing to store the same bucket
// is harmless: entries within a bucket are interchangeable and last
// writer wins.
type RateCache struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	items   map[string]*list.Element
	lru     *list.List
}

type rateEntry struct {
	key       string
	rate      Rate
	expiresAt time.Time
}

// NewRateCache creates a cache bounded to maxSize entries, each living
// for ttl after creation.
func NewRateCache(maxSize int, ttl time.Duration) *RateCache {
	return &RateCache{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[string]*list.Element),
		lru:     list.New(),
	}
}

// bucketKey floors asOf to the hour in UTC and combines it with the pair.
func bucketKey(from, to core.Currency, asOf time.Time) string {
	return string(from) + "->" + string(to) + "@" + asOf.UTC().Truncate(time.Hour).Format("2006010215")
}

// Get returns the cached rate for the pair's hour bucket, if present and
// not expired.
func (c *RateCache) Get(from, to core.Currency, asOf time.Time) (Rate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.items[bucketKey(from, to, asOf)]
	if !exists {
		return Rate{}, false
	}

	entry := elem.Value.(*rateEntry)
	if time.Now().After(entry.expiresAt) {
		c.removeElement(elem)
		return Rate{}, false
	}

	c.lru.MoveToFront(elem)
	return entry.rate, true
}

// Set stores a rate under the pair's hour bucket.
func (c *RateCache) Set(from, to core.Currency, asOf time.Time, rate Rate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := bucketKey(from, to, asOf)
	entry := &rateEntry{
		key:       key,
		rate:      rate,
		expiresAt: time.Now().Add(c.ttl),
	}

	if elem, exists := c.items[key]; exists {
		elem.Value = entry
		c.lru.MoveToFront(elem)
		return
	}

	elem := c.lru.PushFront(entry)
	c.items[key] = elem

	if c.lru.Len() > c.maxSize {
		if oldest := c.lru.Back(); oldest != nil {
			c.removeElement(oldest)
		}
	}
}

func (c *RateCache) removeElement(elem *list.Element) {
	entry := elem.Value.(*rateEntry)
	delete(c.items, entry.key)
	c.lru.Remove(elem)
}

// CleanExpired removes all expired entries and returns how many were
// dropped.
func (c *RateCache) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var toRemove []*list.Element
	for elem := c.lru.Front(); elem != nil; elem = elem.Next() {
		if now.After(elem.Value.(*rateEntry).expiresAt) {
			toRemove = append(toRemove, elem)
		}
	}
	for _, elem := range toRemove {
		c.removeElement(elem)
	}
	return len(toRemove)
}

// Size returns the current number of cached entries.
func (c *RateCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

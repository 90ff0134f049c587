package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/iago/content-router/internal/domain"
)

type entry struct {
	record    *domain.ProcessingRecord
	storedAt  time.Time
	expiresAt time.Time
}

type Config struct {
	TTL        time.Duration
	MaxEntries int
}

// RecordCache is the in-process view of processing records keyed by primary
// fingerprint. Records are cloned on the way in and out.
type RecordCache struct {
	mu         sync.RWMutex
	entries    map[string]entry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func NewRecordCache(config Config) *RecordCache {
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 10000
	}
	return &RecordCache{
		entries:    make(map[string]entry),
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (c *RecordCache) Get(fingerprint string) (*domain.ProcessingRecord, bool) {
	c.mu.RLock()
	cached, exists := c.entries[fingerprint]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}
	if c.now().After(cached.expiresAt) {
		c.mu.Lock()
		if current, ok := c.entries[fingerprint]; ok && current.storedAt.Equal(cached.storedAt) {
			delete(c.entries, fingerprint)
		}
		c.mu.Unlock()
		return nil, false
	}
	return cached.record.Clone(), true
}

func (c *RecordCache) Set(record *domain.ProcessingRecord) {
	if record == nil || record.Fingerprint == "" {
		return
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[record.Fingerprint]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}
	c.entries[record.Fingerprint] = entry{
		record:    record.Clone(),
		storedAt:  now,
		expiresAt: now.Add(c.ttl),
	}
}

// Update applies mutate to the cached record under the write lock. It
// reports false when the fingerprint is not cached.
func (c *RecordCache) Update(fingerprint string, mutate func(*domain.ProcessingRecord)) (*domain.ProcessingRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cached, exists := c.entries[fingerprint]
	if !exists {
		return nil, false
	}
	mutate(cached.record)
	return cached.record.Clone(), true
}

func (c *RecordCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *RecordCache) evictOldest() {
	if len(c.entries) == 0 {
		return
	}

	type pair struct {
		key   string
		value entry
	}
	pairs := make([]pair, 0, len(c.entries))
	for key, value := range c.entries {
		pairs = append(pairs, pair{key: key, value: value})
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].value.storedAt.Before(pairs[j].value.storedAt)
	})
	delete(c.entries, pairs[0].key)
}

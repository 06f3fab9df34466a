package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/sst-grid-service/internal/models"
)

// Cache defines the interface for point reading caches.
// Get returns cached data if present and not expired, Set stores data with TTL.
type Cache interface {
	Get(ctx context.Context, key string) (models.Reading, bool, error)
	Set(ctx context.Context, key string, value models.Reading, ttl time.Duration) error
}

// ReadingKey is the cache key of one grid cell of one daily snapshot.
func ReadingKey(res models.Resolution, date time.Time, i, j int) string {
	return fmt.Sprintf("%s:%s:%d:%d", res, date.Format("20060102"), i, j)
}

// InMemoryCache implements Cache using an in-memory map with TTL-based expiration.
// Expired entries are removed on access.
type InMemoryCache struct {
	mu    sync.Mutex
	data  map[string]cacheEntry
	clock clockwork.Clock
}

type cacheEntry struct {
	value     models.Reading
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return NewInMemoryCacheWithClock(clockwork.NewRealClock())
}

// NewInMemoryCacheWithClock creates an in-memory cache that reads time from clock.
func NewInMemoryCacheWithClock(clock clockwork.Clock) *InMemoryCache {
	return &InMemoryCache{
		data:  make(map[string]cacheEntry),
		clock: clock,
	}
}

// Get returns (reading, true, nil) on a hit and (zero, false, nil) on a miss or expiry.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.Reading, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.Reading{}, false, nil
	}
	if c.clock.Now().After(entry.expiresAt) {
		delete(c.data, key)
		return models.Reading{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores a reading with the specified TTL.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.Reading, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: c.clock.Now().Add(ttl),
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

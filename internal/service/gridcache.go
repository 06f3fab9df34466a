package service

import (
	"sync"

	"github.com/kjstillabower/sst-grid-service/internal/models"
)

// loadedGrid is a parsed snapshot and the local file it came from.
type loadedGrid struct {
	grid *models.Grid
	path string
}

// gridCache keeps the most recently loaded grids in memory. The oldest entry is evicted
// first once capacity is reached.
type gridCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*loadedGrid
	order    []string
}

func newGridCache(capacity int) *gridCache {
	if capacity < 1 {
		capacity = 1
	}
	return &gridCache{capacity: capacity, entries: make(map[string]*loadedGrid)}
}

func (c *gridCache) get(key string) (*loadedGrid, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.entries[key]
	return g, ok
}

func (c *gridCache) put(key string, g *loadedGrid) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		c.entries[key] = g
		return
	}
	for len(c.order) >= c.capacity {
		delete(c.entries, c.order[0])
		c.order = c.order[1:]
	}
	c.entries[key] = g
	c.order = append(c.order, key)
}

func (c *gridCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

package pipeline

import (
	"sync"

	"microd/pkg/types"
)

// artifactCache holds compiled artifacts keyed by fingerprint, evicting the
// oldest entry once capacity is reached. Fingerprints bind the full
// (graph, target) identity, so a hit is always safe to reuse.
type artifactCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*types.Artifact
	order    []string
}

func newArtifactCache(capacity int) *artifactCache {
	return &artifactCache{
		capacity: capacity,
		entries:  make(map[string]*types.Artifact, capacity),
	}
}

func (c *artifactCache) Get(key string) (*types.Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.entries[key]
	return a, ok
}

func (c *artifactCache) Put(key string, a *types.Artifact) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return
	}
	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = a
	c.order = append(c.order, key)
}

func (c *artifactCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

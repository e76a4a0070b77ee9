// Package nscache is a small LRU of per-namespace summary aggregates that
// callers Put after fetching them from the store. It does not observe store
// writes: an entry changes only through Put, Invalidate or InvalidateAll.
package nscache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"runloop/internal/queue"
)

// Cache is a small LRU of namespace -> NamespaceSummary.
type Cache struct {
	lru *lru.Cache[string, queue.NamespaceSummary]
}

func New(size int) (*Cache, error) {
	if size <= 0 {
		size = 128
	}
	c, err := lru.New[string, queue.NamespaceSummary](size)
	if err != nil {
		return nil, err
	}
	return &Cache{lru: c}, nil
}

// Get returns the cached summary for namespace, if present.
func (c *Cache) Get(namespace string) (queue.NamespaceSummary, bool) {
	return c.lru.Get(namespace)
}

// Put caches summary for namespace, overwriting any prior entry.
func (c *Cache) Put(namespace string, summary queue.NamespaceSummary) {
	c.lru.Add(namespace, summary)
}

// Invalidate drops any cached entry for namespace.
func (c *Cache) Invalidate(namespace string) {
	c.lru.Remove(namespace)
}

// InvalidateAll clears the whole cache.
func (c *Cache) InvalidateAll() {
	c.lru.Purge()
}

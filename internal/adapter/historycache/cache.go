// Package historycache decorates an observation history with an LRU cache.
package historycache

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/couchcryptid/climate-health-engine/internal/domain"
)

// History is the read side of an observation store.
type History interface {
	Latest(ctx context.Context, region string, asOf time.Time) (domain.Observation, error)
	Recent(ctx context.Context, region string, asOf time.Time, n int) ([]domain.Observation, error)
}

// CachedHistory wraps a History with an in-memory LRU cache. Only queries
// bounded by a date are cached; unbounded lookups follow new data and always
// reach the inner store.
type CachedHistory struct {
	inner  History
	latest *lruCache[domain.Observation]
	recent *lruCache[[]domain.Observation]
}

// New creates a cache decorator holding up to maxEntries results per query kind.
func New(inner History, maxEntries int) *CachedHistory {
	return &CachedHistory{
		inner:  inner,
		latest: newLRUCache[domain.Observation](maxEntries),
		recent: newLRUCache[[]domain.Observation](maxEntries),
	}
}

func (c *CachedHistory) Latest(ctx context.Context, region string, asOf time.Time) (domain.Observation, error) {
	if asOf.IsZero() {
		return c.inner.Latest(ctx, region, asOf)
	}
	key := fmt.Sprintf("%s|%s", normalize(region), asOf.UTC().Format(time.DateOnly))
	if obs, ok := c.latest.get(key); ok {
		return obs, nil
	}
	obs, err := c.inner.Latest(ctx, region, asOf)
	if err != nil {
		// Misses are not cached so newly loaded history is picked up.
		return obs, err
	}
	c.latest.put(key, obs)
	return obs, nil
}

func (c *CachedHistory) Recent(ctx context.Context, region string, asOf time.Time, n int) ([]domain.Observation, error) {
	if asOf.IsZero() {
		return c.inner.Recent(ctx, region, asOf, n)
	}
	key := fmt.Sprintf("%s|%s|%d", normalize(region), asOf.UTC().Format(time.DateOnly), n)
	if rows, ok := c.recent.get(key); ok {
		return slices.Clone(rows), nil
	}
	rows, err := c.inner.Recent(ctx, region, asOf, n)
	if err != nil {
		return rows, err
	}
	if len(rows) > 0 {
		c.recent.put(key, slices.Clone(rows))
	}
	return rows, nil
}

func normalize(region string) string {
	return strings.ToLower(strings.TrimSpace(region))
}

// lruCache is a simple thread-safe LRU cache.
type lruCache[V any] struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry[V]
	head       *entry[V] // most recently used
	tail       *entry[V] // least recently used
}

type entry[V any] struct {
	key   string
	value V
	prev  *entry[V]
	next  *entry[V]
}

func newLRUCache[V any](maxEntries int) *lruCache[V] {
	return &lruCache[V]{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry[V]),
	}
}

func (c *lruCache[V]) get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache[V]) put(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry[V]{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache[V]) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *lruCache[V]) moveToFront(e *entry[V]) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache[V]) addToFront(e *entry[V]) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache[V]) remove(e *entry[V]) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache[V]) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}

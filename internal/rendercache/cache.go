// Package rendercache holds the Host's bounded map of fully rendered page
// markup used to answer guest requests without recomputation.
package rendercache

import (
	"container/list"
	"sync"
	"time"

	"ex-vellum/internal/metrics"
)

// DefaultCapacity is the number of pages kept when no capacity is configured.
const DefaultCapacity = 20

// Option mutates rendered cache configuration.
type Option func(*Cache)

// WithCapacity sets the maximum number of cached pages.
func WithCapacity(capacity int) Option {
	return func(cache *Cache) {
		if capacity > 0 {
			cache.capacity = capacity
		}
	}
}

// WithClock overrides the time source used for save stamps.
func WithClock(clock func() time.Time) Option {
	return func(cache *Cache) {
		if clock != nil {
			cache.clock = clock
		}
	}
}

// WithMetrics records evictions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(cache *Cache) {
		cache.metrics = m
	}
}

// Entry is one cached page rendering.
type Entry struct {
	PageID  string
	Markup  string
	SavedAt time.Time
}

// Cache is a bounded page-id to markup map evicting the oldest save first.
//
// Reads never refresh an entry's position; only Put does.
type Cache struct {
	capacity int
	clock    func() time.Time
	metrics  *metrics.Metrics

	mu    sync.Mutex
	order *list.List
	index map[string]*list.Element
}

// New creates an empty rendered output cache.
func New(opts ...Option) *Cache {
	cache := &Cache{
		capacity: DefaultCapacity,
		clock:    time.Now,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(cache)
	}

	return cache
}

// Get returns cached markup for pageID.
func (c *Cache) Get(pageID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.index[pageID]
	if !exists {
		return "", false
	}
	entry, ok := element.Value.(Entry)
	if !ok {
		return "", false
	}

	return entry.Markup, true
}

// Entry returns the cached entry for pageID including its save time.
func (c *Cache) Entry(pageID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, exists := c.index[pageID]
	if !exists {
		return Entry{}, false
	}
	entry, ok := element.Value.(Entry)

	return entry, ok
}

// Put stores markup as the newest entry and evicts the oldest entries beyond capacity.
func (c *Cache) Put(pageID string, markup string) {
	entry := Entry{PageID: pageID, Markup: markup, SavedAt: c.clock().UTC()}

	c.mu.Lock()
	defer c.mu.Unlock()

	if element, exists := c.index[pageID]; exists {
		element.Value = entry
		c.order.MoveToFront(element)
	} else {
		c.index[pageID] = c.order.PushFront(entry)
	}

	for len(c.index) > c.capacity {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.order.Remove(back)
		if oldest, ok := back.Value.(Entry); ok {
			delete(c.index, oldest.PageID)
		}
		c.metrics.RenderedCacheEviction()
	}
}

// Remove drops pageID so a refreshed page is not served stale.
func (c *Cache) Remove(pageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, exists := c.index[pageID]; exists {
		c.order.Remove(element)
		delete(c.index, pageID)
	}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.index = make(map[string]*list.Element)
}

// Len returns the number of cached pages.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.index)
}

// Package dedup remembers recently processed envelope ids so a message
// received more than once is delivered locally only once.
package dedup

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	id         string
	receivedAt time.Time
}

// Cache is a bounded, time-windowed set of ids. A single receipt-ordered list
// backs both eviction policies: trimming by size and expiry by age.
type Cache struct {
	mu        sync.Mutex
	items     map[string]*list.Element
	order     *list.List // oldest receipt at the front
	highWater int
	floor     int
	retention time.Duration
	now       func() time.Time
}

// Option customizes a Cache
type Option func(*Cache)

// WithClock replaces the time source, mainly for tests
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// New creates a cache that trims to floor entries once highWater is reached
// and forgets ids older than retention.
func New(highWater, floor int, retention time.Duration, opts ...Option) *Cache {
	if floor > highWater {
		floor = highWater
	}
	c := &Cache{
		items:     make(map[string]*list.Element),
		order:     list.New(),
		highWater: highWater,
		floor:     floor,
		retention: retention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Contains reports whether id was recorded and has not been evicted yet
func (c *Cache) Contains(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[id]
	return ok
}

// Add records id as processed now and returns how many entries were trimmed
// by the size policy.
func (c *Cache) Add(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[id]; ok {
		el.Value.(*entry).receivedAt = c.now()
		c.order.MoveToBack(el)
	} else {
		c.items[id] = c.order.PushBack(&entry{id: id, receivedAt: c.now()})
	}

	if c.highWater <= 0 || len(c.items) < c.highWater {
		return 0
	}
	trimmed := 0
	for len(c.items) > c.floor {
		c.removeFront()
		trimmed++
	}
	return trimmed
}

// EvictExpired drops every entry older than the retention window and returns
// how many were removed.
func (c *Cache) EvictExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.retention)
	removed := 0
	for front := c.order.Front(); front != nil; front = c.order.Front() {
		if !front.Value.(*entry).receivedAt.Before(cutoff) {
			break
		}
		c.removeFront()
		removed++
	}
	return removed
}

// Len returns the number of remembered ids
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

func (c *Cache) removeFront() {
	front := c.order.Front()
	if front == nil {
		return
	}
	c.order.Remove(front)
	delete(c.items, front.Value.(*entry).id)
}

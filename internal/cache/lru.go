// Pacesetter - Speedrun Leaderboard Sync and Ranking Engine
// Copyright 2026 Pacesetter contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/pacesetter-app/pacesetter

// Package cache provides a small thread-safe LRU with per-entry TTL, used
// to keep repeat upstream lookups off the wire during bulk syncs.
package cache

import (
	"sync"
	"time"
)

type entry[V any] struct {
	key       string
	value     V
	prev      *entry[V]
	next      *entry[V]
	expiresAt time.Time
}

// LRU is a fixed-capacity least-recently-used cache with lazy TTL
// expiration. Get, Set and eviction are all O(1).
type LRU[V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	items    map[string]*entry[V]

	// head.next is most recently used, tail.prev least.
	head *entry[V]
	tail *entry[V]

	hits   int64
	misses int64
}

// NewLRU creates a cache holding at most capacity entries, each valid for
// ttl after its last Set.
func NewLRU[V any](capacity int, ttl time.Duration) *LRU[V] {
	if capacity <= 0 {
		capacity = 1024
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &LRU[V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*entry[V], capacity),
		head:     &entry[V]{},
		tail:     &entry[V]{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// Get returns the cached value and true when present and unexpired. A hit
// refreshes the entry's recency but not its TTL.
func (c *LRU[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		c.unlink(e)
		c.misses++
		return zero, false
	}
	c.moveToFront(e)
	c.hits++
	return e.value, true
}

// Set stores a value, resetting its TTL. The least recently used entry is
// evicted when the cache is full.
func (c *LRU[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := time.Now().Add(c.ttl)
	if e, ok := c.items[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		c.moveToFront(e)
		return
	}

	e := &entry[V]{key: key, value: value, expiresAt: expiresAt}
	c.pushFront(e)
	c.items[key] = e

	for len(c.items) > c.capacity {
		oldest := c.tail.prev
		if oldest == c.head {
			break
		}
		c.unlink(oldest)
	}
}

// Remove drops a key, reporting whether it was present.
func (c *LRU[V]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.items[key]
	if !ok {
		return false
	}
	c.unlink(e)
	return true
}

// Len returns the number of entries, counting expired ones not yet lazily
// evicted.
func (c *LRU[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns hit and miss counts since creation.
func (c *LRU[V]) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *LRU[V]) pushFront(e *entry[V]) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

func (c *LRU[V]) moveToFront(e *entry[V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	c.pushFront(e)
}

func (c *LRU[V]) unlink(e *entry[V]) {
	e.prev.next = e.next
	e.next.prev = e.prev
	delete(c.items, e.key)
}

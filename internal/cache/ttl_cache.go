/*
Copyright 2024 The Subnetgate Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package cache provides a concurrency-safe associative cache with per-entry
// TTL expiry and LRU eviction on capacity overflow.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// entry is a single cached value together with its expiry deadline and its
// position in the recency list.
type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// Cache maps string keys to values of type V. Entries expire after the
// configured TTL and the least recently used entry is evicted when the cache
// grows past its maximum size. All methods are safe for concurrent use.
type Cache[V any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	items   map[string]*list.Element
	order   *list.List // front = most recently used

	// now is swappable so tests can control expiry deterministically.
	now func() time.Time
}

// New creates a cache holding at most maxSize entries, each valid for ttl
// after insertion.
func New[V any](maxSize int, ttl time.Duration) *Cache[V] {
	if maxSize < 1 {
		maxSize = 1
	}
	return &Cache[V]{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Get returns the value stored under key. Expired entries are removed and
// reported as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}

	ent := element.Value.(*entry[V])
	if c.now().After(ent.expiresAt) {
		c.order.Remove(element)
		delete(c.items, key)
		var zero V
		return zero, false
	}

	c.order.MoveToFront(element)
	return ent.value, true
}

// Set stores value under key, refreshing the TTL if the key already exists.
// When the cache is full the least recently used entry is evicted first.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)

	if element, ok := c.items[key]; ok {
		ent := element.Value.(*entry[V])
		ent.value = value
		ent.expiresAt = expiresAt
		c.order.MoveToFront(element)
		return
	}

	if len(c.items) >= c.maxSize {
		c.evictOldest()
	}

	element := c.order.PushFront(&entry[V]{key: key, value: value, expiresAt: expiresAt})
	c.items[key] = element
}

// Len returns the number of entries currently held, including entries that
// have expired but not yet been removed.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Clear removes all entries.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// evictOldest removes the least recently used entry. Caller must hold mu.
func (c *Cache[V]) evictOldest() {
	element := c.order.Back()
	if element == nil {
		return
	}
	ent := element.Value.(*entry[V])
	c.order.Remove(element)
	delete(c.items, ent.key)
}

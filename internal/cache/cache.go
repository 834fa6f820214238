// Libratlas - Library Registry and Geographic Discovery Service
// Copyright 2026 Libratlas Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/libratlas/libratlas

// Package cache provides a thread-safe in-memory TTL cache used for
// rendered OPDS feeds. Feed generation touches several tables, so the
// production and QA feeds are cached briefly and invalidated whenever
// a registration or stage change alters feed contents.
package cache

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"github.com/libratlas/libratlas/internal/metrics"
)

// Entry represents a cached item with expiration
type Entry struct {
	Data      interface{}
	ExpiresAt time.Time
}

// Cache provides a thread-safe in-memory cache with TTL support.
// Hit/miss/eviction counts are exported through the metrics package
// under the cache_type label given at construction.
type Cache struct {
	mu        sync.RWMutex
	entries   map[string]Entry
	ttl       time.Duration
	cacheType string
}

// New creates a cache with the given default TTL. A background
// goroutine removes expired entries every 5 minutes; it runs for the
// cache's lifetime, which matches the process lifetime here.
func New(cacheType string, ttl time.Duration) *Cache {
	c := &Cache{
		entries:   make(map[string]Entry),
		ttl:       ttl,
		cacheType: cacheType,
	}

	go c.cleanupLoop()

	return c
}

// Get retrieves a value by key. Expired entries are removed on access
// and count as misses.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		metrics.RecordCacheAccess(c.cacheType, false)
		return nil, false
	}

	if time.Now().After(entry.ExpiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		metrics.RecordCacheAccess(c.cacheType, false)
		metrics.CacheEvictions.WithLabelValues(c.cacheType).Inc()
		return nil, false
	}

	metrics.RecordCacheAccess(c.cacheType, true)
	return entry.Data, true
}

// Set stores a value with the default TTL.
func (c *Cache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores a value in the cache with a custom TTL
func (c *Cache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = Entry{
		Data:      value,
		ExpiresAt: time.Now().Add(ttl),
	}
	size := len(c.entries)
	c.mu.Unlock()

	metrics.CacheSize.WithLabelValues(c.cacheType).Set(float64(size))
}

// Delete removes a specific cache entry by key. Safe to call with a
// key that is not present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	metrics.CacheEvictions.WithLabelValues(c.cacheType).Inc()
}

// Clear removes all entries. Called after any write that changes feed
// contents: registration, stage change, place creation.
func (c *Cache) Clear() {
	c.mu.Lock()
	evictions := len(c.entries)
	c.entries = make(map[string]Entry)
	c.mu.Unlock()

	metrics.CacheEvictions.WithLabelValues(c.cacheType).Add(float64(evictions))
	metrics.CacheSize.WithLabelValues(c.cacheType).Set(0)
}

// Len returns the current number of entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cleanupLoop periodically removes expired entries
func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.cleanup()
	}
}

// cleanup removes all expired entries
func (c *Cache) cleanup() {
	now := time.Now()
	c.mu.Lock()
	evictions := 0
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			evictions++
		}
	}
	size := len(c.entries)
	c.mu.Unlock()

	metrics.CacheEvictions.WithLabelValues(c.cacheType).Add(float64(evictions))
	metrics.CacheSize.WithLabelValues(c.cacheType).Set(float64(size))
}

// GenerateKey creates a cache key from a method name and parameters.
func GenerateKey(method string, params interface{}) string {
	data, err := json.Marshal(params)
	if err != nil {
		// Fallback to simple string key
		return fmt.Sprintf("%s:%v", method, params)
	}

	hash := sha256.Sum256(data)
	return fmt.Sprintf("%s:%x", method, hash[:16])
}

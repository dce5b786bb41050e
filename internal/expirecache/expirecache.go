// Abyss - Self-Hosted Media Proxy and Access Control Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/abyss

// Package expirecache provides a thread-safe in-memory key-value cache with
// per-entry TTL, used to hold login challenges and session tokens.
//
// Entries expire lazily on read: a Get past its expiry deletes the entry and
// reports it absent, exactly like a miss. There is no active sweeper — the
// cache is expected to hold a bounded number of live challenges and tokens,
// so a background reaper is unnecessary overhead here.
package expirecache

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Clock abstracts time.Now so tests can control expiry without sleeping.
type Clock func() time.Time

type entry struct {
	value   interface{}
	expires time.Time
}

// Cache is a sharded, mutex-guarded TTL map. Sharding by key hash lets
// concurrent Put/Get/Remove on disjoint keys proceed without contending on a
// single lock, so unrelated keys never block each other, without reaching
// for a lock-free structure.
type Cache struct {
	shards [shardCount]shard
	clock  Clock
	name   string
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]entry
}

const shardCount = 16

// hitMissTotal is shared by every Cache instance, distinguished by the
// "cache" label (e.g. "challenges", "tokens") so each named cache gets its
// own time series without each constructor racing to register its own
// collector under the same metric name.
var hitMissTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "abyss_expirecache_lookups_total",
		Help: "Get calls against an expiring cache, partitioned by outcome.",
	},
	[]string{"cache", "outcome"},
)

// New creates an empty Cache using the real wall clock.
func New(name string) *Cache {
	return NewWithClock(name, time.Now)
}

// NewWithClock creates an empty Cache using the given clock, for tests.
func NewWithClock(name string, clock Clock) *Cache {
	c := &Cache{clock: clock, name: name}
	for i := range c.shards {
		c.shards[i].entries = make(map[string]entry)
	}
	return c
}

func (c *Cache) shardFor(key string) *shard {
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return &c.shards[h%shardCount]
}

// Put stores value under key with the given time-to-live, replacing any
// existing entry.
func (c *Cache) Put(key string, value interface{}, ttl time.Duration) {
	s := c.shardFor(key)
	s.mu.Lock()
	s.entries[key] = entry{value: value, expires: c.clock().Add(ttl)}
	s.mu.Unlock()
}

// Get returns the value stored under key, or (nil, false) if absent or
// expired. An expired entry is removed as a side effect of the read.
func (c *Cache) Get(key string) (interface{}, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		hitMissTotal.WithLabelValues(c.name, "miss").Inc()
		return nil, false
	}
	if c.clock().After(e.expires) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		hitMissTotal.WithLabelValues(c.name, "miss").Inc()
		return nil, false
	}
	hitMissTotal.WithLabelValues(c.name, "hit").Inc()
	return e.value, true
}

// Remove deletes key unconditionally. Removing an absent key is a no-op.
func (c *Cache) Remove(key string) {
	s := c.shardFor(key)
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
}

// Len returns the number of entries currently stored, including any that
// have expired but not yet been reaped by a Get. Intended for diagnostics.
func (c *Cache) Len() int {
	total := 0
	for i := range c.shards {
		c.shards[i].mu.RLock()
		total += len(c.shards[i].entries)
		c.shards[i].mu.RUnlock()
	}
	return total
}

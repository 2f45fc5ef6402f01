// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache provides the short-lived response cache used by the backend
// façade for idempotent reads.
//
// Entries are keyed by method and path, served while younger than the TTL,
// and removed either by explicit invalidation or by a one-shot eviction
// timer scheduled when the entry is stored. Only allow-listed keys are ever
// stored.
package cache

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// DefaultTTL is how long a stored response is served.
const DefaultTTL = 30 * time.Second

// CheckAuthPath is the only path cached by default.
const CheckAuthPath = "/api/auth/check-auth"

// =============================================================================
// KEYS, CLOCK AND SCHEDULER
// =============================================================================

// Key identifies a cached response.
type Key struct {
	Method string
	Path   string
}

// String renders the key as "GET /path".
func (k Key) String() string {
	return k.Method + " " + k.Path
}

// AuthCheckKey is the cache key of the session check.
var AuthCheckKey = Key{Method: http.MethodGet, Path: CheckAuthPath}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Timer is a cancellable one-shot timer.
type Timer interface {
	Stop() bool
}

// Scheduler runs f once after d.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock is the wall clock backed by the time package.
var SystemClock interface {
	Clock
	Scheduler
} = systemClock{}

// =============================================================================
// EVENTS
// =============================================================================

// Event is a cache occurrence reported to an Observer.
type Event string

const (
	EventHit        Event = "hit"
	EventMiss       Event = "miss"
	EventStore      Event = "store"
	EventEvict      Event = "evict"
	EventInvalidate Event = "invalidate"
)

// Observer receives cache events. It is called without the cache lock held.
type Observer func(ev Event, key Key)

// =============================================================================
// CACHE
// =============================================================================

type entry struct {
	payload  json.RawMessage
	storedAt time.Time
	timer    Timer
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Entries       int   `json:"entries"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Stores        int64 `json:"stores"`
	Evictions     int64 `json:"evictions"`
	Invalidations int64 `json:"invalidations"`
}

// ResponseCache is a TTL cache of raw JSON response bodies.
// It is safe for concurrent use.
type ResponseCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	clock     Clock
	scheduler Scheduler
	allow     map[Key]bool
	entries   map[Key]*entry
	observer  Observer
	stats     Stats
}

// Option configures a ResponseCache.
type Option func(*ResponseCache)

// WithClock sets the time source.
func WithClock(c Clock) Option {
	return func(rc *ResponseCache) { rc.clock = c }
}

// WithScheduler sets the eviction timer source.
func WithScheduler(s Scheduler) Option {
	return func(rc *ResponseCache) { rc.scheduler = s }
}

// WithAllowList replaces the set of cacheable keys.
func WithAllowList(keys ...Key) Option {
	return func(rc *ResponseCache) {
		rc.allow = make(map[Key]bool, len(keys))
		for _, k := range keys {
			rc.allow[k] = true
		}
	}
}

// WithObserver registers a callback for cache events.
func WithObserver(o Observer) Option {
	return func(rc *ResponseCache) { rc.observer = o }
}

// New creates a cache. A non-positive ttl selects DefaultTTL.
func New(ttl time.Duration, opts ...Option) *ResponseCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	rc := &ResponseCache{
		ttl:       ttl,
		clock:     SystemClock,
		scheduler: SystemClock,
		allow:     map[Key]bool{AuthCheckKey: true},
		entries:   make(map[Key]*entry),
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// TTL returns the configured lifetime.
func (c *ResponseCache) TTL() time.Duration {
	return c.ttl
}

// Cacheable reports whether key is on the allow-list. Only GET keys can be
// allow-listed.
func (c *ResponseCache) Cacheable(key Key) bool {
	return key.Method == http.MethodGet && c.allow[key]
}

// Get returns the stored payload when key is cacheable, present and younger
// than the TTL. The returned slice is a copy.
func (c *ResponseCache) Get(key Key) (json.RawMessage, bool) {
	if !c.Cacheable(key) {
		return nil, false
	}

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok && c.clock.Now().Sub(e.storedAt) < c.ttl {
		c.stats.Hits++
		payload := append(json.RawMessage(nil), e.payload...)
		c.mu.Unlock()
		c.notify(EventHit, key)
		return payload, true
	}
	c.stats.Misses++
	c.mu.Unlock()

	c.notify(EventMiss, key)
	return nil, false
}

// Put stores payload under key, replacing any previous entry and its timer,
// and schedules eviction after the TTL. Non-cacheable keys are ignored.
func (c *ResponseCache) Put(key Key, payload json.RawMessage) {
	if !c.Cacheable(key) {
		return
	}

	e := &entry{
		payload:  append(json.RawMessage(nil), payload...),
		storedAt: c.clock.Now(),
	}

	c.mu.Lock()
	if old, ok := c.entries[key]; ok && old.timer != nil {
		old.timer.Stop()
	}
	c.entries[key] = e
	c.stats.Stores++
	// Assigned under the lock so a concurrent overwrite always sees it.
	e.timer = c.scheduler.AfterFunc(c.ttl, func() { c.expire(key, e) })
	c.mu.Unlock()

	c.notify(EventStore, key)
}

// expire removes key only if it still holds the entry the timer was
// scheduled for.
func (c *ResponseCache) expire(key Key, scheduled *entry) {
	c.mu.Lock()
	cur, ok := c.entries[key]
	if !ok || cur != scheduled {
		c.mu.Unlock()
		return
	}
	delete(c.entries, key)
	c.stats.Evictions++
	c.mu.Unlock()

	c.notify(EventEvict, key)
}

// Invalidate removes key and stops its timer. It is a no-op for absent keys.
func (c *ResponseCache) Invalidate(key Key) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	delete(c.entries, key)
	c.stats.Invalidations++
	c.mu.Unlock()

	c.notify(EventInvalidate, key)
}

// Clear removes every entry.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	keys := make([]Key, 0, len(c.entries))
	for k, e := range c.entries {
		if e.timer != nil {
			e.timer.Stop()
		}
		keys = append(keys, k)
	}
	c.entries = make(map[Key]*entry)
	c.stats.Invalidations += int64(len(keys))
	c.mu.Unlock()

	for _, k := range keys {
		c.notify(EventInvalidate, k)
	}
}

// Len returns the number of stored entries, fresh or stale.
func (c *ResponseCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of the counters.
func (c *ResponseCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Entries = len(c.entries)
	return s
}

func (c *ResponseCache) notify(ev Event, key Key) {
	if c.observer != nil {
		c.observer(ev, key)
	}
}

// Package cache implements the step-result cache spec.md section 4.10
// describes: an in-process LRU with per-entry TTL, least-recent-access
// eviction, and single-flight de-duplication so concurrent requests for the
// same fingerprint build the value exactly once.
//
// Grounded on connectors/sdk/rate_limit.go's RateLimiter (getaxonflow-axonflow)
// for the mutex-guarded struct shape and Wait-until-ready pattern, adapted
// from token-bucket accounting to cache entry bookkeeping, plus
// orchestrator/workflow_engine.go's StepExecution for the "only cache
// successful executions of cacheable step types" rule.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// entry is one cached value plus its expiry and list-position bookkeeping
// for least-recent-access eviction.
type entry struct {
	key      string
	value    interface{}
	expireAt time.Time
	elem     *list.Element
}

// Cache is an in-process LRU with per-entry TTL. Zero value is not usable;
// construct with New.
type Cache struct {
	mu       sync.Mutex
	maxSize  int
	entries  map[string]*entry
	order    *list.List // front = most recently used
	inflight map[string]*buildCall
}

type buildCall struct {
	done  chan struct{}
	value interface{}
	err   error
}

// New constructs a Cache bounded to maxSize entries.
func New(maxSize int) *Cache {
	return &Cache{
		maxSize:  maxSize,
		entries:  make(map[string]*entry),
		order:    list.New(),
		inflight: make(map[string]*buildCall),
	}
}

// Key builds a stable cache key from a step type and its resolved params, by
// sorting param keys before serializing, per spec.md section 4.10 ("stable
// serialization of params sorted by key").
func Key(stepType string, params map[string]interface{}) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]interface{}, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, params[k])
	}
	payload, _ := json.Marshal(struct {
		Type   string        `json:"type"`
		Params []interface{} `json:"params"`
	}{Type: stepType, Params: ordered})

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Get returns a cached value if present and not expired, bumping it to
// most-recently-used.
func (c *Cache) Get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expireAt) {
		c.removeLocked(e)
		return nil, false
	}
	c.order.MoveToFront(e.elem)
	return e.value, true
}

// Set inserts or replaces a cache entry with the given TTL, evicting the
// least-recently-used entry if the cache is at capacity.
func (c *Cache) Set(key string, value interface{}, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		existing.value = value
		existing.expireAt = time.Now().Add(ttl)
		c.order.MoveToFront(existing.elem)
		return
	}

	e := &entry{key: key, value: value, expireAt: time.Now().Add(ttl)}
	e.elem = c.order.PushFront(key)
	c.entries[key] = e

	for c.maxSize > 0 && len(c.entries) > c.maxSize {
		back := c.order.Back()
		if back == nil {
			break
		}
		c.removeLocked(c.entries[back.Value.(string)])
	}
}

func (c *Cache) removeLocked(e *entry) {
	c.order.Remove(e.elem)
	delete(c.entries, e.key)
}

// BuildFunc computes the value to cache on a miss.
type BuildFunc func() (interface{}, error)

// GetOrBuild returns the cached value for key, or calls build exactly once
// across any number of concurrent callers sharing the same key (single-flight
// de-dup, per spec.md section 5 "writes are guarded by per-key single-flight
// (at most one concurrent build per fingerprint)"), caching the result on
// success only.
func (c *Cache) GetOrBuild(key string, ttl time.Duration, build BuildFunc) (interface{}, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	c.mu.Lock()
	if call, building := c.inflight[key]; building {
		c.mu.Unlock()
		<-call.done
		return call.value, call.err
	}
	call := &buildCall{done: make(chan struct{})}
	c.inflight[key] = call
	c.mu.Unlock()

	value, err := build()

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()

	call.value, call.err = value, err
	close(call.done)

	if err == nil {
		c.Set(key, value, ttl)
	}
	return value, err
}

// Len reports the current number of stored entries, including expired ones
// that have not yet been removed.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Delete removes a key if present.
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		c.removeLocked(e)
	}
}

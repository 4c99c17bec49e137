// Package cachestorage implements the Cache Storage API surface: a named
// registry of caches, each mapping a request-key (method+URL, optional
// vary discriminator) to a captured response body.
//
// Generalized from a comparable pkg/cache.AdaptiveCache (hot/cold
// tiering over a pluggable EvictionPolicy) from a NoiseFS block cache
// bounded by block count to a response cache bounded by total captured
// body bytes. A bits-and-blooms/bloom/v3 filter, grounded in a comparable
// pkg/storage/cache bloom-exchange usage, gives Match a fast negative
// check before the map lookup; Has does not consult it.
package cachestorage

import (
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"

	"github.com/andromeda-rt/andromeda/internal/errs"
)

// Tier mirrors a comparable hot/cold tiering, now driven by recency of
// access to a cached response rather than block popularity prediction.
type Tier int

const (
	HotTier Tier = iota
	ColdTier
)

// QueryOptions controls match/matchAll/has/delete/keys key comparison.
type QueryOptions struct {
	IgnoreSearch bool
	IgnoreMethod bool
	IgnoreVary bool
}

// RequestKey identifies a cached entry: method + URL, with an optional
// vary discriminator folded in unless IgnoreVary is set at query time.
type RequestKey struct {
	Method string
	URL string
	Vary string
}

// Entry is one cached request/response pair with the captured body and
// the bookkeeping the eviction policy needs.
type Entry struct {
	Key RequestKey
	Status int
	Headers map[string][]string
	Body []byte
	Tier Tier
	LastAccessed time.Time
	AccessCount int64

	mu sync.Mutex
}

func (e *Entry) touch() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.LastAccessed = time.Now()
	e.AccessCount++
}

// EvictionPolicy selects which entries to evict when a cache is over
// budget, mirroring a comparable AdaptiveEvictionPolicy interface.
type EvictionPolicy interface {
	SelectVictims(entries []*Entry, bytesNeeded int64) []*Entry
}

// LRUPolicy evicts the least-recently-accessed entries first — the
// simplest faithful instance of a comparable pluggable-policy interface.
// It orders by LastAccessed only; it never reads or changes an entry's
// Tier, and no entry is demoted to ColdTier.
type LRUPolicy struct{}

func (LRUPolicy) SelectVictims(entries []*Entry, bytesNeeded int64) []*Entry {
	sorted := append([]*Entry(nil), entries...)
	// insertion sort by LastAccessed ascending; cache entry counts are
	// small enough that this never needs to be asymptotically clever.
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].LastAccessed.Before(sorted[j-1].LastAccessed); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	var victims []*Entry
	var freed int64
	for _, e := range sorted {
		if freed >= bytesNeeded {
			break
		}
		victims = append(victims, e)
		freed += int64(len(e.Body))
	}
	return victims
}

// Cache is one named cache within a CacheStorage registry.
type Cache struct {
	name string
	mu sync.RWMutex
	entries map[RequestKey]*Entry
	order []RequestKey
	totalBytes int64
	maxBytes int64
	policy EvictionPolicy
	negative *bloom.BloomFilter
}

func newCache(name string, maxBytes int64) *Cache {
	return &Cache{
		name: name,
		entries: make(map[RequestKey]*Entry),
		maxBytes: maxBytes,
		policy: LRUPolicy{},
		negative: bloom.NewWithEstimates(10000, 0.01),
	}
}

func bloomToken(k RequestKey) []byte {
	return []byte(k.Method + "\x00" + k.URL)
}

func matchKey(want, have RequestKey, opts QueryOptions) bool {
	haveURL, wantURL := have.URL, want.URL
	if opts.IgnoreSearch {
		haveURL = strings.SplitN(haveURL, "?", 2)[0]
		wantURL = strings.SplitN(wantURL, "?", 2)[0]
	}
	if haveURL != wantURL {
		return false
	}
	if !opts.IgnoreMethod && have.Method != want.Method {
		return false
	}
	if !opts.IgnoreVary && have.Vary != want.Vary {
		return false
	}
	return true
}

// Put stores resp under key, consuming its body into the captured buffer
// first, then evicts under policy until the cache is back under budget.
func (c *Cache) Put(key RequestKey, status int, headers map[string][]string, body []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		c.totalBytes -= int64(len(existing.Body))
	} else {
		c.order = append(c.order, key)
	}

	entry := &Entry{
		Key: key, Status: status, Headers: headers, Body: body,
		Tier: HotTier, LastAccessed: time.Now(),
	}
	c.entries[key] = entry
	c.totalBytes += int64(len(body))
	c.negative.Add(bloomToken(key))

	c.evictIfNeeded()
}

func (c *Cache) evictIfNeeded() {
	if c.maxBytes <= 0 || c.totalBytes <= c.maxBytes {
		return
	}
	all := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		all = append(all, e)
	}
	victims := c.policy.SelectVictims(all, c.totalBytes-c.maxBytes)
	for _, v := range victims {
		delete(c.entries, v.Key)
		c.totalBytes -= int64(len(v.Body))
		for i, k := range c.order {
			if k == v.Key {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
}

// Match returns the first entry matching key under opts, or nil.
func (c *Cache) Match(key RequestKey, opts QueryOptions) *Entry {
	if !c.negative.Test(bloomToken(key)) && !opts.IgnoreSearch && !opts.IgnoreMethod && !opts.IgnoreVary {
		return nil // bloom filter says definitely absent under an exact key
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, k := range c.order {
		if matchKey(key, k, opts) {
			e := c.entries[k]
			e.touch()
			return e
		}
	}
	return nil
}

// MatchAll returns every entry matching key under opts, in insertion
// order.
func (c *Cache) MatchAll(key RequestKey, opts QueryOptions) []*Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Entry
	for _, k := range c.order {
		if matchKey(key, k, opts) {
			e := c.entries[k]
			e.touch()
			out = append(out, e)
		}
	}
	return out
}

// Delete removes entries matching key under opts, reporting whether any
// were removed.
func (c *Cache) Delete(key RequestKey, opts QueryOptions) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := false
	kept := c.order[:0:0]
	for _, k := range c.order {
		if matchKey(key, k, opts) {
			c.totalBytes -= int64(len(c.entries[k].Body))
			delete(c.entries, k)
			removed = true
			continue
		}
		kept = append(kept, k)
	}
	c.order = kept
	return removed
}

// FetchFunc performs the network fetch an Add/AddAll call synthesizes,
// returning the response pieces Put stores.
type FetchFunc func(key RequestKey) (status int, headers map[string][]string, body []byte, err error)

// Add synthesizes a fetch for key via fetch and stores its response,
// matching add(request)'s "fetch it, then put it" behavior.
func (c *Cache) Add(key RequestKey, fetch FetchFunc) error {
	status, headers, body, err := fetch(key)
	if err != nil {
		return err
	}
	c.Put(key, status, headers, body)
	return nil
}

// AddAll fetches every key before storing any of them, matching addAll's
// all-or-nothing semantics: if any fetch fails, nothing is added.
func (c *Cache) AddAll(keys []RequestKey, fetch FetchFunc) error {
	type fetched struct {
		key RequestKey
		status int
		headers map[string][]string
		body []byte
	}
	results := make([]fetched, 0, len(keys))
	for _, key := range keys {
		status, headers, body, err := fetch(key)
		if err != nil {
			return err
		}
		results = append(results, fetched{key, status, headers, body})
	}
	for _, f := range results {
		c.Put(f.key, f.status, f.headers, f.body)
	}
	return nil
}

// Keys returns the request keys of every entry, in insertion order.
func (c *Cache) Keys() []RequestKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]RequestKey, len(c.order))
	copy(out, c.order)
	return out
}

// Storage is the CacheStorage registry: open/has/delete/keys over named
// caches.
type Storage struct {
	mu sync.Mutex
	caches map[string]*Cache
	order []string
	maxBytesEach int64
}

// New constructs a Storage whose per-cache byte budget is maxBytesEach
// (0 disables eviction).
func New(maxBytesEach int64) *Storage {
	return &Storage{caches: make(map[string]*Cache), maxBytesEach: maxBytesEach}
}

// Open creates name on demand and returns it.
func (s *Storage) Open(name string) *Cache {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.caches[name]; ok {
		return c
	}
	c := newCache(name, s.maxBytesEach)
	s.caches[name] = c
	s.order = append(s.order, name)
	return c
}

// Has reports whether name has been opened.
func (s *Storage) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.caches[name]
	return ok
}

// Delete removes the named cache, reporting whether it existed.
func (s *Storage) Delete(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.caches[name]; !ok {
		return false
	}
	delete(s.caches, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Keys returns the names of all open caches, in open order.
func (s *Storage) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// ErrCacheNotFound is returned by operations that require an already
// open cache name.
func ErrCacheNotFound(name string) error {
	return errs.New(errs.NotFound, "no such cache: "+name)
}

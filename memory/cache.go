// Package memory provides the in-process tier of the asset cache.
//
// The tier is best-effort: entries may disappear at any time, either because
// a size bound pushed them out or because the host asked for memory back via
// Purge. Callers must always be prepared to fall back to the disk tier.
package memory

import (
	"errors"
	"math"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache is a concurrency-safe LRU map from key to blob.
// Returned slices are shared with the cache and must be treated as read-only.
type Cache struct {
	mu         sync.Mutex
	entries    *lru.Cache[string, []byte]
	bytes      int64
	maxBytes   int64 // 0 = unbounded
	maxEntries int   // 0 = unbounded

	// seq counts mutations. A Ticket records seq when it was issued so
	// Fill can tell whether the key changed while the caller was loading.
	seq     uint64
	cleared uint64
	loads   map[string]*load
}

type load struct {
	refs    int
	changed uint64
}

// Ticket is issued by Reserve for a key that missed. Pass it to Fill or
// Release exactly once.
type Ticket struct {
	key string
	seq uint64
}

// Option configures a memory cache.
type Option func(*Cache)

// WithMaxBytes bounds the total size of cached blobs. Use 0 to disable.
func WithMaxBytes(n int64) Option {
	return func(c *Cache) {
		c.maxBytes = n
	}
}

// WithMaxEntries bounds the number of cached blobs. Use 0 to disable.
func WithMaxEntries(n int) Option {
	return func(c *Cache) {
		c.maxEntries = n
	}
}

// New creates an empty memory cache.
func New(opts ...Option) (*Cache, error) {
	c := &Cache{loads: make(map[string]*load)}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxBytes < 0 {
		return nil, errors.New("max bytes must be >= 0")
	}
	if c.maxEntries < 0 {
		return nil, errors.New("max entries must be >= 0")
	}

	size := c.maxEntries
	if size == 0 {
		size = math.MaxInt
	}
	// The callback runs synchronously inside calls made with c.mu held.
	entries, err := lru.NewWithEvict(size, func(_ string, blob []byte) {
		c.bytes -= int64(len(blob))
	})
	if err != nil {
		return nil, err
	}
	c.entries = entries
	return c, nil
}

// Get returns the blob for key and marks it recently used.
func (c *Cache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Get(key)
}

// Contains reports whether key is cached without touching recency.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Contains(key)
}

// Set stores blob under key, replacing any previous value. A blob larger
// than the byte bound is not retained.
func (c *Cache) Set(key string, blob []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mark(key)
	c.store(key, blob)
}

// Remove drops key. Missing keys are a no-op.
func (c *Cache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mark(key)
	c.entries.Remove(key)
}

// RemoveAll drops every entry.
func (c *Cache) RemoveAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clear()
}

// Purge releases memory in response to host memory pressure. It returns the
// number of bytes released.
func (c *Cache) Purge() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	freed := c.bytes
	c.clear()
	return freed
}

// Reserve returns the cached blob for key if there is one. Otherwise it
// returns a Ticket that lets a later Fill store a blob loaded from elsewhere,
// unless key was set or removed (or the cache cleared) in the meantime.
func (c *Cache) Reserve(key string) (Ticket, []byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if blob, ok := c.entries.Get(key); ok {
		return Ticket{}, blob, true
	}
	l, ok := c.loads[key]
	if !ok {
		l = &load{}
		c.loads[key] = l
	}
	l.refs++
	return Ticket{key: key, seq: c.seq}, nil, false
}

// Fill stores blob for the reserved key and reports whether it did. A blob
// loaded before a newer Set, Remove or RemoveAll is dropped.
func (c *Cache) Fill(t Ticket, blob []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	changed := c.release(t)
	if changed > t.seq || c.cleared > t.seq {
		return false
	}
	c.store(t.key, blob)
	return true
}

// Release gives up a Ticket without storing anything.
func (c *Cache) Release(t Ticket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.release(t)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries.Len()
}

// SizeBytes returns the total size of cached blobs.
func (c *Cache) SizeBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

func (c *Cache) store(key string, blob []byte) {
	size := int64(len(blob))
	if c.maxBytes > 0 && size > c.maxBytes {
		c.entries.Remove(key)
		return
	}
	// Replacing a value does not fire the eviction callback.
	if old, ok := c.entries.Peek(key); ok {
		c.bytes -= int64(len(old))
	}
	c.entries.Add(key, blob)
	c.bytes += size
	for c.maxBytes > 0 && c.bytes > c.maxBytes {
		if _, _, ok := c.entries.RemoveOldest(); !ok {
			return
		}
	}
}

func (c *Cache) mark(key string) {
	c.seq++
	if l, ok := c.loads[key]; ok {
		l.changed = c.seq
	}
}

func (c *Cache) clear() {
	c.seq++
	c.cleared = c.seq
	c.entries.Purge()
	c.bytes = 0
}

func (c *Cache) release(t Ticket) uint64 {
	l, ok := c.loads[t.key]
	if !ok {
		return 0
	}
	l.refs--
	if l.refs <= 0 {
		delete(c.loads, t.key)
	}
	return l.changed
}

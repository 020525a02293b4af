package contracts

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCacheMiss is returned by a ResponseCache when no live entry exists.
var ErrCacheMiss = errors.New("cache miss")

// ResponseCache stores raw upstream response bodies keyed by URL for a
// bounded TTL. Implementations must be safe for concurrent use.
//
// Error Contract:
//   - Get returns ErrCacheMiss when the key is absent or expired.
//   - Any other error is an infrastructure failure; callers treat it
//     like a miss and fetch from the upstream.
type ResponseCache interface {
	Get(ctx context.Context, url string) ([]byte, error)
	Set(ctx context.Context, url string, body []byte) error
}

type memoryEntry struct {
	body      []byte
	expiresAt time.Time
}

// MemoryCache is an in-process ResponseCache with TTL-based expiry.
// Expired entries are dropped lazily on read.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryCache constructs an in-memory response cache.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryCache) Get(_ context.Context, url string) ([]byte, error) {
	c.mu.RLock()
	entry, ok := c.entries[url]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrCacheMiss
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, url)
		c.mu.Unlock()
		return nil, ErrCacheMiss
	}
	body := make([]byte, len(entry.body))
	copy(body, entry.body)
	return body, nil
}

func (c *MemoryCache) Set(_ context.Context, url string, body []byte) error {
	stored := make([]byte, len(body))
	copy(stored, body)
	c.mu.Lock()
	c.entries[url] = memoryEntry{body: stored, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()
	return nil
}

// Clear removes all entries. Test helper.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]memoryEntry)
	c.mu.Unlock()
}

var _ ResponseCache = (*MemoryCache)(nil)

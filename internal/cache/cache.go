// Package cache memoises successful JSON-RPC responses keyed by a digest of
// the canonicalised request.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/loykin/mcpgate/internal/rpc"
)

type entry struct {
	body      []byte
	expiresAt time.Time
}

// Cache is an in-memory TTL response cache. Entries never survive process
// restart.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time

	stop chan struct{}
	once sync.Once
}

// New builds a cache and starts the expiry sweep.
func New(sweepEvery time.Duration) *Cache {
	if sweepEvery <= 0 {
		sweepEvery = time.Minute
	}
	c := &Cache{
		entries: make(map[string]entry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
	go c.sweep(sweepEvery)
	return c
}

// Close stops the sweep goroutine.
func (c *Cache) Close() {
	c.once.Do(func() { close(c.stop) })
}

// Fingerprint digests the service id and the canonical form of the request
// body, so two semantically equal bodies share an entry.
func Fingerprint(serviceID string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(serviceID))
	h.Write([]byte{0})
	h.Write(rpc.Canonicalize(body))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached response bytes for the fingerprint, if fresh.
func (c *Cache) Get(fingerprint string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[fingerprint]
	c.mu.RUnlock()
	if !ok || !c.now().Before(e.expiresAt) {
		return nil, false
	}
	return e.body, true
}

// Put stores a response unless it carries a JSON-RPC error member or the TTL
// is zero.
func (c *Cache) Put(fingerprint string, response []byte, ttl time.Duration) {
	if ttl <= 0 || isErrorResponse(response) {
		return
	}
	body := make([]byte, len(response))
	copy(body, response)

	c.mu.Lock()
	c.entries[fingerprint] = entry{body: body, expiresAt: c.now().Add(ttl)}
	c.mu.Unlock()
}

// Len reports the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := c.now()
			c.mu.Lock()
			for k, e := range c.entries {
				if !now.Before(e.expiresAt) {
					delete(c.entries, k)
				}
			}
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

func isErrorResponse(body []byte) bool {
	var env struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return true
	}
	return len(env.Error) > 0 && string(env.Error) != "null"
}

package security

import (
	"sync"
	"time"

	"github.com/acolita/remote-shell-mcp/internal/adapters/realclock"
	"github.com/acolita/remote-shell-mcp/internal/ports"
)

// DefaultSudoTTL bounds how long a sudo password stays cached in memory.
const DefaultSudoTTL = 5 * time.Minute

type cacheEntry struct {
	data      []byte
	createdAt time.Time
}

// SudoCache caches sudo passwords per host+user with TTL expiry. Expired
// entries are wiped, not merely dropped.
type SudoCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
	ttl     time.Duration
	clock   ports.Clock
}

// SudoCacheOption configures a SudoCache.
type SudoCacheOption func(*SudoCache)

// WithSudoCacheClock sets the clock, used by tests.
func WithSudoCacheClock(clock ports.Clock) SudoCacheOption {
	return func(c *SudoCache) { c.clock = clock }
}

// NewSudoCache creates a cache with the given TTL.
func NewSudoCache(ttl time.Duration, opts ...SudoCacheOption) *SudoCache {
	if ttl <= 0 {
		ttl = DefaultSudoTTL
	}
	c := &SudoCache{
		entries: make(map[string]*cacheEntry),
		ttl:     ttl,
		clock:   realclock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Set stores a password for host+user, wiping any previous entry.
func (c *SudoCache) Set(host, user string, password []byte) {
	key := user + "@" + host
	data := make([]byte, len(password))
	copy(data, password)

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.entries[key]; ok {
		WipeBytes(old.data)
	}
	c.entries[key] = &cacheEntry{data: data, createdAt: c.clock.Now()}
}

// Get returns a copy of the cached password, or nil when absent or expired.
func (c *SudoCache) Get(host, user string) []byte {
	key := user + "@" + host

	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if c.clock.Now().Sub(entry.createdAt) > c.ttl {
		WipeBytes(entry.data)
		delete(c.entries, key)
		return nil
	}
	out := make([]byte, len(entry.data))
	copy(out, entry.data)
	return out
}

// Clear wipes and removes the entry for host+user.
func (c *SudoCache) Clear(host, user string) {
	key := user + "@" + host

	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok {
		WipeBytes(entry.data)
		delete(c.entries, key)
	}
}

// ClearAll wipes every entry.
func (c *SudoCache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, entry := range c.entries {
		WipeBytes(entry.data)
		delete(c.entries, key)
	}
}

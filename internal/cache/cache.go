package cache

import (
	"context"
	"errors"
	"sync"
)

// Key identifies one cached response. Each key has exactly one writer,
// the refresh loop that owns it.
type Key string

const (
	KeyInfo    Key = "a2s_info"
	KeyPlayers Key = "a2s_players"
	KeyRules   Key = "a2s_rules"
)

// Keys lists every cache key in serving order.
var Keys = []Key{KeyInfo, KeyPlayers, KeyRules}

// ErrNotReady reports a Peek on a key that has never been set.
var ErrNotReady = errors.New("cache entry not ready")

type entry struct {
	value []byte
	ready chan struct{} // closed once value has been set at least once
}

// Cache is a keyed response store whose reads can wait for the first
// write. Set replaces the current value and releases every pending
// GetWait on that key with the same value; values are never removed, so
// concurrent waiters all observe the single write that wakes them.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*entry
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{entries: make(map[Key]*entry)}
}

// ensure returns the entry for key, creating an unset one if needed.
// Caller must hold c.mu.
func (c *Cache) ensure(key Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{ready: make(chan struct{})}
		c.entries[key] = e
	}
	return e
}

// Set installs value as the current value for key, unconditionally
// replacing any previous one, and wakes all waiters blocked in GetWait.
func (c *Cache) Set(key Key, value []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.ensure(key)
	e.value = value
	select {
	case <-e.ready:
		// already released by an earlier Set
	default:
		close(e.ready)
	}
}

// GetWait returns the current value for key, blocking until the first Set
// on that key if none exists yet. Once a key has ever been populated,
// GetWait never blocks again.
func (c *Cache) GetWait(ctx context.Context, key Key) ([]byte, error) {
	c.mu.Lock()
	e := c.ensure(key)
	c.mu.Unlock()

	select {
	case <-e.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return e.value, nil
}

// Peek returns the current value for key without blocking; it fails with
// ErrNotReady if the key has never been set.
func (c *Cache) Peek(key Key) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, ErrNotReady
	}
	select {
	case <-e.ready:
		return e.value, nil
	default:
		return nil, ErrNotReady
	}
}

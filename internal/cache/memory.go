package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"

	fastpass "github.com/eugener/fastpass/internal"
)

// entry wraps a cached value with its expiration time.
type entry struct {
	data      []byte
	expiresAt time.Time
}

// Memory is an in-process Store backed by otter. Otter runs without a size
// bound or expiry of its own: entries leave only through lazy expiry on a
// normal read or an explicit clear, so stale reads can still find them.
type Memory struct {
	// mu serializes check-then-evict against writes so an expired read never
	// removes a value written after it looked.
	mu    sync.Mutex
	cache *otter.Cache[string, entry]
	clock fastpass.Clock
}

// NewMemory creates an empty in-memory store.
func NewMemory(clock fastpass.Clock) (*Memory, error) {
	c, err := otter.New[string, entry](&otter.Options[string, entry]{
		InitialCapacity: 256,
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Memory{cache: c, clock: clock}, nil
}

// Get retrieves a value, evicting it on a normal read past its expiry.
func (m *Memory) Get(_ context.Context, key string, allowStale bool) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.cache.GetIfPresent(key)
	if !ok {
		return nil, false
	}
	if allowStale {
		return e.data, true
	}
	if m.clock.Now().After(e.expiresAt) {
		m.cache.Invalidate(key)
		return nil, false
	}
	return e.data, true
}

// Put stores a value, resolving relative expiry against the clock now.
func (m *Memory) Put(_ context.Context, key string, val []byte, exp Expiry) {
	e := entry{data: val, expiresAt: exp.Deadline(m.clock.Now())}
	m.mu.Lock()
	m.cache.Set(key, e)
	m.mu.Unlock()
}

// Clear removes all values.
func (m *Memory) Clear(_ context.Context) {
	m.mu.Lock()
	m.cache.InvalidateAll()
	m.mu.Unlock()
}

// ClearByPrefix removes all values whose key starts with prefix.
func (m *Memory) ClearByPrefix(_ context.Context, prefix string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k := range m.cache.All() {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		m.cache.Invalidate(k)
	}
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for range m.cache.All() {
		n++
	}
	return n
}

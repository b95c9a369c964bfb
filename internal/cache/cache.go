// Package cache provides the response cache shared by all request handlers.
// Entries expire at a point in time chosen per write, and can still be read
// after expiry through an explicit stale read.
package cache

import (
	"context"
	"net/url"
	"time"
)

// Store is the interface for response caching. Implementations must be safe
// for concurrent use and have no failure modes visible to callers: backend
// errors behave as a miss or a dropped write.
type Store interface {
	// Get returns the value stored under key. A normal read (allowStale false)
	// reports a miss and evicts the entry once now is after its expiry; an entry
	// read at exactly its expiry is still valid. A stale read ignores expiry
	// and never evicts.
	Get(ctx context.Context, key string, allowStale bool) ([]byte, bool)
	// Put stores or overwrites the entry under key.
	Put(ctx context.Context, key string, val []byte, exp Expiry)
	// Clear removes all entries.
	Clear(ctx context.Context)
	// ClearByPrefix removes every entry whose key starts with prefix.
	ClearByPrefix(ctx context.Context, prefix string)
}

// Expiry is either an absolute time or a duration resolved against the
// store's clock when the entry is written.
type Expiry struct {
	at  time.Time
	ttl time.Duration
}

// At expires an entry at t.
func At(t time.Time) Expiry { return Expiry{at: t} }

// In expires an entry d after it is written.
func In(d time.Duration) Expiry { return Expiry{ttl: d} }

// Deadline resolves the expiry against now.
func (e Expiry) Deadline(now time.Time) time.Time {
	if !e.at.IsZero() {
		return e.at
	}
	return now.Add(e.ttl)
}

// Key composes a cache key from a resource path and every parameter that
// shapes the response, including formatting variants. Parameters are sorted
// so equal requests map to equal keys, and all keys of one resource share
// the resource as prefix.
func Key(resource string, params map[string]string) string {
	if len(params) == 0 {
		return resource
	}
	vals := make(url.Values, len(params))
	for k, v := range params {
		vals.Set(k, v)
	}
	return resource + "?" + vals.Encode()
}

// negativeSuffix marks placeholder entries recording a failed fetch.
const negativeSuffix = "#failed"

// NegativeKey returns the key under which a failed fetch for key is
// remembered. It shares key's prefix so prefix clears drop both, but never
// overwrites key itself.
func NegativeKey(key string) string { return key + negativeSuffix }

// Package expiry decides how long a freshly fetched payload may be served
// from cache. Expiry is derived from the payload itself where it can be: an
// item with a known end is cached exactly until that end, anything
// open-ended is rechecked after the default TTL.
package expiry

import (
	"slices"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	fastpass "github.com/eugener/fastpass/internal"
	"github.com/eugener/fastpass/internal/cache"
)

// Rule tells the policy where a payload keeps its status and end time.
// Paths use gjson syntax.
type Rule struct {
	StatusPath string
	// OpenEnded lists status values with no fixed end, e.g. a live stream.
	OpenEnded []string
	EndPath   string
	Layout    string         // time layout of the end field; RFC 3339 when empty
	Location  *time.Location // zone for layouts without offset; UTC when nil
}

// Policy resolves cache expiry for fetched payloads. DefaultTTL can be
// swapped at runtime by a config reload.
type Policy struct {
	clock       fastpass.Clock
	defaultTTL  atomic.Int64
	negativeTTL time.Duration
	minTTL      time.Duration
}

// Config holds Policy durations.
type Config struct {
	DefaultTTL  time.Duration // open-ended items and fallbacks
	NegativeTTL time.Duration // failed fetches; 0 disables negative caching
	MinTTL      time.Duration // items whose known end has already passed
}

// New creates a Policy.
func New(clock fastpass.Clock, cfg Config) *Policy {
	p := &Policy{clock: clock, negativeTTL: cfg.NegativeTTL, minTTL: cfg.MinTTL}
	p.defaultTTL.Store(int64(cfg.DefaultTTL))
	return p
}

// DefaultTTL returns the current default TTL.
func (p *Policy) DefaultTTL() time.Duration { return time.Duration(p.defaultTTL.Load()) }

// SetDefaultTTL replaces the default TTL for subsequent resolutions.
func (p *Policy) SetDefaultTTL(d time.Duration) { p.defaultTTL.Store(int64(d)) }

// Default returns the fixed-offset expiry used for payloads without any
// notion of an end.
func (p *Policy) Default() cache.Expiry { return cache.In(p.DefaultTTL()) }

// Resolve picks the expiry for payload according to rule:
//   - open-ended status -> now + DefaultTTL
//   - end missing or unparsable -> now + DefaultTTL
//   - end in the future -> exactly the end
//   - end not after now -> now + MinTTL
func (p *Policy) Resolve(payload []byte, rule Rule) cache.Expiry {
	if rule.StatusPath != "" {
		status := gjson.GetBytes(payload, rule.StatusPath).String()
		if slices.Contains(rule.OpenEnded, status) {
			return p.Default()
		}
	}

	end, ok := parseEnd(payload, rule)
	if !ok {
		return p.Default()
	}
	if !end.After(p.clock.Now()) {
		return cache.In(p.minTTL)
	}
	return cache.At(end)
}

// Negative returns the expiry of a placeholder recording a failed fetch.
// It reports false when negative caching is disabled.
func (p *Policy) Negative() (cache.Expiry, bool) {
	if p.negativeTTL <= 0 {
		return cache.Expiry{}, false
	}
	return cache.In(p.negativeTTL), true
}

func parseEnd(payload []byte, rule Rule) (time.Time, bool) {
	if rule.EndPath == "" {
		return time.Time{}, false
	}
	raw := gjson.GetBytes(payload, rule.EndPath)
	if !raw.Exists() || raw.Type != gjson.String || raw.Str == "" {
		return time.Time{}, false
	}
	layout := rule.Layout
	if layout == "" {
		layout = time.RFC3339
	}
	loc := rule.Location
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(layout, raw.Str, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

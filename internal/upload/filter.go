// Package upload selects recently published uploads from a newest-first
// listing.
package upload

import (
	"time"

	fastpass "github.com/eugener/fastpass/internal"
)

// Filter selects uploads inside a trailing time window.
type Filter struct {
	clock fastpass.Clock
}

// NewFilter creates a Filter.
func NewFilter(clock fastpass.Clock) *Filter {
	return &Filter{clock: clock}
}

// Select returns uploads published strictly after now-window. The listing is
// assumed newest first, so the scan stops at the first item outside the
// window. With unlistedOnly, only unlisted uploads from that prefix are kept.
// The result is never nil.
func (f *Filter) Select(uploads []fastpass.UploadRecord, window time.Duration, unlistedOnly bool) []fastpass.UploadRecord {
	cutoff := f.clock.Now().Add(-window)
	out := []fastpass.UploadRecord{}
	for _, u := range uploads {
		if !u.PublishedAt.After(cutoff) {
			break
		}
		if unlistedOnly && u.Privacy != fastpass.PrivacyUnlisted {
			continue
		}
		out = append(out, u)
	}
	return out
}

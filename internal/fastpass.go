// Package fastpass defines domain types and collaborator interfaces for the
// fastpass caching proxy. This package has no project imports -- it is the
// dependency root.
package fastpass

import (
	"context"
	"time"
)

// --- Time ---

// Clock supplies the current time. Core logic never reads the wall clock
// directly so expiry arithmetic stays deterministic in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time { return time.Now() }

// --- Upstream collaborators ---

// Request is a logical request descriptor handed to a Fetcher. Params carry
// everything that shapes the upstream response.
type Request struct {
	Resource string
	Params   map[string]string
}

// Fetcher retrieves a raw payload from an upstream content API.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

// BroadcastLister lists every scheduled broadcast known to the video platform.
type BroadcastLister interface {
	ListBroadcasts(ctx context.Context) ([]BroadcastRecord, error)
}

// UploadLister lists uploads newest first. Implementations may stop paging
// once they have returned an item published at or before since.
type UploadLister interface {
	ListUploads(ctx context.Context, since time.Time) ([]UploadRecord, error)
}

// Notifier delivers one notification per newly detected upload.
type Notifier interface {
	Notify(ctx context.Context, ev UploadEvent) error
}

// --- Broadcasts ---

// LifecycleStatus is the scheduling state of a broadcast.
type LifecycleStatus string

const (
	StatusCreated      LifecycleStatus = "created"
	StatusReady        LifecycleStatus = "ready"
	StatusTesting      LifecycleStatus = "testing"
	StatusLive         LifecycleStatus = "live"
	StatusLiveStarting LifecycleStatus = "liveStarting"
	StatusComplete     LifecycleStatus = "complete"
	StatusRevoked      LifecycleStatus = "revoked"
)

// Privacy is the visibility of a broadcast or upload.
type Privacy string

const (
	PrivacyPublic   Privacy = "public"
	PrivacyUnlisted Privacy = "unlisted"
	PrivacyPrivate  Privacy = "private"
)

// BroadcastRecord is a single scheduled event. Records are never mutated,
// only classified and merged.
type BroadcastRecord struct {
	ID              string          `json:"id"`
	Title           string          `json:"title"`
	ScheduledStart  time.Time       `json:"air_time"`
	LifecycleStatus LifecycleStatus `json:"live_status"`
	Privacy         Privacy         `json:"privacy"`
}

// ClassifiedBroadcasts is one generation of aggregated broadcasts. Live,
// Upcoming and Completed are pairwise disjoint by ID. Completed is nil when
// no broadcast has completed, which is a valid outcome.
type ClassifiedBroadcasts struct {
	Live      []BroadcastRecord `json:"live"`
	Upcoming  []BroadcastRecord `json:"upcoming"`
	Completed *BroadcastRecord  `json:"completed"`
}

// --- Uploads ---

// UploadRecord is a published video on the uploads playlist.
type UploadRecord struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	PublishedAt time.Time `json:"published_at"`
	Privacy     Privacy   `json:"privacy"`
}

// UploadEvent announces a newly detected upload.
type UploadEvent struct {
	Upload     UploadRecord
	DetectedAt time.Time
}

// --- Context keys ---

type contextKey int

const ctxKeyRequestID contextKey = 0

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

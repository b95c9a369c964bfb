// Package storage defines persistence interfaces for the proxy. The
// response cache itself is volatile; only notification bookkeeping is
// persisted so it survives restarts.
package storage

import (
	"context"
	"time"
)

// NotificationLedger records which uploads have been announced.
type NotificationLedger interface {
	// MarkNotified records id as notified at at. It reports false when id
	// was already recorded.
	MarkNotified(ctx context.Context, id string, at time.Time) (bool, error)
	// UnmarkNotified forgets id so a later detection notifies again.
	UnmarkNotified(ctx context.Context, id string) error
	// PruneNotified deletes records notified before cutoff and returns how
	// many were removed.
	PruneNotified(ctx context.Context, before time.Time) (int64, error)
}

// Store combines all storage interfaces.
type Store interface {
	NotificationLedger
	Ping(ctx context.Context) error
	Close() error
}

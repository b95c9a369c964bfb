package worker

import (
	"context"
	"log/slog"
	"time"
)

// UploadPoller refreshes the recent uploads resource.
type UploadPoller interface {
	Recent(ctx context.Context, window time.Duration, unlistedOnly bool) ([]byte, error)
}

// UploadWatcher polls for recent uploads so notifications go out even when
// no client is asking. Polls hit the cache like any request; only a miss
// reaches the upstream and detects new uploads.
type UploadWatcher struct {
	poller       UploadPoller
	interval     time.Duration
	window       time.Duration
	unlistedOnly bool
}

// NewUploadWatcher creates an UploadWatcher.
func NewUploadWatcher(poller UploadPoller, interval, window time.Duration, unlistedOnly bool) *UploadWatcher {
	return &UploadWatcher{poller: poller, interval: interval, window: window, unlistedOnly: unlistedOnly}
}

// Name returns the worker identifier.
func (w *UploadWatcher) Name() string { return "upload_watcher" }

// Run polls on every tick until ctx is cancelled.
func (w *UploadWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.poller.Recent(ctx, w.window, w.unlistedOnly); err != nil && ctx.Err() == nil {
				slog.LogAttrs(ctx, slog.LevelWarn, "upload poll failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

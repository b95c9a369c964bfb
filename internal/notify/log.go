package notify

import (
	"context"
	"log/slog"

	fastpass "github.com/eugener/fastpass/internal"
)

// Log writes each upload notification to the structured log. It stands in
// for Slack when no webhook is configured.
type Log struct{}

// Notify logs ev and never fails.
func (Log) Notify(ctx context.Context, ev fastpass.UploadEvent) error {
	slog.LogAttrs(ctx, slog.LevelInfo, "new upload",
		slog.String("upload_id", ev.Upload.ID),
		slog.String("privacy", string(ev.Upload.Privacy)),
		slog.String("message", Message(ev.Upload)),
	)
	return nil
}

package testutil

import (
	"context"
	"sync"

	fastpass "github.com/eugener/fastpass/internal"
)

// FakeNotifier records delivered events. NotifyFn, when set, decides the
// delivery outcome; events are only recorded on success.
type FakeNotifier struct {
	mu       sync.Mutex
	NotifyFn func(ctx context.Context, ev fastpass.UploadEvent) error
	events   []fastpass.UploadEvent
}

// Notify records ev.
func (f *FakeNotifier) Notify(ctx context.Context, ev fastpass.UploadEvent) error {
	if f.NotifyFn != nil {
		if err := f.NotifyFn(ctx, ev); err != nil {
			return err
		}
	}
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
	return nil
}

// Events returns a copy of the delivered events.
func (f *FakeNotifier) Events() []fastpass.UploadEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fastpass.UploadEvent, len(f.events))
	copy(out, f.events)
	return out
}

package testutil

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	fastpass "github.com/eugener/fastpass/internal"
)

// FakeFetcher is a configurable fastpass.Fetcher that counts calls.
type FakeFetcher struct {
	FetchFn func(ctx context.Context, req fastpass.Request) ([]byte, error)
	calls   atomic.Int32
}

// Fetch delegates to FetchFn or returns an empty JSON object.
func (f *FakeFetcher) Fetch(ctx context.Context, req fastpass.Request) ([]byte, error) {
	f.calls.Add(1)
	if f.FetchFn != nil {
		return f.FetchFn(ctx, req)
	}
	return []byte(`{}`), nil
}

// Calls returns how many times Fetch was invoked.
func (f *FakeFetcher) Calls() int { return int(f.calls.Load()) }

// FakeBroadcastLister returns canned broadcast listings, one per call, and
// repeats the last listing once exhausted.
type FakeBroadcastLister struct {
	mu       sync.Mutex
	Listings [][]fastpass.BroadcastRecord
	Err      error
	calls    int
}

// ListBroadcasts returns the next canned listing.
func (f *FakeBroadcastLister) ListBroadcasts(context.Context) ([]fastpass.BroadcastRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.Err != nil {
		return nil, f.Err
	}
	if len(f.Listings) == 0 {
		return nil, nil
	}
	i := min(f.calls-1, len(f.Listings)-1)
	return f.Listings[i], nil
}

// Calls returns how many times ListBroadcasts was invoked.
func (f *FakeBroadcastLister) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// FakeUploadLister returns a fixed upload listing.
type FakeUploadLister struct {
	Uploads []fastpass.UploadRecord
	Err     error
	calls   atomic.Int32
}

// ListUploads returns the configured uploads regardless of since.
func (f *FakeUploadLister) ListUploads(context.Context, time.Time) ([]fastpass.UploadRecord, error) {
	f.calls.Add(1)
	return f.Uploads, f.Err
}

// Calls returns how many times ListUploads was invoked.
func (f *FakeUploadLister) Calls() int { return int(f.calls.Load()) }

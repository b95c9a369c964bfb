package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	fastpass "github.com/eugener/fastpass/internal"
	"github.com/eugener/fastpass/internal/cache"
	"github.com/eugener/fastpass/internal/expiry"
	"github.com/eugener/fastpass/internal/upload"
)

// UploadSink accepts newly detected uploads for notification. Enqueue must
// not block.
type UploadSink interface {
	Enqueue(ev fastpass.UploadEvent)
}

// UploadService serves recently published uploads and hands each upload
// seen on a refresh to the notification sink.
type UploadService struct {
	loader *Loader
	policy *expiry.Policy
	clock  fastpass.Clock
	lister fastpass.UploadLister
	filter *upload.Filter
	sink   UploadSink
}

// NewUploadService returns an UploadService. sink may be nil.
func NewUploadService(loader *Loader, policy *expiry.Policy, clock fastpass.Clock, lister fastpass.UploadLister, sink UploadSink) *UploadService {
	return &UploadService{
		loader: loader,
		policy: policy,
		clock:  clock,
		lister: lister,
		filter: upload.NewFilter(clock),
		sink:   sink,
	}
}

// Recent returns uploads published inside the trailing window as JSON. The
// result is cached for the window or the default TTL, whichever is shorter.
// Duplicate notifications across refreshes are suppressed by the sink.
func (s *UploadService) Recent(ctx context.Context, window time.Duration, unlistedOnly bool) ([]byte, error) {
	if window <= 0 {
		return nil, fmt.Errorf("%w: window must be positive", fastpass.ErrBadRequest)
	}
	params := map[string]string{"minutes": strconv.FormatFloat(window.Minutes(), 'f', -1, 64)}
	if !unlistedOnly {
		params["all"] = "1"
	}
	key := cache.Key(ResourceUploads, params)

	return s.loader.Load(ctx, ResourceUploads, key, func(ctx context.Context) ([]byte, cache.Expiry, error) {
		now := s.clock.Now()
		uploads, err := s.lister.ListUploads(ctx, now.Add(-window))
		if err != nil {
			return nil, cache.Expiry{}, err
		}
		selected := s.filter.Select(uploads, window, unlistedOnly)
		if s.sink != nil {
			for _, u := range selected {
				s.sink.Enqueue(fastpass.UploadEvent{Upload: u, DetectedAt: now})
			}
		}
		body, err := json.Marshal(selected)
		if err != nil {
			return nil, cache.Expiry{}, fmt.Errorf("encode uploads: %w", err)
		}
		return body, cache.In(min(window, s.policy.DefaultTTL())), nil
	})
}

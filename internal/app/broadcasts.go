package app

import (
	"context"
	"encoding/json"
	"fmt"

	fastpass "github.com/eugener/fastpass/internal"
	"github.com/eugener/fastpass/internal/broadcast"
	"github.com/eugener/fastpass/internal/cache"
	"github.com/eugener/fastpass/internal/expiry"
)

// BroadcastService serves the classified broadcast schedule.
type BroadcastService struct {
	loader     *Loader
	policy     *expiry.Policy
	lister     fastpass.BroadcastLister
	aggregator *broadcast.Aggregator
}

// NewBroadcastService returns a BroadcastService.
func NewBroadcastService(loader *Loader, policy *expiry.Policy, lister fastpass.BroadcastLister, aggregator *broadcast.Aggregator) *BroadcastService {
	return &BroadcastService{loader: loader, policy: policy, lister: lister, aggregator: aggregator}
}

// Broadcasts returns the current generation of live, upcoming and completed
// broadcasts as JSON. Each refresh merges with the previous generation
// stored under the same key.
func (s *BroadcastService) Broadcasts(ctx context.Context, includeUnlisted bool) ([]byte, error) {
	var params map[string]string
	if includeUnlisted {
		params = map[string]string{"unlisted": "1"}
	}
	key := cache.Key(ResourceBroadcasts, params)
	return s.loader.Load(ctx, ResourceBroadcasts, key, func(ctx context.Context) ([]byte, cache.Expiry, error) {
		records, err := s.lister.ListBroadcasts(ctx)
		if err != nil {
			return nil, cache.Expiry{}, err
		}
		gen := s.aggregator.Generation(ctx, key, records, includeUnlisted)
		body, err := json.Marshal(gen)
		if err != nil {
			return nil, cache.Expiry{}, fmt.Errorf("encode broadcasts: %w", err)
		}
		return body, s.policy.Default(), nil
	})
}

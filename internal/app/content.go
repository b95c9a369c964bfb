package app

import (
	"context"
	"strconv"

	fastpass "github.com/eugener/fastpass/internal"
	"github.com/eugener/fastpass/internal/cache"
	"github.com/eugener/fastpass/internal/expiry"
)

// Cache resources. Every key of a resource starts with its name, so
// ClearByPrefix on a resource refreshes all of its variants.
const (
	ResourcePosts      = "/posts"
	ResourceRadio      = "/radio"
	ResourceBroadcasts = "/youtube"
	ResourceUploads    = "/youtube/uploads"
)

// ContentService serves CMS posts and the radio now-playing feed.
type ContentService struct {
	loader    *Loader
	policy    *expiry.Policy
	posts     fastpass.Fetcher
	radio     fastpass.Fetcher
	radioRule expiry.Rule
}

// NewContentService returns a ContentService. radioRule tells the expiry
// policy where the radio payload keeps its status and end time.
func NewContentService(loader *Loader, policy *expiry.Policy, posts, radio fastpass.Fetcher, radioRule expiry.Rule) *ContentService {
	return &ContentService{
		loader:    loader,
		policy:    policy,
		posts:     posts,
		radio:     radio,
		radioRule: radioRule,
	}
}

// Posts returns one page of posts, cached for the default TTL.
func (s *ContentService) Posts(ctx context.Context, page int) ([]byte, error) {
	params := map[string]string{"page": strconv.Itoa(page)}
	key := cache.Key(ResourcePosts, params)
	return s.loader.Load(ctx, ResourcePosts, key, func(ctx context.Context) ([]byte, cache.Expiry, error) {
		body, err := s.posts.Fetch(ctx, fastpass.Request{Resource: ResourcePosts, Params: params})
		if err != nil {
			return nil, cache.Expiry{}, err
		}
		return body, s.policy.Default(), nil
	})
}

// Radio returns what is playing now. The entry lives until the current item
// is due to end, or the default TTL while a live stream is on air. raw
// selects the unreshaped upstream payload, cached under its own key.
func (s *ContentService) Radio(ctx context.Context, raw bool) ([]byte, error) {
	var params map[string]string
	if raw {
		params = map[string]string{"raw": "1"}
	}
	key := cache.Key(ResourceRadio, params)
	return s.loader.Load(ctx, ResourceRadio, key, func(ctx context.Context) ([]byte, cache.Expiry, error) {
		body, err := s.radio.Fetch(ctx, fastpass.Request{Resource: ResourceRadio, Params: params})
		if err != nil {
			return nil, cache.Expiry{}, err
		}
		return body, s.policy.Resolve(body, s.radioRule), nil
	})
}

// Package broadcast classifies scheduled broadcasts into live, upcoming and
// completed buckets, and merges each fresh classification with the previous
// cached generation so items briefly missing from an upstream listing do not
// flicker out of the upcoming list.
package broadcast

import (
	"cmp"
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"time"

	fastpass "github.com/eugener/fastpass/internal"
	"github.com/eugener/fastpass/internal/cache"
)

// DefaultHorizon bounds how far ahead a scheduled broadcast counts as upcoming.
const DefaultHorizon = 24 * time.Hour

// Aggregator classifies broadcast listings and keeps the latest merged
// generation under PriorKey for the next merge.
type Aggregator struct {
	clock   fastpass.Clock
	store   cache.Store
	horizon time.Duration
	// purgeStarted drops carried-forward items whose scheduled start has
	// passed. Without it an item deleted upstream is carried forever.
	purgeStarted bool
}

// Options configures an Aggregator.
type Options struct {
	Horizon      time.Duration // 0 means DefaultHorizon
	PurgeStarted bool
}

// New creates an Aggregator.
func New(clock fastpass.Clock, store cache.Store, opts Options) *Aggregator {
	horizon := opts.Horizon
	if horizon <= 0 {
		horizon = DefaultHorizon
	}
	return &Aggregator{
		clock:        clock,
		store:        store,
		horizon:      horizon,
		purgeStarted: opts.PurgeStarted,
	}
}

// Classify sorts records into buckets at the current time. It never fails:
// empty or partial input yields empty buckets and a nil Completed.
func (a *Aggregator) Classify(records []fastpass.BroadcastRecord, includeUnlisted bool) fastpass.ClassifiedBroadcasts {
	now := a.clock.Now()
	limit := now.Add(a.horizon)

	out := fastpass.ClassifiedBroadcasts{
		Live:     []fastpass.BroadcastRecord{},
		Upcoming: []fastpass.BroadcastRecord{},
	}
	for _, r := range records {
		if !includeUnlisted && r.Privacy == fastpass.PrivacyUnlisted {
			continue
		}
		switch r.LifecycleStatus {
		case fastpass.StatusLive, fastpass.StatusLiveStarting:
			out.Live = append(out.Live, r)
		case fastpass.StatusCreated, fastpass.StatusReady:
			if r.ScheduledStart.After(now) && r.ScheduledStart.Before(limit) {
				out.Upcoming = append(out.Upcoming, r)
			}
		case fastpass.StatusComplete:
			if out.Completed == nil || r.ScheduledStart.After(out.Completed.ScheduledStart) {
				c := r
				out.Completed = &c
			}
		}
	}
	sortUpcoming(out.Upcoming)
	return out
}

// MergeUpcoming unions the fresh upcoming bucket with the prior generation's,
// keyed by ID. Only prior items absent from listed, the raw upstream listing
// the fresh classification came from, are carried forward: a listed item is
// always judged on its current metadata. Any ID that is live or the completed
// item in the fresh classification is removed. prior may be nil.
func (a *Aggregator) MergeUpcoming(fresh fastpass.ClassifiedBroadcasts, listed []fastpass.BroadcastRecord, prior *fastpass.ClassifiedBroadcasts) []fastpass.BroadcastRecord {
	excluded := make(map[string]struct{}, len(listed)+len(fresh.Live)+1)
	for _, r := range listed {
		excluded[r.ID] = struct{}{}
	}
	for _, r := range fresh.Live {
		excluded[r.ID] = struct{}{}
	}
	if fresh.Completed != nil {
		excluded[fresh.Completed.ID] = struct{}{}
	}

	merged := make(map[string]fastpass.BroadcastRecord, len(fresh.Upcoming))
	if prior != nil {
		now := a.clock.Now()
		for _, r := range prior.Upcoming {
			if _, ok := excluded[r.ID]; ok {
				continue
			}
			if a.purgeStarted && r.ScheduledStart.Before(now) {
				continue
			}
			merged[r.ID] = r
		}
	}
	for _, r := range fresh.Upcoming {
		merged[r.ID] = r
	}

	out := make([]fastpass.BroadcastRecord, 0, len(merged))
	for _, r := range merged {
		out = append(out, r)
	}
	sortUpcoming(out)
	return out
}

// PriorKey returns the key holding the generation last produced for key.
// It is only ever read stale, so a normal read evicting the served entry
// never loses the generation to merge with.
func PriorKey(key string) string { return key + "#prior" }

// Generation classifies records, merges the upcoming bucket with the
// previous generation for key, and records the result as the new previous
// generation. The returned value is what the caller should serve and cache.
func (a *Aggregator) Generation(ctx context.Context, key string, records []fastpass.BroadcastRecord, includeUnlisted bool) fastpass.ClassifiedBroadcasts {
	fresh := a.Classify(records, includeUnlisted)
	fresh.Upcoming = a.MergeUpcoming(fresh, records, a.prior(ctx, key))

	raw, err := json.Marshal(fresh)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "encode broadcast generation failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return fresh
	}
	a.store.Put(ctx, PriorKey(key), raw, cache.In(a.horizon))
	return fresh
}

func (a *Aggregator) prior(ctx context.Context, key string) *fastpass.ClassifiedBroadcasts {
	raw, ok := a.store.Get(ctx, PriorKey(key), true)
	if !ok {
		return nil
	}
	var prev fastpass.ClassifiedBroadcasts
	if err := json.Unmarshal(raw, &prev); err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "discarding undecodable broadcast generation",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return &prev
}

func sortUpcoming(rs []fastpass.BroadcastRecord) {
	slices.SortFunc(rs, func(x, y fastpass.BroadcastRecord) int {
		if c := x.ScheduledStart.Compare(y.ScheduledStart); c != 0 {
			return c
		}
		return cmp.Compare(x.ID, y.ID)
	})
}

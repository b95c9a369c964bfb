package broadcast

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	fastpass "github.com/eugener/fastpass/internal"
	"github.com/eugener/fastpass/internal/cache"
	"github.com/eugener/fastpass/internal/testutil"
)

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func rec(id string, status fastpass.LifecycleStatus, start time.Time) fastpass.BroadcastRecord {
	return fastpass.BroadcastRecord{
		ID:              id,
		Title:           "title " + id,
		ScheduledStart:  start,
		LifecycleStatus: status,
		Privacy:         fastpass.PrivacyPublic,
	}
}

func ids(rs []fastpass.BroadcastRecord) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return out
}

func equalIDs(got []fastpass.BroadcastRecord, want ...string) bool {
	g := ids(got)
	if len(g) != len(want) {
		return false
	}
	for i := range g {
		if g[i] != want[i] {
			return false
		}
	}
	return true
}

func newAggregator(t *testing.T, clock *testutil.FakeClock) (*Aggregator, cache.Store) {
	t.Helper()
	store, err := cache.NewMemory(clock)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	return New(clock, store, Options{PurgeStarted: true}), store
}

func TestClassify(t *testing.T) {
	t.Parallel()
	a, _ := newAggregator(t, testutil.NewFakeClock(t0))

	got := a.Classify([]fastpass.BroadcastRecord{
		rec("A", fastpass.StatusLive, t0.Add(-30*time.Minute)),
		rec("B", fastpass.StatusCreated, t0.Add(time.Hour)),
		rec("C", fastpass.StatusComplete, t0.Add(-time.Hour)),
		rec("D", fastpass.StatusComplete, t0.Add(-2*time.Hour)),
	}, true)

	if !equalIDs(got.Live, "A") {
		t.Errorf("live = %v, want [A]", ids(got.Live))
	}
	if !equalIDs(got.Upcoming, "B") {
		t.Errorf("upcoming = %v, want [B]", ids(got.Upcoming))
	}
	if got.Completed == nil || got.Completed.ID != "C" {
		t.Errorf("completed = %v, want C", got.Completed)
	}
}

func TestClassify_UpcomingWindow(t *testing.T) {
	t.Parallel()
	a, _ := newAggregator(t, testutil.NewFakeClock(t0))

	got := a.Classify([]fastpass.BroadcastRecord{
		rec("now", fastpass.StatusReady, t0),
		rec("past", fastpass.StatusReady, t0.Add(-time.Minute)),
		rec("soon", fastpass.StatusReady, t0.Add(time.Second)),
		rec("edge", fastpass.StatusCreated, t0.Add(24*time.Hour)),
		rec("late", fastpass.StatusCreated, t0.Add(25*time.Hour)),
		rec("inside", fastpass.StatusCreated, t0.Add(23*time.Hour)),
		rec("testing", fastpass.StatusTesting, t0.Add(time.Hour)),
	}, true)

	if !equalIDs(got.Upcoming, "soon", "inside") {
		t.Errorf("upcoming = %v, want [soon inside]", ids(got.Upcoming))
	}
	if len(got.Live) != 0 {
		t.Errorf("live = %v, want empty", ids(got.Live))
	}
}

func TestClassify_LiveStartingIsLive(t *testing.T) {
	t.Parallel()
	a, _ := newAggregator(t, testutil.NewFakeClock(t0))

	got := a.Classify([]fastpass.BroadcastRecord{
		rec("S", fastpass.StatusLiveStarting, t0),
	}, true)
	if !equalIDs(got.Live, "S") {
		t.Errorf("live = %v, want [S]", ids(got.Live))
	}
}

func TestClassify_Empty(t *testing.T) {
	t.Parallel()
	a, _ := newAggregator(t, testutil.NewFakeClock(t0))

	got := a.Classify(nil, false)
	if got.Live == nil || got.Upcoming == nil {
		t.Error("buckets should be empty, not nil")
	}
	if got.Completed != nil {
		t.Errorf("completed = %v, want nil", got.Completed)
	}

	raw, err := json.Marshal(got)
	if err != nil {
		t.Fatal(err)
	}
	if string(raw) != `{"live":[],"upcoming":[],"completed":null}` {
		t.Errorf("json = %s", raw)
	}
}

func TestClassify_ExcludesUnlisted(t *testing.T) {
	t.Parallel()
	a, _ := newAggregator(t, testutil.NewFakeClock(t0))

	hidden := rec("H", fastpass.StatusLive, t0)
	hidden.Privacy = fastpass.PrivacyUnlisted
	records := []fastpass.BroadcastRecord{hidden, rec("P", fastpass.StatusLive, t0)}

	if got := a.Classify(records, false); !equalIDs(got.Live, "P") {
		t.Errorf("live without unlisted = %v, want [P]", ids(got.Live))
	}
	if got := a.Classify(records, true); len(got.Live) != 2 {
		t.Errorf("live with unlisted = %v, want 2 items", ids(got.Live))
	}
}

func TestMergeUpcoming(t *testing.T) {
	t.Parallel()
	a, _ := newAggregator(t, testutil.NewFakeClock(t0))

	b := rec("B", fastpass.StatusCreated, t0.Add(time.Hour))
	e := rec("E", fastpass.StatusCreated, t0.Add(2*time.Hour))
	f := rec("F", fastpass.StatusCreated, t0.Add(3*time.Hour))
	g := rec("G", fastpass.StatusReady, t0.Add(4*time.Hour))

	tests := []struct {
		name  string
		fresh fastpass.ClassifiedBroadcasts
		prior *fastpass.ClassifiedBroadcasts
		want  []string
	}{
		{
			name: "item gone live is dropped",
			fresh: fastpass.ClassifiedBroadcasts{
				Live:     []fastpass.BroadcastRecord{rec("E", fastpass.StatusLive, t0)},
				Upcoming: []fastpass.BroadcastRecord{b},
			},
			prior: &fastpass.ClassifiedBroadcasts{Upcoming: []fastpass.BroadcastRecord{b, e}},
			want:  []string{"B"},
		},
		{
			name:  "disjoint sets union",
			fresh: fastpass.ClassifiedBroadcasts{Upcoming: []fastpass.BroadcastRecord{f}},
			prior: &fastpass.ClassifiedBroadcasts{Upcoming: []fastpass.BroadcastRecord{g}},
			want:  []string{"F", "G"},
		},
		{
			name:  "no prior",
			fresh: fastpass.ClassifiedBroadcasts{Upcoming: []fastpass.BroadcastRecord{f}},
			want:  []string{"F"},
		},
		{
			name: "fresh completed is dropped",
			fresh: fastpass.ClassifiedBroadcasts{
				Completed: &fastpass.BroadcastRecord{ID: "G", LifecycleStatus: fastpass.StatusComplete},
			},
			prior: &fastpass.ClassifiedBroadcasts{Upcoming: []fastpass.BroadcastRecord{g}},
			want:  []string{},
		},
		{
			name:  "started carried item is purged",
			fresh: fastpass.ClassifiedBroadcasts{},
			prior: &fastpass.ClassifiedBroadcasts{Upcoming: []fastpass.BroadcastRecord{
				rec("OLD", fastpass.StatusCreated, t0.Add(-time.Minute)),
				b,
			}},
			want: []string{"B"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := a.MergeUpcoming(tt.fresh, nil, tt.prior)
			if !equalIDs(got, tt.want...) {
				t.Errorf("merged = %v, want %v", ids(got), tt.want)
			}
		})
	}
}

func TestMergeUpcoming_FreshWinsCollision(t *testing.T) {
	t.Parallel()
	a, _ := newAggregator(t, testutil.NewFakeClock(t0))

	old := rec("B", fastpass.StatusCreated, t0.Add(time.Hour))
	updated := old
	updated.Title = "renamed"
	updated.ScheduledStart = t0.Add(90 * time.Minute)

	got := a.MergeUpcoming(
		fastpass.ClassifiedBroadcasts{Upcoming: []fastpass.BroadcastRecord{updated}},
		[]fastpass.BroadcastRecord{updated},
		&fastpass.ClassifiedBroadcasts{Upcoming: []fastpass.BroadcastRecord{old}},
	)
	if len(got) != 1 {
		t.Fatalf("merged = %v, want one record", ids(got))
	}
	if got[0].Title != "renamed" || !got[0].ScheduledStart.Equal(updated.ScheduledStart) {
		t.Errorf("merged record = %+v, want fresh metadata", got[0])
	}
}

func TestMergeUpcoming_NoPurgeKeepsStarted(t *testing.T) {
	t.Parallel()
	clock := testutil.NewFakeClock(t0)
	store, err := cache.NewMemory(clock)
	if err != nil {
		t.Fatal(err)
	}
	a := New(clock, store, Options{})

	got := a.MergeUpcoming(fastpass.ClassifiedBroadcasts{}, nil, &fastpass.ClassifiedBroadcasts{
		Upcoming: []fastpass.BroadcastRecord{rec("OLD", fastpass.StatusCreated, t0.Add(-time.Minute))},
	})
	if !equalIDs(got, "OLD") {
		t.Errorf("merged = %v, want [OLD]", ids(got))
	}
}

func TestGeneration(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := testutil.NewFakeClock(t0)
	a, store := newAggregator(t, clock)
	const key = "/youtube"

	b := rec("B", fastpass.StatusCreated, t0.Add(time.Hour))
	e := rec("E", fastpass.StatusReady, t0.Add(2*time.Hour))

	// Poll 1 sees both.
	g1 := a.Generation(ctx, key, []fastpass.BroadcastRecord{b, e}, true)
	if !equalIDs(g1.Upcoming, "B", "E") {
		t.Fatalf("gen1 upcoming = %v", ids(g1.Upcoming))
	}
	if _, ok := store.Get(ctx, PriorKey(key), true); !ok {
		t.Fatal("generation not recorded under prior key")
	}

	// Poll 2 misses E; it is carried from the previous generation.
	clock.Advance(5 * time.Minute)
	g2 := a.Generation(ctx, key, []fastpass.BroadcastRecord{b}, true)
	if !equalIDs(g2.Upcoming, "B", "E") {
		t.Fatalf("gen2 upcoming = %v, want [B E]", ids(g2.Upcoming))
	}

	// Poll 3 sees E live; it leaves upcoming.
	clock.Advance(5 * time.Minute)
	live := e
	live.LifecycleStatus = fastpass.StatusLive
	g3 := a.Generation(ctx, key, []fastpass.BroadcastRecord{b, live}, true)
	if !equalIDs(g3.Upcoming, "B") || !equalIDs(g3.Live, "E") {
		t.Fatalf("gen3 upcoming = %v live = %v", ids(g3.Upcoming), ids(g3.Live))
	}

	// Poll 4 misses B after its start passed; it is purged, not carried.
	clock.Set(t0.Add(61 * time.Minute))
	g4 := a.Generation(ctx, key, nil, true)
	if len(g4.Upcoming) != 0 {
		t.Errorf("gen4 upcoming = %v, want empty", ids(g4.Upcoming))
	}
}

func TestMergeUpcoming_ListedItemNotCarried(t *testing.T) {
	t.Parallel()
	a, _ := newAggregator(t, testutil.NewFakeClock(t0))

	x := rec("X", fastpass.StatusReady, t0.Add(2*time.Hour))
	prior := &fastpass.ClassifiedBroadcasts{Upcoming: []fastpass.BroadcastRecord{x}}

	revoked := x
	revoked.LifecycleStatus = fastpass.StatusRevoked
	inTest := x
	inTest.LifecycleStatus = fastpass.StatusTesting
	rescheduled := x
	rescheduled.ScheduledStart = t0.Add(48 * time.Hour)

	for _, listed := range []fastpass.BroadcastRecord{revoked, inTest, rescheduled} {
		fresh := a.Classify([]fastpass.BroadcastRecord{listed}, true)
		got := a.MergeUpcoming(fresh, []fastpass.BroadcastRecord{listed}, prior)
		if len(got) != 0 {
			t.Errorf("listed %s at %s: merged = %+v, want empty",
				listed.LifecycleStatus, listed.ScheduledStart.Format(time.RFC3339), got)
		}
	}
}

func TestGeneration_ListedItemUsesFreshMetadata(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := testutil.NewFakeClock(t0)
	a, _ := newAggregator(t, clock)
	const key = "/youtube"

	x := rec("X", fastpass.StatusReady, t0.Add(2*time.Hour))
	if g := a.Generation(ctx, key, []fastpass.BroadcastRecord{x}, true); !equalIDs(g.Upcoming, "X") {
		t.Fatalf("gen1 upcoming = %v, want [X]", ids(g.Upcoming))
	}

	clock.Advance(time.Minute)
	revoked := x
	revoked.LifecycleStatus = fastpass.StatusRevoked
	if g := a.Generation(ctx, key, []fastpass.BroadcastRecord{revoked}, true); len(g.Upcoming) != 0 {
		t.Errorf("revoked: upcoming = %+v, want empty", g.Upcoming)
	}

	// Back to ready, then pushed out past the horizon.
	clock.Advance(time.Minute)
	a.Generation(ctx, key, []fastpass.BroadcastRecord{x}, true)
	clock.Advance(time.Minute)
	later := x
	later.ScheduledStart = t0.Add(48 * time.Hour)
	if g := a.Generation(ctx, key, []fastpass.BroadcastRecord{later}, true); len(g.Upcoming) != 0 {
		t.Errorf("rescheduled: upcoming = %+v, want empty", g.Upcoming)
	}
}

func TestGeneration_PriorSurvivesExpiry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	const key = "/youtube"
	e := rec("E", fastpass.StatusReady, t0.Add(40*time.Hour))

	newStore := func(clock *testutil.FakeClock) cache.Store {
		store, err := cache.NewMemory(clock)
		if err != nil {
			t.Fatal(err)
		}
		return store
	}

	// The prior is written with a 48h expiry; 49h later it is only reachable stale.
	clock := testutil.NewFakeClock(t0)
	store := newStore(clock)
	a := New(clock, store, Options{Horizon: 48 * time.Hour})
	if g := a.Generation(ctx, key, []fastpass.BroadcastRecord{e}, true); !equalIDs(g.Upcoming, "E") {
		t.Fatalf("gen1 upcoming = %v, want [E]", ids(g.Upcoming))
	}
	clock.Advance(49 * time.Hour)

	got := a.Generation(ctx, key, nil, true)
	if !equalIDs(got.Upcoming, "E") {
		t.Errorf("upcoming = %v, want [E] carried from expired prior", ids(got.Upcoming))
	}
	if _, ok := store.Get(ctx, PriorKey(key), false); !ok {
		t.Error("merged generation should be rewritten under the prior key")
	}

	// Without the stale read, the same expired prior is evicted.
	clock2 := testutil.NewFakeClock(t0)
	store2 := newStore(clock2)
	New(clock2, store2, Options{Horizon: 48 * time.Hour}).
		Generation(ctx, key, []fastpass.BroadcastRecord{e}, true)
	clock2.Advance(49 * time.Hour)
	if _, ok := store2.Get(ctx, PriorKey(key), false); ok {
		t.Error("normal read of an expired prior should miss")
	}
}

func TestGeneration_UndecodablePrior(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	a, store := newAggregator(t, testutil.NewFakeClock(t0))

	store.Put(ctx, PriorKey("/youtube"), []byte("not json"), cache.In(time.Minute))
	got := a.Generation(ctx, "/youtube", []fastpass.BroadcastRecord{
		rec("B", fastpass.StatusCreated, t0.Add(time.Hour)),
	}, true)
	if !equalIDs(got.Upcoming, "B") {
		t.Errorf("upcoming = %v, want [B]", ids(got.Upcoming))
	}
}

func TestPriorKey(t *testing.T) {
	t.Parallel()
	if got := PriorKey("/youtube?unlisted=1"); got != "/youtube?unlisted=1#prior" {
		t.Errorf("PriorKey = %q", got)
	}
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/eugener/fastpass/internal/testutil"
)

func newTestRedis(t *testing.T, clock *testutil.FakeClock, opts RedisOptions) (*Redis, *miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedis(client, clock, opts), srv, client
}

func TestRedis_EvictKeepsRewrittenEntry(t *testing.T) {
	t.Parallel()
	clock := testutil.NewFakeClock(t0)
	r, _, client := newTestRedis(t, clock, RedisOptions{Namespace: "ns:"})
	ctx := context.Background()

	r.Put(ctx, "k", []byte("old"), In(time.Minute))
	seenGen, err := client.HGet(ctx, "ns:k", fieldGen).Result()
	if err != nil {
		t.Fatal(err)
	}

	// A concurrent refresh lands between the expired read and the eviction.
	r.Put(ctx, "k", []byte("new"), In(time.Hour))
	n, err := evictIfUnchanged.Run(ctx, client, []string{"ns:k"}, seenGen).Int()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("evicted %d keys, want 0", n)
	}
	if got, ok := r.Get(ctx, "k", false); !ok || string(got) != "new" {
		t.Errorf("get = %q, %v; want %q, true", got, ok, "new")
	}
}

func TestRedis_EvictKeepsRewriteWithSameDeadline(t *testing.T) {
	t.Parallel()
	clock := testutil.NewFakeClock(t0)
	r, _, client := newTestRedis(t, clock, RedisOptions{Namespace: "ns:"})
	ctx := context.Background()
	end := t0.Add(10 * time.Minute)

	r.Put(ctx, "radio", []byte("track 1"), At(end))
	seenGen, err := client.HGet(ctx, "ns:radio", fieldGen).Result()
	if err != nil {
		t.Fatal(err)
	}

	// A refresh resolves to the same absolute end.
	r.Put(ctx, "radio", []byte("track 1 updated"), At(end))
	n, err := evictIfUnchanged.Run(ctx, client, []string{"ns:radio"}, seenGen).Int()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("evicted %d keys, want 0", n)
	}
	if got, ok := r.Get(ctx, "radio", false); !ok || string(got) != "track 1 updated" {
		t.Errorf("get = %q, %v; want %q, true", got, ok, "track 1 updated")
	}
}

func TestRedis_ExpiredReadEvicts(t *testing.T) {
	t.Parallel()
	clock := testutil.NewFakeClock(t0)
	r, srv, _ := newTestRedis(t, clock, RedisOptions{Namespace: "ns:"})
	ctx := context.Background()

	r.Put(ctx, "k", []byte("v"), In(time.Minute))
	clock.Advance(2 * time.Minute)
	if _, ok := r.Get(ctx, "k", false); ok {
		t.Fatal("expired entry should miss")
	}
	if srv.Exists("ns:k") {
		t.Error("expired entry should be evicted on a normal read")
	}
}

func TestRedis_StaleRetention(t *testing.T) {
	t.Parallel()
	clock := testutil.NewFakeClock(t0)
	r, srv, _ := newTestRedis(t, clock, RedisOptions{Namespace: "ns:", StaleRetention: time.Hour})
	ctx := context.Background()

	r.Put(ctx, "k", []byte("v"), In(time.Minute))
	if got := srv.TTL("ns:k"); got != time.Hour+time.Minute {
		t.Errorf("ttl = %v, want %v", got, time.Hour+time.Minute)
	}
}

func TestRedis_NoRetentionPersists(t *testing.T) {
	t.Parallel()
	clock := testutil.NewFakeClock(t0)
	r, srv, _ := newTestRedis(t, clock, RedisOptions{Namespace: "ns:"})
	ctx := context.Background()

	r.Put(ctx, "k", []byte("v"), In(time.Minute))
	if got := srv.TTL("ns:k"); got != 0 {
		t.Errorf("ttl = %v, want no expiry", got)
	}
}

func TestRedis_NamespaceIsolation(t *testing.T) {
	t.Parallel()
	clock := testutil.NewFakeClock(t0)
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	ctx := context.Background()

	a := NewRedis(client, clock, RedisOptions{Namespace: "a:"})
	b := NewRedis(client, clock, RedisOptions{Namespace: "b:"})
	a.Put(ctx, "k", []byte("a"), In(time.Hour))
	b.Put(ctx, "k", []byte("b"), In(time.Hour))

	a.Clear(ctx)

	if _, ok := a.Get(ctx, "k", true); ok {
		t.Error("namespace a should be cleared")
	}
	if got, ok := b.Get(ctx, "k", false); !ok || string(got) != "b" {
		t.Errorf("namespace b get = %q, %v; want %q, true", got, ok, "b")
	}
}

func TestRedis_UnreachableBehavesAsMiss(t *testing.T) {
	t.Parallel()
	clock := testutil.NewFakeClock(t0)
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr(), MaxRetries: -1})
	t.Cleanup(func() { client.Close() })
	r := NewRedis(client, clock, RedisOptions{})
	ctx := context.Background()

	srv.Close()
	r.Put(ctx, "k", []byte("v"), In(time.Hour))
	if _, ok := r.Get(ctx, "k", false); ok {
		t.Error("get against a closed server should miss")
	}
	if err := r.Ping(ctx); err == nil {
		t.Error("ping against a closed server should fail")
	}
}

func TestEscapeGlob(t *testing.T) {
	t.Parallel()
	if got := escapeGlob(`posts?page=[1]*\`); got != `posts\?page=\[1\]\*\\` {
		t.Errorf("escapeGlob = %q", got)
	}
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	fastpass "github.com/eugener/fastpass/internal"
	"github.com/eugener/fastpass/internal/app"
	"github.com/eugener/fastpass/internal/broadcast"
	"github.com/eugener/fastpass/internal/cache"
	"github.com/eugener/fastpass/internal/expiry"
	"github.com/eugener/fastpass/internal/testutil"
)

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	posts    *testutil.FakeFetcher
	radio    *testutil.FakeFetcher
	lister   *testutil.FakeBroadcastLister
	uploads  *testutil.FakeUploadLister
	requests *requestLog
	deps     Deps
}

// requestLog records the requests a fake fetcher receives.
type requestLog struct {
	mu   sync.Mutex
	reqs []fastpass.Request
}

func (l *requestLog) add(req fastpass.Request) {
	l.mu.Lock()
	l.reqs = append(l.reqs, req)
	l.mu.Unlock()
}

func (l *requestLog) pages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.reqs))
	for i, r := range l.reqs {
		out[i] = r.Params["page"]
	}
	return out
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	clock := testutil.NewFakeClock(t0)
	store, err := cache.NewMemory(clock)
	if err != nil {
		t.Fatalf("NewMemory: %v", err)
	}
	policy := expiry.New(clock, expiry.Config{
		DefaultTTL:  3 * time.Minute,
		NegativeTTL: 15 * time.Second,
		MinTTL:      5 * time.Second,
	})
	loader := app.NewLoader(store, policy, nil)

	env := &testEnv{requests: &requestLog{}}
	env.posts = &testutil.FakeFetcher{FetchFn: func(_ context.Context, req fastpass.Request) ([]byte, error) {
		env.requests.add(req)
		return []byte(fmt.Sprintf(`[{"page":%q}]`, req.Params["page"])), nil
	}}
	env.radio = &testutil.FakeFetcher{FetchFn: func(_ context.Context, req fastpass.Request) ([]byte, error) {
		if req.Params["raw"] == "1" {
			return []byte(`{"raw":true}`), nil
		}
		return []byte(`{"current":{"type":"livestream"}}`), nil
	}}
	env.lister = &testutil.FakeBroadcastLister{Listings: [][]fastpass.BroadcastRecord{{
		{ID: "pub", ScheduledStart: t0.Add(time.Hour), LifecycleStatus: fastpass.StatusReady, Privacy: fastpass.PrivacyPublic},
		{ID: "hidden", ScheduledStart: t0.Add(2 * time.Hour), LifecycleStatus: fastpass.StatusReady, Privacy: fastpass.PrivacyUnlisted},
	}}}
	env.uploads = &testutil.FakeUploadLister{Uploads: []fastpass.UploadRecord{
		{ID: "u1", PublishedAt: t0.Add(-time.Minute), Privacy: fastpass.PrivacyPublic},
		{ID: "u2", PublishedAt: t0.Add(-2 * time.Minute), Privacy: fastpass.PrivacyUnlisted},
		{ID: "u3", PublishedAt: t0.Add(-20 * time.Minute), Privacy: fastpass.PrivacyUnlisted},
	}}

	radioRule := expiry.Rule{StatusPath: "current.type", OpenEnded: []string{"livestream"}, EndPath: "current.ends"}
	aggregator := broadcast.New(clock, store, broadcast.Options{Horizon: broadcast.DefaultHorizon, PurgeStarted: true})
	env.deps = Deps{
		Content:    app.NewContentService(loader, policy, env.posts, env.radio, radioRule),
		Broadcasts: app.NewBroadcastService(loader, policy, env.lister, aggregator),
		Uploads:    app.NewUploadService(loader, policy, clock, env.uploads, nil),
		Admin:      app.NewCacheAdmin(loader),
		Defaults: Defaults{
			UploadWindow: 5 * time.Minute,
			UnlistedOnly: true,
		},
	}
	return env
}

func (e *testEnv) handler() http.Handler { return New(e.deps) }

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	h := newTestEnv(t).handler()

	rec := serve(h, http.MethodGet, "/healthz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Body.String() != "ok" {
		t.Errorf("body = %q, want %q", rec.Body.String(), "ok")
	}
}

func TestReadyz(t *testing.T) {
	t.Parallel()
	h := newTestEnv(t).handler()

	rec := serve(h, http.MethodGet, "/readyz")
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestReadyzFailing(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.deps.ReadyCheck = func(context.Context) error { return errors.New("ledger down") }

	rec := serve(env.handler(), http.MethodGet, "/readyz")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	if got := rec.Body.String(); got != "not ready: ledger down" {
		t.Errorf("body = %q, want %q", got, "not ready: ledger down")
	}
}

func TestRequestIDHeader(t *testing.T) {
	t.Parallel()
	h := newTestEnv(t).handler()

	rec := serve(h, http.MethodGet, "/healthz")
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header should be set")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-id")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "caller-id" {
		t.Errorf("request id = %q, want caller-id", got)
	}
}

func TestPosts(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	h := env.handler()

	tests := []struct {
		target   string
		wantCode int
		wantPage string
	}{
		{"/posts", http.StatusOK, "1"},
		{"/posts/3", http.StatusOK, "3"},
		{"/posts/0", http.StatusBadRequest, ""},
		{"/posts/abc", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		rec := serve(h, http.MethodGet, tt.target)
		if rec.Code != tt.wantCode {
			t.Errorf("%s: status = %d, want %d; body = %s", tt.target, rec.Code, tt.wantCode, rec.Body.String())
			continue
		}
		if tt.wantCode != http.StatusOK {
			continue
		}
		if got := rec.Header().Get("Content-Type"); got != "application/json" {
			t.Errorf("%s: content type = %q", tt.target, got)
		}
		if want := fmt.Sprintf(`[{"page":%q}]`, tt.wantPage); rec.Body.String() != want {
			t.Errorf("%s: body = %s, want %s", tt.target, rec.Body.String(), want)
		}
	}

	// Second read of page 1 is served from the cache.
	serve(h, http.MethodGet, "/posts")
	if got := env.requests.pages(); len(got) != 2 || got[0] != "1" || got[1] != "3" {
		t.Errorf("fetched pages = %v, want [1 3]", got)
	}
}

func TestRadioRawVariant(t *testing.T) {
	t.Parallel()
	h := newTestEnv(t).handler()

	if rec := serve(h, http.MethodGet, "/radio"); !strings.Contains(rec.Body.String(), "livestream") {
		t.Errorf("/radio body = %s", rec.Body.String())
	}
	if rec := serve(h, http.MethodGet, "/radio?raw=1"); rec.Body.String() != `{"raw":true}` {
		t.Errorf("/radio?raw=1 body = %s", rec.Body.String())
	}
	if rec := serve(h, http.MethodGet, "/radio?raw=maybe"); rec.Code != http.StatusBadRequest {
		t.Errorf("/radio?raw=maybe status = %d, want 400", rec.Code)
	}
}

func TestUpstreamErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"fetch failed", fmt.Errorf("wordpress: %w", fastpass.ErrFetchFailed), http.StatusBadGateway},
		{"malformed", fmt.Errorf("wordpress: %w", fastpass.ErrMalformedPayload), http.StatusBadGateway},
		{"breaker open", fmt.Errorf("wordpress: %w", fastpass.ErrUpstreamUnavailable), http.StatusServiceUnavailable},
		{"not found", fmt.Errorf("wordpress: %w", fastpass.ErrNotFound), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t)
			env.posts.FetchFn = func(context.Context, fastpass.Request) ([]byte, error) {
				return nil, tt.err
			}
			rec := serve(env.handler(), http.MethodGet, "/posts/2")
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			var body apiError
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("error body: %v", err)
			}
			if body.Error.Message == "" {
				t.Error("error message should be set")
			}
		})
	}
}

func TestBroadcastsUnlistedFlag(t *testing.T) {
	t.Parallel()
	h := newTestEnv(t).handler()

	decode := func(target string) fastpass.ClassifiedBroadcasts {
		t.Helper()
		rec := serve(h, http.MethodGet, target)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d; body = %s", target, rec.Code, rec.Body.String())
		}
		var out fastpass.ClassifiedBroadcasts
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s: %v", target, err)
		}
		return out
	}

	if got := decode("/youtube"); len(got.Upcoming) != 1 || got.Upcoming[0].ID != "pub" {
		t.Errorf("/youtube upcoming = %+v, want [pub]", got.Upcoming)
	}
	if got := decode("/youtube?unlisted=1"); len(got.Upcoming) != 2 {
		t.Errorf("/youtube?unlisted=1 upcoming = %+v, want 2 items", got.Upcoming)
	}
}

func TestUploadsParams(t *testing.T) {
	t.Parallel()
	h := newTestEnv(t).handler()

	ids := func(target string) []string {
		t.Helper()
		rec := serve(h, http.MethodGet, target)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: status = %d; body = %s", target, rec.Code, rec.Body.String())
		}
		var out []fastpass.UploadRecord
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s: %v", target, err)
		}
		var got []string
		for _, u := range out {
			got = append(got, u.ID)
		}
		return got
	}

	if got := ids("/youtube/uploads"); len(got) != 1 || got[0] != "u2" {
		t.Errorf("default = %v, want [u2]", got)
	}
	if got := ids("/youtube/uploads?all=1"); len(got) != 2 {
		t.Errorf("all = %v, want [u1 u2]", got)
	}
	if got := ids("/youtube/uploads?minutes=30"); len(got) != 2 || got[1] != "u3" {
		t.Errorf("30 minutes = %v, want [u2 u3]", got)
	}
	for _, target := range []string{"/youtube/uploads?minutes=0", "/youtube/uploads?minutes=-5", "/youtube/uploads?minutes=x"} {
		if rec := serve(h, http.MethodGet, target); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", target, rec.Code)
		}
	}
}

func TestCacheClear(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	h := env.handler()

	serve(h, http.MethodGet, "/posts")
	serve(h, http.MethodGet, "/radio")

	rec := serve(h, http.MethodPost, "/admin/cache/clear?prefix=/posts")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"/posts"`) {
		t.Fatalf("clear: status = %d; body = %s", rec.Code, rec.Body.String())
	}
	serve(h, http.MethodGet, "/posts")
	serve(h, http.MethodGet, "/radio")
	if env.posts.Calls() != 2 || env.radio.Calls() != 1 {
		t.Errorf("after prefix clear: posts = %d radio = %d, want 2 and 1", env.posts.Calls(), env.radio.Calls())
	}

	serve(h, http.MethodPost, "/admin/cache/clear")
	serve(h, http.MethodGet, "/radio")
	if env.radio.Calls() != 2 {
		t.Errorf("after full clear: radio = %d, want 2", env.radio.Calls())
	}

	if rec := serve(h, http.MethodGet, "/admin/cache/clear"); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET clear: status = %d, want 405", rec.Code)
	}
}

func TestErrorStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{fastpass.ErrBadRequest, http.StatusBadRequest},
		{fastpass.ErrNotFound, http.StatusNotFound},
		{fastpass.ErrUpstreamUnavailable, http.StatusServiceUnavailable},
		{fastpass.ErrFetchFailed, http.StatusBadGateway},
		{fastpass.ErrMalformedPayload, http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := errorStatus(fmt.Errorf("wrapped: %w", tt.err)); got != tt.want {
			t.Errorf("errorStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestRecoveryReturns500(t *testing.T) {
	t.Parallel()
	s := &server{}
	h := s.recovery(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("handler exploded")
	}))

	rec := serve(h, http.MethodGet, "/posts")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

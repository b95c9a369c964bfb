// Package server implements the HTTP transport layer for the fastpass proxy.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eugener/fastpass/internal/app"
	"github.com/eugener/fastpass/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Defaults applies to requests that leave a parameter out.
type Defaults struct {
	IncludeUnlisted bool          // /youtube without ?unlisted
	UploadWindow    time.Duration // /youtube/uploads without ?minutes
	UnlistedOnly    bool          // /youtube/uploads without ?all=1
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Content        *app.ContentService
	Broadcasts     *app.BroadcastService
	Uploads        *app.UploadService
	Admin          *app.CacheAdmin
	Defaults       Defaults
	ReadyCheck     ReadyChecker       // nil = always ready (for tests)
	Metrics        *telemetry.Metrics // nil = no request metrics
	MetricsHandler http.Handler       // nil = no /metrics endpoint
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.instrument)

	// System endpoints
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// Cached content
	r.Get("/posts", s.handlePosts)
	r.Get("/posts/{page}", s.handlePosts)
	r.Get("/radio", s.handleRadio)
	r.Get("/youtube", s.handleBroadcasts)
	r.Get("/youtube/uploads", s.handleUploads)

	r.Post("/admin/cache/clear", s.handleCacheClear)

	return r
}

type server struct {
	deps Deps
}

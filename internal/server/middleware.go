package server

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	fastpass "github.com/eugener/fastpass/internal"
)

// statusWriterPool recycles status writers. Fields are reset on Get and the
// wrapped writer is dropped on Put.
var statusWriterPool = sync.Pool{
	New: func() any { return &statusWriter{} },
}

// recovery catches panics and returns 500.
func (s *server) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				slog.LogAttrs(r.Context(), slog.LevelError, "panic recovered",
					slog.Any("error", rec),
					slog.String("path", r.URL.Path),
				)
				writeJSON(w, http.StatusInternalServerError, errorResponse(http.StatusInternalServerError, "internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requestIDHeader is in canonical form for direct header map access.
const requestIDHeader = "X-Request-Id"

// requestID propagates an incoming X-Request-Id or mints a UUID v7 one, and
// echoes it on the response.
func (s *server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if vals := r.Header[requestIDHeader]; len(vals) > 0 {
			id = vals[0]
		} else {
			id = uuid.Must(uuid.NewV7()).String()
		}
		w.Header()[requestIDHeader] = []string{id}
		ctx := fastpass.ContextWithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// instrument logs each request and, when metrics are enabled, records its
// status and latency. Server errors log at warn.
func (s *server) instrument(next http.Handler) http.Handler {
	m := s.deps.Metrics
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m != nil {
			m.ActiveRequests.Inc()
			defer m.ActiveRequests.Dec()
		}
		start := time.Now()
		sw := statusWriterPool.Get().(*statusWriter)
		sw.ResponseWriter = w
		sw.status = http.StatusOK
		sw.wroteHeader = false

		next.ServeHTTP(sw, r)

		elapsed := time.Since(start)
		status := sw.status
		sw.ResponseWriter = nil
		statusWriterPool.Put(sw)

		pattern := routePattern(r)
		if m != nil {
			recordRequest(m, r.Method, pattern, status, elapsed)
		}

		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		slog.LogAttrs(r.Context(), level, "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("route", pattern),
			slog.Int("status", status),
			slog.Int64("duration_ms", elapsed.Milliseconds()),
			slog.String("request_id", fastpass.RequestIDFromContext(r.Context())),
		)
	})
}

// statusWriter captures the first status code written.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.status = code
		sw.wroteHeader = true
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.wroteHeader = true
	}
	return sw.ResponseWriter.Write(b)
}

// Unwrap exposes the wrapped writer to http.ResponseController.
func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}

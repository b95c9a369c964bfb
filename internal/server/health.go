package server

import (
	"log/slog"
	"net/http"
)

var (
	okBody  = []byte("ok")
	plainCT = []string{"text/plain; charset=utf-8"}
)

// handleHealthz reports liveness only; it never touches the cache or ledger.
func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header()["Content-Type"] = plainCT
	w.WriteHeader(http.StatusOK)
	w.Write(okBody)
}

// handleReadyz checks the cache backend and notification ledger.
func (s *server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header()["Content-Type"] = plainCT
	if s.deps.ReadyCheck != nil {
		if err := s.deps.ReadyCheck(r.Context()); err != nil {
			slog.LogAttrs(r.Context(), slog.LevelWarn, "readiness check failed",
				slog.String("error", err.Error()),
			)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("not ready: " + err.Error()))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	w.Write(okBody)
}

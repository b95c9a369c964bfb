package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	fastpass "github.com/eugener/fastpass/internal"
)

func (s *server) handlePosts(w http.ResponseWriter, r *http.Request) {
	page := 1
	if raw := chi.URLParam(r, "page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, fmt.Errorf("%w: page must be a positive integer", fastpass.ErrBadRequest))
			return
		}
		page = n
	}
	body, err := s.deps.Content.Posts(r.Context(), page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCached(w, body)
}

func (s *server) handleRadio(w http.ResponseWriter, r *http.Request) {
	raw, err := boolParam(r, "raw", false)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, err := s.deps.Content.Radio(r.Context(), raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCached(w, body)
}

func (s *server) handleBroadcasts(w http.ResponseWriter, r *http.Request) {
	unlisted, err := boolParam(r, "unlisted", s.deps.Defaults.IncludeUnlisted)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, err := s.deps.Broadcasts.Broadcasts(r.Context(), unlisted)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCached(w, body)
}

func (s *server) handleUploads(w http.ResponseWriter, r *http.Request) {
	window := s.deps.Defaults.UploadWindow
	if raw := r.URL.Query().Get("minutes"); raw != "" {
		minutes, err := strconv.ParseFloat(raw, 64)
		if err != nil || minutes <= 0 {
			writeError(w, r, fmt.Errorf("%w: minutes must be a positive number", fastpass.ErrBadRequest))
			return
		}
		window = time.Duration(minutes * float64(time.Minute))
	}
	all, err := boolParam(r, "all", !s.deps.Defaults.UnlistedOnly)
	if err != nil {
		writeError(w, r, err)
		return
	}
	body, err := s.deps.Uploads.Recent(r.Context(), window, !all)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeCached(w, body)
}

type clearResponse struct {
	Cleared string `json:"cleared"`
}

// handleCacheClear drops every cached entry, or only those whose key starts
// with ?prefix= (a resource path such as /posts).
func (s *server) handleCacheClear(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	if prefix == "" {
		s.deps.Admin.Clear(r.Context())
		writeJSON(w, http.StatusOK, clearResponse{Cleared: "*"})
		return
	}
	s.deps.Admin.ClearByPrefix(r.Context(), prefix)
	writeJSON(w, http.StatusOK, clearResponse{Cleared: prefix})
}

// boolParam reads a 0/1 style flag from the query string.
func boolParam(r *http.Request, name string, def bool) (bool, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%w: %s must be a boolean", fastpass.ErrBadRequest, name)
	}
	return v, nil
}

package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	fastpass "github.com/eugener/fastpass/internal"
)

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(status int, msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = errorType(status)
	return e
}

func errorType(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return "invalid_request_error"
	case status == http.StatusNotFound:
		return "not_found_error"
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable:
		return "upstream_error"
	default:
		return "server_error"
	}
}

// errorStatus maps domain errors to HTTP status codes. An open breaker is
// checked before the fetch failure it wraps.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, fastpass.ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, fastpass.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, fastpass.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, fastpass.ErrFetchFailed), errors.Is(err, fastpass.ErrMalformedPayload):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeError logs server-side failures and returns a message that does not
// leak upstream response bodies to the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errorStatus(err)
	msg := http.StatusText(status)
	switch status {
	case http.StatusBadRequest:
		msg = err.Error()
	case http.StatusInternalServerError:
		slog.LogAttrs(r.Context(), slog.LevelError, "request failed",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
	}
	writeJSON(w, status, errorResponse(status, msg))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// writeCached writes a cached JSON payload as is.
func writeCached(w http.ResponseWriter, body []byte) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/eugener/fastpass/internal/telemetry"
)

// statusText holds pre-formatted status labels.
var statusText [600]string

func init() {
	for i := range statusText {
		statusText[i] = strconv.Itoa(i)
	}
}

// metricsPath is excluded from request metrics so scrapes do not count themselves.
const metricsPath = "/metrics"

// recordRequest observes a finished request under its route pattern.
func recordRequest(m *telemetry.Metrics, method, pattern string, status int, elapsed time.Duration) {
	if pattern == metricsPath {
		return
	}
	if status < 0 || status >= len(statusText) {
		status = http.StatusInternalServerError
	}
	m.RequestsTotal.WithLabelValues(method, pattern, statusText[status]).Inc()
	m.RequestDuration.WithLabelValues(method, pattern).Observe(elapsed.Seconds())
}

// routePattern returns the matched chi pattern, so /posts/3 and /posts/4
// share a label. Unmatched requests fall back to the raw path.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

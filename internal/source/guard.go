package source

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	fastpass "github.com/eugener/fastpass/internal"
	"github.com/eugener/fastpass/internal/circuitbreaker"
	"github.com/eugener/fastpass/internal/ratelimit"
	"github.com/eugener/fastpass/internal/telemetry"
)

// Guard runs upstream calls behind a per-source rate limit and circuit
// breaker and records call metrics. A nil *Guard runs calls unguarded.
type Guard struct {
	limits   *ratelimit.Registry
	breakers *circuitbreaker.Registry
	metrics  *telemetry.Metrics
}

// NewGuard creates a Guard. Any argument may be nil.
func NewGuard(limits *ratelimit.Registry, breakers *circuitbreaker.Registry, metrics *telemetry.Metrics) *Guard {
	return &Guard{limits: limits, breakers: breakers, metrics: metrics}
}

// Do runs fn unless source is over its call budget or its breaker is open,
// in which case it returns ErrUpstreamUnavailable without calling fn.
func (g *Guard) Do(ctx context.Context, source string, fn func(context.Context) error) error {
	if g == nil {
		return fn(ctx)
	}

	if g.limits != nil {
		if r := g.limits.Get(source).Allow(); !r.Allowed {
			if g.metrics != nil {
				g.metrics.ThrottledCalls.WithLabelValues(source).Inc()
			}
			return fmt.Errorf("%s: rate limited, retry in %s: %w", source, r.RetryAfter.Round(time.Second), fastpass.ErrUpstreamUnavailable)
		}
	}

	var b *circuitbreaker.Breaker
	if g.breakers != nil {
		b = g.breakers.Get(source)
		if !b.Allow() {
			if g.metrics != nil {
				g.metrics.BreakerRejects.WithLabelValues(source).Inc()
			}
			return fmt.Errorf("%s: %w", source, fastpass.ErrUpstreamUnavailable)
		}
	}

	start := time.Now()
	err := fn(ctx)
	if b != nil {
		b.Record(err)
	}

	if g.metrics != nil {
		g.metrics.UpstreamDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
		if err != nil {
			g.metrics.UpstreamErrors.WithLabelValues(source, errorLabel(err)).Inc()
		}
	}
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "upstream call failed",
			slog.String("source", source),
			slog.String("error", err.Error()),
		)
	}
	return err
}

func errorLabel(err error) string {
	var ae *APIError
	switch {
	case errors.As(err, &ae):
		return strconv.Itoa(ae.StatusCode)
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, fastpass.ErrMalformedPayload):
		return "malformed"
	default:
		return "network"
	}
}

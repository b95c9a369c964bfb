// Package app holds the application services sitting between the HTTP
// handlers and the upstream sources. Each service reads through the shared
// cache and only contacts its source on a miss.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	fastpass "github.com/eugener/fastpass/internal"
	"github.com/eugener/fastpass/internal/cache"
	"github.com/eugener/fastpass/internal/expiry"
	"github.com/eugener/fastpass/internal/telemetry"
)

// Fill computes a fresh value for a cache miss along with its expiry.
type Fill func(ctx context.Context) ([]byte, cache.Expiry, error)

// Loader reads through the cache. At most one fill per key is in flight;
// concurrent misses on that key wait for its result.
type Loader struct {
	store   cache.Store
	policy  *expiry.Policy
	metrics *telemetry.Metrics
	tracer  trace.Tracer
	flights singleflight.Group
}

// NewLoader creates a Loader. metrics may be nil.
func NewLoader(store cache.Store, policy *expiry.Policy, metrics *telemetry.Metrics) *Loader {
	return &Loader{
		store:   store,
		policy:  policy,
		metrics: metrics,
		tracer:  telemetry.Tracer("github.com/eugener/fastpass/internal/app"),
	}
}

// Store returns the underlying cache store.
func (l *Loader) Store() cache.Store { return l.store }

// Load returns the cached value under key or fills it. resource labels
// metrics and spans. A failed fill never touches the entry under key; when
// negative caching is enabled the failure is remembered under a separate
// key and served until it expires.
func (l *Loader) Load(ctx context.Context, resource, key string, fill Fill) ([]byte, error) {
	if val, ok := l.store.Get(ctx, key, false); ok {
		l.count(hitsOf, resource)
		return val, nil
	}
	if kind, ok := l.store.Get(ctx, cache.NegativeKey(key), false); ok {
		l.count(negativeHitsOf, resource)
		return nil, cachedFailure(resource, kind)
	}
	l.count(missesOf, resource)

	ch := l.flights.DoChan(key, func() (any, error) {
		// Detached so one caller going away does not fail the others.
		fctx := context.WithoutCancel(ctx)
		if val, ok := l.store.Get(fctx, key, false); ok {
			return val, nil
		}
		return l.fill(fctx, resource, key, fill)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			l.count(sharedOf, resource)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	}
}

func (l *Loader) fill(ctx context.Context, resource, key string, fill Fill) ([]byte, error) {
	ctx, span := l.tracer.Start(ctx, "cache.fill", trace.WithAttributes(
		attribute.String("fastpass.resource", resource),
		attribute.String("fastpass.cache_key", key),
	))
	defer span.End()

	val, exp, err := fill(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if nexp, ok := l.policy.Negative(); ok && !errors.Is(err, fastpass.ErrBadRequest) {
			l.store.Put(ctx, cache.NegativeKey(key), []byte(failureKind(err)), nexp)
		}
		return nil, err
	}
	l.store.Put(ctx, key, val, exp)
	return val, nil
}

// Negative placeholder values.
const (
	kindFetch       = "fetch"
	kindMalformed   = "malformed"
	kindNotFound    = "not_found"
	kindUnavailable = "unavailable"
)

func failureKind(err error) string {
	switch {
	case errors.Is(err, fastpass.ErrUpstreamUnavailable):
		return kindUnavailable
	case errors.Is(err, fastpass.ErrMalformedPayload):
		return kindMalformed
	case errors.Is(err, fastpass.ErrNotFound):
		return kindNotFound
	default:
		return kindFetch
	}
}

func cachedFailure(resource string, kind []byte) error {
	var base error
	switch string(kind) {
	case kindUnavailable:
		base = fastpass.ErrUpstreamUnavailable
	case kindMalformed:
		base = fastpass.ErrMalformedPayload
	case kindNotFound:
		base = fastpass.ErrNotFound
	default:
		base = fastpass.ErrFetchFailed
	}
	return fmt.Errorf("%s: recent failure cached: %w", resource, base)
}

func hitsOf(m *telemetry.Metrics) *prometheus.CounterVec         { return m.CacheHits }
func missesOf(m *telemetry.Metrics) *prometheus.CounterVec       { return m.CacheMisses }
func negativeHitsOf(m *telemetry.Metrics) *prometheus.CounterVec { return m.NegativeHits }
func sharedOf(m *telemetry.Metrics) *prometheus.CounterVec       { return m.SharedFills }

func (l *Loader) count(vec func(*telemetry.Metrics) *prometheus.CounterVec, resource string) {
	if l.metrics == nil {
		return
	}
	vec(l.metrics).WithLabelValues(resource).Inc()
}

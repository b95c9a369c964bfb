package fastpass

import (
	"errors"
	"fmt"
)

// Sentinel errors for the proxy domain.
var (
	ErrFetchFailed      = errors.New("fetch failed")
	ErrMalformedPayload = errors.New("malformed payload")
	ErrNotFound         = errors.New("not found")
	ErrBadRequest       = errors.New("bad request")

	// ErrUpstreamUnavailable is returned without contacting the upstream
	// while its circuit breaker is open or its call budget is spent.
	ErrUpstreamUnavailable = fmt.Errorf("%w: upstream unavailable", ErrFetchFailed)
)

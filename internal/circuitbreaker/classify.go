package circuitbreaker

import (
	"context"
	"errors"
	"os"

	fastpass "github.com/eugener/fastpass/internal"
)

// httpStatusError is satisfied by source.APIError.
type httpStatusError interface {
	HTTPStatus() int
}

// Weight returns how much err counts against an upstream:
//   - nil, caller cancellation, 4xx except 429 -> 0
//   - 429, malformed payload -> 0.5
//   - 5xx, network failure -> 1.0
//   - timeout -> 1.5
func Weight(err error) float64 {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return 1.5
	case errors.Is(err, context.Canceled):
		return 0
	case errors.Is(err, fastpass.ErrMalformedPayload):
		return 0.5
	}

	var he httpStatusError
	if errors.As(err, &he) {
		return statusWeight(he.HTTPStatus())
	}
	return 1.0
}

func statusWeight(code int) float64 {
	switch {
	case code == 429:
		return 0.5
	case code >= 500:
		return 1.0
	default:
		return 0
	}
}

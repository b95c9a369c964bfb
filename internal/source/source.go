// Package source holds what the upstream content API clients share: the
// HTTP transport, error mapping, and the circuit breaker guard.
package source

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/dnscache"
	"github.com/tidwall/gjson"

	fastpass "github.com/eugener/fastpass/internal"
)

// maxBody caps how much of an upstream response is read.
const maxBody = 8 << 20

// NewTransport returns a pooled *http.Transport. If resolver is non-nil,
// dials go through its cached DNS lookups.
func NewTransport(resolver *dnscache.Resolver) *http.Transport {
	t := &http.Transport{
		MaxIdleConnsPerHost: 16,
		MaxConnsPerHost:     64,
		IdleConnTimeout:     90 * time.Second,
		ForceAttemptHTTP2:   true,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	if resolver != nil {
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return nil, err
			}
			var d net.Dialer
			return d.DialContext(ctx, network, net.JoinHostPort(ips[0], port))
		}
	}
	return t
}

// NewClient wraps rt in an *http.Client with a per-call timeout.
func NewClient(rt http.RoundTripper, timeout time.Duration) *http.Client {
	return &http.Client{Transport: rt, Timeout: timeout}
}

// APIError is a non-success response from an upstream source.
type APIError struct {
	Source     string
	StatusCode int
	Body       string
}

// Error returns a formatted error string including source, status, and body.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Source, e.StatusCode, e.Body)
}

// HTTPStatus returns the upstream status code.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// Unwrap maps the error onto the domain sentinels: an upstream 404 is
// ErrNotFound, anything else a fetch failure.
func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusNotFound {
		return fastpass.ErrNotFound
	}
	return fastpass.ErrFetchFailed
}

// ParseAPIError reads up to 4KB from the response body and returns an APIError.
func ParseAPIError(source string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{Source: source, StatusCode: resp.StatusCode, Body: string(body)}
}

// GetJSON performs a GET and returns the body, which must be valid JSON.
// Transport failures wrap ErrFetchFailed and invalid bodies
// ErrMalformedPayload.
func GetJSON(ctx context.Context, client *http.Client, source, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", source, err)
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", source, fastpass.ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ParseAPIError(source, resp)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%s: read body: %w: %w", source, fastpass.ErrFetchFailed, err)
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%s: %w: response is not JSON", source, fastpass.ErrMalformedPayload)
	}
	return body, nil
}

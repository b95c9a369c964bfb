// Package cloudauth provides http.RoundTripper decorators that authenticate
// outbound calls to the video platform API, either with a static API key
// or with an OAuth2 bearer token minted from a stored refresh token.
package cloudauth

import "net/http"

// GoogleAPIKeyHeader carries an API key for Google APIs.
const GoogleAPIKeyHeader = "X-Goog-Api-Key"

// APIKeyTransport sets a static key header on every outbound request.
type APIKeyTransport struct {
	Key        string
	HeaderName string
	Base       http.RoundTripper
}

// RoundTrip clones the request and sets the key header.
func (t *APIKeyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r2 := r.Clone(r.Context())
	r2.Header.Set(t.HeaderName, t.Key)
	return baseOrDefault(t.Base).RoundTrip(r2)
}

func baseOrDefault(rt http.RoundTripper) http.RoundTripper {
	if rt != nil {
		return rt
	}
	return http.DefaultTransport
}

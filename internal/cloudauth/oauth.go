package cloudauth

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// YouTubeReadOnlyScope grants read access to a channel's broadcasts and
// uploads, unlisted ones included.
const YouTubeReadOnlyScope = "https://www.googleapis.com/auth/youtube.readonly"

// RefreshTokenConfig identifies an OAuth2 client and the long-lived refresh
// token it was granted for the channel owner.
type RefreshTokenConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	Scopes       []string
	// TokenURL overrides the Google token endpoint; used by tests.
	TokenURL string
}

// OAuthTransport sets an OAuth2 bearer token on every outbound request.
// Tokens are cached and refreshed shortly before they expire.
type OAuthTransport struct {
	base   http.RoundTripper
	source oauth2.TokenSource
}

// NewRefreshTokenTransport returns a transport that exchanges cfg's refresh
// token for access tokens at Google's token endpoint. tokenClient performs
// the exchange itself and may be nil.
func NewRefreshTokenTransport(ctx context.Context, base http.RoundTripper, tokenClient *http.Client, cfg RefreshTokenConfig) (*OAuthTransport, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, fmt.Errorf("cloudauth: client id, client secret and refresh token are required")
	}
	endpoint := google.Endpoint
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	oc := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       cfg.Scopes,
	}
	if tokenClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, tokenClient)
	}
	// The token source keeps ctx for every refresh, so it must outlive requests.
	ts := oc.TokenSource(context.WithoutCancel(ctx), &oauth2.Token{RefreshToken: cfg.RefreshToken})
	return newOAuthTransportFromSource(base, ts), nil
}

func newOAuthTransportFromSource(base http.RoundTripper, ts oauth2.TokenSource) *OAuthTransport {
	return &OAuthTransport{base: base, source: oauth2.ReuseTokenSource(nil, ts)}
}

// RoundTrip obtains a token and injects it as a Bearer header.
func (t *OAuthTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	tok, err := t.source.Token()
	if err != nil {
		return nil, fmt.Errorf("cloudauth: obtain oauth token: %w", err)
	}
	r2 := r.Clone(r.Context())
	tok.SetAuthHeader(r2)
	return baseOrDefault(t.base).RoundTrip(r2)
}

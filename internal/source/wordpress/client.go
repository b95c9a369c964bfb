// Package wordpress fetches post listings from a WordPress REST API.
package wordpress

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	fastpass "github.com/eugener/fastpass/internal"
	"github.com/eugener/fastpass/internal/source"
)

const (
	// SourceName labels this upstream in metrics, errors and limits.
	SourceName     = "wordpress"
	defaultPerPage = 30
)

// Client implements fastpass.Fetcher for the posts resource.
type Client struct {
	baseURL   string
	perPage   int
	userAgent string
	http      *http.Client
	guard     *source.Guard
}

// Options configures a Client.
type Options struct {
	BaseURL   string
	PerPage   int
	UserAgent string
}

// New creates a WordPress client. guard may be nil.
func New(opts Options, client *http.Client, guard *source.Guard) *Client {
	perPage := opts.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	return &Client{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		perPage:   perPage,
		userAgent: opts.UserAgent,
		http:      client,
		guard:     guard,
	}
}

// Fetch returns one page of posts as the upstream JSON array. The page is
// read from req.Params["page"] and defaults to 1. A page past the end is
// reported as ErrNotFound.
func (c *Client) Fetch(ctx context.Context, req fastpass.Request) ([]byte, error) {
	page := 1
	if p, ok := req.Params["page"]; ok {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: invalid page %q", fastpass.ErrBadRequest, p)
		}
		page = n
	}

	q := url.Values{}
	q.Set("per_page", strconv.Itoa(c.perPage))
	q.Set("page", strconv.Itoa(page))
	u := c.baseURL + "/wp-json/wp/v2/posts?" + q.Encode()

	header := http.Header{}
	if c.userAgent != "" {
		header.Set("User-Agent", c.userAgent)
	}

	var body []byte
	err := c.guard.Do(ctx, SourceName, func(ctx context.Context) error {
		var err error
		body, err = source.GetJSON(ctx, c.http, SourceName, u, header)
		return err
	})
	if err != nil {
		return nil, pageError(err)
	}
	if !gjson.ParseBytes(body).IsArray() {
		return nil, fmt.Errorf("%s: %w: posts response is not an array", SourceName, fastpass.ErrMalformedPayload)
	}
	return body, nil
}

// pageError turns WordPress's 400 for an out-of-range page into ErrNotFound.
func pageError(err error) error {
	var ae *source.APIError
	if errors.As(err, &ae) && ae.StatusCode == http.StatusBadRequest &&
		gjson.Get(ae.Body, "code").String() == "rest_post_invalid_page_number" {
		return fmt.Errorf("%s: %w: page out of range", SourceName, fastpass.ErrNotFound)
	}
	return err
}

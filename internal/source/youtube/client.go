// Package youtube lists live broadcasts and recent uploads of a channel
// through the YouTube Data API v3.
package youtube

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	fastpass "github.com/eugener/fastpass/internal"
	"github.com/eugener/fastpass/internal/source"
)

const (
	// SourceName labels this upstream in metrics, errors and limits.
	SourceName        = "youtube"
	defaultBaseURL    = "https://www.googleapis.com/youtube/v3"
	broadcastPageSize = 50
	defaultUploadPage = 10
	// maxPages bounds pagination against an upstream that never stops
	// returning a next page token.
	maxPages = 20
)

// Client implements fastpass.BroadcastLister and fastpass.UploadLister.
// Authentication lives in the *http.Client's transport.
type Client struct {
	baseURL           string
	uploadsPlaylistID string
	uploadPageSize    int
	http              *http.Client
	guard             *source.Guard
}

// Options configures a Client.
type Options struct {
	BaseURL           string
	UploadsPlaylistID string
	MaxResults        int // upload page size
}

// New creates a YouTube client. guard may be nil.
func New(opts Options, client *http.Client, guard *source.Guard) *Client {
	base := opts.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	size := opts.MaxResults
	if size <= 0 {
		size = defaultUploadPage
	}
	return &Client{
		baseURL:           strings.TrimRight(base, "/"),
		uploadsPlaylistID: opts.UploadsPlaylistID,
		uploadPageSize:    size,
		http:              client,
		guard:             guard,
	}
}

// ListBroadcasts returns every broadcast of the channel, following
// pagination until the last page.
func (c *Client) ListBroadcasts(ctx context.Context) ([]fastpass.BroadcastRecord, error) {
	q := url.Values{}
	q.Set("part", "id,snippet,contentDetails,status")
	q.Set("broadcastStatus", "all")
	q.Set("maxResults", strconv.Itoa(broadcastPageSize))

	var out []fastpass.BroadcastRecord
	err := c.paginate(ctx, "/liveBroadcasts", q, func(items gjson.Result) bool {
		items.ForEach(func(_, item gjson.Result) bool {
			out = append(out, broadcastFrom(item))
			return true
		})
		return true
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ListUploads returns uploads newest first. Paging stops after the first
// page holding an item published at or before since.
func (c *Client) ListUploads(ctx context.Context, since time.Time) ([]fastpass.UploadRecord, error) {
	if c.uploadsPlaylistID == "" {
		return nil, fmt.Errorf("%s: %w: uploads playlist not configured", SourceName, fastpass.ErrNotFound)
	}
	q := url.Values{}
	q.Set("part", "snippet,status")
	q.Set("playlistId", c.uploadsPlaylistID)
	q.Set("maxResults", strconv.Itoa(c.uploadPageSize))

	var out []fastpass.UploadRecord
	err := c.paginate(ctx, "/playlistItems", q, func(items gjson.Result) bool {
		more := true
		items.ForEach(func(_, item gjson.Result) bool {
			u := uploadFrom(item)
			out = append(out, u)
			if !u.PublishedAt.After(since) {
				more = false
			}
			return true
		})
		return more
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// paginate fetches pages of path, handing each page's items to page until
// page returns false or no next page token remains.
func (c *Client) paginate(ctx context.Context, path string, q url.Values, page func(items gjson.Result) bool) error {
	for range maxPages {
		u := c.baseURL + path + "?" + q.Encode()
		var body []byte
		err := c.guard.Do(ctx, SourceName, func(ctx context.Context) error {
			var err error
			body, err = source.GetJSON(ctx, c.http, SourceName, u, nil)
			return err
		})
		if err != nil {
			return err
		}

		items := gjson.GetBytes(body, "items")
		if items.Exists() && !items.IsArray() {
			return fmt.Errorf("%s: %w: items is not an array", SourceName, fastpass.ErrMalformedPayload)
		}
		if !page(items) {
			return nil
		}
		next := gjson.GetBytes(body, "nextPageToken").String()
		if next == "" {
			return nil
		}
		q.Set("pageToken", next)
	}
	return nil
}

func broadcastFrom(item gjson.Result) fastpass.BroadcastRecord {
	return fastpass.BroadcastRecord{
		ID:              item.Get("id").String(),
		Title:           item.Get("snippet.title").String(),
		ScheduledStart:  parseTime(item.Get("snippet.scheduledStartTime").String()),
		LifecycleStatus: fastpass.LifecycleStatus(item.Get("status.lifeCycleStatus").String()),
		Privacy:         fastpass.Privacy(item.Get("status.privacyStatus").String()),
	}
}

func uploadFrom(item gjson.Result) fastpass.UploadRecord {
	return fastpass.UploadRecord{
		ID:          item.Get("snippet.resourceId.videoId").String(),
		Title:       item.Get("snippet.title").String(),
		PublishedAt: parseTime(item.Get("snippet.publishedAt").String()),
		Privacy:     fastpass.Privacy(item.Get("status.privacyStatus").String()),
	}
}

// parseTime parses an RFC 3339 timestamp, returning the zero time when
// absent or invalid.
func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Package airtime fetches the now-playing feed of an Airtime radio station.
package airtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	fastpass "github.com/eugener/fastpass/internal"
	"github.com/eugener/fastpass/internal/source"
)

// SourceName labels this upstream in metrics, errors and limits.
const SourceName = "airtime"

// Client implements fastpass.Fetcher for the radio resource.
type Client struct {
	baseURL string
	http    *http.Client
	guard   *source.Guard
}

// New creates an Airtime client. guard may be nil.
func New(baseURL string, client *http.Client, guard *source.Guard) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: client, guard: guard}
}

// Fetch returns the live-info payload, reshaped to the fields clients use
// unless req.Params["raw"] is "1".
func (c *Client) Fetch(ctx context.Context, req fastpass.Request) ([]byte, error) {
	var body []byte
	err := c.guard.Do(ctx, SourceName, func(ctx context.Context) error {
		var err error
		body, err = source.GetJSON(ctx, c.http, SourceName, c.baseURL+"/api/live-info", nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	if req.Params["raw"] == "1" {
		return body, nil
	}
	return Reshape(body)
}

type metadata struct {
	TrackTitle any `json:"track_title"`
	ArtistName any `json:"artist_name"`
	Length     any `json:"length"`
}

type current struct {
	Ends     any      `json:"ends"`
	Type     any      `json:"type"`
	Metadata metadata `json:"metadata"`
}

type next struct {
	Metadata metadata `json:"metadata"`
}

type show struct {
	Name      any `json:"name"`
	ImagePath any `json:"image_path"`
}

type nowPlaying struct {
	Current     current `json:"current"`
	CurrentShow []show  `json:"currentShow"`
	Next        next    `json:"next"`
}

// Reshape keeps the now-playing fields of a live-info payload. Missing
// fields become null; only the first current show is kept.
func Reshape(body []byte) ([]byte, error) {
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, fmt.Errorf("%s: %w: live-info is not an object", SourceName, fastpass.ErrMalformedPayload)
	}

	out := nowPlaying{
		Current: current{
			Ends:     root.Get("current.ends").Value(),
			Type:     root.Get("current.type").Value(),
			Metadata: metadataOf(root.Get("current.metadata")),
		},
		CurrentShow: []show{},
		Next:        next{Metadata: metadataOf(root.Get("next.metadata"))},
	}
	if first := root.Get("currentShow.0"); first.Exists() {
		out.CurrentShow = append(out.CurrentShow, show{
			Name:      first.Get("name").Value(),
			ImagePath: first.Get("image_path").Value(),
		})
	}
	return json.Marshal(out)
}

func metadataOf(r gjson.Result) metadata {
	return metadata{
		TrackTitle: r.Get("track_title").Value(),
		ArtistName: r.Get("artist_name").Value(),
		Length:     r.Get("length").Value(),
	}
}

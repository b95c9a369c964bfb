// Package notify delivers upload notifications to chat webhooks.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	fastpass "github.com/eugener/fastpass/internal"
)

// SlackOptions configures a Slack incoming webhook.
type SlackOptions struct {
	WebhookURL string
	Channel    string // optional; the webhook's default channel otherwise
	Username   string
	IconEmoji  string
}

// Slack posts one message per upload to an incoming webhook.
type Slack struct {
	opts   SlackOptions
	client *http.Client
}

// NewSlack creates a Slack notifier.
func NewSlack(opts SlackOptions, client *http.Client) *Slack {
	opts.IconEmoji = normalizeEmoji(opts.IconEmoji)
	if client == nil {
		client = http.DefaultClient
	}
	return &Slack{opts: opts, client: client}
}

type slackMessage struct {
	Text      string `json:"text"`
	Username  string `json:"username,omitempty"`
	IconEmoji string `json:"icon_emoji,omitempty"`
	Channel   string `json:"channel,omitempty"`
}

// Notify posts a message announcing ev.Upload. Any status other than 200 is
// an error.
func (s *Slack) Notify(ctx context.Context, ev fastpass.UploadEvent) error {
	body, err := json.Marshal(slackMessage{
		Text:      Message(ev.Upload),
		Username:  s.opts.Username,
		IconEmoji: s.opts.IconEmoji,
		Channel:   s.opts.Channel,
	})
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("slack: webhook returned HTTP %d: %s", resp.StatusCode, text)
	}
	return nil
}

// Message renders the text announcing u.
func Message(u fastpass.UploadRecord) string {
	return fmt.Sprintf("New %s upload: *%s* https://youtu.be/%s", u.Privacy, u.Title, u.ID)
}

// normalizeEmoji wraps name in colons, so "tada" and ":tada:" are equal.
func normalizeEmoji(name string) string {
	if name == "" {
		return ""
	}
	if !strings.HasPrefix(name, ":") {
		name = ":" + name
	}
	if !strings.HasSuffix(name, ":") {
		name += ":"
	}
	return name
}

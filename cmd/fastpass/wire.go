package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	fastpass "github.com/eugener/fastpass/internal"
	"github.com/eugener/fastpass/internal/cache"
	"github.com/eugener/fastpass/internal/cloudauth"
	"github.com/eugener/fastpass/internal/config"
	"github.com/eugener/fastpass/internal/notify"
)

// openCache builds the configured cache backend. ping backs the readiness
// probe; closeFn releases backend connections.
func openCache(cfg config.CacheConfig, clock fastpass.Clock) (store cache.Store, ping func(context.Context) error, closeFn func(), err error) {
	switch cfg.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		r := cache.NewRedis(client, clock, cache.RedisOptions{
			Namespace:      cfg.Redis.Namespace,
			StaleRetention: cfg.Redis.StaleRetention,
		})
		closeFn = func() {
			if err := client.Close(); err != nil {
				slog.Warn("redis close failed", "error", err)
			}
		}
		return r, r.Ping, closeFn, nil
	default:
		m, err := cache.NewMemory(clock)
		if err != nil {
			return nil, nil, nil, err
		}
		return m, func(context.Context) error { return nil }, func() {}, nil
	}
}

// youtubeTransport authenticates video platform calls with OAuth when a
// refresh token is configured, else with the API key.
func youtubeTransport(ctx context.Context, cfg config.YouTubeConfig, base http.RoundTripper, tokenClient *http.Client) (http.RoundTripper, error) {
	switch {
	case cfg.UsesOAuth():
		t, err := cloudauth.NewRefreshTokenTransport(ctx, base, tokenClient, cloudauth.RefreshTokenConfig{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RefreshToken: cfg.RefreshToken,
			Scopes:       []string{cloudauth.YouTubeReadOnlyScope},
		})
		if err != nil {
			return nil, fmt.Errorf("youtube auth: %w", err)
		}
		return t, nil
	case cfg.APIKey != "":
		return &cloudauth.APIKeyTransport{
			Key:        cfg.APIKey,
			HeaderName: cloudauth.GoogleAPIKeyHeader,
			Base:       base,
		}, nil
	default:
		slog.Warn("youtube credentials not configured, requests will be rejected upstream")
		return base, nil
	}
}

func newNotifier(cfg config.SlackConfig, client *http.Client) fastpass.Notifier {
	if cfg.WebhookURL == "" {
		slog.Info("slack webhook not configured, upload notifications are logged only")
		return notify.Log{}
	}
	return notify.NewSlack(notify.SlackOptions{
		WebhookURL: cfg.WebhookURL,
		Channel:    cfg.Channel,
		Username:   cfg.Username,
		IconEmoji:  cfg.IconEmoji,
	}, client)
}

// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Cache backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config is the top-level proxy configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Cache          CacheConfig          `yaml:"cache"`
	Database       DatabaseConfig       `yaml:"database"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Sources        SourcesConfig        `yaml:"sources"`
	Broadcasts     BroadcastsConfig     `yaml:"broadcasts"`
	Uploads        UploadsConfig        `yaml:"uploads"`
	Notify         NotifyConfig         `yaml:"notify"`
	Ledger         LedgerConfig         `yaml:"ledger"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	UpstreamTimeout time.Duration `yaml:"upstream_timeout"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Backend     string        `yaml:"backend"` // "memory" or "redis"
	DefaultTTL  time.Duration `yaml:"default_ttl"`
	NegativeTTL time.Duration `yaml:"negative_ttl"` // 0 disables negative caching
	MinTTL      time.Duration `yaml:"min_ttl"`
	Redis       RedisConfig   `yaml:"redis"`
}

// RedisConfig holds settings for the redis cache backend.
type RedisConfig struct {
	Addr           string        `yaml:"addr"`
	Password       string        `yaml:"password"`
	DB             int           `yaml:"db"`
	Namespace      string        `yaml:"namespace"`
	StaleRetention time.Duration `yaml:"stale_retention"` // 0 keeps entries until cleared
}

// DatabaseConfig holds SQLite settings for the notification ledger.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// CircuitBreakerConfig tunes the per-source breakers.
type CircuitBreakerConfig struct {
	ErrorThreshold float64       `yaml:"error_threshold"`
	MinSamples     int           `yaml:"min_samples"`
	Window         time.Duration `yaml:"window"`
	OpenTimeout    time.Duration `yaml:"open_timeout"`
}

// SourcesConfig groups the upstream definitions.
type SourcesConfig struct {
	WordPress WordPressConfig `yaml:"wordpress"`
	Airtime   AirtimeConfig   `yaml:"airtime"`
	YouTube   YouTubeConfig   `yaml:"youtube"`
}

// WordPressConfig points at a WordPress site.
type WordPressConfig struct {
	BaseURL      string `yaml:"base_url"`
	PostsPerPage int    `yaml:"posts_per_page"`
	UserAgent    string `yaml:"user_agent"`
	MaxRPM       int64  `yaml:"max_rpm"` // 0 = unlimited
}

// AirtimeConfig points at an Airtime radio station.
type AirtimeConfig struct {
	BaseURL    string `yaml:"base_url"`
	TimeLayout string `yaml:"time_layout"` // layout of current.ends
	TimeZone   string `yaml:"time_zone"`   // IANA name, empty means UTC
	MaxRPM     int64  `yaml:"max_rpm"`     // 0 = unlimited
}

// YouTubeConfig holds video platform credentials. OAuth is used when client
// credentials and a refresh token are set, the API key otherwise.
type YouTubeConfig struct {
	BaseURL           string `yaml:"base_url"`
	ClientID          string `yaml:"client_id"`
	ClientSecret      string `yaml:"client_secret"`
	RefreshToken      string `yaml:"refresh_token"`
	APIKey            string `yaml:"api_key"`
	UploadsPlaylistID string `yaml:"uploads_playlist_id"`
	MaxResults        int    `yaml:"max_results"`
	MaxRPM            int64  `yaml:"max_rpm"` // 0 = unlimited
}

// UsesOAuth reports whether the refresh-token flow is configured.
func (y YouTubeConfig) UsesOAuth() bool {
	return y.ClientID != "" && y.ClientSecret != "" && y.RefreshToken != ""
}

// BroadcastsConfig tunes broadcast aggregation.
type BroadcastsConfig struct {
	IncludeUnlisted bool          `yaml:"include_unlisted"` // default for /youtube without ?unlisted
	UpcomingHorizon time.Duration `yaml:"upcoming_horizon"`
	PurgeStarted    bool          `yaml:"purge_started"`
}

// UploadsConfig tunes the recent uploads resource and its watcher.
type UploadsConfig struct {
	Window       time.Duration `yaml:"window"`
	UnlistedOnly bool          `yaml:"unlisted_only"`
	PollInterval time.Duration `yaml:"poll_interval"` // 0 disables the watcher
}

// NotifyConfig configures upload notifications.
type NotifyConfig struct {
	Slack SlackConfig `yaml:"slack"`
}

// SlackConfig configures the Slack webhook notifier. An empty webhook URL
// logs notifications instead of sending them.
type SlackConfig struct {
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
	Username   string `yaml:"username"`
	IconEmoji  string `yaml:"icon_emoji"`
}

// LedgerConfig controls notification ledger retention.
type LedgerConfig struct {
	Retention time.Duration `yaml:"retention"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Default returns the configuration used for every field a file omits.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			UpstreamTimeout: 15 * time.Second,
		},
		Cache: CacheConfig{
			Backend:     BackendMemory,
			DefaultTTL:  180 * time.Second,
			NegativeTTL: 15 * time.Second,
			MinTTL:      5 * time.Second,
			Redis: RedisConfig{
				Addr:      "localhost:6379",
				Namespace: "fastpass:",
			},
		},
		Database: DatabaseConfig{
			DSN: "fastpass.db",
		},
		CircuitBreaker: CircuitBreakerConfig{
			ErrorThreshold: 0.5,
			MinSamples:     5,
			Window:         60 * time.Second,
			OpenTimeout:    30 * time.Second,
		},
		Sources: SourcesConfig{
			WordPress: WordPressConfig{PostsPerPage: 30, UserAgent: "fastpass"},
			Airtime:   AirtimeConfig{TimeLayout: time.DateTime},
			YouTube:   YouTubeConfig{MaxResults: 10, MaxRPM: 60},
		},
		Broadcasts: BroadcastsConfig{
			UpcomingHorizon: 24 * time.Hour,
			PurgeStarted:    true,
		},
		Uploads: UploadsConfig{
			Window:       5 * time.Minute,
			UnlistedOnly: true,
		},
		Notify: NotifyConfig{
			Slack: SlackConfig{Username: "fastpass", IconEmoji: ":movie_camera:"},
		},
		Ledger: LedgerConfig{
			Retention: 7 * 24 * time.Hour,
		},
	}
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate rejects settings the proxy cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Cache.Backend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("cache.backend %q: want %q or %q", c.Cache.Backend, BackendMemory, BackendRedis))
	}
	if c.Cache.DefaultTTL <= 0 {
		errs = append(errs, errors.New("cache.default_ttl must be positive"))
	}
	if c.Cache.MinTTL <= 0 {
		errs = append(errs, errors.New("cache.min_ttl must be positive"))
	}
	if c.Cache.NegativeTTL < 0 {
		errs = append(errs, errors.New("cache.negative_ttl must not be negative"))
	}
	if c.Uploads.Window <= 0 {
		errs = append(errs, errors.New("uploads.window must be positive"))
	}
	if c.Uploads.PollInterval < 0 {
		errs = append(errs, errors.New("uploads.poll_interval must not be negative"))
	}
	if c.Ledger.Retention <= c.Uploads.Window {
		errs = append(errs, errors.New("ledger.retention must exceed uploads.window"))
	}
	if c.Broadcasts.UpcomingHorizon <= 0 {
		errs = append(errs, errors.New("broadcasts.upcoming_horizon must be positive"))
	}
	if c.Sources.WordPress.MaxRPM < 0 || c.Sources.Airtime.MaxRPM < 0 || c.Sources.YouTube.MaxRPM < 0 {
		errs = append(errs, errors.New("sources.*.max_rpm must not be negative"))
	}
	if c.CircuitBreaker.ErrorThreshold <= 0 || c.CircuitBreaker.ErrorThreshold > 1 {
		errs = append(errs, errors.New("circuit_breaker.error_threshold must be in (0, 1]"))
	}
	if c.Sources.Airtime.TimeZone != "" {
		if _, err := time.LoadLocation(c.Sources.Airtime.TimeZone); err != nil {
			errs = append(errs, fmt.Errorf("sources.airtime.time_zone: %w", err))
		}
	}
	return errors.Join(errs...)
}

// AirtimeLocation returns the zone the airtime end timestamp is read in.
func (c *Config) AirtimeLocation() *time.Location {
	if c.Sources.Airtime.TimeZone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.Sources.Airtime.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

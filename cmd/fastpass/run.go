package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/dnscache"

	fastpass "github.com/eugener/fastpass/internal"
	"github.com/eugener/fastpass/internal/app"
	"github.com/eugener/fastpass/internal/broadcast"
	"github.com/eugener/fastpass/internal/cache"
	"github.com/eugener/fastpass/internal/circuitbreaker"
	"github.com/eugener/fastpass/internal/config"
	"github.com/eugener/fastpass/internal/expiry"
	"github.com/eugener/fastpass/internal/ratelimit"
	"github.com/eugener/fastpass/internal/server"
	"github.com/eugener/fastpass/internal/source"
	"github.com/eugener/fastpass/internal/source/airtime"
	"github.com/eugener/fastpass/internal/source/wordpress"
	"github.com/eugener/fastpass/internal/source/youtube"
	"github.com/eugener/fastpass/internal/storage/sqlite"
	"github.com/eugener/fastpass/internal/telemetry"
	"github.com/eugener/fastpass/internal/worker"
)

const dnsRefreshInterval = 5 * time.Minute

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting fastpass", "version", version, "addr", cfg.Server.Addr, "cache", cfg.Cache.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Telemetry
	if cfg.Telemetry.Tracing.Enabled {
		shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TracingOptions{
			Endpoint:       cfg.Telemetry.Tracing.Endpoint,
			SampleRate:     cfg.Telemetry.Tracing.SampleRate,
			ServiceVersion: version,
		})
		if err != nil {
			return err
		}
		defer shutdownTracing(context.Background())
	}

	var (
		reg            *prometheus.Registry
		metrics        *telemetry.Metrics
		metricsHandler http.Handler
	)
	if cfg.Telemetry.Metrics.Enabled {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	// Open notification ledger
	ledger, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer ledger.Close()

	// Cache
	clock := fastpass.SystemClock{}
	store, pingCache, closeCache, err := openCache(cfg.Cache, clock)
	if err != nil {
		return err
	}
	defer closeCache()
	if mem, ok := store.(*cache.Memory); ok && reg != nil {
		telemetry.RegisterCacheEntries(reg, mem.Len)
	}

	policy := expiry.New(clock, expiry.Config{
		DefaultTTL:  cfg.Cache.DefaultTTL,
		NegativeTTL: cfg.Cache.NegativeTTL,
		MinTTL:      cfg.Cache.MinTTL,
	})
	loader := app.NewLoader(store, policy, metrics)

	// Upstream sources
	resolver := &dnscache.Resolver{}
	transport := source.NewTransport(resolver)
	httpClient := source.NewClient(transport, cfg.Server.UpstreamTimeout)
	limits := ratelimit.NewRegistry(clock, map[string]int64{
		wordpress.SourceName: cfg.Sources.WordPress.MaxRPM,
		airtime.SourceName:   cfg.Sources.Airtime.MaxRPM,
		youtube.SourceName:   cfg.Sources.YouTube.MaxRPM,
	})
	guard := source.NewGuard(limits, circuitbreaker.NewRegistry(clock, circuitbreaker.Config{
		ErrorThreshold: cfg.CircuitBreaker.ErrorThreshold,
		MinSamples:     cfg.CircuitBreaker.MinSamples,
		Window:         cfg.CircuitBreaker.Window,
		OpenTimeout:    cfg.CircuitBreaker.OpenTimeout,
	}), metrics)

	posts := wordpress.New(wordpress.Options{
		BaseURL:   cfg.Sources.WordPress.BaseURL,
		PerPage:   cfg.Sources.WordPress.PostsPerPage,
		UserAgent: cfg.Sources.WordPress.UserAgent,
	}, httpClient, guard)
	radio := airtime.New(cfg.Sources.Airtime.BaseURL, httpClient, guard)

	ytTransport, err := youtubeTransport(ctx, cfg.Sources.YouTube, transport, httpClient)
	if err != nil {
		return err
	}
	yt := youtube.New(youtube.Options{
		BaseURL:           cfg.Sources.YouTube.BaseURL,
		UploadsPlaylistID: cfg.Sources.YouTube.UploadsPlaylistID,
		MaxResults:        cfg.Sources.YouTube.MaxResults,
	}, source.NewClient(ytTransport, cfg.Server.UpstreamTimeout), guard)

	// Notifications
	dispatcher := worker.NewDispatcher(ledger, newNotifier(cfg.Notify.Slack, httpClient), clock, metrics)

	// Wire services
	radioRule := expiry.Rule{
		StatusPath: "current.type",
		OpenEnded:  []string{"livestream"},
		EndPath:    "current.ends",
		Layout:     cfg.Sources.Airtime.TimeLayout,
		Location:   cfg.AirtimeLocation(),
	}
	aggregator := broadcast.New(clock, store, broadcast.Options{
		Horizon:      cfg.Broadcasts.UpcomingHorizon,
		PurgeStarted: cfg.Broadcasts.PurgeStarted,
	})
	content := app.NewContentService(loader, policy, posts, radio, radioRule)
	broadcasts := app.NewBroadcastService(loader, policy, yt, aggregator)
	uploads := app.NewUploadService(loader, policy, clock, yt, dispatcher)
	admin := app.NewCacheAdmin(loader)

	// Background workers
	workers := []worker.Worker{
		dispatcher,
		worker.NewLedgerPruner(ledger, clock, cfg.Ledger.Retention),
		worker.NewDNSRefresher(resolver, dnsRefreshInterval),
		config.NewWatcher(configPath, func(next *config.Config) {
			policy.SetDefaultTTL(next.Cache.DefaultTTL)
			admin.Clear(context.Background())
			slog.Info("default ttl applied", "default_ttl", next.Cache.DefaultTTL)
		}),
	}
	if cfg.Uploads.PollInterval > 0 {
		workers = append(workers, worker.NewUploadWatcher(uploads, cfg.Uploads.PollInterval, cfg.Uploads.Window, cfg.Uploads.UnlistedOnly))
	}
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	workersDone := make(chan error, 1)
	go func() {
		workersDone <- worker.NewRunner(workers...).Run(workerCtx)
	}()

	// Create HTTP server
	handler := server.New(server.Deps{
		Content:    content,
		Broadcasts: broadcasts,
		Uploads:    uploads,
		Admin:      admin,
		Defaults: server.Defaults{
			IncludeUnlisted: cfg.Broadcasts.IncludeUnlisted,
			UploadWindow:    cfg.Uploads.Window,
			UnlistedOnly:    cfg.Uploads.UnlistedOnly,
		},
		ReadyCheck: func(ctx context.Context) error {
			if err := ledger.Ping(ctx); err != nil {
				return fmt.Errorf("ledger: %w", err)
			}
			if err := pingCache(ctx); err != nil {
				return fmt.Errorf("cache: %w", err)
			}
			return nil
		},
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("fastpass ready", "addr", cfg.Server.Addr)

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutting down")
	case err := <-errCh:
		runErr = err
	case err := <-workersDone:
		slog.Error("workers stopped", "error", err)
		runErr = err
		workersDone = nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && runErr == nil {
		runErr = err
	}

	// Workers stop after the server so queued notifications drain.
	cancelWorkers()
	if workersDone != nil {
		<-workersDone
	}

	slog.Info("fastpass stopped")
	return runErr
}

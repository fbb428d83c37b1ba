package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eugener/eventsync/internal/config"
	"github.com/eugener/eventsync/internal/credentials"
	"github.com/eugener/eventsync/internal/explore"
	"github.com/eugener/eventsync/internal/health"
	"github.com/eugener/eventsync/internal/ingest"
	"github.com/eugener/eventsync/internal/logging"
	"github.com/eugener/eventsync/internal/metrics"
	"github.com/eugener/eventsync/internal/orchestrator"
	"github.com/eugener/eventsync/internal/ratelimit"
	"github.com/eugener/eventsync/internal/retry"
	"github.com/eugener/eventsync/internal/source"
	"github.com/eugener/eventsync/internal/storage/postgres"
	"github.com/eugener/eventsync/internal/submit"
	"github.com/eugener/eventsync/internal/transport"
	"github.com/eugener/eventsync/internal/worker"
	"github.com/eugener/eventsync/internal/writequeue"
)

// browserUserAgent and the stream-credential cookie name are fixed
// constants, not environment options: the upstream endpoint expects a
// specific browser-mimicking shape, not a configurable one.
const (
	browserUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
	streamCookieName = "dashboard_api_key"
	streamAccessPath = "/internal/dashboard/stream-access"
)

func run() error {
	logging.Setup()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	origin, err := originOf(cfg.APIBaseURL)
	if err != nil {
		return fmt.Errorf("parse API_BASE_URL: %w", err)
	}

	slog.Info("starting eventsync", "version", version, "mode", cfg.Mode, "partitions", cfg.PartitionCount)

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()

	poolWidth := cfg.PartitionCount + cfg.DBWriteConcurrency + 2
	client := transport.New(ctx, transport.Config{
		PoolWidth:      poolWidth,
		RequestTimeout: time.Duration(cfg.RequestTimeoutMs) * time.Millisecond,
	})

	store, err := postgres.New(ctx, postgres.Config{
		DSN:               cfg.DatabaseURL,
		MaxConns:          int32(poolWidth),
		SynchronousCommit: cfg.PGSyncCommit,
	})
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer store.Close()

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promRegistry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(promRegistry)
	throughput := metrics.NewThroughput(nil)

	healthSrv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.HealthPort),
		Handler: health.New(health.Deps{
			ReadyCheck:     store.Ping,
			StatsProvider:  statsProvider(store, throughput),
			MetricsHandler: promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	healthRunner := worker.NewRunner(&httpServerWorker{name: "health-server", srv: healthSrv})
	healthDone := make(chan error, 1)
	go func() { healthDone <- healthRunner.Run(ctx) }()
	slog.Info("health surface listening", "addr", healthSrv.Addr)

	creds := credentials.New(credentials.Config{
		Endpoint:      origin + streamAccessPath,
		CookieName:    streamCookieName,
		CookieValue:   cfg.TargetAPIKey,
		APIKey:        cfg.TargetAPIKey,
		BrowserOrigin: origin,
		BrowserRef:    origin + "/",
		UserAgent:     browserUserAgent,
	}, client, nil)

	limiter := ratelimit.New()

	retryCfg := retry.Config{
		MaxAttempts: cfg.MaxRetries,
		BaseDelay:   time.Duration(cfg.RetryBaseMs) * time.Millisecond,
		MaxDelay:    time.Duration(cfg.RetryMaxMs) * time.Millisecond,
	}
	evSource := source.New(source.Config{
		FallbackURL:   cfg.APIBaseURL + "/events",
		APIKey:        cfg.TargetAPIKey,
		BrowserOrigin: origin,
		BrowserRef:    origin + "/",
		RetryConfig:   retryCfg,
	}, client, creds, limiter)

	if cfg.Mode == config.ModeExplore {
		slog.Info("running explore probe")
		return explore.Run(ctx, evSource, time.Now().UnixMilli())
	}

	queue := writequeue.New(store, writequeue.Config{
		Concurrency: cfg.DBWriteConcurrency,
		Backlog:     cfg.MaxPendingWrites,
	})

	orch := &orchestrator.Orchestrator{
		Config: orchestrator.Config{
			TsMin:               cfg.MinTimestampMs,
			TsMax:               cfg.MaxTimestampMs,
			PartitionCount:      cfg.PartitionCount,
			BatchSize:           cfg.BatchSize,
			ProgressLogInterval: time.Duration(cfg.ProgressLogIntervalMs) * time.Millisecond,
		},
		Checkpoints: store,
		Source:      evSource,
		Queue:       queue,
		Metrics:     m,
		Throughput:  throughput,
	}

	runErr := orch.Run(ctx)

	if runErr == nil && cfg.AutoSubmit {
		submitter := submit.New(submit.Config{
			Origin:        origin,
			GithubRepoURL: cfg.GithubRepoURL,
		}, client, store)
		if err := submitter.Submit(context.Background(), nil); err != nil {
			slog.Error("submission failed", "error", err)
			runErr = err
		}
	}

	stopSignals()
	if err := <-healthDone; err != nil {
		slog.Error("health server failed", "error", err)
	}

	if runErr != nil {
		return fmt.Errorf("ingestion run: %w", runErr)
	}

	slog.Info("ingestion complete")
	return nil
}

// statsProvider builds a health.StatsProvider from the checkpoint
// repository and the shared throughput tracker, reading totals and
// running-worker count fresh from checkpoints rather than the
// orchestrator's in-memory progress tracker, which is scoped to one run.
func statsProvider(checkpoints ingest.CheckpointRepository, throughput *metrics.Throughput) health.StatsProvider {
	return func(ctx context.Context) (health.Stats, error) {
		all, err := checkpoints.LoadAll(ctx)
		if err != nil {
			return health.Stats{}, err
		}
		var totalInserted int64
		var activeWorkers int
		for _, cp := range all {
			totalInserted += cp.InsertedCount
			if cp.Status == ingest.StatusRunning {
				activeWorkers++
			}
		}
		return health.Stats{
			TotalInserted: totalInserted,
			ThroughputEPS: throughput.Peek(),
			ActiveWorkers: activeWorkers,
		}, nil
	}
}

// originOf returns the scheme+host portion of a base URL, stripping any
// path -- the stream-credential and submission endpoints are mounted at
// the API's origin rather than under /api/v1.
func originOf(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return u.Scheme + "://" + u.Host, nil
}

// httpServerWorker adapts an *http.Server to worker.Worker so the health
// surface's lifecycle is managed by the same errgroup-backed runner the
// teacher uses for its background workers, shutting down on ctx
// cancellation instead of running unsupervised.
type httpServerWorker struct {
	name string
	srv  *http.Server
}

func (w *httpServerWorker) Name() string { return w.name }

func (w *httpServerWorker) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := w.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		w.srv.Shutdown(shutdownCtx)
		<-errCh
		return nil
	case err := <-errCh:
		return err
	}
}

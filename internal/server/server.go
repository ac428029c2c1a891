// Package server assembles the docharvest service from configuration and
// runs it: provider-backed infrastructure, the crawl worker pool, and the
// HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/docharvest/docharvest/internal/api"
	archivegcs "github.com/docharvest/docharvest/internal/archive/gcs"
	archivelocal "github.com/docharvest/docharvest/internal/archive/local"
	archivememory "github.com/docharvest/docharvest/internal/archive/memory"
	"github.com/docharvest/docharvest/internal/clock/system"
	"github.com/docharvest/docharvest/internal/config"
	"github.com/docharvest/docharvest/internal/crawl"
	"github.com/docharvest/docharvest/internal/fetch"
	"github.com/docharvest/docharvest/internal/fetch/file"
	"github.com/docharvest/docharvest/internal/fetch/headless"
	"github.com/docharvest/docharvest/internal/fetch/web"
	"github.com/docharvest/docharvest/internal/hash/sha256"
	"github.com/docharvest/docharvest/internal/id/uuid"
	"github.com/docharvest/docharvest/internal/logging"
	"github.com/docharvest/docharvest/internal/pipeline"
	"github.com/docharvest/docharvest/internal/progress"
	progresssinks "github.com/docharvest/docharvest/internal/progress/sinks"
	publishermemory "github.com/docharvest/docharvest/internal/publisher/memory"
	publisherpubsub "github.com/docharvest/docharvest/internal/publisher/pubsub"
	queuememory "github.com/docharvest/docharvest/internal/queue/memory"
	queuepubsub "github.com/docharvest/docharvest/internal/queue/pubsub"
	"github.com/docharvest/docharvest/internal/scraper"
	storememory "github.com/docharvest/docharvest/internal/store/memory"
	storepostgres "github.com/docharvest/docharvest/internal/store/postgres"
	"github.com/docharvest/docharvest/internal/worker"
)

// App contains the service's long-lived components.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	apiServer *api.Server
	pool      *worker.Pool
	registry  *prometheus.Registry

	store scraper.CrawlStore
	queue scraper.Queue
	hub   *progress.Hub

	// Concrete handles kept for shutdown. At most one queue and one of
	// each provider pair is non-nil.
	memQueue    *queuememory.Queue
	psQueue     *queuepubsub.Queue
	psPublisher *publisherpubsub.Publisher
	gcsArchive  *archivegcs.Store
	pgStore     *storepostgres.Store
	engine      *headless.Engine
}

// Build creates the application's dependencies. Infrastructure backends
// are chosen by their config provider; on error, anything already opened
// is closed before returning.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	app.logger.Info("building application dependencies",
		zap.String("addr", cfg.Server.Addr),
		zap.String("store", cfg.Store.Provider),
		zap.String("queue", cfg.Queue.Provider),
		zap.String("archive", cfg.Archive.Provider),
	)
	if err := app.build(ctx); err != nil {
		app.closeInfrastructure(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	archive, err := setupArchive(ctx, a)
	if err != nil {
		return err
	}
	if err := setupStore(ctx, a); err != nil {
		return err
	}
	publisher, err := setupPublisher(ctx, a)
	if err != nil {
		return err
	}
	if err := setupQueue(ctx, a); err != nil {
		return err
	}
	if err := setupProgress(a); err != nil {
		return err
	}
	renderer, err := setupRenderer(a)
	if err != nil {
		return err
	}

	pipelineLogger := a.logger.Named("pipeline")
	clk := system.New()
	orchestrator, err := crawl.New(crawl.Deps{
		Fetcher: setupFetcher(a.cfg),
		Pipelines: []scraper.Pipeline{
			pipeline.NewHTML(renderer, pipelineLogger),
			pipeline.NewMarkdown(pipelineLogger),
			pipeline.NewJSON(pipelineLogger),
		},
		Logger:        a.logger.Named("crawl"),
		Archive:       archive,
		ArchivePrefix: a.cfg.Archive.Prefix,
		Publisher:     publisher,
		PublishTopic:  a.cfg.Publish.Topic,
		Events:        a.hub,
		OnPage:        worker.PageRecorder(a.store, a.logger.Named("worker")),
		Hasher:        sha256.New(),
		Clock:         clk,
		IDs:           uuid.New(),
	})
	if err != nil {
		return fmt.Errorf("orchestrator init failed: %w", err)
	}

	a.pool, err = worker.New(a.queue, a.store, orchestrator,
		worker.Config{Concurrency: a.cfg.Worker.Concurrency},
		a.logger.Named("worker"))
	if err != nil {
		return fmt.Errorf("worker pool init failed: %w", err)
	}

	a.apiServer = api.NewServer(a.store, a.queue, a.pool, uuid.New(), clk,
		a.registry, a.cfg, a.logger.Named("api"))
	return nil
}

// Handler exposes the HTTP API for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the worker pool and the HTTP server and blocks until the
// context is canceled or a SIGINT/SIGTERM arrives, then drains both and
// closes the infrastructure.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poolDone := make(chan struct{})
	go func() {
		defer close(poolDone)
		if err := a.pool.Run(ctx); err != nil {
			a.logger.Error("worker pool error", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("http server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownGrace())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown error", zap.Error(err))
	}
	select {
	case <-poolDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("worker pool did not drain before deadline")
	}
	return a.Close(shutdownCtx)
}

// Close shuts the queue first so no worker can pick up new submissions,
// then releases the remaining infrastructure and flushes the logger.
func (a *App) Close(ctx context.Context) error {
	a.closeQueue()
	a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
	_ = a.logger.Sync()
	return nil
}

func (a *App) closeQueue() {
	if a.memQueue != nil {
		a.memQueue.Close()
	}
	if a.psQueue != nil {
		if err := a.psQueue.Close(); err != nil {
			a.logger.Warn("queue close failed", zap.Error(err))
		}
	}
	a.memQueue = nil
	a.psQueue = nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
		a.hub = nil
	}
	if a.engine != nil {
		if err := a.engine.Close(); err != nil {
			a.logger.Warn("headless engine close failed", zap.Error(err))
		}
		a.engine = nil
	}
	if a.psPublisher != nil {
		if err := a.psPublisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
		a.psPublisher = nil
	}
	if a.gcsArchive != nil {
		if err := a.gcsArchive.Close(); err != nil {
			a.logger.Warn("gcs archive close failed", zap.Error(err))
		}
		a.gcsArchive = nil
	}
	if a.pgStore != nil {
		a.pgStore.Close()
		a.pgStore = nil
	}
}

func setupArchive(ctx context.Context, app *App) (scraper.ArchiveStore, error) {
	switch app.cfg.Archive.Provider {
	case config.ProviderNone:
		return nil, nil
	case config.ProviderMemory:
		app.logger.Info("using in-memory archive")
		return archivememory.New(), nil
	case config.ProviderLocal:
		app.logger.Info("using local archive", zap.String("dir", app.cfg.Archive.BaseDir))
		st, err := archivelocal.New(app.cfg.Archive.Local())
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		return st, nil
	case config.ProviderGCS:
		app.logger.Info("using GCS archive", zap.String("bucket", app.cfg.Archive.Bucket))
		st, err := archivegcs.Dial(ctx, app.cfg.Archive.GCS())
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		app.gcsArchive = st
		return st, nil
	default:
		return nil, fmt.Errorf("unknown archive provider %q", app.cfg.Archive.Provider)
	}
}

func setupStore(ctx context.Context, app *App) error {
	switch app.cfg.Store.Provider {
	case config.ProviderMemory:
		app.logger.Info("using in-memory crawl store")
		app.store = storememory.New()
		return nil
	case config.ProviderPostgres:
		app.logger.Info("using postgres crawl store")
		st, err := storepostgres.New(ctx, app.cfg.Store.Postgres())
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		app.pgStore = st
		app.store = st
		return nil
	default:
		return fmt.Errorf("unknown store provider %q", app.cfg.Store.Provider)
	}
}

func setupPublisher(ctx context.Context, app *App) (scraper.Publisher, error) {
	switch app.cfg.Publish.Provider {
	case config.ProviderNone:
		return nil, nil
	case config.ProviderMemory:
		app.logger.Info("using in-memory publisher")
		return publishermemory.New(), nil
	case config.ProviderPubSub:
		app.logger.Info("using Pub/Sub publisher",
			zap.String("project", app.cfg.Publish.ProjectID),
			zap.String("topic", app.cfg.Publish.Topic))
		pub, err := publisherpubsub.Dial(ctx, app.cfg.Publish.PubSub())
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		app.psPublisher = pub
		return pub, nil
	default:
		return nil, fmt.Errorf("unknown publish provider %q", app.cfg.Publish.Provider)
	}
}

func setupQueue(ctx context.Context, app *App) error {
	switch app.cfg.Queue.Provider {
	case config.ProviderMemory:
		app.logger.Info("using in-memory crawl queue", zap.Int("depth", app.cfg.Queue.Depth))
		q := queuememory.NewQueue(app.cfg.Queue.Depth)
		app.memQueue = q
		app.queue = q
		return nil
	case config.ProviderPubSub:
		app.logger.Info("using Pub/Sub crawl queue",
			zap.String("project", app.cfg.Queue.ProjectID),
			zap.String("subscription", app.cfg.Queue.Subscription))
		q, err := queuepubsub.Dial(ctx, app.cfg.Queue.PubSub(), app.logger.Named("queue"))
		if err != nil {
			return fmt.Errorf("pubsub queue init failed: %w", err)
		}
		app.psQueue = q
		app.queue = q
		return nil
	default:
		return fmt.Errorf("unknown queue provider %q", app.cfg.Queue.Provider)
	}
}

func setupProgress(app *App) error {
	progressLogger := app.logger.Named("progress")
	promSink, err := progresssinks.NewPrometheusSink(app.registry)
	if err != nil {
		return fmt.Errorf("prometheus sink init failed: %w", err)
	}
	app.hub = progress.NewHub(progress.Config{Logger: progressLogger},
		progresssinks.NewLogSink(progressLogger),
		promSink,
	)
	return nil
}

func setupRenderer(app *App) (scraper.Renderer, error) {
	if !app.cfg.Headless.Enabled {
		return headless.NewNoop(), nil
	}
	engine, err := headless.New(headless.Config{
		MaxParallel:       app.cfg.Headless.MaxTabs,
		UserAgent:         app.cfg.Fetch.UserAgent,
		NavigationTimeout: app.cfg.Headless.NavTimeout(),
	}, app.logger.Named("headless"))
	if err != nil {
		return nil, fmt.Errorf("headless engine init failed: %w", err)
	}
	app.logger.Info("headless rendering enabled", zap.Int("max_tabs", app.cfg.Headless.MaxTabs))
	app.engine = engine
	return engine, nil
}

func setupFetcher(cfg config.Config) scraper.Fetcher {
	webFetcher := web.New(web.Config{
		UserAgent:     cfg.Fetch.UserAgent,
		Timeout:       cfg.Fetch.Timeout(),
		MaxBodySize:   cfg.Fetch.MaxBodyBytes,
		RespectRobots: cfg.Fetch.RespectRobots,
	})
	return fetch.NewRouter(webFetcher, file.New())
}

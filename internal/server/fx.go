// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/storyprogress/internal/api"
	"github.com/JakeFAU/storyprogress/internal/carousel"
	"github.com/JakeFAU/storyprogress/internal/clock/system"
	"github.com/JakeFAU/storyprogress/internal/config"
	idgen "github.com/JakeFAU/storyprogress/internal/id/uuid"
	"github.com/JakeFAU/storyprogress/internal/logging"
	"github.com/JakeFAU/storyprogress/internal/loop"
	"github.com/JakeFAU/storyprogress/internal/metrics"
	"github.com/JakeFAU/storyprogress/internal/policy/ratelimit"
	"github.com/JakeFAU/storyprogress/internal/progress"
	progresssinks "github.com/JakeFAU/storyprogress/internal/progress/sinks"
	"github.com/JakeFAU/storyprogress/internal/publisher"
	memorypublisher "github.com/JakeFAU/storyprogress/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/storyprogress/internal/publisher/pubsub"
	blobstorage "github.com/JakeFAU/storyprogress/internal/storage"
	gcsstorage "github.com/JakeFAU/storyprogress/internal/storage/gcs"
	localstorage "github.com/JakeFAU/storyprogress/internal/storage/local"
	memorystorage "github.com/JakeFAU/storyprogress/internal/storage/memory"
	pgstore "github.com/JakeFAU/storyprogress/internal/storage/postgres"
	"github.com/JakeFAU/storyprogress/internal/store"
	"github.com/JakeFAU/storyprogress/internal/telemetry"
)

const serviceName = "storyd"

// App contains the application's dependencies.
type App struct {
	cfg            *config.Config
	logger         *zap.Logger
	apiServer      *api.Server
	loop           *loop.Loop
	sessions       *carousel.Manager
	progressHub    *progress.Hub
	pubsubClient   *pubsub.Client
	gcpPublisher   *gcppublisher.Publisher
	storage        *storage.Client
	pgViews        *pgstore.ViewStore
	viewRepo       store.ViewRepository
	blobs          blobstorage.BlobStore
	tracerShutdown func(context.Context) error
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.Duration("segment_duration", cfg.Story.SegmentDuration),
		zap.Int("ticks_per_second", cfg.Story.TicksPerSecond),
		zap.String("storage_backend", cfg.Storage.Backend),
	)
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Sessions exposes the carousel manager.
func (a *App) Sessions() *carousel.Manager {
	return a.sessions
}

// Run starts the HTTP server and blocks until the context is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close tears down sessions first so every timer is released and every
// cancel event reaches the sinks, then flushes and closes infrastructure.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.sessions != nil {
		if err := a.sessions.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.loop != nil {
		if err := a.loop.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.gcpPublisher != nil {
		a.gcpPublisher.Close()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pgViews != nil {
		a.pgViews.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	//nolint:errcheck // stderr sync fails on some platforms
	a.logger.Sync()
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	metrics.Init()

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, serviceName, cfg.Tracing.SampleRatio)
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
		app.tracerShutdown = tp.Shutdown
	}

	app.logger.Info("building application dependencies")
	if app.blobs, err = setupStorage(ctx, app); err != nil {
		return nil, err
	}
	if err = setupDatabase(ctx, app); err != nil {
		return nil, err
	}
	pub, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	emitter, err := setupProgress(ctx, app, pub)
	if err != nil {
		return nil, err
	}

	app.loop = loop.New(loop.Config{
		BufferSize: cfg.Loop.BufferSize,
		Logger:     app.logger.Named("loop"),
	})
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.RateLimit.GesturesPerSecond,
		DefaultBurst: cfg.RateLimit.Burst,
	})
	app.logger.Info("gesture rate limiter configured",
		zap.Float64("gestures_per_second", cfg.RateLimit.GesturesPerSecond),
		zap.Int("burst", cfg.RateLimit.Burst),
	)

	app.sessions = carousel.NewManager(app.loop, carousel.Config{
		SegmentDuration: cfg.Story.SegmentDuration,
		TicksPerSecond:  cfg.Story.TicksPerSecond,
		AutoDismiss:     cfg.Story.AutoDismiss,
		MaxSessions:     cfg.Story.MaxSessions,
		Emitter:         emitter,
		Clock:           system.New(),
		IDs:             idgen.New(),
		OnRelease:       func(id uuid.UUID) { limiter.Forget(id.String()) },
		Logger:          app.logger.Named("carousel"),
	})

	app.apiServer = api.NewServer(
		app.sessions,
		limiter,
		app.viewRepo,
		app.blobs,
		*cfg,
		app.logger.Named("api"),
	)
	return app, nil
}

func setupStorage(ctx context.Context, app *App) (blobstorage.BlobStore, error) {
	switch app.cfg.Storage.Backend {
	case config.StorageGCS:
		app.logger.Info("using GCS storage backend")
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{Bucket: app.cfg.Storage.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", app.cfg.Storage.Bucket))
		return blobs, nil
	case config.StorageLocal:
		app.logger.Info("using local storage backend")
		blobs, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.Local.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", app.cfg.Storage.Local.BaseDir))
		return blobs, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func setupDatabase(ctx context.Context, app *App) error {
	if app.cfg.Database.DSN == "" {
		app.logger.Warn("no DSN specified for database, using in-memory view store")
		app.viewRepo = memorystorage.NewViewStore()
		return nil
	}
	views, err := pgstore.NewViewStore(ctx, pgstore.ViewStoreConfig{
		DSN:             app.cfg.Database.DSN,
		MaxConns:        app.cfg.Database.MaxConns,
		MinConns:        app.cfg.Database.MinConns,
		MaxConnLifetime: app.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("view store init failed: %w", err)
	}
	if err := views.Migrate(ctx); err != nil {
		views.Close()
		return fmt.Errorf("view store migrate failed: %w", err)
	}
	app.pgViews = views
	app.viewRepo = views
	app.logger.Info("postgres view store initialized")
	return nil
}

func setupPublisher(ctx context.Context, app *App) (publisher.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("no Pub/Sub project configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.gcpPublisher = gcppublisher.New(client)
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.gcpPublisher, nil
}

func setupProgress(ctx context.Context, app *App, pub publisher.Publisher) (progress.Emitter, error) {
	if !app.cfg.Progress.Enabled {
		app.logger.Info("progress tracking disabled")
		return nil, nil
	}
	sinkList := []progress.Sink{
		progresssinks.NewStoreSink(app.viewRepo, app.logger.Named("progress_store")),
	}

	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("prometheus sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	archive, err := progresssinks.NewArchiveSink(app.blobs, progresssinks.ArchiveSinkConfig{
		Prefix: app.cfg.Storage.Prefix,
	}, app.logger.Named("progress_archive"))
	if err != nil {
		return nil, fmt.Errorf("archive sink init failed: %w", err)
	}
	sinkList = append(sinkList, archive)

	if app.cfg.PubSub.TopicName != "" {
		notices, err := progresssinks.NewPublisherSink(pub, progresssinks.PublisherSinkConfig{
			Topic: app.cfg.PubSub.TopicName,
		}, app.logger.Named("progress_publisher"))
		if err != nil {
			return nil, fmt.Errorf("publisher sink init failed: %w", err)
		}
		sinkList = append(sinkList, notices)
	}

	if app.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
		app.logger.Debug("added progress log sink")
	}

	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   app.cfg.Progress.BatchWait(),
		SinkTimeout:    app.cfg.Progress.SinkTimeout(),
		BaseContext:    ctx,
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return app.progressHub, nil
}

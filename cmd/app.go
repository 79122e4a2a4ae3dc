package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/trackline/internal/media"
	"github.com/desertthunder/trackline/internal/progress"
	"github.com/desertthunder/trackline/internal/queue"
	"github.com/desertthunder/trackline/internal/repositories"
	"github.com/desertthunder/trackline/internal/services"
	"github.com/desertthunder/trackline/internal/shared"
	"github.com/desertthunder/trackline/internal/tasks"
)

// providerRPS bounds calls to each external provider.
const providerRPS = 2

// app is the server side object graph shared by serve and worker.
type app struct {
	db         *sql.DB
	broker     queue.Broker
	dispatcher *queue.Dispatcher
	engine     *tasks.Engine
	reconciler *tasks.Reconciler
	logger     *log.Logger
}

// newApp opens the database, picks the broker and progress backend and registers the job handlers.
func newApp(ctx context.Context, cfg *shared.Config, logger *log.Logger) (*app, error) {
	db, err := shared.OpenDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}

	broker, err := newBroker(cfg.Queue)
	if err != nil {
		db.Close()
		return nil, err
	}

	files, err := media.NewLocalStore(cfg.Media.Root)
	if err != nil {
		broker.Close()
		db.Close()
		return nil, err
	}

	var store progress.Store
	switch cfg.Progress.Backend {
	case "", "memory":
		store = progress.NewMemoryStore()
	case "database":
		store = repositories.NewProgressRepository(db)
	default:
		broker.Close()
		db.Close()
		return nil, fmt.Errorf("%w: unknown progress backend %q", shared.ErrInvalidConfig, cfg.Progress.Backend)
	}

	tracks := repositories.NewTrackRepository(db)
	genres := repositories.NewGenreRepository(db)

	batches := repositories.NewBatchRepository(db)
	dispatcher := queue.NewDispatcher(broker,
		repositories.NewJobRepository(db),
		batches,
		repositories.NewQueueRepository(db),
		queue.Options{
			Workers:     cfg.Queue.Workers,
			MaxAttempts: cfg.Queue.MaxAttempts,
			JobTimeout:  cfg.Queue.JobTimeoutDuration(),
			Logger:      logger,
		})

	engine := tasks.NewEngine(tracks, genres, dispatcher, store, files, tasks.EngineOptions{
		ProgressTTL: cfg.Progress.TTL(),
		Logger:      logger,
	})

	suno := services.NewSunoClient(cfg.Credentials.Suno, services.NewLimiter(providerRPS))
	feeds := services.NewFeedClient(cfg.Credentials.Feed, services.NewLimiter(providerRPS))
	downloader := services.NewDownloader(0, services.NewLimiter(providerRPS))

	processor := tasks.NewProcessor(tracks, suno, downloader, media.NewFFmpegRenderer(cfg.Media.FFmpeg, files), files,
		tasks.ProcessorOptions{Batches: batches, Logger: logger})
	uploader := tasks.NewUploader(tracks, genres, youtubeUploader(ctx, cfg, logger), files, tasks.UploaderOptions{Logger: logger})
	importer := tasks.NewImporter(engine, tracks, suno, feeds, store, tasks.ImporterOptions{
		ProgressTTL: cfg.Progress.TTL(),
		Logger:      logger,
	})
	tasks.Register(dispatcher, engine, processor, uploader, importer)

	return &app{
		db:         db,
		broker:     broker,
		dispatcher: dispatcher,
		engine:     engine,
		reconciler: tasks.NewReconciler(tracks, dispatcher, store, cfg.Queue.ReconcileInterval(), logger),
		logger:     logger,
	}, nil
}

func newBroker(cfg shared.QueueConfig) (queue.Broker, error) {
	switch cfg.Broker {
	case "", "memory":
		return queue.NewMemoryBroker(), nil
	case "kafka":
		return queue.NewKafkaBroker(queue.KafkaConfig{
			Brokers:     cfg.KafkaBrokers,
			TopicPrefix: cfg.TopicPrefix,
			GroupID:     cfg.GroupID,
		})
	default:
		return nil, fmt.Errorf("%w: unknown queue broker %q", shared.ErrInvalidConfig, cfg.Broker)
	}
}

// youtubeUploader returns nil when no token has been stored yet; upload jobs then fail until
// `trackline auth youtube` is run and the server restarted.
func youtubeUploader(ctx context.Context, cfg *shared.Config, logger *log.Logger) tasks.VideoUploader {
	yt := cfg.Credentials.YouTube
	conf, err := services.YouTubeOAuthConfig(yt)
	if err != nil {
		logger.Warn("youtube uploads disabled", "err", err)
		return nil
	}
	token, err := shared.ReadToken(yt.TokenFile)
	if err != nil {
		if !errors.Is(err, shared.ErrNotAuthenticated) {
			logger.Warn("youtube uploads disabled", "err", err)
		} else {
			logger.Info("youtube uploads disabled until authorized", "token_file", yt.TokenFile)
		}
		return nil
	}

	ts := services.NewSavingTokenSource(ctx, conf, token, yt.TokenFile)
	return services.NewYouTubeUploader(ctx, yt, ts, services.NewLimiter(providerRPS))
}

func (a *app) close() {
	if err := a.broker.Close(); err != nil {
		a.logger.Warn("failed to close broker", "err", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Warn("failed to close database", "err", err)
	}
}

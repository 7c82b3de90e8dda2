// Package app wires the arena components from configuration. The server and
// arenactl share it so both see the same stores and queue.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/Ayash-Bera/arena/internal/competition"
	"github.com/Ayash-Bera/arena/internal/config"
	"github.com/Ayash-Bera/arena/internal/database"
	"github.com/Ayash-Bera/arena/internal/embedding"
	"github.com/Ayash-Bera/arena/internal/expert"
	"github.com/Ayash-Bera/arena/internal/health"
	"github.com/Ayash-Bera/arena/internal/learning"
	"github.com/Ayash-Bera/arena/internal/metrics"
	"github.com/Ayash-Bera/arena/internal/migration"
	"github.com/Ayash-Bera/arena/internal/queue"
	"github.com/Ayash-Bera/arena/internal/recorder"
	"github.com/Ayash-Bera/arena/internal/repository"
	"github.com/Ayash-Bera/arena/internal/services"
	"github.com/sirupsen/logrus"
)

type App struct {
	Config    *config.Config
	DB        *database.Manager
	Repos     *repository.RepositoryManager
	Metrics   *metrics.Metrics
	Pool      *expert.Pool
	Recorder  *recorder.Recorder
	Learnings *learning.Store
	Tracker   *learning.Tracker
	Sweeper   *learning.Sweeper
	Queue     queue.Queue
	// Extractor is nil when no extractor expert is configured.
	Extractor *learning.Extractor
	Service   *services.ArenaService
	Health    *health.HealthChecker

	// localPending is set when pending applications live only in this process.
	localPending bool
	logger       *logrus.Logger
}

// Options tune what Build sets up.
type Options struct {
	// MigrationsPath runs SQL migrations after auto-migration when set.
	MigrationsPath string
}

func Build(cfg *config.Config, opts Options, logger *logrus.Logger) (*App, error) {
	dbManager, err := database.NewManager(&database.Config{
		Driver:      cfg.Database.Driver,
		DatabaseURL: cfg.Database.URL,
		RedisURL:    cfg.Redis.URL,
		LogLevel:    os.Getenv("LOG_LEVEL"),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	a := &App{Config: cfg, DB: dbManager, Metrics: metrics.NewMetrics(), logger: logger}
	if err := a.wire(opts); err != nil {
		a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) wire(opts Options) error {
	cfg, logger := a.Config, a.logger

	if opts.MigrationsPath != "" {
		if err := migration.NewRunner(a.DB, logger).RunMigrations(opts.MigrationsPath); err != nil {
			return err
		}
	} else if err := a.DB.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	a.Repos = repository.NewRepositoryManager(a.DB.DB)

	expertConfigs, err := expert.Parse(cfg.Experts)
	if err != nil {
		return fmt.Errorf("invalid expert configuration: %w", err)
	}
	a.Pool, err = expert.NewPool(expertConfigs, logger)
	if err != nil {
		return err
	}

	scorer, err := competition.NewScorer(cfg.Scoring)
	if err != nil {
		return fmt.Errorf("invalid scoring configuration: %w", err)
	}
	coordinator := competition.NewCoordinator(a.Pool, a.Repos.ExpertStats, scorer, cfg.Competition, a.Metrics, logger)
	a.Recorder = recorder.New(a.Repos.Competition, cfg.Recorder, a.Metrics, logger)

	var embedder embedding.Embedder
	if err := cfg.ValidateEmbedding(); err != nil {
		logger.WithError(err).Warn("Embeddings disabled; learnings will not be retrieved")
	} else {
		client := embedding.NewClient(cfg.Embedding, logger)
		embedder = client
		if a.DB.Redis != nil {
			embedder = embedding.NewCached(client, database.NewCache(a.DB.Redis, logger), cfg.Retrieval.EmbeddingCacheTTL, logger)
		}
	}

	a.Learnings = learning.NewStore(a.Repos.Learning, a.Repos.Application, embedder, a.Metrics, logger)
	a.Sweeper = learning.NewSweeper(a.Repos.Learning, cfg.Learning, a.Metrics, logger)

	var pending learning.PendingStore = learning.NewMemoryPendingStore()
	a.localPending = true
	if a.DB.Redis != nil {
		pending = learning.NewRedisPendingStore(a.DB.Redis)
		a.localPending = false
	}
	a.Tracker = learning.NewTracker(pending, a.Learnings, cfg.Learning.FeedbackWindow, logger)

	a.Queue, err = queue.New(cfg, a.DB.Redis, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize extraction queue: %w", err)
	}

	if name := cfg.Extractor.Expert; name != "" {
		if _, ok := a.Pool.Config(name); !ok {
			return fmt.Errorf("extractor.expert %q is not a configured expert", name)
		}
		a.Extractor = learning.NewExtractor(a.Pool, name, a.Learnings, cfg.Learning, a.Metrics, logger)
	}

	deps := services.Dependencies{
		Experts:     a.Pool,
		Coordinator: coordinator,
		Recorder:    a.Recorder,
		Tracker:     a.Tracker,
		Learnings:   a.Learnings,
		Sweeper:     a.Sweeper,
		Stats:       a.Repos.ExpertStats,
	}
	if embedder != nil {
		deps.Retriever = learning.NewRetriever(a.Repos.Learning, embedder, cfg.Retrieval, a.Metrics, logger)
	}
	// An in-process queue has no consumer without an extractor.
	if a.Extractor != nil || cfg.Queue.Driver != "memory" {
		deps.Jobs = a.Queue
	}
	a.Service = services.NewArenaService(deps, logger)
	a.Health = health.NewHealthChecker(logger, health.StandardChecks(a.DB, a.Queue)...)

	logger.WithFields(logrus.Fields{
		"experts":    len(expertConfigs),
		"queue":      cfg.Queue.Driver,
		"retrieval":  deps.Retriever != nil,
		"extraction": a.Extractor != nil,
	}).Info("Arena components initialized")
	return nil
}

// Worker returns an extraction worker over the app's queue.
func (a *App) Worker() (*learning.Worker, error) {
	if a.Extractor == nil {
		return nil, fmt.Errorf("extractor.expert must be configured to run the extraction worker")
	}
	return learning.NewWorker(a.Queue, a.Extractor, a.Metrics, a.logger), nil
}

// LocalPending reports whether pending learning applications are held in
// process memory, in which case this process must sweep them.
func (a *App) LocalPending() bool {
	return a.localPending
}

// RunSweeps runs Service.Sweep every interval until ctx is done. A
// non-positive interval falls back to learning.sweep_interval; if that is also
// unset it only waits for ctx.
func (a *App) RunSweeps(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = a.Config.Learning.SweepInterval
	}
	if interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Service.Sweep(ctx); err != nil {
				a.logger.WithError(err).Error("Scheduled learning sweep failed")
			}
		}
	}
}

// Close records in-process pending applications as neutral, drains the
// recorder and releases connections.
func (a *App) Close(ctx context.Context) {
	if a.localPending && a.Tracker != nil {
		n, err := a.Tracker.FlushAll(ctx)
		if err != nil {
			a.logger.WithError(err).Error("Failed to flush pending learning applications")
		} else if n > 0 {
			a.logger.WithField("flushed", n).Info("Recorded pending learning applications as neutral")
		}
	}
	if a.Recorder != nil {
		if err := a.Recorder.Close(ctx); err != nil {
			a.logger.WithError(err).Error("Failed to drain competition recorder")
		}
	}
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			a.logger.WithError(err).Error("Failed to close extraction queue")
		}
	}
	if err := a.DB.Close(); err != nil {
		a.logger.WithError(err).Error("Failed to close database connections")
	}
}

// Package app initializes and holds the long-lived services of the
// harvest pipeline, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	pubsubclient "cloud.google.com/go/pubsub/v2"
	gcsclient "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexharvest/lexharvest/internal/actor"
	"github.com/lexharvest/lexharvest/internal/checkpoint"
	checkpointmemory "github.com/lexharvest/lexharvest/internal/checkpoint/memory"
	checkpointpg "github.com/lexharvest/lexharvest/internal/checkpoint/postgres"
	checkpointsqlite "github.com/lexharvest/lexharvest/internal/checkpoint/sqlite"
	clocksystem "github.com/lexharvest/lexharvest/internal/clock/system"
	"github.com/lexharvest/lexharvest/internal/config"
	"github.com/lexharvest/lexharvest/internal/coordinator"
	"github.com/lexharvest/lexharvest/internal/discovery"
	"github.com/lexharvest/lexharvest/internal/download"
	"github.com/lexharvest/lexharvest/internal/fetch"
	"github.com/lexharvest/lexharvest/internal/fragment"
	iduuid "github.com/lexharvest/lexharvest/internal/id/uuid"
	"github.com/lexharvest/lexharvest/internal/parser"
	"github.com/lexharvest/lexharvest/internal/pipeline"
	"github.com/lexharvest/lexharvest/internal/policy/breaker"
	"github.com/lexharvest/lexharvest/internal/policy/ratelimit"
	"github.com/lexharvest/lexharvest/internal/policy/retry"
	publishermemory "github.com/lexharvest/lexharvest/internal/publisher/memory"
	publisherpubsub "github.com/lexharvest/lexharvest/internal/publisher/pubsub"
	"github.com/lexharvest/lexharvest/internal/scraper"
	"github.com/lexharvest/lexharvest/internal/storage/gcs"
	"github.com/lexharvest/lexharvest/internal/storage/local"
	storagememory "github.com/lexharvest/lexharvest/internal/storage/memory"
)

// App holds the wired pipeline: one coordinator actor supervising the
// discovery, scraper, download, and fragment workers for the configured
// source.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	ids    pipeline.IDGenerator

	store   checkpoint.Store
	breaker *breaker.Breaker

	coordinator *coordinator.Coordinator
	coordActor  *actor.Actor
	actors      []*actor.Actor

	cleanups []func()
}

// New builds the full actor graph from cfg. It fails fast when any
// provider cannot be initialized.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger, ids: iduuid.New()}

	source, err := buildSource(cfg)
	if err != nil {
		return nil, err
	}
	fetcher, err := fetch.New(fetch.Config{
		UserAgent:           cfg.Crawler.UserAgent,
		RequestTimeout:      cfg.HTTP.Timeout,
		MaxIdleConns:        cfg.HTTP.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.HTTP.MaxIdleConnsPerHost,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize fetcher: %w", err)
	}

	if err := a.buildStore(cfg); err != nil {
		return nil, err
	}
	sink, err := buildSink(ctx, cfg, a)
	if err != nil {
		return nil, err
	}
	pub, err := a.buildPublisher(ctx, cfg)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(cfg.RateLimit)
	retryCfg := cfg.Retry
	// Local retries must not hammer a breaker the coordinator already
	// knows is open.
	retryCfg.NonRetryable = append(retryCfg.NonRetryable, pipeline.KindCircuitOpen)
	retrier := retry.New(retryCfg, retry.WithOnRetry(
		func(_ context.Context, attempt int, delay time.Duration, err error) {
			logger.Debug("retry scheduled",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err))
		}))
	brkCfg := cfg.Breaker
	brkCfg.Excluded = append(brkCfg.Excluded, pipeline.KindNotFound, pipeline.KindContent)
	a.breaker = breaker.New(source.Name(), brkCfg)

	pipeCfg := cfg.Pipeline
	pipeCfg.CheckpointEvery = cfg.Checkpoint.EveryItems
	pipeCfg.RecordsTopic = cfg.PubSub.RecordsTopic
	pipeCfg.FragmentsTopic = cfg.PubSub.FragmentsTopic

	coord := coordinator.New(pipeCfg, a.store, clocksystem.New(), logger,
		coordinator.WithPublisher(pub),
		coordinator.WithBreakerStates(func() map[string]string {
			return map[string]string{source.Name(): string(a.breaker.State())}
		}))
	coordActor := actor.New(actor.Config{Name: "coordinator"}, coord, nil, logger)

	discoveryActor := actor.New(actor.Config{Name: coordinator.NameDiscovery},
		discovery.New(cfg.Discovery, source, fetcher, limiter, coordActor, logger),
		coordActor, logger)
	scraperActor := actor.New(actor.Config{Name: coordinator.NameScraper},
		scraper.New(source, fetcher, limiter, retrier, a.breaker, coordActor, logger),
		coordActor, logger)
	downloadActor := actor.New(actor.Config{Name: coordinator.NameDownloader},
		download.New(source.Name(), sink, fetcher, limiter, retrier, a.breaker, coordActor, logger),
		coordActor, logger)
	fragmentActor := actor.New(actor.Config{Name: coordinator.NameFragmenter},
		fragment.New(cfg.Fragment, source.Name(), coordActor, logger),
		coordActor, logger)

	coord.Bind(coordinator.Refs{
		Discovery:  discoveryActor,
		Scraper:    scraperActor,
		Downloader: downloadActor,
		Fragmenter: fragmentActor,
	})

	a.coordinator = coord
	a.coordActor = coordActor
	a.actors = []*actor.Actor{coordActor, discoveryActor, scraperActor, downloadActor, fragmentActor}
	return a, nil
}

// Coordinator returns the coordinator actor for commands and queries.
func (a *App) Coordinator() *actor.Actor {
	return a.coordActor
}

// Store exposes the checkpoint store for resume lookups.
func (a *App) Store() checkpoint.Store {
	return a.store
}

// Start spins up every actor.
func (a *App) Start() {
	for _, act := range a.actors {
		act.Start()
	}
	a.logger.Info("pipeline actors started", zap.Int("actors", len(a.actors)))
}

// Stop shuts the workers down before the coordinator so in-flight
// results still get counted, then releases providers.
func (a *App) Stop() {
	for i := len(a.actors) - 1; i >= 1; i-- {
		a.actors[i].Stop()
	}
	a.actors[0].Stop()
	for _, cleanup := range a.cleanups {
		cleanup()
	}
	a.logger.Info("pipeline stopped")
}

// StartPipeline begins a fresh session and returns its ID.
func (a *App) StartPipeline(timeout time.Duration) (uuid.UUID, error) {
	session, err := a.ids.NewID()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate session id: %w", err)
	}
	_, err = a.coordActor.Ask(pipeline.StartPipeline{
		Envelope:   pipeline.Envelope{SessionID: session},
		Source:     a.cfg.Crawler.Source,
		Query:      a.cfg.Crawler.Query,
		MaxResults: a.cfg.Crawler.MaxResults,
	}, timeout)
	if err != nil {
		return uuid.Nil, err
	}
	return session, nil
}

// ResumeLatest restarts from the newest checkpoint for the configured
// source.
func (a *App) ResumeLatest(ctx context.Context, timeout time.Duration) (uuid.UUID, error) {
	cp, err := a.store.Latest(ctx, a.cfg.Crawler.Source)
	if err != nil {
		return uuid.Nil, fmt.Errorf("load latest checkpoint: %w", err)
	}
	_, err = a.coordActor.Ask(pipeline.ResumePipelineFrom{
		Envelope:   pipeline.Envelope{SessionID: cp.SessionID},
		Checkpoint: cp,
	}, timeout)
	if err != nil {
		return uuid.Nil, err
	}
	return cp.SessionID, nil
}

// WaitUntilDone polls the coordinator until it reaches a terminal state
// or ctx expires.
func (a *App) WaitUntilDone(ctx context.Context, poll time.Duration) (pipeline.State, error) {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		reply, err := a.coordActor.Ask(pipeline.GetStatus{}, poll)
		if err == nil {
			if status, ok := reply.(pipeline.StatusReply); ok && status.State.Terminal() {
				return status.State, nil
			}
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func buildSource(cfg config.Config) (pipeline.Source, error) {
	switch cfg.Crawler.Source {
	case config.SourceCatalog:
		return parser.NewCatalog(cfg.Crawler.BaseURL), nil
	case config.SourceAwards:
		return parser.NewAwards(cfg.Crawler.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Crawler.Source)
	}
}

func (a *App) buildStore(cfg config.Config) error {
	switch cfg.Checkpoint.Backend {
	case "memory":
		a.store = checkpointmemory.New()
	case "sqlite":
		store, err := checkpointsqlite.New(checkpointsqlite.Config{Path: cfg.Checkpoint.SQLitePath})
		if err != nil {
			return fmt.Errorf("initialize sqlite checkpoint store: %w", err)
		}
		a.store = store
		a.cleanups = append(a.cleanups, func() { store.Close() })
	case "postgres":
		store, err := checkpointpg.New(context.Background(), checkpointpg.Config{DSN: cfg.Checkpoint.DSN})
		if err != nil {
			return fmt.Errorf("initialize postgres checkpoint store: %w", err)
		}
		a.store = store
		a.cleanups = append(a.cleanups, store.Close)
	default:
		return fmt.Errorf("unknown checkpoint backend %q", cfg.Checkpoint.Backend)
	}
	return nil
}

func buildSink(ctx context.Context, cfg config.Config, a *App) (pipeline.BlobSink, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return storagememory.New(), nil
	case "local":
		return local.New(local.Config{BaseDir: cfg.Storage.BaseDir})
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.cleanups = append(a.cleanups, func() { client.Close() })
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func (a *App) buildPublisher(ctx context.Context, cfg config.Config) (pipeline.Publisher, error) {
	if !cfg.PubSub.Enabled {
		return publishermemory.New(), nil
	}
	client, err := pubsubclient.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	a.cleanups = append(a.cleanups, func() { client.Close() })
	publishers := map[string]*pubsubclient.Publisher{
		cfg.PubSub.RecordsTopic:   client.Publisher(cfg.PubSub.RecordsTopic),
		cfg.PubSub.FragmentsTopic: client.Publisher(cfg.PubSub.FragmentsTopic),
	}
	return publisherpubsub.New(publishers), nil
}

// Package app wires configuration into a running pipeline: state store,
// frontier, ensemble, worker pool, and the HTTP API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/goacyber/scamhound/internal/api"
	"github.com/goacyber/scamhound/internal/clock/system"
	"github.com/goacyber/scamhound/internal/config"
	"github.com/goacyber/scamhound/internal/ensemble"
	channelextractor "github.com/goacyber/scamhound/internal/extractor/channel"
	pageextractor "github.com/goacyber/scamhound/internal/extractor/page"
	feedmem "github.com/goacyber/scamhound/internal/feedback/memory"
	feedredis "github.com/goacyber/scamhound/internal/feedback/redis"
	channelfetch "github.com/goacyber/scamhound/internal/fetch/channel"
	pagefetch "github.com/goacyber/scamhound/internal/fetch/page"
	frontmem "github.com/goacyber/scamhound/internal/frontier/memory"
	"github.com/goacyber/scamhound/internal/hash/sha256"
	uuidgen "github.com/goacyber/scamhound/internal/id/uuid"
	"github.com/goacyber/scamhound/internal/metrics"
	"github.com/goacyber/scamhound/internal/pipeline"
	pubkafka "github.com/goacyber/scamhound/internal/publisher/kafka"
	pubmem "github.com/goacyber/scamhound/internal/publisher/memory"
	pubgcp "github.com/goacyber/scamhound/internal/publisher/pubsub"
	"github.com/goacyber/scamhound/internal/scorer/httpscorer"
	"github.com/goacyber/scamhound/internal/seeds"
	blobgcs "github.com/goacyber/scamhound/internal/storage/gcs"
	bloblocal "github.com/goacyber/scamhound/internal/storage/local"
	blobmem "github.com/goacyber/scamhound/internal/storage/memory"
	storemem "github.com/goacyber/scamhound/internal/store/memory"
	storepg "github.com/goacyber/scamhound/internal/store/postgres"
	"github.com/goacyber/scamhound/internal/worker"
)

// App owns every long-lived component and their shutdown order.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	clock    pipeline.Clock
	store    pipeline.StateStore
	frontier *frontmem.Frontier
	feedback pipeline.FeedbackQueue
	ensemble *ensemble.Ensemble
	pool     *worker.Pool
	server   *http.Server

	pgStore         *storepg.StateStore
	redisFeedback   *feedredis.Queue
	kafkaPublisher  *pubkafka.Publisher
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	gcsClient       *storage.Client
}

// New assembles an App from config. Components are constructed but not
// started; call Run.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	metrics.Init()

	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
	}

	if err := a.setupStore(ctx); err != nil {
		return nil, err
	}
	if err := a.setupFeedback(); err != nil {
		return nil, err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	blobs, err := a.setupSnapshots(ctx)
	if err != nil {
		return nil, err
	}

	a.frontier = frontmem.New(a.clock, cfg.Backoff(), cfg.RevisitPolicy())

	var scorer pipeline.Scorer
	if cfg.Scorer.BaseURL != "" {
		scorer, err = httpscorer.New(httpscorer.Config{
			BaseURL: cfg.Scorer.BaseURL,
			Timeout: time.Duration(cfg.Scorer.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			return nil, fmt.Errorf("scorer init failed: %w", err)
		}
	} else {
		logger.Warn("no scorer configured, classification is rule-only")
	}

	rules, err := ensemble.NewRuleEngine(cfg.Rules)
	if err != nil {
		return nil, fmt.Errorf("rule engine init failed: %w", err)
	}
	a.ensemble = ensemble.New(rules, scorer, sha256.New(), a.clock, cfg.RevisitPolicy(), ensemble.Config{
		RuleWeight:    cfg.Ensemble.RuleWeight,
		UncertainBand: cfg.Ensemble.UncertainBand,
		ScorerTimeout: time.Duration(cfg.Ensemble.ScorerTimeoutSeconds) * time.Second,
	}, logger)

	fetchers, extractors, err := a.setupFetchPipeline()
	if err != nil {
		return nil, err
	}

	w := worker.New(worker.Config{
		FetchTimeout:   cfg.FetchTimeout(),
		EventTopic:     cfg.Publisher.Topic,
		SnapshotPrefix: cfg.Snapshots.Prefix,
	}, worker.Deps{
		Frontier:   a.frontier,
		Store:      a.store,
		Fetchers:   fetchers,
		Extractors: extractors,
		Judge:      a.ensemble,
		Feedback:   a.feedback,
		Publisher:  publisher,
		Blobs:      blobs,
		IDs:        uuidgen.New(),
		Clock:      a.clock,
		Logger:     logger,
	})
	a.pool = worker.NewPool(worker.PoolConfig{
		Workers:      cfg.Pipeline.Workers,
		BatchSize:    cfg.Pipeline.BatchSize,
		PollInterval: cfg.PollInterval(),
	}, w, a.frontier, logger)

	apiServer := api.NewServer(api.Config{
		AuthEnabled: cfg.Auth.Enabled,
		APIKey:      cfg.Auth.APIKey,
	}, a.store, a.feedback, a.frontier, a.ensemble, uuidgen.New(), a.clock, logger)
	a.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

func (a *App) setupStore(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case "postgres":
		store, err := storepg.NewStateStore(ctx, storepg.Config{
			DSN:             a.cfg.Store.DSN,
			MaxConns:        int32(a.cfg.Store.MaxConns),
			MinConns:        int32(a.cfg.Store.MinConns),
			MaxConnLifetime: time.Duration(a.cfg.Store.MaxConnLifetime) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		if err := store.InitSchema(ctx); err != nil {
			store.Close()
			return fmt.Errorf("postgres schema init failed: %w", err)
		}
		a.pgStore = store
		a.store = store
	default:
		a.store = storemem.NewStateStore()
	}
	return nil
}

func (a *App) setupFeedback() error {
	switch a.cfg.Feedback.Backend {
	case "redis":
		queue, err := feedredis.NewQueue(feedredis.Config{
			Addr:   a.cfg.Feedback.RedisAddr,
			Prefix: a.cfg.Feedback.RedisPrefix,
		})
		if err != nil {
			return fmt.Errorf("redis feedback queue init failed: %w", err)
		}
		a.redisFeedback = queue
		a.feedback = queue
	default:
		a.feedback = feedmem.NewQueue()
	}
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (pipeline.Publisher, error) {
	switch a.cfg.Publisher.Backend {
	case "none":
		return nil, nil
	case "kafka":
		a.kafkaPublisher = pubkafka.NewPublisher(a.cfg.Publisher.KafkaBroker, a.cfg.Publisher.Topic)
		return a.kafkaPublisher, nil
	case "pubsub":
		client, err := pubsub.NewClient(ctx, a.cfg.Publisher.PubSubProject)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		a.pubsubPublisher = client.Publisher(a.cfg.Publisher.Topic)
		return pubgcp.New(a.pubsubPublisher), nil
	default:
		return pubmem.NewPublisher(), nil
	}
}

func (a *App) setupSnapshots(ctx context.Context) (pipeline.BlobStore, error) {
	switch a.cfg.Snapshots.Backend {
	case "none":
		return nil, nil
	case "local":
		return bloblocal.New(bloblocal.Config{BaseDir: a.cfg.Snapshots.LocalDir})
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.gcsClient = client
		return blobgcs.New(client, blobgcs.Config{Bucket: a.cfg.Snapshots.GCSBucket})
	default:
		return blobmem.New(), nil
	}
}

func (a *App) setupFetchPipeline() (map[pipeline.TargetKind]pipeline.Fetcher, map[pipeline.TargetKind]pipeline.Extractor, error) {
	fetchers := map[pipeline.TargetKind]pipeline.Fetcher{
		pipeline.KindPage: pagefetch.New(pagefetch.Config{
			UserAgent:     a.cfg.Crawl.UserAgent,
			RespectRobots: a.cfg.Crawl.RespectRobots,
			Timeout:       time.Duration(a.cfg.Crawl.TimeoutSeconds) * time.Second,
			MaxBodyBytes:  a.cfg.Crawl.MaxBodyBytes,
		}, a.clock),
	}
	extractors := map[pipeline.TargetKind]pipeline.Extractor{
		pipeline.KindPage: pageextractor.New(pageextractor.Config{
			MaxTextLen:     a.cfg.Extract.MaxTextLen,
			MaxDiscoveries: a.cfg.Extract.MaxDiscoveries,
		}),
	}

	if a.cfg.Gateway.BaseURL != "" {
		cf, err := channelfetch.New(channelfetch.Config{
			BaseURL:    a.cfg.Gateway.BaseURL,
			SampleSize: a.cfg.Gateway.SampleSize,
			Timeout:    time.Duration(a.cfg.Gateway.TimeoutSeconds) * time.Second,
			UserAgent:  a.cfg.Crawl.UserAgent,
		}, a.clock)
		if err != nil {
			return nil, nil, fmt.Errorf("channel fetcher init failed: %w", err)
		}
		fetchers[pipeline.KindChannel] = cf
		extractors[pipeline.KindChannel] = channelextractor.New(channelextractor.Config{
			MaxTextLen:     a.cfg.Extract.MaxTextLen,
			MaxDiscoveries: a.cfg.Extract.MaxDiscoveries,
		})
	} else {
		a.logger.Warn("no channel gateway configured, channel targets will fail permanently")
	}

	return fetchers, extractors, nil
}

// Run resumes frontier state, seeds it, and serves until the context is
// canceled.
func (a *App) Run(ctx context.Context) error {
	resumable, err := a.store.ListResumable(ctx)
	if err != nil {
		return fmt.Errorf("list resumable targets: %w", err)
	}
	restored, err := a.frontier.Rebuild(ctx, resumable)
	if err != nil {
		return fmt.Errorf("rebuild frontier: %w", err)
	}
	a.logger.Info("frontier rebuilt", zap.Int("restored", restored))

	if a.cfg.Seeds.File != "" {
		if err := a.seed(ctx); err != nil {
			return err
		}
	}
	metrics.SetFrontierDepth(a.frontier.Len())

	poolDone := make(chan struct{})
	go func() {
		a.pool.Run(ctx)
		close(poolDone)
	}()

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn("http shutdown failed", zap.Error(err))
	}
	<-poolDone
	return nil
}

func (a *App) seed(ctx context.Context) error {
	discovered, err := seeds.LoadFile(a.cfg.Seeds.File)
	if err != nil {
		return err
	}
	admitted := 0
	for _, d := range discovered {
		if err := a.store.UpsertTarget(ctx, pipeline.Target{
			Identifier:   d.Identifier,
			Kind:         d.Kind,
			DiscoveredAt: a.clock.Now(),
			Status:       pipeline.StatusPending,
		}); err != nil {
			return fmt.Errorf("seed %s: %w", d.Identifier, err)
		}
		created, err := a.frontier.Enqueue(ctx, d.Identifier, d.Kind, 0)
		if err != nil {
			return fmt.Errorf("seed %s: %w", d.Identifier, err)
		}
		if created {
			admitted++
			metrics.ObserveDiscovered(string(d.Kind))
		}
	}
	a.logger.Info("seeds loaded",
		zap.Int("listed", len(discovered)),
		zap.Int("admitted", admitted),
	)
	return nil
}

// Close releases external clients in reverse dependency order.
func (a *App) Close() {
	if a.kafkaPublisher != nil {
		if err := a.kafkaPublisher.Close(); err != nil {
			a.logger.Warn("kafka publisher close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redisFeedback != nil {
		if err := a.redisFeedback.Close(); err != nil {
			a.logger.Warn("redis close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
}

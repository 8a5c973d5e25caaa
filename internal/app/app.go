// Package app builds the crawler's long-lived services from configuration
// and owns their shutdown.
package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/channelcrawler/internal/checkpoint"
	"github.com/JakeFAU/channelcrawler/internal/clock"
	"github.com/JakeFAU/channelcrawler/internal/clock/system"
	"github.com/JakeFAU/channelcrawler/internal/config"
	"github.com/JakeFAU/channelcrawler/internal/crawler"
	"github.com/JakeFAU/channelcrawler/internal/extract"
	collyfetcher "github.com/JakeFAU/channelcrawler/internal/fetcher/colly"
	"github.com/JakeFAU/channelcrawler/internal/id/uuid"
	"github.com/JakeFAU/channelcrawler/internal/proxy"
	"github.com/JakeFAU/channelcrawler/internal/publisher"
	"github.com/JakeFAU/channelcrawler/internal/publisher/memory"
	pubsubproducer "github.com/JakeFAU/channelcrawler/internal/publisher/pubsub"
	"github.com/JakeFAU/channelcrawler/internal/server"
	"github.com/JakeFAU/channelcrawler/internal/storage"
	"github.com/JakeFAU/channelcrawler/internal/storage/local"
	"github.com/JakeFAU/channelcrawler/internal/store"
)

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  clock.Clock

	proxies     *proxy.Pool
	fetcher     *collyfetcher.Fetcher
	publisher   *publisher.Publisher
	checkpoints checkpoint.Store
	tracker     *checkpoint.Tracker
	crawler     *crawler.Crawler
	server      *server.Server
}

// Option customizes Build.
type Option func(*options)

type options struct {
	clock    clock.Clock
	producer publisher.ProducerFactory
}

// WithClock replaces the system clock.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithProducerFactory replaces the broker connection configured by
// broker.driver.
func WithProducerFactory(f publisher.ProducerFactory) Option {
	return func(o *options) { o.producer = f }
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{clock: system.New()}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{cfg: cfg, logger: logger, clock: o.clock}
	a.logger.Info("building application dependencies")

	if err := a.setupProxies(); err != nil {
		return nil, err
	}
	a.setupFetcher()

	writer := local.New()
	hybrid := a.setupDurability(writer, o.producer)

	if err := a.setupCheckpoints(ctx, writer); err != nil {
		a.closeInfrastructure()
		return nil, err
	}

	deps := crawler.Deps{
		Fetcher:      a.fetcher,
		Extractor:    extract.New(cfg.HTTP.BaseURL, a.clock, logger),
		Messages:     store.NewMessages(cfg.Store, hybrid, writer, a.clock, logger),
		Bios:         store.NewBios(cfg.Store, hybrid, writer, a.clock, logger),
		Checkpoints:  a.tracker,
		IDs:          uuid.New(),
		Connectivity: a.fetcher,
		Clock:        a.clock,
		Logger:       logger,
	}
	if a.proxies != nil {
		deps.Proxies = a.proxies
	}
	a.crawler = crawler.New(cfg.Crawler, deps)

	if cfg.Server.Addr != "" {
		a.server = server.New(cfg.Server.Addr, a.Ready, logger.Named("server"))
	}
	return a, nil
}

func (a *App) setupProxies() error {
	if !a.cfg.Crawler.UseProxies && !a.cfg.Crawler.RequireProxies {
		a.logger.Info("proxy pool disabled")
		return nil
	}
	pool, err := proxy.New(a.cfg.Proxy, a.clock, a.logger)
	if err != nil {
		return fmt.Errorf("proxy pool init failed: %w", err)
	}
	a.proxies = pool
	a.logger.Info("proxy pool configured",
		zap.Int("sources", len(a.cfg.Proxy.Sources)),
		zap.Bool("required", a.cfg.Crawler.RequireProxies),
	)
	return nil
}

func (a *App) setupFetcher() {
	httpCfg := a.cfg.HTTP
	httpCfg.RequireProxy = a.cfg.Crawler.RequireProxies
	var proxies collyfetcher.ProxySource
	if a.proxies != nil {
		proxies = a.proxies
	}
	a.fetcher = collyfetcher.New(httpCfg, proxies, a.clock, a.logger)
	a.logger.Info("using colly fetcher", zap.String("base_url", httpCfg.BaseURL))
}

func (a *App) setupDurability(writer *local.Writer, factory publisher.ProducerFactory) *storage.Hybrid {
	if !a.cfg.Broker.Enabled {
		a.logger.Info("broker disabled, records are kept on local disk only")
		return storage.NewHybrid(writer, nil, false, a.logger)
	}
	if factory == nil {
		factory = a.producerFactory()
	}
	a.publisher = publisher.New(a.cfg.Broker.Publisher, factory, a.clock, a.logger)
	a.logger.Info("broker publisher initialized",
		zap.String("driver", a.cfg.Broker.Driver),
		zap.Int("chunk_size", a.cfg.Broker.Publisher.ChunkSize),
	)
	return storage.NewHybrid(writer, a.publisher, true, a.logger)
}

func (a *App) producerFactory() publisher.ProducerFactory {
	if a.cfg.Broker.Driver == config.DriverMemory {
		return func(context.Context) (publisher.Producer, error) {
			return memory.New(), nil
		}
	}
	project, topic := a.cfg.Broker.PubSub.ProjectID, a.cfg.Broker.PubSub.TopicName
	return func(ctx context.Context) (publisher.Producer, error) {
		p, err := pubsubproducer.Dial(ctx, project, topic)
		if err != nil {
			return nil, err
		}
		a.logger.Info("Pub/Sub producer connected", zap.String("project", project), zap.String("topic", topic))
		return p, nil
	}
}

func (a *App) setupCheckpoints(ctx context.Context, writer *local.Writer) error {
	switch a.cfg.Checkpoint.Backend {
	case checkpoint.BackendPostgres:
		pg, err := checkpoint.NewPostgres(ctx, a.cfg.Checkpoint.Postgres, a.logger)
		if err != nil {
			return fmt.Errorf("checkpoint store init failed: %w", err)
		}
		a.checkpoints = pg
		a.logger.Info("using postgres checkpoint store", zap.String("table", a.cfg.Checkpoint.Postgres.Table))
	default:
		a.checkpoints = checkpoint.NewFile(a.cfg.Checkpoint.Path, writer, a.logger)
		a.logger.Info("using file checkpoint store", zap.String("path", a.cfg.Checkpoint.Path))
	}
	a.tracker = checkpoint.NewTracker(ctx, a.checkpoints, a.logger)
	return nil
}

// Crawler returns the orchestrator.
func (a *App) Crawler() *crawler.Crawler {
	return a.crawler
}

// Proxies returns the proxy pool, or nil when proxies are disabled.
func (a *App) Proxies() *proxy.Pool {
	return a.proxies
}

// Publisher returns the broker publisher, or nil when the broker is disabled.
func (a *App) Publisher() *publisher.Publisher {
	return a.publisher
}

// Ready reports whether the crawler can make progress: proxies must be
// available when they are required.
func (a *App) Ready(context.Context) error {
	if a.cfg.Crawler.RequireProxies && (a.proxies == nil || a.proxies.Size() == 0) {
		return proxy.ErrNoProxy
	}
	return nil
}

// Run starts the ops server when configured and crawls channels until ctx is
// done. Cancellation is not reported as an error.
func (a *App) Run(ctx context.Context, channels []string) error {
	if a.server != nil {
		if err := a.server.Start(); err != nil {
			return fmt.Errorf("ops server start failed: %w", err)
		}
	}
	err := a.crawler.Run(ctx, channels)
	if errors.Is(err, context.Canceled) {
		a.logger.Info("shutdown initiated")
		return nil
	}
	return err
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Warn("ops server shutdown failed", zap.Error(err))
		}
	}
	if a.tracker != nil {
		a.logger.Info("final checkpoints", zap.Int("channels", len(a.tracker.Snapshot())))
	}
	err := a.closeInfrastructure()
	_ = a.logger.Sync()
	return err
}

func (a *App) closeInfrastructure() error {
	var errs []error
	if a.publisher != nil {
		if n := a.publisher.PendingCount(); n > 0 {
			a.logger.Warn("closing with unconfirmed deliveries, local files kept", zap.Int("pending", n))
		}
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("publisher close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if pg, ok := a.checkpoints.(*checkpoint.Postgres); ok {
		pg.Close()
	}
	return errors.Join(errs...)
}

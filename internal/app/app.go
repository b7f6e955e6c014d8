// Package app assembles the feed graph shared by every entry point.
package app

import (
	"context"
	"errors"
	"time"

	"market-pulse/internal/cache"
	"market-pulse/internal/config"
	"market-pulse/internal/domain"
	"market-pulse/internal/job"
	"market-pulse/internal/provider"
	"market-pulse/internal/service"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"
)

var openRedis = cache.Open

// App owns the adapters, pollers and feed service for one consumer.
type App struct {
	cfg      *config.Config
	logger   *log.Logger
	Feed     *service.FeedService
	REST     *provider.CoinGeckoAdapter
	Exchange *provider.ExchangeAggregator
	redis    *redis.Client
	cancel   context.CancelFunc
	done     chan struct{}
}

// New builds the graph. Nothing is started until Run.
func New(ctx context.Context, cfg *config.Config, tracer trace.Tracer, logger *log.Logger, opts ...provider.ClientOption) (*App, error) {
	streams, err := provider.StreamsByName(cfg.ExchangeStreams)
	if err != nil {
		return nil, err
	}

	clientOpts := append([]provider.ClientOption{
		provider.WithBaseURL(cfg.CoinGeckoBaseURL),
		provider.WithAPIKey(cfg.CoinGeckoAPIKey),
		provider.WithTimeout(cfg.RESTTimeout),
		provider.WithTracer(tracer),
		provider.WithLogger(logger),
	}, opts...)
	client := provider.NewClient(provider.NewSpacing(cfg.RESTSpacing), clientOpts...)

	a := &App{
		cfg:    cfg,
		logger: logger,
		REST:   provider.NewCoinGeckoAdapter(tracer, client, cfg.RESTProbe, logger),
	}

	adapters := make([]provider.Adapter, 0, 3)
	var links service.LinkReporter
	if len(streams) > 0 {
		a.Exchange = provider.NewExchangeAggregator(tracer, streams, provider.ExchangeConfig{
			Pairs:  domain.PairsForIDs(cfg.AssetIDs),
			MaxAge: cfg.ExchangeMaxAge,
		}, logger)
		adapters = append(adapters, a.Exchange)
		links = a.Exchange
	}
	adapters = append(adapters, a.REST, provider.NewBundledStaticAdapter())

	feed := job.NewFeedPoller(tracer, adapters, job.FeedConfig{
		Intervals: map[domain.Tier]time.Duration{
			domain.TierExchange: cfg.ExchangeInterval,
			domain.TierREST:     cfg.RESTInterval,
			domain.TierStatic:   cfg.StaticInterval,
		},
		MaxRetryAttempts: cfg.MaxRetryAttempts,
		RetryDelay:       cfg.RetryDelay,
	}, logger)
	global := job.NewGlobalPoller(tracer, a.REST, cfg.GlobalInterval, logger)

	var mirror service.Mirror
	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, snapshot mirror disabled", "err", err)
		} else {
			a.redis = rdb
			mirror = cache.NewMirror(rdb, 2*cfg.RESTInterval)
		}
	}

	a.Feed = service.NewFeedService(tracer, feed, global, a.REST, links, mirror, logger)
	return a, nil
}

// Run starts the exchange links and the pollers. It returns immediately;
// everything stops when ctx is cancelled or Close is called.
func (a *App) Run(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	if a.Exchange != nil {
		a.done = make(chan struct{})
		go func() {
			defer close(a.done)
			if err := a.Exchange.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("exchange links stopped", "err", err)
			}
		}()
	}
	a.Feed.Start(ctx, a.cfg.AssetIDs)
}

// Close stops polling and waits for the exchange links to hang up.
func (a *App) Close() {
	a.Feed.Stop()
	if a.cancel != nil {
		a.cancel()
	}
	if a.done != nil {
		select {
		case <-a.done:
		case <-time.After(5 * time.Second):
			a.logger.Warn("exchange links did not stop in time")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis close failed", "err", err)
		}
	}
}

// Package app initializes and holds long-lived application services, acting
// as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	gpubsub "cloud.google.com/go/pubsub"
	gstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listing-crawler/internal/api"
	"github.com/JakeFAU/olx-listing-crawler/internal/backoff"
	"github.com/JakeFAU/olx-listing-crawler/internal/browser"
	memorycache "github.com/JakeFAU/olx-listing-crawler/internal/cache/memory"
	rediscache "github.com/JakeFAU/olx-listing-crawler/internal/cache/redis"
	"github.com/JakeFAU/olx-listing-crawler/internal/clock/system"
	"github.com/JakeFAU/olx-listing-crawler/internal/config"
	"github.com/JakeFAU/olx-listing-crawler/internal/crawler"
	"github.com/JakeFAU/olx-listing-crawler/internal/enrich"
	"github.com/JakeFAU/olx-listing-crawler/internal/extract"
	collyfetcher "github.com/JakeFAU/olx-listing-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/olx-listing-crawler/internal/hash/sha256"
	"github.com/JakeFAU/olx-listing-crawler/internal/id/uuid"
	"github.com/JakeFAU/olx-listing-crawler/internal/market"
	"github.com/JakeFAU/olx-listing-crawler/internal/market/olxapi"
	"github.com/JakeFAU/olx-listing-crawler/internal/metrics"
	"github.com/JakeFAU/olx-listing-crawler/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/olx-listing-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/olx-listing-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/olx-listing-crawler/internal/search"
	"github.com/JakeFAU/olx-listing-crawler/internal/snapshot"
	"github.com/JakeFAU/olx-listing-crawler/internal/storage"
	"github.com/JakeFAU/olx-listing-crawler/internal/storage/gcs"
	"github.com/JakeFAU/olx-listing-crawler/internal/storage/local"
)

const (
	sweepInterval   = time.Minute
	publisherBuffer = 1000
)

// App holds the shared, long-lived services. It is built once at startup.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	session *browser.Session
	limiter *ratelimit.Limiter
	memory  *memorycache.Cache
	service *search.Service
	server  *api.Server

	// Backend names, for startup logs and tests.
	CacheBackend     string
	PublisherBackend string
	SnapshotBackend  string

	closers []func() error
}

// New wires every service from cfg. The browser is launched lazily on the
// first search, so New does not need Chrome.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{cfg: cfg, logger: logger}

	profile := market.OLX()
	clock := system.New()
	ids := uuid.New()

	cache, err := a.buildCache(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	publisher, err := a.buildPublisher(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.session = browser.NewSession(browser.Config{
		ExecPath:      cfg.Browser.ExecPath,
		Proxy:         cfg.Browser.Proxy,
		Headless:      cfg.Browser.Headless,
		WindowWidth:   browser.DefaultConfig().WindowWidth,
		WindowHeight:  browser.DefaultConfig().WindowHeight,
		LaunchTimeout: cfg.Browser.LaunchTimeout,
	}, logger)
	a.closers = append(a.closers, func() error { a.session.Close(); return nil })

	acqCfg := browser.DefaultAcquirerConfig()
	acqCfg.MaxTabs = cfg.Browser.MaxTabs
	pages := browser.NewAcquirer(acqCfg, profile, a.session, logger)

	navCfg := crawler.DefaultNavigatorConfig(profile.ResultSelectors)
	navCfg.NavTimeout = cfg.Browser.NavTimeout
	navCfg.NavRetries = cfg.Crawler.NavRetries
	nav := crawler.NewNavigator(navCfg, crawler.NewChallengeDetector(profile), logger)

	extractor := extract.New(profile,
		extract.WithClock(clock),
		extract.WithHasher(sha256.New()),
		extract.WithLogger(logger))

	var opts []crawler.ControllerOption
	if cfg.Enrich.Cap > 0 {
		fetcher, err := collyfetcher.New(collyfetcher.Config{
			UserAgents:     profile.UserAgents,
			AcceptLanguage: profile.AcceptLanguage,
			Accept:         profile.Accept,
			Timeout:        cfg.Enrich.RequestTimeout,
			Proxy:          cfg.Browser.Proxy,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("build detail fetcher: %w", err)
		}
		engine := enrich.New(enrich.Config{
			Cap:         cfg.Enrich.Cap,
			Concurrency: cfg.Enrich.Concurrency,
			PauseMin:    cfg.Enrich.PauseMin,
			PauseMax:    cfg.Enrich.PauseMax,
		}, profile, fetcher, logger)
		opts = append(opts, crawler.WithEnricher(engine))
	}

	if cfg.Debug.Snapshots {
		store, err := a.buildBlobStore(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		opts = append(opts, crawler.WithSnapshots(snapshot.New(store, cfg.Storage.Prefix, clock, logger)))
	} else {
		a.SnapshotBackend = "disabled"
	}

	ctrlCfg := crawler.DefaultControllerConfig()
	ctrlCfg.MinListingsPerPage = cfg.Crawler.MinListingsPerPage
	ctrlCfg.PageRetry = &backoff.ExponentialPolicy{
		MaxAttempts: max(cfg.Crawler.PageRetries, 1),
		BaseDelay:   2 * time.Second,
		MaxDelay:    10 * time.Second,
	}
	controller := crawler.NewController(ctrlCfg, profile, pages, nav, extractor, logger, opts...)

	searchOpts := []search.Option{
		search.WithTTL(cfg.Cache.TTL),
		search.WithClock(clock),
		search.WithIDGenerator(ids),
	}
	if cfg.Crawler.APIFallback {
		apiFetcher, err := collyfetcher.New(collyfetcher.Config{
			UserAgents:     profile.UserAgents,
			AcceptLanguage: profile.AcceptLanguage,
			Accept:         olxapi.Accept,
			Headers:        map[string]string{"Origin": profile.BaseURL, "Referer": profile.HomeURL()},
			Timeout:        cfg.Enrich.RequestTimeout,
			Proxy:          cfg.Browser.Proxy,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("build offer api fetcher: %w", err)
		}
		searchOpts = append(searchOpts, search.WithFallback(olxapi.New(profile, apiFetcher, logger, olxapi.WithClock(clock))))
	}
	a.service = search.New(controller, cache, publisher, logger, searchOpts...)

	a.limiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
		Burst:             cfg.RateLimit.Burst,
		IdleTTL:           cfg.RateLimit.IdleTTL,
	})
	a.server = api.NewServer(a.service, a.session, a.limiter, ids, cfg.Server, logger)

	logger.Info("application services initialized",
		zap.String("cache", a.CacheBackend),
		zap.String("publisher", a.PublisherBackend),
		zap.String("snapshots", a.SnapshotBackend),
		zap.Bool("proxy", cfg.Browser.Proxy != ""),
		zap.Int("enrich_cap", cfg.Enrich.Cap),
		zap.Bool("api_fallback", cfg.Crawler.APIFallback))
	return a, nil
}

func (a *App) buildCache(ctx context.Context) (search.Cache, error) {
	if a.cfg.Cache.RedisAddr == "" {
		a.memory = memorycache.New()
		a.CacheBackend = "memory"
		return a.memory, nil
	}
	client, err := rediscache.Dial(ctx, rediscache.Config{
		Addr:     a.cfg.Cache.RedisAddr,
		Password: a.cfg.Cache.RedisPassword,
		DB:       a.cfg.Cache.RedisDB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cache: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	a.CacheBackend = "redis"
	return rediscache.New(client), nil
}

func (a *App) buildPublisher(ctx context.Context) (search.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" {
		a.PublisherBackend = "memory"
		return memorypublisher.New(publisherBuffer), nil
	}
	client, err := gpubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize pubsub: %w", err)
	}
	pub := pubsubpublisher.New(client.Topic(a.cfg.PubSub.TopicName))
	a.closers = append(a.closers, func() error {
		pub.Close()
		return client.Close()
	})
	a.PublisherBackend = "pubsub"
	return pub, nil
}

func (a *App) buildBlobStore(ctx context.Context) (storage.BlobStore, error) {
	if a.cfg.Storage.GCSBucket != "" {
		client, err := gstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage client: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		a.SnapshotBackend = "gcs"
		return store, nil
	}
	store, err := local.New(local.Config{BaseDir: a.cfg.Storage.LocalDir})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.SnapshotBackend = "local"
	return store, nil
}

// Service returns the search service.
func (a *App) Service() *search.Service {
	return a.service
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// RunMaintenance sweeps the in-memory cache and idle rate-limit buckets
// until ctx is done.
func (a *App) RunMaintenance(ctx context.Context) {
	if a.memory != nil {
		go a.memory.Run(ctx, sweepInterval)
	}
	a.limiter.Run(ctx, sweepInterval)
}

// Close shuts down the browser and backend clients in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
}

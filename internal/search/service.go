// Package search serves listing searches from a TTL cache in front of the
// crawler and announces completed live searches.
package search

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listing-crawler/internal/crawler"
	"github.com/JakeFAU/olx-listing-crawler/internal/hash/sha256"
	"github.com/JakeFAU/olx-listing-crawler/internal/listing"
	"github.com/JakeFAU/olx-listing-crawler/internal/metrics"
)

// Result sources.
const (
	SourceLive  = "live"
	SourceCache = "cache"
	// SourceAPI marks results read from the offer API after the browser
	// crawl was blocked.
	SourceAPI = "api"
)

const (
	// EventSearchCompleted is published after every live search.
	EventSearchCompleted = "search.completed"
	// DefaultTTL is how long a search result stays cached.
	DefaultTTL     = 120 * time.Second
	keyPrefix      = "search:"
	publishTimeout = 5 * time.Second
)

// ErrEmptyQuery is returned when the normalized query is blank.
var ErrEmptyQuery = errors.New("query is required")

// Crawler runs a live search.
type Crawler interface {
	Search(ctx context.Context, opts listing.SearchOptions) ([]listing.Listing, crawler.Stats, error)
}

// Cache stores encoded results by key.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Publisher emits search events.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload any) (string, error)
}

// IDGenerator creates event IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Result is what a search returns to callers.
type Result struct {
	Source   string
	Listings []listing.Listing
	Stats    crawler.Stats
}

// Event is the search.completed payload.
type Event struct {
	ID          string    `json:"id"`
	Query       string    `json:"query"`
	Count       int       `json:"count"`
	Source      string    `json:"source"`
	Pages       int       `json:"pages"`
	Partial     bool      `json:"partial"`
	DurationMs  int64     `json:"durationMs"`
	CompletedAt time.Time `json:"completedAt"`
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// Option customizes a Service.
type Option func(*Service)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock injects a clock.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithFallback sets the source tried when the crawl is blocked on its first
// page.
func WithFallback(c Crawler) Option {
	return func(s *Service) { s.fallback = c }
}

// WithIDGenerator injects the event ID source.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Service) { s.ids = g }
}

// Service is safe for concurrent use when its collaborators are.
type Service struct {
	crawler   Crawler
	fallback  Crawler
	cache     Cache
	publisher Publisher
	ids       IDGenerator
	clock     Clock
	hasher    *sha256.Hasher
	ttl       time.Duration
	logger    *zap.Logger
}

// New builds a Service. Cache and publisher may be nil.
func New(c Crawler, cache Cache, publisher Publisher, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		crawler:   c,
		cache:     cache,
		publisher: publisher,
		clock:     wallClock{},
		hasher:    sha256.New(),
		ttl:       DefaultTTL,
		logger:    logger.Named("search"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the cache key for the normalized options.
func (s *Service) Key(opts listing.SearchOptions) string {
	return keyPrefix + s.hasher.Short(opts.Fingerprint(), 0)
}

// Search returns cached listings when available and crawls otherwise.
func (s *Service) Search(ctx context.Context, opts listing.SearchOptions) (Result, error) {
	opts = opts.Normalize()
	if opts.Query == "" {
		return Result{}, ErrEmptyQuery
	}
	start := s.clock.Now()
	key := s.Key(opts)
	logger := s.logger.With(zap.String("query", opts.Query), zap.String("cache_key", key))

	if cached, ok := s.lookup(ctx, key, logger); ok {
		metrics.ObserveSearch(SourceCache, "ok", s.clock.Now().Sub(start))
		logger.Debug("served from cache", zap.Int("count", len(cached)))
		return Result{Source: SourceCache, Listings: cached}, nil
	}

	source := SourceLive
	listings, stats, err := s.crawler.Search(ctx, opts)
	if err != nil && s.fallback != nil && errors.Is(err, crawler.ErrBlocked) && ctx.Err() == nil {
		logger.Warn("crawl blocked, reading the offer api", zap.Error(err))
		fbListings, fbStats, fbErr := s.fallback.Search(ctx, opts)
		if fbErr == nil {
			source, listings, stats, err = SourceAPI, fbListings, fbStats, nil
		} else {
			logger.Warn("offer api fallback failed", zap.Error(fbErr))
		}
	}
	elapsed := s.clock.Now().Sub(start)
	if err != nil {
		metrics.ObserveSearch(source, statusOf(err), elapsed)
		return Result{}, err
	}
	metrics.ObserveSearch(source, "ok", elapsed)
	if listings == nil {
		listings = []listing.Listing{}
	}

	if !stats.Partial {
		s.store(ctx, key, listings, logger)
	}
	s.announce(ctx, opts, source, listings, stats, elapsed, logger)
	return Result{Source: source, Listings: listings, Stats: stats}, nil
}

func (s *Service) lookup(ctx context.Context, key string, logger *zap.Logger) ([]listing.Listing, bool) {
	if s.cache == nil {
		return nil, false
	}
	raw, ok, err := s.cache.Get(ctx, key)
	if err != nil {
		metrics.ObserveCacheLookup("error")
		logger.Warn("cache lookup failed, crawling", zap.Error(err))
		return nil, false
	}
	if !ok {
		metrics.ObserveCacheLookup("miss")
		return nil, false
	}
	var listings []listing.Listing
	if err := json.Unmarshal(raw, &listings); err != nil {
		metrics.ObserveCacheLookup("error")
		logger.Warn("cached value is unreadable, crawling", zap.Error(err))
		return nil, false
	}
	metrics.ObserveCacheLookup("hit")
	return listings, true
}

func (s *Service) store(ctx context.Context, key string, listings []listing.Listing, logger *zap.Logger) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(listings)
	if err != nil {
		logger.Warn("encode listings for cache", zap.Error(err))
		return
	}
	if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil {
		logger.Warn("cache store failed", zap.Error(err))
	}
}

func (s *Service) announce(
	ctx context.Context,
	opts listing.SearchOptions,
	source string,
	listings []listing.Listing,
	stats crawler.Stats,
	elapsed time.Duration,
	logger *zap.Logger,
) {
	if s.publisher == nil {
		return
	}
	event := Event{
		Query:       opts.Query,
		Count:       len(listings),
		Source:      source,
		Pages:       stats.Pages,
		Partial:     stats.Partial,
		DurationMs:  elapsed.Milliseconds(),
		CompletedAt: s.clock.Now(),
	}
	if s.ids != nil {
		id, err := s.ids.NewID()
		if err != nil {
			logger.Warn("generate event id", zap.Error(err))
		}
		event.ID = id
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	msgID, err := s.publisher.Publish(pubCtx, EventSearchCompleted, event)
	if err != nil {
		logger.Warn("publish search event", zap.Error(err))
		return
	}
	logger.Debug("search event published", zap.String("message_id", msgID))
}

func statusOf(err error) string {
	switch {
	case errors.Is(err, crawler.ErrBlocked):
		return "blocked"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

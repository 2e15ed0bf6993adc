// Package enrich fetches offer detail pages and reads the fields that the
// search results do not show.
package enrich

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/olx-listing-crawler/internal/backoff"
	collyfetcher "github.com/JakeFAU/olx-listing-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/olx-listing-crawler/internal/listing"
	"github.com/JakeFAU/olx-listing-crawler/internal/market"
	"github.com/JakeFAU/olx-listing-crawler/internal/metrics"
)

const (
	// DefaultCap is the number of listings enriched per search.
	DefaultCap = 20
	// DefaultConcurrency is the batch width.
	DefaultConcurrency = 3
	maxConcurrency     = 5
)

// Fetcher retrieves a detail page.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (collyfetcher.Response, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Config controls enrichment fan-out. Cap zero disables enrichment.
type Config struct {
	Cap         int
	Concurrency int
	PauseMin    time.Duration
	PauseMax    time.Duration
}

// DefaultConfig returns the production enrichment budget.
func DefaultConfig() Config {
	return Config{
		Cap:         DefaultCap,
		Concurrency: DefaultConcurrency,
		PauseMin:    300 * time.Millisecond,
		PauseMax:    800 * time.Millisecond,
	}
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the clock used to resolve relative dates.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithSelectors overrides the detail-page selectors.
func WithSelectors(s Selectors) Option {
	return func(e *Engine) { e.parser.selectors = s }
}

// Engine enriches listings in small parallel batches.
type Engine struct {
	cfg     Config
	fetcher Fetcher
	parser  parser
	clock   Clock
	logger  *zap.Logger
}

// New builds an Engine. Concurrency is clamped to [1,5].
func New(cfg Config, profile market.Profile, fetcher Fetcher, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Cap < 0 {
		cfg.Cap = 0
	}
	switch {
	case cfg.Concurrency < 1:
		cfg.Concurrency = 1
	case cfg.Concurrency > maxConcurrency:
		cfg.Concurrency = maxConcurrency
	}
	e := &Engine{
		cfg:     cfg,
		fetcher: fetcher,
		parser:  parser{profile: profile, selectors: DefaultSelectors()},
		clock:   systemClock{},
		logger:  logger.Named("enrich"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enrich fetches the detail pages of the first Cap listings and returns the
// non-empty details keyed by listing URL. Failures leave a listing out of the
// map; the remaining listings are never fetched.
func (e *Engine) Enrich(ctx context.Context, raws []listing.Raw) map[string]listing.Detail {
	out := make(map[string]listing.Detail)
	if e.cfg.Cap == 0 || e.fetcher == nil || len(raws) == 0 {
		return out
	}
	targets := raws
	if len(targets) > e.cfg.Cap {
		targets = targets[:e.cfg.Cap]
	}

	var mu sync.Mutex
	for start := 0; start < len(targets); start += e.cfg.Concurrency {
		if start > 0 {
			if err := backoff.Sleep(ctx, backoff.Between(e.cfg.PauseMin, e.cfg.PauseMax)); err != nil {
				break
			}
		}
		end := min(start+e.cfg.Concurrency, len(targets))

		var g errgroup.Group
		for _, raw := range targets[start:end] {
			g.Go(func() error {
				detail, err := e.enrichOne(ctx, raw)
				if err != nil {
					if ctx.Err() == nil {
						e.logger.Debug("enrich listing failed", zap.String("url", raw.URL), zap.Error(err))
					}
					metrics.ObserveEnrichRequest("error")
					return nil
				}
				if detail.Empty() {
					metrics.ObserveEnrichRequest("empty")
					return nil
				}
				metrics.ObserveEnrichRequest("ok")
				mu.Lock()
				out[raw.URL] = detail
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()
		if ctx.Err() != nil {
			break
		}
	}
	return out
}

func (e *Engine) enrichOne(ctx context.Context, raw listing.Raw) (listing.Detail, error) {
	if raw.URL == "" {
		return listing.Detail{}, fmt.Errorf("listing %s has no url", raw.ID)
	}
	resp, err := e.fetcher.Fetch(ctx, raw.URL)
	if err != nil {
		return listing.Detail{}, fmt.Errorf("fetch detail: %w", err)
	}
	res, err := e.parser.parse(string(resp.Body), raw, e.clock.Now())
	if err != nil {
		return listing.Detail{}, err
	}
	for range res.structuredErrors {
		metrics.ObserveStructuredDataError()
	}
	return res.detail, nil
}

package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listing-crawler/internal/backoff"
	"github.com/JakeFAU/olx-listing-crawler/internal/extract"
	"github.com/JakeFAU/olx-listing-crawler/internal/listing"
	"github.com/JakeFAU/olx-listing-crawler/internal/market"
	"github.com/JakeFAU/olx-listing-crawler/internal/metrics"
)

// Snapshot reasons.
const (
	SnapshotEmpty     = "empty"
	SnapshotChallenge = "challenge"
)

// Stats summarizes one crawl.
type Stats struct {
	Pages             int  `json:"pages"`
	Raw               int  `json:"raw"`
	Unique            int  `json:"unique"`
	Enriched          int  `json:"enriched"`
	SkippedNoID       int  `json:"skippedNoId"`
	SkippedNoPhoto    int  `json:"skippedNoPhoto"`
	SkippedInvalidURL int  `json:"skippedInvalidUrl"`
	ParseErrors       int  `json:"parseErrors"`
	DeliveryFallback  bool `json:"deliveryFallback"`
	Partial           bool `json:"partial"`
}

func (s *Stats) add(res extract.Result) {
	s.SkippedNoID += res.SkippedNoID
	s.SkippedNoPhoto += res.SkippedNoPhoto
	s.SkippedInvalidURL += res.SkippedInvalidURL
	s.ParseErrors += res.ParseErrors
}

// ControllerConfig tunes pagination.
type ControllerConfig struct {
	MinListingsPerPage int
	PageRetry          backoff.Policy
	Scroll             ScrollConfig
}

// DefaultControllerConfig returns production values.
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		MinListingsPerPage: 5,
		PageRetry: &backoff.ExponentialPolicy{
			MaxAttempts: 2,
			BaseDelay:   2 * time.Second,
			MaxDelay:    10 * time.Second,
		},
		Scroll: DefaultScrollConfig(),
	}
}

// Controller runs a search across result pages and aggregates the offers.
type Controller struct {
	cfg        ControllerConfig
	profile    market.Profile
	pages      PageSource
	nav        *Navigator
	extractor  Extractor
	enricher   Enricher
	normalizer listing.Normalizer
	snapshots  SnapshotSink
	logger     *zap.Logger
}

// ControllerOption customizes a Controller.
type ControllerOption func(*Controller)

// WithEnricher enables detail enrichment.
func WithEnricher(e Enricher) ControllerOption {
	return func(c *Controller) { c.enricher = e }
}

// WithSnapshots stores HTML of empty and challenge pages.
func WithSnapshots(s SnapshotSink) ControllerOption {
	return func(c *Controller) { c.snapshots = s }
}

// NewController wires the pipeline stages.
func NewController(
	cfg ControllerConfig,
	profile market.Profile,
	pages PageSource,
	nav *Navigator,
	extractor Extractor,
	logger *zap.Logger,
	opts ...ControllerOption,
) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageRetry == nil {
		cfg.PageRetry = DefaultControllerConfig().PageRetry
	}
	c := &Controller{
		cfg:        cfg,
		profile:    profile,
		pages:      pages,
		nav:        nav,
		extractor:  extractor,
		normalizer: profile.Normalizer(),
		logger:     logger.Named("controller"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type pageRequest struct {
	opts   listing.SearchOptions
	page   int
	mode   extract.Mode
	warmUp bool
}

// Search crawls up to opts.MaxPages result pages and returns normalized
// listings. A block on the first page returns ErrBlocked; failures on later
// pages keep what was gathered and mark the stats partial.
func (c *Controller) Search(ctx context.Context, opts listing.SearchOptions) ([]listing.Listing, Stats, error) {
	opts = opts.Normalize()
	var (
		stats    Stats
		gathered []listing.Raw
	)
	logger := c.logger.With(zap.String("query", opts.Query), zap.Int("max_pages", opts.MaxPages))
	current := opts
	mode := extract.Strict

	for page := 1; page <= opts.MaxPages; page++ {
		req := pageRequest{opts: current, page: page, mode: mode, warmUp: page == 1}
		res, err := c.fetchPage(ctx, req)
		if err == nil && page == 1 && len(res.Listings) == 0 && current.WithDelivery {
			logger.Info("no results with delivery filter, retrying without it", zap.Int("page", page))
			stats.DeliveryFallback = true
			current = current.WithoutDelivery()
			mode = extract.Relaxed
			req = pageRequest{opts: current, page: page, mode: mode}
			res, err = c.fetchPage(ctx, req)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, stats, fmt.Errorf("search canceled on page %d: %w", page, err)
			}
			if page == 1 {
				if errors.Is(err, ErrAntiBot) {
					metrics.ObservePage("blocked")
					logger.Warn("blocked on first page", zap.Error(err))
					return nil, stats, fmt.Errorf("%w: %w", ErrBlocked, err)
				}
				metrics.ObservePage("error")
				return nil, stats, fmt.Errorf("search page 1: %w", err)
			}
			stats.Partial = true
			if errors.Is(err, ErrAntiBot) {
				metrics.ObservePage("blocked")
				logger.Warn("blocked mid-crawl, returning partial results", zap.Int("page", page), zap.Error(err))
			} else {
				metrics.ObservePage("error")
				logger.Warn("page failed, returning partial results", zap.Int("page", page), zap.Error(err))
			}
			break
		}

		stats.Pages++
		stats.add(res)
		found := len(res.Listings)
		if found == 0 {
			metrics.ObservePage("empty")
		} else {
			metrics.ObservePage("ok")
		}
		kept := res.Listings
		if len(kept) > opts.PageSize {
			kept = kept[:opts.PageSize]
		}
		gathered = append(gathered, kept...)
		logger.Info("page extracted",
			zap.Int("page", page),
			zap.String("strategy", res.Strategy),
			zap.Int("found", found),
			zap.Int("kept", len(kept)),
			zap.Int("total", len(gathered)))

		if found < c.cfg.MinListingsPerPage {
			logger.Debug("last page reached", zap.Int("page", page))
			break
		}
	}

	stats.Raw = len(gathered)
	unique := listing.Dedupe(gathered)
	stats.Unique = len(unique)

	var details map[string]listing.Detail
	if c.enricher != nil && len(unique) > 0 {
		details = c.enricher.Enrich(ctx, unique)
	}
	stats.Enriched = len(details)

	out := make([]listing.Listing, 0, len(unique))
	for _, raw := range unique {
		if d, ok := details[raw.URL]; ok {
			out = append(out, c.normalizer.Merge(raw, &d))
			continue
		}
		out = append(out, c.normalizer.Merge(raw, nil))
	}

	c.observe(stats)
	logger.Info("search finished",
		zap.Int("pages", stats.Pages),
		zap.Int("raw", stats.Raw),
		zap.Int("unique", stats.Unique),
		zap.Int("enriched", stats.Enriched),
		zap.Int("skipped_no_id", stats.SkippedNoID),
		zap.Int("skipped_no_photo", stats.SkippedNoPhoto),
		zap.Int("skipped_invalid_url", stats.SkippedInvalidURL),
		zap.Bool("delivery_fallback", stats.DeliveryFallback),
		zap.Bool("partial", stats.Partial))
	return out, stats, nil
}

// fetchPage runs one page inside its own retry budget. Challenges are never
// retried here.
func (c *Controller) fetchPage(ctx context.Context, req pageRequest) (extract.Result, error) {
	var res extract.Result
	err := backoff.Do(ctx, c.cfg.PageRetry, func(ctx context.Context, attempt int) error {
		r, err := c.visit(ctx, req)
		if err != nil {
			c.logger.Debug("page attempt failed",
				zap.Int("page", req.page),
				zap.Int("attempt", attempt),
				zap.Error(err))
			if errors.Is(err, ErrAntiBot) {
				return backoff.Permanent(err)
			}
			return err
		}
		res = r
		return nil
	})
	return res, err
}

func (c *Controller) visit(ctx context.Context, req pageRequest) (extract.Result, error) {
	p, err := c.pages.Acquire(ctx, req.warmUp)
	if err != nil {
		return extract.Result{}, fmt.Errorf("acquire page: %w", err)
	}
	defer func() {
		if cerr := p.Close(); cerr != nil {
			c.logger.Debug("close page failed", zap.Error(cerr))
		}
	}()

	url := c.profile.SearchURL(req.opts, req.page)
	c.logger.Debug("opening results page", zap.Int("page", req.page), zap.String("url", url), zap.Stringer("mode", req.mode))
	if _, err := c.nav.Open(ctx, p, url, req.page == 1); err != nil {
		if errors.Is(err, ErrAntiBot) {
			c.snapshot(ctx, p, req, SnapshotChallenge)
		}
		return extract.Result{}, err
	}

	if _, err := stabilizeScroll(ctx, p, c.cfg.Scroll); err != nil {
		if ctx.Err() != nil {
			return extract.Result{}, fmt.Errorf("stabilize scroll: %w", err)
		}
		c.logger.Debug("scroll stabilization incomplete", zap.Error(err))
	}

	html, err := p.HTML(ctx)
	if err != nil {
		return extract.Result{}, fmt.Errorf("read results html: %w", err)
	}
	res, err := c.extractor.Extract(html, req.mode)
	if err != nil {
		return extract.Result{}, fmt.Errorf("extract page %d: %w", req.page, err)
	}
	if len(res.Listings) == 0 {
		c.saveSnapshot(ctx, req, SnapshotEmpty, html)
	}
	return res, nil
}

func (c *Controller) snapshot(ctx context.Context, p Page, req pageRequest, reason string) {
	if c.snapshots == nil {
		return
	}
	html, err := p.HTML(ctx)
	if err != nil {
		c.logger.Debug("read html for snapshot failed", zap.Error(err))
		return
	}
	c.saveSnapshot(ctx, req, reason, html)
}

func (c *Controller) saveSnapshot(ctx context.Context, req pageRequest, reason, html string) {
	if c.snapshots == nil {
		return
	}
	if err := c.snapshots.Save(ctx, req.opts.Query, req.page, reason, html); err != nil {
		c.logger.Warn("save snapshot failed", zap.Int("page", req.page), zap.String("reason", reason), zap.Error(err))
	}
}

func (c *Controller) observe(s Stats) {
	metrics.ObserveListings("raw", s.Raw)
	metrics.ObserveListings("unique", s.Unique)
	metrics.ObserveListings("enriched", s.Enriched)
	metrics.ObserveExtractSkipped("no_id", s.SkippedNoID)
	metrics.ObserveExtractSkipped("no_photo", s.SkippedNoPhoto)
	metrics.ObserveExtractSkipped("invalid_url", s.SkippedInvalidURL)
	metrics.ObserveExtractSkipped("parse_error", s.ParseErrors)
}

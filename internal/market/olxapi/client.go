// Package olxapi reads offers from the marketplace's public JSON offer API.
// It needs no browser, so it serves as the fallback source when the rendered
// results pages are blocked.
package olxapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listing-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/olx-listing-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/olx-listing-crawler/internal/listing"
	"github.com/JakeFAU/olx-listing-crawler/internal/market"
	"github.com/JakeFAU/olx-listing-crawler/internal/metrics"
)

// Accept is the header value the API client sends.
const Accept = "application/json, text/plain, */*"

var (
	// ErrForbidden is returned when the API answers 403.
	ErrForbidden = errors.New("offer api refused the request")
	// ErrResponse is returned for a body that is not an offers page.
	ErrResponse = errors.New("offer api returned an unreadable response")
)

// Fetcher performs one GET.
type Fetcher interface {
	Fetch(ctx context.Context, target string) (collyfetcher.Response, error)
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now().UTC() }

// Client pages through the offers endpoint and maps offers to listings.
type Client struct {
	profile    market.Profile
	fetcher    Fetcher
	normalizer listing.Normalizer
	clock      Clock
	logger     *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithClock injects the clock used for ScrapedAt.
func WithClock(c Clock) Option {
	return func(cl *Client) { cl.clock = c }
}

// New builds a Client for profile.
func New(profile market.Profile, fetcher Fetcher, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		profile:    profile,
		fetcher:    fetcher,
		normalizer: profile.Normalizer(),
		clock:      wallClock{},
		logger:     logger.Named("olxapi"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Search reads up to opts.MaxPages windows of opts.PageSize offers. It stops
// early on an empty or short window. A failure on the first window is
// returned; a later one ends the search with Stats.Partial set.
func (c *Client) Search(ctx context.Context, opts listing.SearchOptions) ([]listing.Listing, crawler.Stats, error) {
	opts = opts.Normalize()
	var stats crawler.Stats
	out := make([]listing.Listing, 0)
	seen := make(map[string]struct{})

	for window := 0; window < opts.MaxPages; window++ {
		target := c.profile.OffersAPIURL(opts, window*opts.PageSize, opts.PageSize)
		offers, err := c.fetchWindow(ctx, target)
		if err != nil {
			if window == 0 || ctx.Err() != nil {
				return nil, stats, err
			}
			c.logger.Warn("offer api window failed, returning partial results",
				zap.Int("window", window), zap.Error(err))
			stats.Partial = true
			break
		}
		stats.Pages++
		stats.Raw += len(offers)
		metrics.ObserveListings("api", len(offers))

		for _, raw := range offers {
			l, ok := c.toListing(raw)
			if !ok {
				stats.ParseErrors++
				continue
			}
			if _, dup := seen[l.ID]; dup {
				continue
			}
			seen[l.ID] = struct{}{}
			out = append(out, l)
		}
		if len(offers) < opts.PageSize {
			break
		}
	}
	stats.Unique = len(out)
	c.logger.Debug("offer api search finished",
		zap.String("query", opts.Query),
		zap.Int("windows", stats.Pages),
		zap.Int("listings", len(out)))
	return out, stats, nil
}

func (c *Client) fetchWindow(ctx context.Context, target string) ([]json.RawMessage, error) {
	resp, err := c.fetcher.Fetch(ctx, target)
	if err != nil {
		var statusErr *collyfetcher.StatusError
		if errors.As(err, &statusErr) && statusErr.Code == http.StatusForbidden {
			metrics.ObserveAPIRequest("forbidden")
			return nil, fmt.Errorf("%w: %w", ErrForbidden, err)
		}
		metrics.ObserveAPIRequest("error")
		return nil, fmt.Errorf("fetch offers: %w", err)
	}
	if len(resp.Body) == 0 {
		metrics.ObserveAPIRequest("ok")
		return nil, nil
	}
	var p page
	if err := json.Unmarshal(resp.Body, &p); err != nil {
		metrics.ObserveAPIRequest("parse_error")
		return nil, fmt.Errorf("%w: %w", ErrResponse, err)
	}
	metrics.ObserveAPIRequest("ok")
	return p.Data, nil
}

func (c *Client) toListing(raw json.RawMessage) (listing.Listing, bool) {
	o, err := decodeOffer(raw)
	if err != nil {
		c.logger.Debug("skipping undecodable offer", zap.Error(err))
		return listing.Listing{}, false
	}
	if o.URL == "" || o.id() == "" {
		return listing.Listing{}, false
	}
	r, d := o.split(c.profile.BaseURL, c.clock.Now())
	l := c.normalizer.Merge(r, &d)
	l.CategoryID = o.Category.ID.String()
	l.CategoryType = o.Category.Type
	l.Coordinates = o.coordinates()
	return l, true
}

// Package extract turns a rendered search-results page into raw offers using
// ordered selector strategies.
package extract

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listing-crawler/internal/hash/sha256"
	"github.com/JakeFAU/olx-listing-crawler/internal/listing"
	"github.com/JakeFAU/olx-listing-crawler/internal/market"
)

// Mode selects how strictly offer anchors are validated.
type Mode int

const (
	// Strict requires an offer ID token or an offer slug suffix in the href.
	Strict Mode = iota
	// Relaxed only requires an offer path. Used for the delivery fallback pass.
	Relaxed
)

func (m Mode) String() string {
	if m == Relaxed {
		return "relaxed"
	}
	return "strict"
}

const syntheticIDLength = 12

var (
	idPattern          = regexp.MustCompile(`(?:^|[-/_])ID([a-zA-Z0-9]+)`)
	offerSuffixPattern = regexp.MustCompile(`-[A-Za-z0-9]+\.html$`)
)

// Result is the outcome of extracting one page.
type Result struct {
	Listings          []listing.Raw
	Strategy          string
	Candidates        int
	SkippedNoID       int
	SkippedNoPhoto    int
	SkippedInvalidURL int
	ParseErrors       int
}

// Hasher derives short stable digests for synthetic IDs.
type Hasher interface {
	Short(s string, n int) string
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// Extractor reads offers out of rendered HTML.
type Extractor struct {
	profile   market.Profile
	hasher    Hasher
	clock     Clock
	logger    *zap.Logger
	links     []LinkStrategy
	titles    []FieldStrategy
	prices    []FieldStrategy
	locations []FieldStrategy
	images    []FieldStrategy
}

// Option customizes an Extractor.
type Option func(*Extractor)

// WithClock overrides the clock used for ScrapedAt and relative dates.
func WithClock(c Clock) Option {
	return func(e *Extractor) { e.clock = c }
}

// WithHasher overrides the digest used for synthetic IDs.
func WithHasher(h Hasher) Option {
	return func(e *Extractor) { e.hasher = h }
}

// WithLogger attaches a logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// WithLinkStrategies replaces the anchor cascade.
func WithLinkStrategies(s []LinkStrategy) Option {
	return func(e *Extractor) { e.links = s }
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// New builds an Extractor for the given market.
func New(profile market.Profile, opts ...Option) *Extractor {
	e := &Extractor{
		profile:   profile,
		hasher:    sha256.New(),
		clock:     utcClock{},
		logger:    zap.NewNop(),
		links:     DefaultLinkStrategies(),
		titles:    titleStrategies(),
		prices:    priceStrategies(profile.Currency),
		locations: locationStrategies(profile.Dates, profile.Currency),
		images:    imageStrategies(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	e.logger = e.logger.Named("extract")
	return e
}

// Extract parses html and returns the offers found. The first link strategy
// that matches any anchor decides the candidate set, even if every candidate
// is later rejected. Per-card failures only bump counters.
func (e *Extractor) Extract(html string, mode Mode) (Result, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Result{}, fmt.Errorf("parse results html: %w", err)
	}

	for _, strategy := range e.links {
		anchors := doc.Find(strategy.Selector)
		if anchors.Length() == 0 {
			continue
		}
		res := e.extractAnchors(anchors, mode)
		res.Strategy = strategy.Name
		return res, nil
	}
	return Result{Listings: []listing.Raw{}}, nil
}

func (e *Extractor) extractAnchors(anchors *goquery.Selection, mode Mode) Result {
	res := Result{Listings: []listing.Raw{}}
	now := e.clock.Now()
	seen := make(map[string]struct{})
	rejected := make(map[string]struct{})

	anchors.Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if href == "" {
			return
		}
		if _, ok := seen[href]; ok {
			return
		}
		if _, ok := rejected[href]; ok {
			return
		}
		res.Candidates++

		if !e.validHref(href, mode) {
			rejected[href] = struct{}{}
			res.SkippedNoID++
			return
		}

		raw, status := e.extractCandidate(a, href, now)
		switch status {
		case outcomeOK:
			seen[href] = struct{}{}
			if raw.PlaceholderImage {
				res.SkippedNoPhoto++
			}
			res.Listings = append(res.Listings, raw)
		case outcomeInvalidURL:
			rejected[href] = struct{}{}
			res.SkippedInvalidURL++
		case outcomeParseError:
			rejected[href] = struct{}{}
			res.ParseErrors++
		case outcomeSkipped:
			rejected[href] = struct{}{}
		}
	})
	return res
}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeSkipped
	outcomeInvalidURL
	outcomeParseError
)

func (e *Extractor) extractCandidate(a *goquery.Selection, href string, now time.Time) (raw listing.Raw, result outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Debug("card parse failed", zap.String("href", href), zap.Any("panic", r))
			raw, result = listing.Raw{}, outcomeParseError
		}
	}()

	card := findCard(a)
	if card.Length() == 0 {
		return listing.Raw{}, outcomeSkipped
	}
	c := Candidate{Anchor: a, Card: card, Href: href}

	title := firstOK(e.titles, c)
	if title == "" {
		return listing.Raw{}, outcomeSkipped
	}

	fullURL := cleanURL(e.profile.AbsoluteURL(href))
	if !e.hasOfferPath(fullURL) {
		return listing.Raw{}, outcomeInvalidURL
	}

	raw = listing.Raw{
		Title:     title,
		Currency:  e.profile.Currency,
		Location:  e.profile.DefaultLocation,
		URL:       fullURL,
		ScrapedAt: now,
	}

	if label := firstOK(e.prices, c); label != "" {
		raw.PriceLabel = label
		if v, ok := listing.ParsePrice(label); ok {
			raw.Price = &v
		}
	}

	if text := firstOK(e.locations, c); text != "" {
		place, when := splitLocationDate(text)
		if place != "" {
			raw.Location = place
		}
		if t, ok := e.profile.Dates.Parse(when, now); ok {
			raw.PublishedAt = t
		}
	}

	if img := firstOK(e.images, c); img != "" {
		raw.Image = img
		raw.Images = []string{img}
	} else {
		raw.Image = e.profile.PlaceholderImage
		raw.Images = []string{}
		raw.PlaceholderImage = true
	}

	if m := idPattern.FindStringSubmatch(href); m != nil {
		raw.ID = m[1]
	} else {
		raw.ID = e.profile.Name + "-" + e.hasher.Short(fullURL, syntheticIDLength)
		raw.SyntheticID = true
	}
	return raw, outcomeOK
}

func (e *Extractor) validHref(href string, mode Mode) bool {
	if !e.hasOfferPath(href) || e.isNonOffer(href) {
		return false
	}
	if mode == Relaxed {
		return true
	}
	path := href
	if u, err := url.Parse(href); err == nil && u.Path != "" {
		path = u.Path
	}
	return idPattern.MatchString(path) || offerSuffixPattern.MatchString(path)
}

func (e *Extractor) hasOfferPath(href string) bool {
	for _, marker := range e.profile.OfferPathMarkers {
		if strings.Contains(href, marker) {
			return true
		}
	}
	return false
}

func (e *Extractor) isNonOffer(href string) bool {
	for _, marker := range e.profile.NonOfferMarkers {
		if strings.Contains(href, marker) {
			return true
		}
	}
	path := href
	if u, err := url.Parse(href); err == nil {
		path = u.Path
	}
	for _, suffix := range e.profile.NonOfferSuffixes {
		if strings.HasSuffix(path, suffix) {
			return true
		}
	}
	return false
}

func findCard(a *goquery.Selection) *goquery.Selection {
	if card := a.Closest(`[data-cy="l-card"]`); card.Length() > 0 {
		return card
	}
	if card := a.Closest(`div[data-testid*="listing"]`); card.Length() > 0 {
		return card
	}
	return a.Parent().Parent()
}

func cleanURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}

func splitLocationDate(text string) (string, string) {
	if place, when, ok := strings.Cut(text, " - "); ok {
		return strings.TrimSpace(place), strings.TrimSpace(when)
	}
	if place, when, ok := strings.Cut(text, "-"); ok {
		return strings.TrimSpace(place), strings.TrimSpace(when)
	}
	return strings.TrimSpace(text), ""
}

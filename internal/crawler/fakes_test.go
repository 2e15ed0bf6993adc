package crawler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listing-crawler/internal/backoff"
	"github.com/JakeFAU/olx-listing-crawler/internal/extract"
	"github.com/JakeFAU/olx-listing-crawler/internal/listing"
	"github.com/JakeFAU/olx-listing-crawler/internal/market"
)

const blockedHTML = `<html><head><title>Access denied</title></head><body><h1>Access denied</h1></body></html>`

// fakeSite scripts the responses of a marketplace. serve receives the URL and
// how many times it has been loaded (navigations plus reloads), starting at 1.
type fakeSite struct {
	mu          sync.Mutex
	serve       func(url string, visit int) (string, error)
	visits      map[string]int
	navigations []string
	reloads     int
	acquires    []bool
	closed      int
	heights     []int64
}

func newFakeSite(serve func(url string, visit int) (string, error)) *fakeSite {
	return &fakeSite{serve: serve, visits: make(map[string]int)}
}

func (s *fakeSite) Acquire(_ context.Context, warmUp bool) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acquires = append(s.acquires, warmUp)
	return &fakePage{site: s}, nil
}

func (s *fakeSite) load(url string, reload bool) (string, error) {
	s.mu.Lock()
	s.visits[url]++
	visit := s.visits[url]
	if reload {
		s.reloads++
	} else {
		s.navigations = append(s.navigations, url)
	}
	s.mu.Unlock()
	return s.serve(url, visit)
}

func (s *fakeSite) navigationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.navigations)
}

type fakePage struct {
	site   *fakeSite
	url    string
	html   string
	scroll int
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.url = url
	html, err := p.site.load(url, false)
	if err != nil {
		return err
	}
	p.html = html
	return nil
}

func (p *fakePage) Reload(_ context.Context) error {
	html, err := p.site.load(p.url, true)
	if err != nil {
		return err
	}
	p.html = html
	return nil
}

func (p *fakePage) HTML(context.Context) (string, error) { return p.html, nil }

func (p *fakePage) Title(context.Context) (string, error) {
	start := strings.Index(p.html, "<title>")
	end := strings.Index(p.html, "</title>")
	if start < 0 || end < start {
		return "", nil
	}
	return p.html[start+len("<title>") : end], nil
}

func (p *fakePage) WaitAny(context.Context, []string) error { return nil }

func (p *fakePage) ScrollToBottom(context.Context) (int64, error) {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	p.scroll++
	if len(p.site.heights) == 0 {
		return 1000, nil
	}
	i := p.scroll - 1
	if i >= len(p.site.heights) {
		i = len(p.site.heights) - 1
	}
	return p.site.heights[i], nil
}

func (p *fakePage) ScrollBy(context.Context, int) error { return nil }

func (p *fakePage) Click(context.Context, string) error { return nil }

func (p *fakePage) Close() error {
	p.site.mu.Lock()
	defer p.site.mu.Unlock()
	p.site.closed++
	return nil
}

// resultsHTML renders n valid offer cards whose IDs are prefixed with tag.
func resultsHTML(tag string, n int) string {
	var b strings.Builder
	b.WriteString("<html><head><title>Wyniki - OLX.pl</title></head><body>")
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b,
			`<div data-cy="l-card"><a href="/d/oferta/oferta-%[1]s-%[2]d-CID99-ID%[1]sx%[2]d.html"><h6>Oferta %[1]s %[2]d</h6></a><p data-testid="ad-price">%[2]d00 zł</p><p data-testid="location-date">Warszawa - Dzisiaj o 10:00</p></div>`,
			tag, i)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func testNavigatorConfig() NavigatorConfig {
	cfg := DefaultNavigatorConfig(market.OLX().ResultSelectors)
	cfg.ReadingPauseMin, cfg.ReadingPauseMax = 0, 0
	cfg.NavTimeout = time.Second
	cfg.ReadyTimeout = time.Second
	cfg.Retry = &backoff.ExponentialPolicy{MaxAttempts: 3}
	return cfg
}

func testControllerConfig() ControllerConfig {
	return ControllerConfig{
		MinListingsPerPage: 5,
		PageRetry:          &backoff.ExponentialPolicy{MaxAttempts: 2},
		Scroll:             ScrollConfig{StableRounds: 1, MaxIterations: 3},
	}
}

func newTestController(site *fakeSite, opts ...ControllerOption) *Controller {
	profile := market.OLX()
	nav := NewNavigator(testNavigatorConfig(), NewChallengeDetector(profile), zap.NewNop())
	return NewController(testControllerConfig(), profile, site, nav, extract.New(profile), zap.NewNop(), opts...)
}

type recordingEnricher struct {
	mu    sync.Mutex
	calls [][]listing.Raw
	out   map[string]listing.Detail
}

func (e *recordingEnricher) Enrich(_ context.Context, raws []listing.Raw) map[string]listing.Detail {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, raws)
	return e.out
}

type recordingSnapshots struct {
	mu      sync.Mutex
	reasons []string
}

func (s *recordingSnapshots) Save(_ context.Context, _ string, page int, reason string, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reasons = append(s.reasons, fmt.Sprintf("%d-%s", page, reason))
	return nil
}

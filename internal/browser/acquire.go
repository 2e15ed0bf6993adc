package browser

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listing-crawler/internal/backoff"
	"github.com/JakeFAU/olx-listing-crawler/internal/crawler"
	"github.com/JakeFAU/olx-listing-crawler/internal/market"
)

// AcquirerConfig controls tab preparation and pacing.
type AcquirerConfig struct {
	// MaxTabs caps concurrently open tabs; zero means unlimited.
	MaxTabs        int
	InterPageMin   time.Duration
	InterPageMax   time.Duration
	WarmUpPauseMin time.Duration
	WarmUpPauseMax time.Duration
	WarmUpTimeout  time.Duration
	ConsentTimeout time.Duration
	WarmUpRetry    backoff.Policy
}

// DefaultAcquirerConfig returns production pacing.
func DefaultAcquirerConfig() AcquirerConfig {
	return AcquirerConfig{
		MaxTabs:        4,
		InterPageMin:   1500 * time.Millisecond,
		InterPageMax:   3 * time.Second,
		WarmUpPauseMin: 800 * time.Millisecond,
		WarmUpPauseMax: 1800 * time.Millisecond,
		WarmUpTimeout:  30 * time.Second,
		ConsentTimeout: 2 * time.Second,
		WarmUpRetry:    &backoff.ExponentialPolicy{MaxAttempts: 2, BaseDelay: time.Second, MaxDelay: 4 * time.Second},
	}
}

// Launcher yields the live browser context.
type Launcher interface {
	Acquire(ctx context.Context) (context.Context, error)
}

// Acquirer hands out prepared tabs. It implements crawler.PageSource.
type Acquirer struct {
	cfg     AcquirerConfig
	profile market.Profile
	logger  *zap.Logger
	limiter chan struct{}
	open    func(ctx context.Context) (crawler.Page, error)
}

// NewAcquirer builds an acquirer that opens tabs in the browser from launcher.
func NewAcquirer(cfg AcquirerConfig, profile market.Profile, launcher Launcher, logger *zap.Logger) *Acquirer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WarmUpRetry == nil {
		cfg.WarmUpRetry = backoff.NewExponentialPolicy()
	}
	a := &Acquirer{cfg: cfg, profile: profile, logger: logger.Named("acquirer")}
	if cfg.MaxTabs > 0 {
		a.limiter = make(chan struct{}, cfg.MaxTabs)
	}
	a.open = func(ctx context.Context) (crawler.Page, error) {
		return a.openTab(ctx, launcher)
	}
	return a
}

// Acquire opens a tab. With warmUp set the tab first visits the home page and
// settles the cookie banner; otherwise the call paces itself between pages.
func (a *Acquirer) Acquire(ctx context.Context, warmUp bool) (crawler.Page, error) {
	if !warmUp {
		if err := backoff.Sleep(ctx, backoff.Between(a.cfg.InterPageMin, a.cfg.InterPageMax)); err != nil {
			return nil, err
		}
	}
	if err := a.acquireSlot(ctx); err != nil {
		return nil, err
	}
	p, err := a.open(ctx)
	if err != nil {
		a.releaseSlot()
		return nil, err
	}
	leased := &leasedPage{Page: p, release: a.releaseSlot}
	if warmUp {
		if err := a.warmUp(ctx, leased); err != nil {
			if ctx.Err() != nil {
				_ = leased.Close()
				return nil, err
			}
			a.logger.Warn("warm-up failed, continuing", zap.Error(err))
		}
	}
	return leased, nil
}

func (a *Acquirer) acquireSlot(ctx context.Context) error {
	if a.limiter == nil {
		return nil
	}
	select {
	case a.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("tab slot wait canceled: %w", ctx.Err())
	}
}

func (a *Acquirer) releaseSlot() {
	if a.limiter == nil {
		return
	}
	select {
	case <-a.limiter:
	default:
	}
}

// warmUp visits the home page like a person would before searching.
func (a *Acquirer) warmUp(ctx context.Context, p crawler.Page) error {
	home := a.profile.HomeURL()
	err := backoff.Do(ctx, a.cfg.WarmUpRetry, func(ctx context.Context, _ int) error {
		navCtx, cancel := withTimeout(ctx, a.cfg.WarmUpTimeout)
		defer cancel()
		return p.Navigate(navCtx, home)
	})
	if err != nil {
		return fmt.Errorf("warm-up %s: %w", home, err)
	}
	if err := backoff.Sleep(ctx, backoff.Between(a.cfg.WarmUpPauseMin, a.cfg.WarmUpPauseMax)); err != nil {
		return err
	}
	for _, sel := range a.profile.CookieConsentSelectors {
		clickCtx, cancel := withTimeout(ctx, a.cfg.ConsentTimeout)
		err := p.Click(clickCtx, sel)
		cancel()
		if err == nil {
			a.logger.Debug("accepted cookie consent", zap.String("selector", sel))
			break
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	for _, dy := range []int{300 + rand.IntN(300), 200 + rand.IntN(400)} {
		if err := p.ScrollBy(ctx, dy); err != nil && ctx.Err() == nil {
			a.logger.Debug("warm-up scroll", zap.Error(err))
		}
		if err := backoff.Sleep(ctx, backoff.Between(a.cfg.WarmUpPauseMin/2, a.cfg.WarmUpPauseMax/2)); err != nil {
			return err
		}
	}
	return nil
}

func (a *Acquirer) openTab(ctx context.Context, launcher Launcher) (crawler.Page, error) {
	bctx, err := launcher.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	tab, err := a.newTab(ctx, bctx, chromedp.WithNewBrowserContext())
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		a.logger.Debug("isolated context unavailable, using a plain tab", zap.Error(err))
		tab, err = a.newTab(ctx, bctx)
		if err != nil {
			return nil, fmt.Errorf("open tab: %w", err)
		}
	}
	return tab, nil
}

func (a *Acquirer) newTab(ctx, bctx context.Context, opts ...chromedp.ContextOption) (*Tab, error) {
	tctx, cancel := chromedp.NewContext(bctx, opts...)
	if err := attachTab(ctx, tctx, cancel); err != nil {
		cancel()
		return nil, err
	}
	tab := newTab(tctx, cancel)
	if err := tab.run(ctx, a.identity(), resourceFilter(tctx, a.logger)); err != nil {
		cancel()
		return nil, err
	}
	return tab, nil
}

// identity applies the user agent, headers, viewport and stealth script.
func (a *Acquirer) identity() chromedp.Action {
	ua := a.pickUserAgent()
	return chromedp.ActionFunc(func(ctx context.Context) error {
		override := emulation.SetUserAgentOverride(ua)
		if a.profile.AcceptLanguage != "" {
			override = override.WithAcceptLanguage(a.profile.AcceptLanguage)
		}
		if ua != "" {
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		headers := network.Headers{}
		if a.profile.AcceptLanguage != "" {
			headers["Accept-Language"] = a.profile.AcceptLanguage
		}
		if a.profile.Accept != "" {
			headers["Accept"] = a.profile.Accept
		}
		if len(headers) > 0 {
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		if err := emulation.SetDeviceMetricsOverride(1920, 1080, 1, false).Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		if _, err := page.AddScriptToEvaluateOnNewDocument(stealth.JS).Do(ctx); err != nil {
			return fmt.Errorf("inject stealth script: %w", err)
		}
		return nil
	})
}

func (a *Acquirer) pickUserAgent() string {
	if len(a.profile.UserAgents) == 0 {
		return ""
	}
	return a.profile.UserAgents[rand.IntN(len(a.profile.UserAgents))]
}

// leasedPage returns its tab slot on Close.
type leasedPage struct {
	crawler.Page
	release func()
	once    sync.Once
}

func (p *leasedPage) Close() error {
	err := p.Page.Close()
	p.once.Do(p.release)
	return err
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

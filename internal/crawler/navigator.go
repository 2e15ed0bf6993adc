package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listing-crawler/internal/backoff"
	"github.com/JakeFAU/olx-listing-crawler/internal/metrics"
)

type navState int

const (
	navInit navState = iota
	navNavigating
	navError
	navLoaded
	navCheckingChallenge
	navBlocked
	navReady
)

func (s navState) String() string {
	switch s {
	case navInit:
		return "init"
	case navNavigating:
		return "navigating"
	case navError:
		return "nav_error"
	case navLoaded:
		return "loaded"
	case navCheckingChallenge:
		return "checking_challenge"
	case navBlocked:
		return "blocked"
	case navReady:
		return "ready"
	default:
		return "unknown"
	}
}

// NavigatorConfig tunes navigation timing and retries.
type NavigatorConfig struct {
	NavRetries      int
	NavTimeout      time.Duration
	ReadyTimeout    time.Duration
	ReadingPauseMin time.Duration
	ReadingPauseMax time.Duration
	ReadySelectors  []string
	Retry           backoff.Policy
}

// DefaultNavigatorConfig returns production timings.
func DefaultNavigatorConfig(readySelectors []string) NavigatorConfig {
	return NavigatorConfig{
		NavRetries:      2,
		NavTimeout:      60 * time.Second,
		ReadyTimeout:    10 * time.Second,
		ReadingPauseMin: 1500 * time.Millisecond,
		ReadingPauseMax: 3500 * time.Millisecond,
		ReadySelectors:  readySelectors,
		Retry: &backoff.ExponentialPolicy{
			MaxAttempts: 3,
			BaseDelay:   time.Second,
			MaxDelay:    8 * time.Second,
		},
	}
}

// NavResult reports what one Open call did.
type NavResult struct {
	Attempts int
	Reloaded bool
}

// Navigator loads a results URL and decides whether the page is usable.
type Navigator struct {
	cfg      NavigatorConfig
	detector *ChallengeDetector
	logger   *zap.Logger
}

// NewNavigator wires the detector and logger.
func NewNavigator(cfg NavigatorConfig, detector *ChallengeDetector, logger *zap.Logger) *Navigator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Retry == nil {
		cfg.Retry = backoff.NewExponentialPolicy()
	}
	if cfg.NavRetries < 0 {
		cfg.NavRetries = 0
	}
	return &Navigator{cfg: cfg, detector: detector, logger: logger.Named("navigator")}
}

// Open navigates p to url and runs the challenge check. On the first page of
// a crawl a challenge fails immediately; later pages get one reload first.
func (n *Navigator) Open(ctx context.Context, p Page, url string, firstLoad bool) (NavResult, error) {
	var (
		res       NavResult
		lastErr   error
		challenge Challenge
	)
	state := navInit
	for {
		switch state {
		case navInit:
			state = navNavigating

		case navNavigating:
			res.Attempts++
			if err := n.navigate(ctx, p, url); err != nil {
				metrics.ObserveNavigation("error")
				lastErr = err
				state = navError
				continue
			}
			metrics.ObserveNavigation("ok")
			state = navLoaded

		case navError:
			if ctx.Err() != nil {
				return res, fmt.Errorf("navigate %s: %w", url, lastErr)
			}
			if res.Attempts > n.cfg.NavRetries {
				return res, fmt.Errorf("%w: %s after %d attempts: %w", ErrNavigation, url, res.Attempts, lastErr)
			}
			delay := n.cfg.Retry.Backoff(res.Attempts)
			n.logger.Debug("navigation failed, retrying",
				zap.String("url", url),
				zap.Int("attempt", res.Attempts),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			if err := backoff.Sleep(ctx, delay); err != nil {
				return res, fmt.Errorf("navigate %s: %w", url, err)
			}
			state = navNavigating

		case navLoaded:
			if err := backoff.Sleep(ctx, backoff.Between(n.cfg.ReadingPauseMin, n.cfg.ReadingPauseMax)); err != nil {
				return res, fmt.Errorf("navigate %s: %w", url, err)
			}
			state = navCheckingChallenge

		case navCheckingChallenge:
			found, c := n.check(ctx, p)
			if !found {
				state = navReady
				continue
			}
			challenge = c
			metrics.ObserveChallenge(c.Kind)
			n.logger.Warn("challenge detected",
				zap.String("url", url),
				zap.String("kind", c.Kind),
				zap.String("marker", c.Marker),
				zap.Bool("first_load", firstLoad),
				zap.Bool("reloaded", res.Reloaded))
			if firstLoad || res.Reloaded {
				state = navBlocked
				continue
			}
			res.Reloaded = true
			if err := n.reload(ctx, p); err != nil {
				metrics.ObserveNavigation("error")
				if ctx.Err() != nil {
					return res, fmt.Errorf("navigate %s: %w", url, err)
				}
				return res, fmt.Errorf("%w: %s: %w", ErrNavigation, url, err)
			}
			state = navLoaded

		case navBlocked:
			return res, &AntiBotError{
				URL:     url,
				Marker:  challenge.Marker,
				Kind:    challenge.Kind,
				Persist: res.Reloaded,
			}

		case navReady:
			n.waitReady(ctx, p, url)
			return res, nil
		}
	}
}

func (n *Navigator) navigate(ctx context.Context, p Page, url string) error {
	navCtx, cancel := withOptionalTimeout(ctx, n.cfg.NavTimeout)
	defer cancel()
	if err := p.Navigate(navCtx, url); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return nil
}

func (n *Navigator) reload(ctx context.Context, p Page) error {
	navCtx, cancel := withOptionalTimeout(ctx, n.cfg.NavTimeout)
	defer cancel()
	if err := p.Reload(navCtx); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

func (n *Navigator) check(ctx context.Context, p Page) (bool, Challenge) {
	html, err := p.HTML(ctx)
	if err != nil {
		n.logger.Debug("read html for challenge check failed", zap.Error(err))
	}
	title, err := p.Title(ctx)
	if err != nil {
		n.logger.Debug("read title for challenge check failed", zap.Error(err))
	}
	c, found := n.detector.Detect(html, title)
	return found, c
}

func (n *Navigator) waitReady(ctx context.Context, p Page, url string) {
	if len(n.cfg.ReadySelectors) == 0 {
		return
	}
	waitCtx, cancel := withOptionalTimeout(ctx, n.cfg.ReadyTimeout)
	defer cancel()
	if err := p.WaitAny(waitCtx, n.cfg.ReadySelectors); err != nil && !errors.Is(ctx.Err(), context.Canceled) {
		n.logger.Debug("results not visible before timeout", zap.String("url", url), zap.Error(err))
	}
}

func withOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Package browser owns the shared headless Chrome process and hands out
// prepared tabs for the crawler.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listing-crawler/internal/metrics"
)

// ErrClosed is returned once the session has been shut down.
var ErrClosed = errors.New("browser session closed")

// Config controls how Chrome is launched.
type Config struct {
	ExecPath      string
	Proxy         string
	Headless      bool
	WindowWidth   int
	WindowHeight  int
	LaunchTimeout time.Duration
}

// DefaultConfig returns production launch settings.
func DefaultConfig() Config {
	return Config{
		Headless:      true,
		WindowWidth:   1920,
		WindowHeight:  1080,
		LaunchTimeout: 30 * time.Second,
	}
}

// handle is one running browser.
type handle struct {
	ctx    context.Context
	cancel context.CancelFunc
	lost   <-chan struct{}
}

func (h *handle) alive() bool {
	select {
	case <-h.lost:
		return false
	default:
		return true
	}
}

type flight struct {
	done chan struct{}
	h    *handle
	err  error
}

// Session lazily launches one browser and shares it across searches.
// Concurrent callers that find no live browser wait on a single launch.
type Session struct {
	cfg    Config
	logger *zap.Logger
	launch func(ctx context.Context) (*handle, error)

	mu       sync.Mutex
	current  *handle
	inflight *flight
	closed   bool
}

// NewSession builds a session; Chrome is not started until first use.
func NewSession(cfg Config, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WindowWidth <= 0 || cfg.WindowHeight <= 0 {
		cfg.WindowWidth, cfg.WindowHeight = 1920, 1080
	}
	if cfg.LaunchTimeout <= 0 {
		cfg.LaunchTimeout = 30 * time.Second
	}
	s := &Session{cfg: cfg, logger: logger.Named("browser")}
	s.launch = s.launchChrome
	return s
}

// Acquire returns the chromedp context of a live browser, launching one if
// needed. Launch failures are returned to every waiting caller.
func (s *Session) Acquire(ctx context.Context) (context.Context, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	if s.current != nil && s.current.alive() {
		h := s.current
		s.mu.Unlock()
		return h.ctx, nil
	}
	if f := s.inflight; f != nil {
		s.mu.Unlock()
		select {
		case <-f.done:
			if f.err != nil {
				return nil, f.err
			}
			return f.h.ctx, nil
		case <-ctx.Done():
			return nil, fmt.Errorf("wait for browser launch: %w", ctx.Err())
		}
	}
	f := &flight{done: make(chan struct{})}
	s.inflight = f
	s.mu.Unlock()

	f.h, f.err = s.launch(ctx)

	s.mu.Lock()
	s.inflight = nil
	switch {
	case f.err != nil:
		metrics.ObserveBrowserLaunch("error")
	case s.closed:
		f.h.cancel()
		f.h, f.err = nil, ErrClosed
	default:
		metrics.ObserveBrowserLaunch("ok")
		s.current = f.h
		go s.watch(f.h)
	}
	s.mu.Unlock()
	close(f.done)

	if f.err != nil {
		return nil, f.err
	}
	return f.h.ctx, nil
}

// Healthy reports whether the session can serve tabs: either no browser has
// been needed yet or the current one is still connected.
func (s *Session) Healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.current == nil || s.current.alive()
}

// Close terminates the browser and prevents further launches.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.current != nil {
		s.current.cancel()
		s.current = nil
	}
}

func (s *Session) watch(h *handle) {
	<-h.lost
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == h {
		s.current = nil
		if !s.closed {
			s.logger.Warn("browser disconnected, will relaunch on next use")
		}
	}
}

func (s *Session) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-software-rasterizer", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-features", "IsolateOrigins,site-per-process"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("lang", "pl-PL"),
		chromedp.WindowSize(s.cfg.WindowWidth, s.cfg.WindowHeight),
	)
	if !s.cfg.Headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}
	if s.cfg.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(s.cfg.Proxy))
	}
	if s.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(s.cfg.ExecPath))
	}
	return opts
}

func (s *Session) launchChrome(ctx context.Context) (*handle, error) {
	start := time.Now()
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), s.allocatorOptions()...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithErrorf(s.logger.Sugar().Debugf))
	cancel := func() {
		browserCancel()
		allocCancel()
	}

	launchCtx, cancelLaunch := context.WithTimeout(ctx, s.cfg.LaunchTimeout)
	defer cancelLaunch()

	done := make(chan error, 1)
	go func() {
		done <- chromedp.Run(browserCtx)
	}()
	select {
	case err := <-done:
		if err != nil {
			cancel()
			return nil, fmt.Errorf("launch browser: %w", err)
		}
	case <-launchCtx.Done():
		cancel()
		return nil, fmt.Errorf("launch browser: %w", launchCtx.Err())
	}

	c := chromedp.FromContext(browserCtx)
	if c == nil || c.Browser == nil {
		cancel()
		return nil, errors.New("launch browser: no browser handle")
	}
	s.logger.Info("browser launched",
		zap.Duration("took", time.Since(start)),
		zap.Bool("proxy", s.cfg.Proxy != ""),
		zap.Bool("headless", s.cfg.Headless))
	return &handle{ctx: browserCtx, cancel: cancel, lost: c.Browser.LostConnection}, nil
}

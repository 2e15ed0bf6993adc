// Package collyfetcher fetches offer detail pages over plain HTTP with gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
)

// DefaultMaxBodySize bounds a detail page body.
const DefaultMaxBodySize = 5 << 20

// ErrStatus is returned for responses outside the 2xx/3xx range.
var ErrStatus = errors.New("unexpected status")

// StatusError carries the status code of a rejected response. It matches
// ErrStatus.
type StatusError struct {
	Code int
	Err  error
}

func (e *StatusError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%v %d: %v", ErrStatus, e.Code, e.Err)
	}
	return fmt.Sprintf("%v %d", ErrStatus, e.Code)
}

// Is reports ErrStatus as a match.
func (e *StatusError) Is(target error) bool { return target == ErrStatus }

func (e *StatusError) Unwrap() error { return e.Err }

// Config controls collector behavior.
type Config struct {
	UserAgents     []string
	AcceptLanguage string
	Accept         string
	// Headers are set on every request after the ones above.
	Headers     map[string]string
	Timeout     time.Duration
	Proxy       string
	MaxBodySize int
}

// Response is one fetched page.
type Response struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Fetcher performs single GET requests with a cloned Colly collector.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher. An unparsable proxy URL is an error.
func New(cfg Config) (*Fetcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBodySize <= 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}
	transport := newHTTPTransport()
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil || proxyURL.Host == "" {
			return nil, fmt.Errorf("invalid proxy %q", cfg.Proxy)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.IgnoreRobotsTxt = true
	c.MaxBodySize = cfg.MaxBodySize
	c.SetRequestTimeout(cfg.Timeout)
	c.WithTransport(transport)

	return &Fetcher{cfg: cfg, baseCollector: c}, nil
}

// Fetch executes a single HTTP GET. Redirects are followed; the final status
// must be below 400.
func (f *Fetcher) Fetch(ctx context.Context, target string) (Response, error) {
	var (
		result   Response
		fetchErr error
	)
	start := time.Now()
	collector := f.buildCollector(ctx, start, &result, &fetchErr)
	if err := f.runCollector(ctx, collector, target, &fetchErr); err != nil {
		return Response{}, err
	}
	if result.StatusCode >= http.StatusBadRequest {
		return Response{}, fmt.Errorf("%w for %s", &StatusError{Code: result.StatusCode}, target)
	}
	return result, nil
}

func (f *Fetcher) buildCollector(ctx context.Context, start time.Time, result *Response, fetchErr *error) *colly.Collector {
	collector := f.baseCollector.Clone()
	collector.Context = ctx
	if ua := f.pickUserAgent(); ua != "" {
		collector.UserAgent = ua
	}
	f.configureCollectorHooks(collector, start, result, fetchErr)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, start time.Time, result *Response, fetchErr *error) {
	hooks.OnRequest(func(r *colly.Request) {
		if f.cfg.AcceptLanguage != "" {
			r.Headers.Set("Accept-Language", f.cfg.AcceptLanguage)
		}
		if f.cfg.Accept != "" {
			r.Headers.Set("Accept", f.cfg.Accept)
		}
		for k, v := range f.cfg.Headers {
			r.Headers.Set(k, v)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode >= http.StatusBadRequest {
			*fetchErr = &StatusError{Code: r.StatusCode, Err: err}
			return
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func (f *Fetcher) pickUserAgent() string {
	if len(f.cfg.UserAgents) == 0 {
		return ""
	}
	return f.cfg.UserAgents[rand.IntN(len(f.cfg.UserAgents))]
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

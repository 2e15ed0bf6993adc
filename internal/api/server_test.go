package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listing-crawler/internal/cache/memory"
	"github.com/JakeFAU/olx-listing-crawler/internal/config"
	"github.com/JakeFAU/olx-listing-crawler/internal/crawler"
	"github.com/JakeFAU/olx-listing-crawler/internal/listing"
	"github.com/JakeFAU/olx-listing-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/olx-listing-crawler/internal/search"
)

func TestServer_SearchGet_ParsesQuery(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{result: search.Result{
		Source:   search.SourceLive,
		Listings: []listing.Listing{{ID: "ID1a2b3", Title: "Karta RX 580"}},
		Stats:    crawler.Stats{Pages: 1},
	}}
	server := newTestServer(searcher, nil, nil)

	rec := serve(server, httptest.NewRequest(http.MethodGet,
		"/v1/search?q=rx+580&maxPages=3&pageSize=20&minPrice=100&maxPrice=1%20000&withDelivery=true&location=krakow&delivery=courier,olx_delivery&sort=price_asc", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code, "space in maxPrice is not a number")

	rec = serve(server, httptest.NewRequest(http.MethodGet,
		"/v1/search?q=rx+580&maxPages=3&pageSize=20&minPrice=100&maxPrice=1000,5&withDelivery=true&location=krakow&delivery=courier,olx_delivery&delivery=parcel&sort=price_asc", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	got := searcher.last()
	assert.Equal(t, "rx 580", got.Query)
	assert.Equal(t, 3, got.MaxPages)
	assert.Equal(t, 20, got.PageSize)
	require.NotNil(t, got.MinPrice)
	assert.InDelta(t, 100, *got.MinPrice, 0.001)
	require.NotNil(t, got.MaxPrice)
	assert.InDelta(t, 1000.5, *got.MaxPrice, 0.001)
	assert.True(t, got.WithDelivery)
	assert.Equal(t, "krakow", got.Location)
	assert.Equal(t, []string{"courier", "olx_delivery", "parcel"}, got.DeliveryMethods)
	assert.Equal(t, listing.SortKey("price_asc"), got.Sort)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "live", body["source"])
	assert.InDelta(t, 1, body["count"], 0.001)
	assert.Contains(t, body, "stats")
}

func TestServer_SearchPost(t *testing.T) {
	t.Parallel()

	searcher := &fakeSearcher{result: search.Result{Source: search.SourceLive}}
	server := newTestServer(searcher, nil, nil)

	rec := serve(server, httptest.NewRequest(http.MethodPost, "/v1/search",
		bytes.NewBufferString(`{"q":"lampa","maxPages":2,"withDelivery":true,"delivery":["courier"]}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"ok":true,"source":"live","count":0,"results":[],"stats":{"pages":0,"raw":0,"unique":0,"enriched":0,"skippedNoId":0,"skippedNoPhoto":0,"skippedInvalidUrl":0,"parseErrors":0,"deliveryFallback":false,"partial":false}}`, rec.Body.String())
	assert.Equal(t, "lampa", searcher.last().Query)
	assert.Equal(t, []string{"courier"}, searcher.last().DeliveryMethods)

	rec = serve(server, httptest.NewRequest(http.MethodPost, "/v1/search", bytes.NewBufferString("{invalid")))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SearchErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"empty query", search.ErrEmptyQuery, http.StatusBadRequest},
		{"blocked", fmt.Errorf("%w: %w", crawler.ErrBlocked, &crawler.AntiBotError{Marker: "captcha"}), http.StatusServiceUnavailable},
		{"navigation", fmt.Errorf("search page 1: %w", crawler.ErrNavigation), http.StatusBadGateway},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			server := newTestServer(&fakeSearcher{err: tc.err}, nil, nil)
			rec := serve(server, httptest.NewRequest(http.MethodGet, "/v1/search?q=x", nil))
			require.Equal(t, tc.status, rec.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, false, body["ok"])
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestServer_CacheHitReportsSource(t *testing.T) {
	t.Parallel()

	crawl := &countingCrawler{listings: []listing.Listing{{ID: "ID9z8y7", Title: "Rower"}}}
	svc := search.New(crawl, memory.New(), nil, zap.NewNop())
	server := newTestServer(svc, nil, nil)

	first := serve(server, httptest.NewRequest(http.MethodGet, "/v1/search?q=rower", nil))
	require.Equal(t, http.StatusOK, first.Code)
	second := serve(server, httptest.NewRequest(http.MethodGet, "/v1/search?q=Rower", nil))
	require.Equal(t, http.StatusOK, second.Code)

	var body searchResponse
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &body))
	assert.Equal(t, search.SourceCache, body.Source)
	assert.Equal(t, 1, body.Count)
	assert.Nil(t, body.Stats)
	assert.Equal(t, 1, crawl.calls)
}

func TestServer_RateLimited(t *testing.T) {
	t.Parallel()

	limiter := ratelimit.New(ratelimit.Config{RequestsPerMinute: 1, Burst: 1})
	server := newTestServer(&fakeSearcher{result: search.Result{Source: search.SourceLive}}, nil, limiter)

	req := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/v1/search?q=x", nil)
		r.Header.Set("X-Forwarded-For", "203.0.113.9")
		return serve(server, r)
	}
	require.Equal(t, http.StatusOK, req().Code)
	rec := req()
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	health := serve(server, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, health.Code, "health checks are not rate limited")
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	readiness := &fakeReadiness{healthy: true}
	server := newTestServer(&fakeSearcher{}, readiness, nil)
	assert.Equal(t, http.StatusOK, serve(server, httptest.NewRequest(http.MethodGet, "/readyz", nil)).Code)

	readiness.set(false)
	assert.Equal(t, http.StatusServiceUnavailable, serve(server, httptest.NewRequest(http.MethodGet, "/readyz", nil)).Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeSearcher{}, nil, nil)
	serve(server, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rec := serve(server, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestServer_RecoversFromPanic(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeSearcher{panicMsg: "boom"}, nil, nil)
	rec := serve(server, httptest.NewRequest(http.MethodGet, "/v1/search?q=x", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_CORSPreflight(t *testing.T) {
	t.Parallel()

	server := NewServer(&fakeSearcher{}, nil, nil, &fakeIDGen{},
		config.ServerConfig{RequestTimeout: time.Second, AllowedOrigins: []string{"https://app.example.com"}}, zap.NewNop())
	req := httptest.NewRequest(http.MethodOptions, "/v1/search", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := serve(server, req)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	server := newTestServer(&fakeSearcher{}, nil, nil)
	rec := serve(server, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "upstream-7")
	rec = serve(server, req)
	assert.Equal(t, "upstream-7", rec.Header().Get("X-Request-ID"))
}

func TestTimeoutMiddlewareSetsDeadline(t *testing.T) {
	t.Parallel()

	var deadline time.Time
	h := timeoutMiddleware(time.Minute)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		deadline, _ = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	require.NoError(t, h.CloseClient())
	assert.NotNil(t, buf)
}

// --- helpers/fakes ---

func newTestServer(searcher Searcher, readiness ReadinessChecker, limiter RateLimiter) *Server {
	return NewServer(searcher, readiness, limiter, &fakeIDGen{}, config.ServerConfig{RequestTimeout: 5 * time.Second}, zap.NewNop())
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

type fakeSearcher struct {
	mu       sync.Mutex
	calls    []listing.SearchOptions
	result   search.Result
	err      error
	panicMsg string
}

func (f *fakeSearcher) Search(_ context.Context, opts listing.SearchOptions) (search.Result, error) {
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	return f.result, f.err
}

func (f *fakeSearcher) last() listing.SearchOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return listing.SearchOptions{}
	}
	return f.calls[len(f.calls)-1]
}

type countingCrawler struct {
	mu       sync.Mutex
	calls    int
	listings []listing.Listing
}

func (c *countingCrawler) Search(context.Context, listing.SearchOptions) ([]listing.Listing, crawler.Stats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.listings, crawler.Stats{Pages: 1}, nil
}

type fakeReadiness struct {
	mu      sync.Mutex
	healthy bool
}

func (p *fakeReadiness) Healthy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.healthy
}

func (p *fakeReadiness) set(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.healthy = v
}

type fakeIDGen struct {
	mu sync.Mutex
	n  int
}

func (f *fakeIDGen) RequestID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return fmt.Sprintf("req-%d", f.n)
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}

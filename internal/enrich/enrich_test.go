package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	collyfetcher "github.com/JakeFAU/olx-listing-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/olx-listing-crawler/internal/listing"
	"github.com/JakeFAU/olx-listing-crawler/internal/market"
)

type countingFetcher struct {
	mu       sync.Mutex
	urls     []string
	inFlight atomic.Int32
	peak     atomic.Int32
	fail     func(url string) error
	body     func(url string) string
}

func (f *countingFetcher) Fetch(_ context.Context, url string) (collyfetcher.Response, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)

	f.mu.Lock()
	f.urls = append(f.urls, url)
	f.mu.Unlock()
	if f.fail != nil {
		if err := f.fail(url); err != nil {
			return collyfetcher.Response{}, err
		}
	}
	body := `<html><body><div data-cy="ad_description"><div>Opis oferty</div></div></body></html>`
	if f.body != nil {
		body = f.body(url)
	}
	return collyfetcher.Response{URL: url, StatusCode: 200, Body: []byte(body)}, nil
}

func (f *countingFetcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.urls)
}

func raws(n int) []listing.Raw {
	out := make([]listing.Raw, n)
	for i := range out {
		out[i] = listing.Raw{
			ID:    fmt.Sprintf("id%d", i),
			Title: fmt.Sprintf("Oferta %d", i),
			URL:   fmt.Sprintf("https://www.olx.pl/d/oferta/oferta-%d-IDid%d.html", i, i),
		}
	}
	return out
}

func testConfig() Config {
	return Config{Cap: DefaultCap, Concurrency: DefaultConcurrency}
}

func TestEnrichRespectsCap(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{}
	e := New(testConfig(), market.OLX(), f, zap.NewNop())

	items := raws(50)
	got := e.Enrich(context.Background(), items)
	require.Equal(t, 20, f.count(), "only the first cap listings are fetched")
	require.Len(t, got, 20)
	for _, r := range items[:20] {
		require.Contains(t, got, r.URL)
		assert.Equal(t, "Opis oferty", got[r.URL].Description)
	}
	for _, r := range items[20:] {
		require.NotContains(t, got, r.URL)
	}
	assert.LessOrEqual(t, f.peak.Load(), int32(DefaultConcurrency))
}

func TestEnrichFailuresLeaveListingsUnenriched(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{fail: func(url string) error {
		if strings.Contains(url, "oferta-1-") {
			return errors.New("403 Forbidden")
		}
		return nil
	}}
	e := New(testConfig(), market.OLX(), f, zap.NewNop())

	items := raws(3)
	got := e.Enrich(context.Background(), items)
	require.Len(t, got, 2)
	require.NotContains(t, got, items[1].URL)
	require.Equal(t, 3, f.count())
}

func TestEnrichDisabled(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{}
	e := New(Config{Cap: 0, Concurrency: 3}, market.OLX(), f, zap.NewNop())
	require.Empty(t, e.Enrich(context.Background(), raws(5)))
	require.Zero(t, f.count())
}

func TestEnrichSkipsEmptyDetails(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{body: func(string) string { return "<html><body></body></html>" }}
	e := New(testConfig(), market.OLX(), f, zap.NewNop())
	require.Empty(t, e.Enrich(context.Background(), raws(2)))
	require.Equal(t, 2, f.count())
}

func TestEnrichStopsWhenContextCanceled(t *testing.T) {
	t.Parallel()

	f := &countingFetcher{}
	e := New(Config{Cap: 20, Concurrency: 2, PauseMin: time.Second, PauseMax: time.Second}, market.OLX(), f, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	e.Enrich(ctx, raws(10))
	require.Equal(t, 2, f.count(), "the pause between batches observes cancellation")
}

func TestNewClampsConcurrency(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 5, New(Config{Cap: 1, Concurrency: 12}, market.OLX(), nil, nil).cfg.Concurrency)
	assert.Equal(t, 1, New(Config{Cap: 1, Concurrency: 0}, market.OLX(), nil, nil).cfg.Concurrency)
	assert.Equal(t, 0, New(Config{Cap: -4, Concurrency: 3}, market.OLX(), nil, nil).cfg.Cap)
}

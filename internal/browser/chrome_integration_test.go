package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listing-crawler/internal/backoff"
	"github.com/JakeFAU/olx-listing-crawler/internal/market"
)

func findChrome(t *testing.T) string {
	t.Helper()
	if p := os.Getenv("CHROME_PATH"); p != "" {
		return p
	}
	for _, name := range []string{"headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	t.Skip("chrome not found")
	return ""
}

type assetCounts struct {
	font, media, image atomic.Int32
}

func newAssetServer(counts *assetCounts) *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!doctype html><html><head><title>Ogłoszenia</title>
<style>@font-face{font-family:Olx;src:url(/font.woff2) format("woff2")} body{font-family:Olx}</style></head>
<body><div data-cy="l-card">Rower</div>
<p id="ua">%s</p><p id="lang">%s</p>
<img src="/pic.png"><video src="/clip.mp4" autoplay muted></video>
<div style="height:4000px"></div></body></html>`, r.UserAgent(), r.Header.Get("Accept-Language"))
	})
	mux.HandleFunc("/font.woff2", func(w http.ResponseWriter, _ *http.Request) {
		counts.font.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/clip.mp4", func(w http.ResponseWriter, _ *http.Request) {
		counts.media.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/pic.png", func(w http.ResponseWriter, _ *http.Request) {
		counts.image.Add(1)
		w.WriteHeader(http.StatusNotFound)
	})
	return httptest.NewServer(mux)
}

func TestAcquiredTabDrivesRealChrome(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping browser test in short mode")
	}
	execPath := findChrome(t)

	counts := &assetCounts{}
	srv := newAssetServer(counts)
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.ExecPath = execPath
	cfg.LaunchTimeout = 20 * time.Second
	session := NewSession(cfg, zap.NewNop())
	defer session.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := session.Acquire(ctx); err != nil {
		t.Skipf("chrome unavailable: %v", err)
	}

	profile := market.OLX()
	acquirer := NewAcquirer(AcquirerConfig{
		MaxTabs:     1,
		WarmUpRetry: &backoff.ExponentialPolicy{MaxAttempts: 1},
	}, profile, session, zap.NewNop())

	p, err := acquirer.Acquire(ctx, false)
	require.NoError(t, err)
	defer p.Close()

	// Every call below runs after the tab was prepared, on fresh per-call contexts.
	navCtx, navCancel := context.WithTimeout(ctx, 15*time.Second)
	require.NoError(t, p.Navigate(navCtx, srv.URL))
	navCancel()

	require.NoError(t, p.WaitAny(ctx, []string{`[data-cy="l-card"]`}))
	title, err := p.Title(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Ogłoszenia", title)

	height, err := p.ScrollToBottom(ctx)
	require.NoError(t, err)
	assert.Greater(t, height, int64(1000))

	html, err := p.HTML(ctx)
	require.NoError(t, err)
	assert.Contains(t, html, "Rower")
	assert.Contains(t, html, profile.AcceptLanguage)
	matched := false
	for _, ua := range profile.UserAgents {
		if strings.Contains(html, ua) {
			matched = true
			break
		}
	}
	assert.True(t, matched, "request carried one of the profile user agents")

	assert.Eventually(t, func() bool { return counts.image.Load() > 0 }, 5*time.Second, 50*time.Millisecond,
		"images pass the resource filter")
	assert.Zero(t, counts.font.Load(), "fonts are aborted in the browser")
	assert.Zero(t, counts.media.Load(), "media is aborted in the browser")

	require.NoError(t, p.Reload(ctx))
	_, err = p.HTML(ctx)
	require.NoError(t, err)
}

func TestAttachTabRequiresChromedpContext(t *testing.T) {
	t.Parallel()

	err := attachTab(context.Background(), context.Background(), func() {})
	require.ErrorIs(t, err, chromedp.ErrInvalidContext)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	err = attachTab(canceled, context.Background(), func() {})
	require.ErrorIs(t, err, context.Canceled)
}

func TestBlockedResourceTypes(t *testing.T) {
	t.Parallel()

	assert.True(t, blockedResource(network.ResourceTypeFont))
	assert.True(t, blockedResource(network.ResourceTypeMedia))
	assert.False(t, blockedResource(network.ResourceTypeImage))
	assert.False(t, blockedResource(network.ResourceTypeDocument))
	assert.False(t, blockedResource(network.ResourceTypeXHR))
}

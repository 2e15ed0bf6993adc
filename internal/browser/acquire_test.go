package browser

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listing-crawler/internal/backoff"
	"github.com/JakeFAU/olx-listing-crawler/internal/crawler"
	"github.com/JakeFAU/olx-listing-crawler/internal/market"
)

type scriptedPage struct {
	mu          sync.Mutex
	navErrs     []error
	clickable   map[string]bool
	navigations []string
	clicks      []string
	scrolls     []int
	closed      int
}

func (p *scriptedPage) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigations = append(p.navigations, url)
	if len(p.navErrs) > 0 {
		err := p.navErrs[0]
		p.navErrs = p.navErrs[1:]
		return err
	}
	return nil
}

func (p *scriptedPage) Reload(context.Context) error                  { return nil }
func (p *scriptedPage) HTML(context.Context) (string, error)          { return "", nil }
func (p *scriptedPage) Title(context.Context) (string, error)         { return "", nil }
func (p *scriptedPage) WaitAny(context.Context, []string) error       { return nil }
func (p *scriptedPage) ScrollToBottom(context.Context) (int64, error) { return 0, nil }

func (p *scriptedPage) ScrollBy(_ context.Context, dy int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolls = append(p.scrolls, dy)
	return nil
}

func (p *scriptedPage) Click(_ context.Context, sel string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clicks = append(p.clicks, sel)
	if p.clickable[sel] {
		return nil
	}
	return errors.New("no node")
}

func (p *scriptedPage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
	return nil
}

func testAcquirerConfig() AcquirerConfig {
	return AcquirerConfig{
		MaxTabs:     1,
		WarmUpRetry: &backoff.ExponentialPolicy{MaxAttempts: 2},
	}
}

func newTestAcquirer(cfg AcquirerConfig, p *scriptedPage) *Acquirer {
	a := NewAcquirer(cfg, market.OLX(), nil, zap.NewNop())
	a.open = func(context.Context) (crawler.Page, error) { return p, nil }
	return a
}

func TestAcquireWarmUpVisitsHomeAndAcceptsConsent(t *testing.T) {
	t.Parallel()

	p := &scriptedPage{clickable: map[string]bool{`button[data-testid="cookies-popup-accept-all"]`: true}}
	a := newTestAcquirer(testAcquirerConfig(), p)

	got, err := a.Acquire(context.Background(), true)
	require.NoError(t, err)
	defer got.Close()

	assert.Equal(t, []string{"https://www.olx.pl/"}, p.navigations)
	assert.Equal(t, []string{"#onetrust-accept-btn-handler", `button[data-testid="cookies-popup-accept-all"]`}, p.clicks,
		"selectors are tried in order and stop at the first success")
	assert.Len(t, p.scrolls, 2)
}

func TestAcquireWithoutWarmUpDoesNotNavigate(t *testing.T) {
	t.Parallel()

	p := &scriptedPage{}
	a := newTestAcquirer(testAcquirerConfig(), p)

	got, err := a.Acquire(context.Background(), false)
	require.NoError(t, err)
	require.NoError(t, got.Close())
	assert.Empty(t, p.navigations)
	assert.Empty(t, p.clicks)
}

func TestAcquireWarmUpFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	p := &scriptedPage{navErrs: []error{errors.New("net::ERR_TIMED_OUT"), errors.New("net::ERR_TIMED_OUT")}}
	a := newTestAcquirer(testAcquirerConfig(), p)

	got, err := a.Acquire(context.Background(), true)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, p.navigations, 2, "warm-up uses its own retry budget")
	assert.Empty(t, p.clicks)
	require.NoError(t, got.Close())
}

func TestAcquireReleasesSlotOnClose(t *testing.T) {
	t.Parallel()

	p := &scriptedPage{}
	a := newTestAcquirer(testAcquirerConfig(), p)

	first, err := a.Acquire(context.Background(), false)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = a.Acquire(ctx, false)
	require.ErrorIs(t, err, context.DeadlineExceeded, "only one tab may be open")

	require.NoError(t, first.Close())
	require.NoError(t, first.Close())
	second, err := a.Acquire(context.Background(), false)
	require.NoError(t, err)
	require.NoError(t, second.Close())
	assert.Equal(t, 3, p.closed)
}

func TestAcquireOpenErrorReleasesSlot(t *testing.T) {
	t.Parallel()

	boom := errors.New("browser gone")
	a := NewAcquirer(testAcquirerConfig(), market.OLX(), nil, zap.NewNop())
	a.open = func(context.Context) (crawler.Page, error) { return nil, boom }

	_, err := a.Acquire(context.Background(), false)
	require.ErrorIs(t, err, boom)
	_, err = a.Acquire(context.Background(), false)
	require.ErrorIs(t, err, boom, "the slot was returned after the first failure")
}

func TestBlockedResource(t *testing.T) {
	t.Parallel()

	assert.True(t, blockedResource("Font"))
	assert.True(t, blockedResource("Media"))
	assert.False(t, blockedResource("Document"))
	assert.False(t, blockedResource("Image"))
}

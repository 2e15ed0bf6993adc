package browser

import (
	"context"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const scrollToBottomJS = `(() => {
	const h = Math.max(document.body ? document.body.scrollHeight : 0, document.documentElement.scrollHeight);
	window.scrollTo(0, h);
	return h;
})()`

// Tab is one prepared browser tab. It implements crawler.Page.
type Tab struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func newTab(ctx context.Context, cancel context.CancelFunc) *Tab {
	return &Tab{ctx: ctx, cancel: cancel}
}

// attachTab creates the target behind tctx. The target's event loop lives as
// long as the context of the first chromedp.Run, so that run must use tctx
// itself; only later calls may derive shorter contexts from it. A cancel of
// ctx during the attach tears the tab down through cancel.
func attachTab(ctx, tctx context.Context, cancel context.CancelFunc) error {
	stop := forwardCancel(ctx, cancel)
	defer stop()
	if err := chromedp.Run(tctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("attach tab: %w", err)
	}
	return nil
}

// run executes actions on an attached tab, bounded by the caller's context.
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := forwardCancel(ctx, cancel)
	defer stop()
	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}
	return nil
}

// Navigate loads url and returns once the DOM content has been parsed.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	return t.load(ctx, func(ctx context.Context) error {
		_, _, errText, _, err := page.Navigate(url).Do(ctx)
		if err != nil {
			return err
		}
		if errText != "" {
			return fmt.Errorf("page load error %s", errText)
		}
		return nil
	})
}

// Reload reloads the current document.
func (t *Tab) Reload(ctx context.Context) error {
	return t.load(ctx, func(ctx context.Context) error {
		return page.Reload().Do(ctx)
	})
}

func (t *Tab) load(ctx context.Context, start func(context.Context) error) error {
	return t.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		loaded := make(chan struct{}, 1)
		lctx, cancel := context.WithCancel(ctx)
		defer cancel()
		chromedp.ListenTarget(lctx, func(ev any) {
			if _, ok := ev.(*page.EventDomContentEventFired); ok {
				select {
				case loaded <- struct{}{}:
				default:
				}
			}
		})
		if err := start(ctx); err != nil {
			return err
		}
		select {
		case <-loaded:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))
}

// HTML returns the serialized document.
func (t *Tab) HTML(ctx context.Context) (string, error) {
	var html string
	if err := t.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read html: %w", err)
	}
	return html, nil
}

// Title returns the document title.
func (t *Tab) Title(ctx context.Context) (string, error) {
	var title string
	if err := t.run(ctx, chromedp.Title(&title)); err != nil {
		return "", fmt.Errorf("read title: %w", err)
	}
	return title, nil
}

// WaitAny blocks until one of selectors is present in the DOM.
func (t *Tab) WaitAny(ctx context.Context, selectors []string) error {
	if len(selectors) == 0 {
		return nil
	}
	return t.run(ctx, chromedp.WaitReady(strings.Join(selectors, ", "), chromedp.ByQuery))
}

// ScrollToBottom scrolls to the end of the document and reports its height.
func (t *Tab) ScrollToBottom(ctx context.Context) (int64, error) {
	var height float64
	if err := t.run(ctx, chromedp.Evaluate(scrollToBottomJS, &height)); err != nil {
		return 0, fmt.Errorf("scroll: %w", err)
	}
	return int64(height), nil
}

// ScrollBy scrolls the viewport vertically by dy pixels.
func (t *Tab) ScrollBy(ctx context.Context, dy int) error {
	return t.run(ctx, chromedp.Evaluate(fmt.Sprintf("window.scrollBy(0, %d)", dy), nil))
}

// Click clicks the first visible element matching selector.
func (t *Tab) Click(ctx context.Context, selector string) error {
	return t.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

// Close closes the tab. It is safe to call more than once.
func (t *Tab) Close() error {
	t.cancel()
	return nil
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil || parent.Done() == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

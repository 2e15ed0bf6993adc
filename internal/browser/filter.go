package browser

import (
	"context"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// blockedResources are aborted before they hit the network.
var blockedResources = []network.ResourceType{
	network.ResourceTypeFont,
	network.ResourceTypeMedia,
}

func blockedResource(rt network.ResourceType) bool {
	for _, b := range blockedResources {
		if rt == b {
			return true
		}
	}
	return false
}

// resourceFilter pauses font and media requests via the Fetch domain and fails
// them; any other paused request is continued.
func resourceFilter(tabCtx context.Context, logger *zap.Logger) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		chromedp.ListenTarget(tabCtx, func(ev any) {
			paused, ok := ev.(*fetch.EventRequestPaused)
			if !ok {
				return
			}
			go func() {
				c := chromedp.FromContext(tabCtx)
				if c == nil || c.Target == nil {
					return
				}
				exec := cdp.WithExecutor(tabCtx, c.Target)
				var err error
				if blockedResource(paused.ResourceType) {
					err = fetch.FailRequest(paused.RequestID, network.ErrorReasonAborted).Do(exec)
				} else {
					err = fetch.ContinueRequest(paused.RequestID).Do(exec)
				}
				if err != nil && tabCtx.Err() == nil {
					logger.Debug("resource filter", zap.String("resource", string(paused.ResourceType)), zap.Error(err))
				}
			}()
		})
		patterns := make([]*fetch.RequestPattern, 0, len(blockedResources))
		for _, rt := range blockedResources {
			patterns = append(patterns, &fetch.RequestPattern{
				URLPattern:   "*",
				ResourceType: rt,
				RequestStage: fetch.RequestStageRequest,
			})
		}
		return fetch.Enable().WithPatterns(patterns).Do(ctx)
	})
}

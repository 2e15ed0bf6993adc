package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/olx-listing-crawler/internal/backoff"
)

// ScrollConfig bounds scroll stabilization.
type ScrollConfig struct {
	StableRounds  int
	MaxIterations int
	PauseMin      time.Duration
	PauseMax      time.Duration
}

// DefaultScrollConfig returns production values.
func DefaultScrollConfig() ScrollConfig {
	return ScrollConfig{
		StableRounds:  3,
		MaxIterations: 15,
		PauseMin:      300 * time.Millisecond,
		PauseMax:      700 * time.Millisecond,
	}
}

// stabilizeScroll scrolls to the bottom until the document height stops
// changing for StableRounds consecutive iterations or MaxIterations is hit.
// It returns the number of scrolls performed.
func stabilizeScroll(ctx context.Context, p Page, cfg ScrollConfig) (int, error) {
	if cfg.MaxIterations <= 0 {
		return 0, nil
	}
	var (
		last   int64 = -1
		stable int
	)
	for i := 1; i <= cfg.MaxIterations; i++ {
		height, err := p.ScrollToBottom(ctx)
		if err != nil {
			return i, fmt.Errorf("scroll to bottom: %w", err)
		}
		if height == last {
			stable++
		} else {
			stable = 0
			last = height
		}
		if stable >= cfg.StableRounds {
			return i, nil
		}
		if err := backoff.Sleep(ctx, backoff.Between(cfg.PauseMin, cfg.PauseMax)); err != nil {
			return i, fmt.Errorf("scroll pause: %w", err)
		}
	}
	return cfg.MaxIterations, nil
}

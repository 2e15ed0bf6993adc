package crawler

import (
	"context"

	"github.com/JakeFAU/olx-listing-crawler/internal/extract"
	"github.com/JakeFAU/olx-listing-crawler/internal/listing"
)

// Page is one browser tab opened for a single results page.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Reload(ctx context.Context) error
	HTML(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	// WaitAny waits until any of the selectors matches an element.
	WaitAny(ctx context.Context, selectors []string) error
	// ScrollToBottom scrolls to the end of the document and returns its height.
	ScrollToBottom(ctx context.Context) (int64, error)
	ScrollBy(ctx context.Context, dy int) error
	Click(ctx context.Context, selector string) error
	Close() error
}

// PageSource hands out prepared pages. warmUp is set for the first page of a
// crawl; later pages are paced instead.
type PageSource interface {
	Acquire(ctx context.Context, warmUp bool) (Page, error)
}

// Extractor reads offers out of rendered results HTML.
type Extractor interface {
	Extract(html string, mode extract.Mode) (extract.Result, error)
}

// Enricher fetches detail pages and returns overrides keyed by listing URL.
type Enricher interface {
	Enrich(ctx context.Context, raws []listing.Raw) map[string]listing.Detail
}

// SnapshotSink persists raw HTML of pages worth debugging.
type SnapshotSink interface {
	Save(ctx context.Context, query string, page int, reason string, html string) error
}

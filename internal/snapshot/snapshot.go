// Package snapshot persists the raw HTML of search pages that came back
// empty or blocked, so selector drift and new challenge pages can be studied.
package snapshot

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listing-crawler/internal/market"
	"github.com/JakeFAU/olx-listing-crawler/internal/storage"
)

const contentType = "text/html; charset=utf-8"

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Sink writes snapshots to a blob store. It implements crawler.SnapshotSink.
type Sink struct {
	store  storage.BlobStore
	prefix string
	clock  Clock
	logger *zap.Logger
}

// New builds a Sink writing below prefix.
func New(store storage.BlobStore, prefix string, clock Clock, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		store:  store,
		prefix: strings.Trim(prefix, "/"),
		clock:  clock,
		logger: logger.Named("snapshot"),
	}
}

// Save stores html as <prefix>/<query-slug>/<timestamp>-page<N>-<reason>.html.
func (s *Sink) Save(ctx context.Context, query string, page int, reason string, html string) error {
	name := s.Path(query, page, reason)
	uri, err := s.store.PutObject(ctx, name, contentType, strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("store snapshot %s: %w", name, err)
	}
	s.logger.Info("saved page snapshot", zap.String("uri", uri), zap.Int("page", page), zap.String("reason", reason))
	return nil
}

// Path returns the object name for a snapshot taken now.
func (s *Sink) Path(query string, page int, reason string) string {
	slug := strings.Trim(strings.ReplaceAll(market.Slug(query), "/", "-"), ".")
	if slug == "" {
		slug = "_"
	}
	file := fmt.Sprintf("%s-page%d-%s.html", s.clock.Now().UTC().Format("20060102T150405.000Z"), page, reason)
	return path.Join(s.prefix, slug, file)
}

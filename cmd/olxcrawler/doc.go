// Package main hosts the OLX listing crawler entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes /v1/search (GET query string or POST JSON), health, readiness and
//     metrics endpoints. A per-client token bucket guards the search routes.
//   - Search service: internal/search checks the result cache (memory, or Redis when cache.redis_addr is set)
//     and on a miss runs the crawl controller. Live results are cached and announced as search.completed events
//     (Pub/Sub when pubsub.topic_name is set, otherwise kept in memory).
//   - Crawl pipeline: one shared headless Chrome (chromedp) serves stealth tabs; the navigator loads each results
//     page and screens it for anti-bot challenges; the extractor reads offer cards with goquery; up to enrich.cap
//     detail pages are fetched with colly and merged into the final listings.
//   - Debugging: with debug.snapshots on, empty and challenge pages are written to the local snapshot dir or GCS.
//
// Operational notes:
//   - The browser launches lazily on the first search and relaunches after a disconnect; /readyz reports it.
//   - Each request carries its own deadline (server.request_timeout); cancelling the request cancels the crawl.
//   - Proxy: set OLXCRAWLER_BROWSER_PROXY; it applies to the browser and to detail fetches.
//
// Quick checklist:
//   - Serve: go run ./cmd/olxcrawler -config config.yaml (or rely on OLXCRAWLER_* env overrides; PORT is honoured).
//   - One-shot: go run ./cmd/olxcrawler -query "rx 580" -pages 2 -delivery prints listings as JSON and exits.
package main

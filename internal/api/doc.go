// Package api hosts the HTTP server, middleware, and REST handlers.
// Notable routes:
//   - GET and POST /v1/search run a marketplace search.
//   - GET /healthz and /readyz for health checks; readyz reports the browser session.
//   - GET /metrics for Prometheus scraping.
package api

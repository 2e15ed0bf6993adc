package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/JakeFAU/olx-listing-crawler/internal/config"
	"github.com/JakeFAU/olx-listing-crawler/internal/crawler"
	"github.com/JakeFAU/olx-listing-crawler/internal/listing"
	"github.com/JakeFAU/olx-listing-crawler/internal/metrics"
	"github.com/JakeFAU/olx-listing-crawler/internal/search"
)

const maxBodyBytes = 64 << 10

// Searcher runs a search.
type Searcher interface {
	Search(ctx context.Context, opts listing.SearchOptions) (search.Result, error)
}

// ReadinessChecker reports whether the crawler can take work.
type ReadinessChecker interface {
	Healthy() bool
}

// RequestIDGenerator issues request IDs.
type RequestIDGenerator interface {
	RequestID() string
}

// RateLimiter guards the search routes.
type RateLimiter interface {
	Middleware(next http.Handler) http.Handler
}

// Server wires HTTP handlers to the search service.
type Server struct {
	router    chi.Router
	searcher  Searcher
	readiness ReadinessChecker
	ids       RequestIDGenerator
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes. readiness and
// limiter may be nil.
func NewServer(
	searcher Searcher,
	readiness ReadinessChecker,
	limiter RateLimiter,
	ids RequestIDGenerator,
	cfg config.ServerConfig,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		searcher:  searcher,
		readiness: readiness,
		ids:       ids,
		logger:    logger.Named("api"),
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}

	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware(cfg.AllowedOrigins))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if limiter != nil {
			r.Use(limiter.Middleware)
		}
		r.Use(timeoutMiddleware(timeout))
		r.Get("/search", s.searchGet)
		r.Post("/search", s.searchPost)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.readiness != nil && !s.readiness.Healthy() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "browser unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type searchResponse struct {
	OK      bool              `json:"ok"`
	Source  string            `json:"source"`
	Count   int               `json:"count"`
	Results []listing.Listing `json:"results"`
	Stats   *crawler.Stats    `json:"stats,omitempty"`
}

func (s *Server) searchGet(w http.ResponseWriter, r *http.Request) {
	opts, err := optionsFromQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.runSearch(w, r, opts)
}

func (s *Server) searchPost(w http.ResponseWriter, r *http.Request) {
	var opts listing.SearchOptions
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&opts); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	s.runSearch(w, r, opts)
}

func (s *Server) runSearch(w http.ResponseWriter, r *http.Request, opts listing.SearchOptions) {
	res, err := s.searcher.Search(r.Context(), opts)
	if err != nil {
		status, msg := errorStatus(err)
		s.logger.Warn("search failed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("query", opts.Query),
			zap.Int("status", status),
			zap.Error(err))
		writeError(w, status, msg)
		return
	}
	resp := searchResponse{
		OK:      true,
		Source:  res.Source,
		Count:   len(res.Listings),
		Results: res.Listings,
	}
	if resp.Results == nil {
		resp.Results = []listing.Listing{}
	}
	if res.Source != search.SourceCache {
		stats := res.Stats
		resp.Stats = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, search.ErrEmptyQuery):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, crawler.ErrBlocked):
		return http.StatusServiceUnavailable, crawler.ErrBlocked.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "search timed out"
	default:
		return http.StatusBadGateway, "search failed: " + err.Error()
	}
}

func optionsFromQuery(q map[string][]string) (listing.SearchOptions, error) {
	get := func(k string) string {
		if v := q[k]; len(v) > 0 {
			return strings.TrimSpace(v[0])
		}
		return ""
	}
	opts := listing.SearchOptions{
		Query:      get("q"),
		Location:   get("location"),
		Category:   get("category"),
		Condition:  listing.Condition(get("condition")),
		SellerType: listing.SellerKind(get("sellerType")),
		Sort:       listing.SortKey(get("sort")),
	}
	var err error
	if opts.MaxPages, err = intParam(get("maxPages"), "maxPages"); err != nil {
		return opts, err
	}
	if opts.PageSize, err = intParam(get("pageSize"), "pageSize"); err != nil {
		return opts, err
	}
	if opts.MinPrice, err = floatParam(get("minPrice"), "minPrice"); err != nil {
		return opts, err
	}
	if opts.MaxPrice, err = floatParam(get("maxPrice"), "maxPrice"); err != nil {
		return opts, err
	}
	if v := get("withDelivery"); v != "" {
		opts.WithDelivery = v == "1" || strings.EqualFold(v, "true")
	}
	for _, raw := range q["delivery"] {
		for _, m := range strings.Split(raw, ",") {
			if m = strings.TrimSpace(m); m != "" {
				opts.DeliveryMethods = append(opts.DeliveryMethods, m)
			}
		}
	}
	return opts, nil
}

func intParam(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

func floatParam(v, name string) (*float64, error) {
	if v == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", "."), 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be a number", name)
	}
	return &f, nil
}

func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: len(origins) > 0 && origins[0] != "*",
		MaxAge:           300,
	})
}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" && s.ids != nil {
			reqID = s.ids.RequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", requestIDFrom(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", requestIDFrom(r.Context())),
					zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

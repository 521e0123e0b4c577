// Package router wires up every docstore HTTP route and applies the
// middleware chain (RequestID → CORS → RateLimit → Timeout → Metrics).
package router

import (
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/docstore/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/docstore/internal/analytics/snapshot"
	cataloghandler "github.com/Adithya-Monish-Kumar-K/docstore/internal/catalog/handler"
	"github.com/Adithya-Monish-Kumar-K/docstore/internal/search/cache"
	searchhandler "github.com/Adithya-Monish-Kumar-K/docstore/internal/search/handler"
	uploadhandler "github.com/Adithya-Monish-Kumar-K/docstore/internal/upload/handler"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/middleware"
	"github.com/Adithya-Monish-Kumar-K/docstore/pkg/ratelimit"
)

// Handlers groups the route handlers. Snapshots and Cache are optional.
type Handlers struct {
	Upload    *uploadhandler.Handler
	Catalog   *cataloghandler.Handler
	Search    *searchhandler.Handler
	Analytics *analytics.Handler
	Snapshots *snapshot.Handler
	Cache     *cache.Handler
	Health    *health.Checker
}

// Options configures the middleware chain. Limiter and Metrics may be nil.
type Options struct {
	CORS           config.CORSConfig
	Limiter        *ratelimit.Limiter
	RequestTimeout time.Duration
	Metrics        *metrics.Metrics
}

// streamPrefix is exempt from the request timeout.
const streamPrefix = "/ws/"

// New builds the full HTTP handler.
//
// Route table:
//
//	POST   /upload                        → single-shot upload
//	POST   /upload_chunk                  → chunked upload
//	GET    /list                          → list cataloged files
//	GET    /uploaded_files/{name}         → download
//	DELETE /delete?fileName=              → delete entry and file
//	GET    /search?query=                 → batch search
//	GET    /ws/search                     → streaming search (WebSocket)
//	GET    /api/v1/analytics              → aggregated stats
//	GET    /api/v1/analytics/snapshots    → persisted stats history
//	GET    /api/v1/cache/stats            → search cache counters
//	POST   /api/v1/cache/invalidate       → drop cached results
//	GET    /health/live, /health/ready    → probes
func New(h Handlers, opts Options) http.Handler {
	mux := http.NewServeMux()

	// Health
	mux.HandleFunc("GET /health/live", h.Health.LiveHandler())
	mux.HandleFunc("GET /health/ready", h.Health.ReadyHandler())

	// Uploads
	mux.HandleFunc("POST /upload", h.Upload.Upload)
	mux.HandleFunc("POST /upload_chunk", h.Upload.UploadChunk)

	// Catalog
	mux.HandleFunc("GET /list", h.Catalog.List)
	mux.HandleFunc("GET /uploaded_files/{name}", h.Catalog.Download)
	mux.HandleFunc("DELETE /delete", h.Catalog.Delete)

	// Search
	mux.HandleFunc("GET /search", h.Search.Search)
	mux.HandleFunc("GET "+streamPrefix+"search", h.Search.Stream)

	// Analytics
	mux.HandleFunc("GET /api/v1/analytics", h.Analytics.Stats)
	if h.Snapshots != nil {
		mux.HandleFunc("GET /api/v1/analytics/snapshots", h.Snapshots.List)
	}

	// Cache
	if h.Cache != nil {
		mux.HandleFunc("GET /api/v1/cache/stats", h.Cache.Stats)
		mux.HandleFunc("POST /api/v1/cache/invalidate", h.Cache.Invalidate)
	}

	// Middleware chain, applied inside-out. Metrics wraps the mux directly
	// so it sees the matched route pattern.
	var chain http.Handler = mux
	if opts.Metrics != nil {
		chain = middleware.Metrics(opts.Metrics)(chain)
	}
	if opts.RequestTimeout > 0 {
		chain = middleware.Timeout(opts.RequestTimeout, streamPrefix)(chain)
	}
	if opts.Limiter != nil {
		chain = middleware.RateLimit(opts.Limiter, "/upload")(chain)
	}
	chain = middleware.CORS(opts.CORS)(chain)
	chain = middleware.RequestID(chain)

	return chain
}

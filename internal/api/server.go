package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/star/aplab/internal/auth"
	"github.com/star/aplab/internal/health"
	"github.com/star/aplab/internal/httputil"
	"github.com/star/aplab/internal/metrics"
	"github.com/star/aplab/internal/skycache"
	"github.com/star/aplab/internal/solver"
	"github.com/star/aplab/internal/store"
	"github.com/star/aplab/internal/stream"
)

// Catalog is the remote object catalog and its on-disk cache. Fetcher is
// nil when no source is configured; imports then need a request body.
type Catalog struct {
	Fetcher *store.Fetcher
	Cache   *store.CatalogCache
}

// NewCatalog wires the fetcher for sourceURL, if any, and the snapshot cache.
func NewCatalog(sourceURL, cacheDir string, maxFiles int, logger *slog.Logger) *Catalog {
	logger = logger.With("component", "catalog")
	c := &Catalog{Cache: store.NewCatalogCache(cacheDir, maxFiles, logger)}
	if sourceURL != "" {
		c.Fetcher = store.NewFetcher(sourceURL, logger)
	}
	return c
}

// Deps are the components the handlers serve from. Sky, Solver, Stream
// and Catalog may be nil; their routes then answer 503.
type Deps struct {
	Store   *store.Store
	Ready   *health.Readiness
	Sky     *skycache.KeyframeCache
	Solver  *solver.Manager
	Stream  *stream.Handler
	Catalog *Catalog

	ImagesDir       string  // object pictures for FOV framing
	DefaultLocation string  // used when a request names none
	MinAlt          float64 // default altitude threshold, degrees
	MaxUploadBytes  int64
	TrustProxy      bool // take client IPs from proxy headers in logs
}

// Server holds the HTTP server and its dependencies.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a configured HTTP server.
func NewServer(addr string, logger *slog.Logger, authCfg auth.Config, deps Deps) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(logger, authCfg, deps),
			ReadTimeout:       60 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      60 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger: logger,
	}
}

// NewHandler builds the routed handler wrapped in the middleware chain:
// metrics -> logging -> auth -> mux.
func NewHandler(logger *slog.Logger, authCfg auth.Config, deps Deps) http.Handler {
	if deps.MaxUploadBytes <= 0 {
		deps.MaxUploadBytes = 64 << 20
	}
	if deps.Ready == nil {
		deps.Ready = &health.Readiness{}
		deps.Ready.SetReady(true)
	}
	h := &handlers{deps: deps, logger: logger.With("component", "api")}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", health.Healthz)
	mux.HandleFunc("GET /readyz", deps.Ready.Readyz)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("POST /api/v1/calculate", h.calculate)
	mux.HandleFunc("POST /api/v1/simulate", h.simulate)
	mux.HandleFunc("POST /api/v1/sky-flux", h.skyFlux)
	mux.HandleFunc("POST /api/v1/sweep", h.runSweep)
	mux.HandleFunc("POST /api/v1/synth", h.runSynth)
	mux.HandleFunc("POST /api/v1/fov", h.fov)
	mux.HandleFunc("GET /api/v1/fov/render", h.fovRender)
	mux.HandleFunc("POST /api/v1/analyze", h.analyze)

	mux.HandleFunc("GET /api/v1/objects/{name}/position", h.objectPosition)
	mux.HandleFunc("GET /api/v1/objects/{name}/events", h.objectEvents)
	mux.HandleFunc("GET /api/v1/objects/{name}/altitude", h.objectAltitude)
	mux.HandleFunc("GET /api/v1/sky/now", h.skyNow)
	mux.HandleFunc("GET /api/v1/sky/cache", h.skyCacheStats)
	mux.HandleFunc("POST /api/v1/catalog/import", h.catalogImport)

	registerRecords(mux, "cameras", deps.Store.Cameras, nil)
	registerRecords(mux, "telescopes", deps.Store.Telescopes, nil)
	registerRecords(mux, "locations", deps.Store.Locations, nil)
	registerRecords(mux, "objects", deps.Store.Objects, func(o store.Object, q string) bool {
		return o.Matches(q) || containsFold(o.Name, q) || containsFold(o.Type, q)
	})
	registerRecords(mux, "presets", deps.Store.Presets, nil)

	mux.HandleFunc("POST /api/v1/solve", h.solveSubmit)
	mux.HandleFunc("GET /api/v1/solve", h.solveList)
	mux.HandleFunc("GET /api/v1/solve/{id}", h.solveGet)
	mux.HandleFunc("DELETE /api/v1/solve/{id}", h.solveCancel)
	if deps.Stream != nil {
		mux.HandleFunc("GET /api/v1/solve/{id}/events", deps.Stream.HandleJobEvents)
	}

	var handler http.Handler = mux
	handler = auth.Middleware(authCfg)(handler)
	handler = loggingMiddleware(logger, deps.TrustProxy)(handler)
	handler = metrics.Middleware(handler)
	return handler
}

// HTTPServer returns the underlying *http.Server for external control (e.g. shutdown).
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// ListenAndServe starts the HTTP server.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// probePath returns true for health/readiness probe paths that should not log at INFO.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.statusCode = code
	sr.ResponseWriter.WriteHeader(code)
}

// Flush keeps event streams working through the recorder.
func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter { return sr.ResponseWriter }

func loggingMiddleware(logger *slog.Logger, trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			level := slog.LevelInfo
			if probePath(r.URL.Path) {
				level = slog.LevelDebug
			}

			logger.Log(r.Context(), level, "request",
				"component", "api",
				"method", r.Method,
				"path", r.URL.Path,
				"status", strconv.Itoa(sr.statusCode),
				"duration_ms", duration.Milliseconds(),
				"remote_ip", httputil.ClientIP(r, trustProxy),
			)
		})
	}
}

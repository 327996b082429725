package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aplab_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aplab_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	storeMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aplab_store_mutations_total",
			Help: "Successful parameter store rewrites by kind and operation.",
		},
		[]string{"kind", "op"},
	)

	storeRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "aplab_store_records",
			Help: "Records currently loaded per kind.",
		},
		[]string{"kind"},
	)

	catalogImportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aplab_catalog_imports_total",
			Help: "Object catalog imports by result.",
		},
		[]string{"result"},
	)

	calculationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aplab_calculations_total",
			Help: "Model evaluations by kind.",
		},
		[]string{"kind"},
	)

	solverJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aplab_solver_jobs_total",
			Help: "Plate solve jobs by final state.",
		},
		[]string{"state"},
	)

	solverJobsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aplab_solver_jobs_active",
		Help: "Plate solve jobs queued or running.",
	})

	solverWorkers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aplab_solver_workers",
		Help: "Size of the solver worker pool.",
	})

	solverDurationSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "aplab_solver_duration_seconds",
		Help:    "Wall time of finished solver runs.",
		Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 300},
	})

	skyCacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aplab_sky_cache_entries",
		Help: "Sky keyframes currently cached.",
	})

	skyCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aplab_sky_cache_hits_total",
		Help: "Sky cache lookups served from a keyframe.",
	})

	skyCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aplab_sky_cache_misses_total",
		Help: "Sky cache lookups with no keyframe.",
	})

	skyCacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aplab_sky_cache_evictions_total",
		Help: "Expired sky keyframes removed.",
	})

	skyCacheRegenErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aplab_sky_cache_regeneration_errors_total",
		Help: "Sky keyframe generations that failed.",
	})

	skyCacheRegenSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "aplab_sky_cache_regeneration_seconds",
		Help:    "Time to generate sky keyframes (one frame or a full cutover).",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	})

	skyCacheCutoverActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aplab_sky_cache_cutover_active",
		Help: "1 while the sky cache rebuilds after a catalog or location change.",
	})

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aplab_stream_connections_total",
			Help: "SSE connection events.",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "aplab_streams_active",
		Help: "Open SSE streams.",
	})

	streamMessagesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aplab_stream_messages_total",
		Help: "SSE data messages sent.",
	})

	streamBytesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "aplab_stream_bytes_total",
		Help: "Bytes written to SSE streams.",
	})

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aplab_stream_errors_total",
			Help: "SSE errors by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		storeMutationsTotal,
		storeRecords,
		catalogImportsTotal,
		calculationsTotal,
		solverJobsTotal,
		solverJobsActive,
		solverWorkers,
		solverDurationSeconds,
		skyCacheEntries,
		skyCacheHits,
		skyCacheMisses,
		skyCacheEvictions,
		skyCacheRegenErrors,
		skyCacheRegenSeconds,
		skyCacheCutoverActive,
		streamConnectionsTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Store.

func IncStoreMutations(kind, op string) { storeMutationsTotal.WithLabelValues(kind, op).Inc() }
func SetStoreRecords(kind string, n int) { storeRecords.WithLabelValues(kind).Set(float64(n)) }
func IncCatalogImports(result string) { catalogImportsTotal.WithLabelValues(result).Inc() }

// IncCalculations counts one model evaluation request of the given kind
// (calculate, simulate, sweep, synth, fov, analyze).
func IncCalculations(kind string) { calculationsTotal.WithLabelValues(kind).Inc() }

// Solver.

func IncSolverJobs(state string) { solverJobsTotal.WithLabelValues(state).Inc() }
func IncSolverJobsActive() { solverJobsActive.Inc() }
func DecSolverJobsActive() { solverJobsActive.Dec() }
func SetSolverWorkers(n int) { solverWorkers.Set(float64(n)) }
func ObserveSolverDuration(d time.Duration) { solverDurationSeconds.Observe(d.Seconds()) }

// Sky cache.

func SetSkyCacheEntries(n int) { skyCacheEntries.Set(float64(n)) }
func IncSkyCacheHits() { skyCacheHits.Inc() }
func IncSkyCacheMisses() { skyCacheMisses.Inc() }
func AddSkyCacheEvictions(n int) { skyCacheEvictions.Add(float64(n)) }
func IncSkyCacheRegenErrors() { skyCacheRegenErrors.Inc() }
func ObserveSkyCacheRegeneration(d time.Duration) {
	skyCacheRegenSeconds.Observe(d.Seconds())
}

func SetSkyCacheCutoverActive(active bool) {
	if active {
		skyCacheCutoverActive.Set(1)
	} else {
		skyCacheCutoverActive.Set(0)
	}
}

// Streams.

func IncStreamConnections(event string) { streamConnectionsTotal.WithLabelValues(event).Inc() }
func IncStreamsActive() { streamsActive.Inc() }
func DecStreamsActive() { streamsActive.Dec() }
func IncStreamMessages() { streamMessagesTotal.Inc() }
func AddStreamBytes(n int64) { streamBytesTotal.Add(float64(n)) }
func IncStreamErrors(reason string) { streamErrorsTotal.WithLabelValues(reason).Inc() }

// exactRoutes are label values used as-is.
var exactRoutes = map[string]bool{
	"/healthz":               true,
	"/readyz":                true,
	"/metrics":               true,
	"/api/v1/calculate":      true,
	"/api/v1/simulate":       true,
	"/api/v1/sky-flux":       true,
	"/api/v1/sweep":          true,
	"/api/v1/synth":          true,
	"/api/v1/fov":            true,
	"/api/v1/fov/render":     true,
	"/api/v1/sky/now":        true,
	"/api/v1/catalog/import": true,
	"/api/v1/analyze":        true,
	"/api/v1/solve":          true,
}

// storeKinds are the CRUD collections under /api/v1/.
var storeKinds = map[string]bool{
	"cameras":    true,
	"telescopes": true,
	"locations":  true,
	"objects":    true,
	"presets":    true,
}

var objectActions = map[string]bool{
	"position": true,
	"events":   true,
	"altitude": true,
}

// normalizeRoute maps a request path to a bounded label value so that
// record names and job ids do not explode metric cardinality.
func normalizeRoute(path string) string {
	if exactRoutes[path] {
		return path
	}
	rest, ok := strings.CutPrefix(path, "/api/v1/")
	if !ok {
		return "other"
	}
	seg := strings.Split(rest, "/")

	switch {
	case seg[0] == "solve" && len(seg) == 2 && seg[1] != "":
		return "/api/v1/solve/{id}"
	case seg[0] == "solve" && len(seg) == 3 && seg[2] == "events":
		return "/api/v1/solve/{id}/events"
	case !storeKinds[seg[0]]:
		return "other"
	case len(seg) == 1:
		return "/api/v1/" + seg[0]
	case len(seg) == 2 && seg[1] != "":
		return "/api/v1/" + seg[0] + "/{name}"
	case len(seg) == 3 && seg[2] == "rename":
		return "/api/v1/" + seg[0] + "/{name}/rename"
	case len(seg) == 3 && seg[0] == "objects" && objectActions[seg[2]]:
		return "/api/v1/objects/{name}/" + seg[2]
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE handlers working behind the middleware.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		route := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(route, r.Method).Observe(duration)
	})
}

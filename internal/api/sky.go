package api

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/star/aplab/internal/httputil"
	"github.com/star/aplab/internal/metrics"
	"github.com/star/aplab/internal/skycache"
	"github.com/star/aplab/internal/store"
	"github.com/star/aplab/internal/transform"
	"github.com/star/aplab/internal/visibility"
)

const (
	minCurveStep   = time.Minute
	maxCatalogBody = 10 << 20
)

// location resolves ?location=, falling back to the configured default and
// then to the first saved location.
func (h *handlers) location(r *http.Request) (store.Location, error) {
	name := r.URL.Query().Get("location")
	if name == "" {
		name = h.deps.DefaultLocation
	}
	return h.resolver().Location(name)
}

// Location returns the named location, or the first saved one when name is
// empty.
func (rs Resolver) Location(name string) (store.Location, error) {
	if name != "" {
		return rs.Store.Locations.Get(name)
	}
	locs := rs.Store.Locations.List()
	if len(locs) == 0 {
		return store.Location{}, badRequest("no location given and none saved")
	}
	return locs[0], nil
}

// objectAndLocation resolves the {name} path value and ?location=.
func (h *handlers) objectAndLocation(w http.ResponseWriter, r *http.Request) (store.Object, store.Location, bool) {
	obj, err := h.resolver().Object(r.PathValue("name"))
	if err != nil {
		h.writeComputeError(w, err)
		return obj, store.Location{}, false
	}
	loc, err := h.location(r)
	if err != nil {
		h.writeComputeError(w, err)
		return obj, loc, false
	}
	return obj, loc, true
}

// nightStart reads ?date=YYYY-MM-DD (default today, UTC) and returns the
// local mean noon that opens the night window.
func nightStart(r *http.Request, loc store.Location) (time.Time, error) {
	date := time.Now().UTC()
	if s := r.URL.Query().Get("date"); s != "" {
		d, err := time.Parse(time.DateOnly, s)
		if err != nil {
			return time.Time{}, badRequest("date must be YYYY-MM-DD")
		}
		date = d
	}
	return visibility.NightStart(date, loc.LonDeg), nil
}

func (h *handlers) minAlt(r *http.Request) (float64, error) {
	v, err := floatParam(r.URL.Query().Get("min_alt"), h.deps.MinAlt)
	if err != nil || v < -90 || v > 90 {
		return 0, badRequest("min_alt must be a number in [-90, 90]")
	}
	return v, nil
}

type positionResponse struct {
	Object   string `json:"object"`
	Location string `json:"location"`
	RA       string `json:"ra"`
	Dec      string `json:"dec"`
	visibility.Position
}

// objectPosition serves GET /api/v1/objects/{name}/position?location=&time=.
func (h *handlers) objectPosition(w http.ResponseWriter, r *http.Request) {
	obj, loc, ok := h.objectAndLocation(w, r)
	if !ok {
		return
	}
	t := time.Now().UTC()
	if s := r.URL.Query().Get("time"); s != "" {
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "time must be RFC 3339")
			return
		}
		t = parsed
	}
	metrics.IncCalculations("position")
	httputil.WriteJSON(w, http.StatusOK, positionResponse{
		Object:   obj.Name,
		Location: loc.Name,
		RA:       transform.FormatRA(obj.RAHours),
		Dec:      transform.FormatDec(obj.DecDeg),
		Position: visibility.PositionAt(obj.Equatorial(), loc.Observer(), t),
	})
}

type eventsResponse struct {
	Object   string `json:"object"`
	Location string `json:"location"`
	visibility.Events
}

// objectEvents serves GET /api/v1/objects/{name}/events?location=&date=&min_alt=.
func (h *handlers) objectEvents(w http.ResponseWriter, r *http.Request) {
	obj, loc, ok := h.objectAndLocation(w, r)
	if !ok {
		return
	}
	start, err := nightStart(r, loc)
	if err != nil {
		h.writeComputeError(w, err)
		return
	}
	minAlt, err := h.minAlt(r)
	if err != nil {
		h.writeComputeError(w, err)
		return
	}
	metrics.IncCalculations("events")
	httputil.WriteJSON(w, http.StatusOK, eventsResponse{
		Object:   obj.Name,
		Location: loc.Name,
		Events:   visibility.FindEvents(obj.Equatorial(), loc.Observer(), start, minAlt),
	})
}

type curveResponse struct {
	Object   string `json:"object"`
	Location string `json:"location"`
	visibility.Curve
}

// objectAltitude serves GET /api/v1/objects/{name}/altitude with optional
// location, date, min_alt, step (Go duration, default 10m) and format=png.
func (h *handlers) objectAltitude(w http.ResponseWriter, r *http.Request) {
	obj, loc, ok := h.objectAndLocation(w, r)
	if !ok {
		return
	}
	start, err := nightStart(r, loc)
	if err != nil {
		h.writeComputeError(w, err)
		return
	}
	minAlt, err := h.minAlt(r)
	if err != nil {
		h.writeComputeError(w, err)
		return
	}
	step := visibility.DefaultCurveStep
	if s := r.URL.Query().Get("step"); s != "" {
		step, err = time.ParseDuration(s)
		if err != nil || step < minCurveStep {
			httputil.WriteError(w, http.StatusBadRequest, fmt.Sprintf("step must be a duration of at least %s", minCurveStep))
			return
		}
	}

	curve, err := visibility.AltitudeCurve(obj.Equatorial(), loc.Observer(), start, start.Add(24*time.Hour), step, minAlt)
	if err != nil {
		h.writeComputeError(w, err)
		return
	}
	metrics.IncCalculations("altitude")
	if r.URL.Query().Get("format") != "png" {
		httputil.WriteJSON(w, http.StatusOK, curveResponse{Object: obj.Name, Location: loc.Name, Curve: curve})
		return
	}
	title := fmt.Sprintf("%s from %s, night of %s", obj.Name, loc.Name, start.Format(time.DateOnly))
	data, err := visibility.ChartPNG(title, []string{obj.Name}, []visibility.Curve{curve})
	if err != nil {
		h.writeComputeError(w, err)
		return
	}
	httputil.WritePNG(w, data)
}

type skyNowResponse struct {
	Time     time.Time                 `json:"time"`
	Location string                    `json:"location"`
	MinAlt   float64                   `json:"min_altitude_deg"`
	Count    int                       `json:"count"`
	Objects  []skycache.ObjectPosition `json:"objects"`
}

// skyNow serves GET /api/v1/sky/now?min_alt= from the keyframe cache.
func (h *handlers) skyNow(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sky == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "sky cache disabled")
		return
	}
	minAlt, err := h.minAlt(r)
	if err != nil {
		h.writeComputeError(w, err)
		return
	}
	ts, loc, objs, ok := h.deps.Sky.Now(minAlt)
	if !ok {
		w.Header().Set("Retry-After", "5")
		httputil.WriteError(w, http.StatusServiceUnavailable, "sky cache not ready")
		return
	}
	if objs == nil {
		objs = []skycache.ObjectPosition{}
	}
	httputil.WriteJSON(w, http.StatusOK, skyNowResponse{Time: ts, Location: loc, MinAlt: minAlt, Count: len(objs), Objects: objs})
}

func (h *handlers) skyCacheStats(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sky == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "sky cache disabled")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.deps.Sky.Stats())
}

type importResponse struct {
	Source   string `json:"source"`
	Added    int    `json:"added"`
	Existing int    `json:"existing"`
}

// catalogImport merges objects into the catalog. A non-empty body is
// imported as objectdata rows; an empty body fetches the remote catalog,
// falling back to the newest cached copy when the fetch fails.
func (h *handlers) catalogImport(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCatalogBody))
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "reading body: "+err.Error())
		return
	}

	source := "request"
	if len(body) == 0 {
		if h.deps.Catalog == nil || h.deps.Catalog.Fetcher == nil {
			httputil.WriteError(w, http.StatusBadRequest, "empty body and no catalog source configured")
			return
		}
		body, source, err = h.fetchCatalog(r)
		if err != nil {
			metrics.IncCatalogImports("error")
			httputil.WriteError(w, http.StatusBadGateway, err.Error())
			return
		}
	}

	added, existing, err := h.deps.Store.ImportCatalog(body)
	if err != nil {
		metrics.IncCatalogImports("error")
		h.writeComputeError(w, err)
		return
	}
	metrics.IncCatalogImports("success")
	h.logger.Info("catalog imported", "source", source, "added", added, "existing", existing)
	httputil.WriteJSON(w, http.StatusOK, importResponse{Source: source, Added: added, Existing: existing})
}

func (h *handlers) fetchCatalog(r *http.Request) ([]byte, string, error) {
	c := h.deps.Catalog
	data, err := c.Fetcher.Fetch(r.Context())
	if err == nil {
		if c.Cache != nil {
			if _, werr := c.Cache.Save(data, time.Now()); werr != nil {
				h.logger.Warn("catalog snapshot not saved", "error", werr)
			}
		}
		return data, c.Fetcher.SourceURL(), nil
	}
	h.logger.Warn("catalog fetch failed", "error", err)
	if c.Cache == nil {
		return nil, "", fmt.Errorf("fetching catalog: %w", err)
	}
	snap, cerr := c.Cache.Latest()
	if cerr != nil {
		return nil, "", fmt.Errorf("fetching catalog: %w (no cached copy: %v)", err, cerr)
	}
	return snap.Data, "cache:" + snap.FetchedAt.Format(time.RFC3339), nil
}

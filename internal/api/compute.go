package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/star/aplab/internal/analyzer"
	"github.com/star/aplab/internal/httputil"
	"github.com/star/aplab/internal/metrics"
	"github.com/star/aplab/internal/optics"
	"github.com/star/aplab/internal/render"
	"github.com/star/aplab/internal/sensor"
	"github.com/star/aplab/internal/store"
	"github.com/star/aplab/internal/sweep"
	"github.com/star/aplab/internal/synth"
)

type handlers struct {
	deps   Deps
	logger *slog.Logger
}

// writeComputeError maps validation failures to 400 and the rest to 500.
func (h *handlers) writeComputeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, sensor.ErrInvalidInput),
		errors.Is(err, optics.ErrInvalid),
		errors.Is(err, sweep.ErrInvalid),
		errors.Is(err, synth.ErrInvalid),
		errors.Is(err, render.ErrInvalid),
		errors.Is(err, analyzer.ErrInvalid),
		errors.Is(err, analyzer.ErrSizeMismatch),
		errors.Is(err, errBadRequest):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("request failed", "error", err)
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// Resolver completes requests from the saved records.
type Resolver struct {
	Store *store.Store
}

// Object looks an object up by name, then by alias ("m 31" finds M31).
func (rs Resolver) Object(name string) (store.Object, error) {
	obj, err := rs.Store.Objects.Get(name)
	if err == nil {
		return obj, nil
	}
	if o, ok := rs.Store.Objects.Find(func(o store.Object) bool { return o.Matches(name) }); ok {
		return o, nil
	}
	return obj, err
}

func (h *handlers) resolver() Resolver { return Resolver{Store: h.deps.Store} }

// CalcRequest is a calculator input, optionally completed from a saved
// preset and a camera's gain setting. Explicit fields win.
type CalcRequest struct {
	sensor.CalcInput
	Preset    string `json:"preset,omitempty"`
	Camera    string `json:"camera,omitempty"`
	GainIndex *int   `json:"gain_index,omitempty"`
}

// Calc fills the calculator input from the named preset and camera.
func (rs Resolver) Calc(req CalcRequest) (sensor.CalcInput, error) {
	in := req.CalcInput
	camera, gainIndex := req.Camera, 0
	if req.Preset != "" {
		p, err := rs.Store.Presets.Get(req.Preset)
		if err != nil {
			return in, err
		}
		if in.ExposureS == 0 {
			in.ExposureS = p.ExposureS
		}
		if in.SubCount == 0 {
			in.SubCount = p.SubCount
		}
		if in.DarkLevel == nil && p.DarkLevel != nil {
			dark := *p.DarkLevel
			in.DarkLevel = &dark
		}
		if in.SkyLevel == 0 {
			in.SkyLevel = p.SkyLevel
		}
		if in.TargetLevel == nil && p.TargetLevel > p.SkyLevel {
			in.TargetLevel = &p.TargetLevel
		}
		if camera == "" {
			camera = p.Camera
		}
		gainIndex = p.GainIndex
	}
	if req.GainIndex != nil {
		gainIndex = *req.GainIndex
	}
	if camera != "" {
		c, err := rs.Store.Cameras.Get(camera)
		if err != nil {
			return in, err
		}
		g, rn, _, err := c.GainSetting(gainIndex)
		if err != nil {
			return in, badRequest("%v", err)
		}
		if in.Gain == 0 {
			in.Gain = g
		}
		if in.ReadNoise == 0 {
			in.ReadNoise = rn
		}
		if in.BlackLevel == 0 && in.WhiteLevel == 0 {
			in.BlackLevel, in.WhiteLevel = c.BlackLevel, c.WhiteLevel
		}
	}
	return in, nil
}

func (h *handlers) calculate(w http.ResponseWriter, r *http.Request) {
	var req CalcRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, err := h.resolver().Calc(req)
	if err != nil {
		h.writeComputeError(w, err)
		return
	}
	res, err := sensor.Calculate(in)
	if err != nil {
		h.writeComputeError(w, err)
		return
	}
	metrics.IncCalculations("calculate")
	httputil.WriteJSON(w, http.StatusOK, res)
}

// SimRequest is a simulator input, optionally completed from a camera's
// gain setting.
type SimRequest struct {
	sensor.SimInput
	Camera    string `json:"camera,omitempty"`
	GainIndex int    `json:"gain_index,omitempty"`
}

// Sim fills read noise, saturation and QE from the named camera.
func (rs Resolver) Sim(req SimRequest) (sensor.SimInput, error) {
	in := req.SimInput
	if req.Camera == "" {
		return in, nil
	}
	c, err := rs.Store.Cameras.Get(req.Camera)
	if err != nil {
		return in, err
	}
	_, rn, sat, err := c.GainSetting(req.GainIndex)
	if err != nil {
		return in, badRequest("%v", err)
	}
	if in.ReadNoise == 0 {
		in.ReadNoise = rn
	}
	if in.SatCap == 0 {
		in.SatCap = sat
	}
	if in.SkyBrightness != nil && in.SkyBrightness.QE == 0 {
		in.SkyBrightness.QE = c.QE
	}
	return in, nil
}

func (h *handlers) simulate(w http.ResponseWriter, r *http.Request) {
	var req SimRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, err := h.resolver().Sim(req)
	if err != nil {
		h.writeComputeError(w, err)
		return
	}
	res, err := sensor.Simulate(in)
	if err != nil {
		h.writeComputeError(w, err)
		return
	}
	metrics.IncCalculations("simulate")
	httputil.WriteJSON(w, http.StatusOK, res)
}

// skyFluxRequest converts in either direction: a set sky_flux yields the
// magnitude, otherwise the magnitude yields the flux.
type skyFluxRequest struct {
	sensor.SkyBrightness
	SkyFlux *float64 `json:"sky_flux,omitempty"`
}

type skyFluxResponse struct {
	MagPerArcsec2 float64 `json:"mag_per_arcsec2"`
	SkyFlux       float64 `json:"sky_flux"`
}

func (h *handlers) skyFlux(w http.ResponseWriter, r *http.Request) {
	var req skyFluxRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	var resp skyFluxResponse
	if req.SkyFlux != nil {
		m, err := sensor.MagnitudeFromSkyFlux(*req.SkyFlux, req.SkyBrightness)
		if err != nil {
			h.writeComputeError(w, err)
			return
		}
		resp = skyFluxResponse{MagPerArcsec2: m, SkyFlux: *req.SkyFlux}
	} else {
		f, err := sensor.SkyFluxFromMagnitude(req.SkyBrightness)
		if err != nil {
			h.writeComputeError(w, err)
			return
		}
		resp = skyFluxResponse{MagPerArcsec2: req.MagPerArcsec2, SkyFlux: f}
	}
	metrics.IncCalculations("sky_flux")
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *handlers) runSweep(w http.ResponseWriter, r *http.Request) {
	var req sweep.Request
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := sweep.Run(r.Context(), req)
	if err != nil {
		h.writeComputeError(w, err)
		return
	}
	metrics.IncCalculations("sweep")
	if r.URL.Query().Get("format") != "png" {
		httputil.WriteJSON(w, http.StatusOK, res)
		return
	}
	data, err := sweep.ChartPNG(res)
	if err != nil {
		h.writeComputeError(w, err)
		return
	}
	httputil.WritePNG(w, data)
}

// runSynth accepts a JSON request body, or a multipart form with the request
// JSON in field "request" and an optional "template" image.
func (h *handlers) runSynth(w http.ResponseWriter, r *http.Request) {
	var (
		req      synth.Request
		template image.Image
	)
	if isMultipart(r) {
		r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxUploadBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
			return
		}
		defer r.MultipartForm.RemoveAll()
		if err := json.Unmarshal([]byte(r.FormValue("request")), &req); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid request field: "+err.Error())
			return
		}
		if f, _, err := r.FormFile("template"); err == nil {
			template, err = synth.DecodeTemplate(f)
			f.Close()
			if err != nil {
				h.writeComputeError(w, err)
				return
			}
		}
	} else if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := synth.Render(req, template)
	if err != nil {
		h.writeComputeError(w, err)
		return
	}
	metrics.IncCalculations("synth")
	httputil.WritePNG(w, data)
}

// FOVRequest is an optics input, optionally filled from a saved camera and
// telescope.
type FOVRequest struct {
	optics.Input
	Camera    string `json:"camera,omitempty"`
	Telescope string `json:"telescope,omitempty"`
}

// Optics fills sensor and telescope geometry from the named records.
func (rs Resolver) Optics(req FOVRequest) (optics.Input, error) {
	in := req.Input
	if req.Camera != "" {
		c, err := rs.Store.Cameras.Get(req.Camera)
		if err != nil {
			return in, err
		}
		if in.PixelSizeUM == 0 {
			in.PixelSizeUM = c.PixelSizeUM
		}
		if in.HRes == 0 && in.VRes == 0 {
			in.HRes, in.VRes = c.HRes, c.VRes
		}
	}
	if req.Telescope != "" {
		t, err := rs.Store.Telescopes.Get(req.Telescope)
		if err != nil {
			return in, err
		}
		if in.FocalLengthMM == 0 {
			in.FocalLengthMM = t.FocalLengthMM
		}
		if in.ApertureMM == 0 {
			in.ApertureMM = t.ApertureMM
		}
	}
	return in, nil
}

func (h *handlers) fov(w http.ResponseWriter, r *http.Request) {
	var req FOVRequest
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, err := h.resolver().Optics(req)
	if err != nil {
		h.writeComputeError(w, err)
		return
	}
	res, err := optics.Compute(in)
	if err != nil {
		h.writeComputeError(w, err)
		return
	}
	metrics.IncCalculations("fov")
	httputil.WriteJSON(w, http.StatusOK, res)
}

type framingResponse struct {
	Optics  optics.Result  `json:"optics"`
	Framing render.Framing `json:"framing"`
}

// fovRender serves GET /api/v1/fov/render?object=&camera=&telescope=.
// Optional: multiplier, width, format=json.
func (h *handlers) fovRender(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	obj, err := h.resolver().Object(q.Get("object"))
	if err != nil {
		h.writeComputeError(w, err)
		return
	}
	req := FOVRequest{Camera: q.Get("camera"), Telescope: q.Get("telescope")}
	if req.Camera == "" || req.Telescope == "" {
		httputil.WriteError(w, http.StatusBadRequest, "camera and telescope are required")
		return
	}
	if req.Input.Multiplier, err = floatParam(q.Get("multiplier"), 0); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid multiplier")
		return
	}
	width, err := intParam(q.Get("width"), 0)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid width")
		return
	}

	in, err := h.resolver().Optics(req)
	if err != nil {
		h.writeComputeError(w, err)
		return
	}
	res, err := optics.Compute(in)
	if err != nil {
		h.writeComputeError(w, err)
		return
	}
	data, framing, err := render.Frame(render.Request{
		FOVWidthArcm:  res.FOVWidthArcm,
		FOVHeightArcm: res.FOVHeightArcm,
		Object:        obj.Name,
		MajorArcm:     obj.SizeMajorArcm,
		MinorArcm:     obj.SizeMinorArcm,
		Width:         width,
		ImagesDir:     h.deps.ImagesDir,
	})
	if err != nil {
		h.writeComputeError(w, err)
		return
	}
	metrics.IncCalculations("fov_render")
	if q.Get("format") == "json" {
		httputil.WriteJSON(w, http.StatusOK, framingResponse{Optics: res, Framing: framing})
		return
	}
	w.Header().Set("X-Framing-Ratio", strconv.FormatFloat(framing.Ratio, 'f', 3, 64))
	httputil.WritePNG(w, data)
}

// analyze reads a multipart form with any of the frame files bias1, bias2,
// flat1, flat2, dark, light and the values gain, dark_exposure,
// light_exposure and crop.
func (h *handlers) analyze(w http.ResponseWriter, r *http.Request) {
	if !isMultipart(r) {
		httputil.WriteError(w, http.StatusBadRequest, "expected multipart/form-data")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.deps.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	var req analyzer.Request
	var err error
	values := []struct {
		name string
		dst  *float64
	}{
		{"gain", &req.Gain},
		{"dark_exposure", &req.DarkExposure},
		{"light_exposure", &req.LightExposure},
	}
	for _, f := range values {
		if *f.dst, err = floatParam(r.FormValue(f.name), 0); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid "+f.name)
			return
		}
	}
	crop, err := floatParam(r.FormValue("crop"), 0)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid crop")
		return
	}

	frames := []struct {
		field string
		dst   **analyzer.Frame
	}{
		{"bias1", &req.Bias1}, {"bias2", &req.Bias2},
		{"flat1", &req.Flat1}, {"flat2", &req.Flat2},
		{"dark", &req.Dark}, {"light", &req.Light},
	}
	for _, f := range frames {
		fh := r.MultipartForm.File[f.field]
		if len(fh) == 0 {
			continue
		}
		frame, err := decodeFrame(fh[0], crop)
		if err != nil {
			h.writeComputeError(w, fmt.Errorf("%s: %w", f.field, err))
			return
		}
		*f.dst = frame
	}

	rep, err := analyzer.Analyze(req)
	if err != nil {
		h.writeComputeError(w, err)
		return
	}
	metrics.IncCalculations("analyze")
	httputil.WriteJSON(w, http.StatusOK, rep)
}

func decodeFrame(fh *multipart.FileHeader, crop float64) (*analyzer.Frame, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return analyzer.Decode(f, crop)
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}

func floatParam(s string, def float64) (float64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseFloat(s, 64)
}

func intParam(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

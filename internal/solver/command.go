package solver

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Default command line. Placeholders are replaced per token, no shell is
// involved.
const (
	DefaultCommand  = "astap"
	DefaultArgs     = "-f {image} -r {radius} -fov {fov} -z {downsample}"
	DefaultHintArgs = "-ra {ra_hours} -spd {spd}"
)

// DefaultRadiusDeg is the search radius when no hint is given.
const DefaultRadiusDeg = 30

// Hints narrow the search.
type Hints struct {
	RAHours    *float64 `json:"ra,omitempty"`
	DecDeg     *float64 `json:"dec,omitempty"`
	RadiusDeg  float64  `json:"radius_deg,omitempty"`
	FOVDeg     float64  `json:"fov_deg,omitempty"` // 0 lets the solver guess
	Downsample int      `json:"downsample,omitempty"`
}

func (h Hints) validate() error {
	if h.RAHours != nil && (*h.RAHours < 0 || *h.RAHours >= 24) {
		return fmt.Errorf("%w: ra must be in [0, 24) hours", ErrInvalidRequest)
	}
	if h.DecDeg != nil && (*h.DecDeg < -90 || *h.DecDeg > 90) {
		return fmt.Errorf("%w: dec must be in [-90, 90]", ErrInvalidRequest)
	}
	if (h.RAHours == nil) != (h.DecDeg == nil) {
		return fmt.Errorf("%w: ra and dec hints go together", ErrInvalidRequest)
	}
	if h.RadiusDeg < 0 || h.RadiusDeg > 180 || h.FOVDeg < 0 || h.Downsample < 0 {
		return fmt.Errorf("%w: radius, fov and downsample must not be negative", ErrInvalidRequest)
	}
	return nil
}

// expandArgs fills the argument templates for one image.
func expandArgs(tmpl, hintTmpl, image string, h Hints) []string {
	radius := h.RadiusDeg
	if radius == 0 {
		radius = DefaultRadiusDeg
	}
	vals := map[string]string{
		"{image}":      image,
		"{radius}":     fmtNum(radius),
		"{fov}":        fmtNum(h.FOVDeg),
		"{downsample}": strconv.Itoa(h.Downsample),
	}

	args := fill(strings.Fields(tmpl), vals)
	if h.RAHours != nil && h.DecDeg != nil {
		vals["{ra_hours}"] = fmtNum(*h.RAHours)
		vals["{dec}"] = fmtNum(*h.DecDeg)
		vals["{spd}"] = fmtNum(*h.DecDeg + 90)
		args = append(args, fill(strings.Fields(hintTmpl), vals)...)
	}
	return args
}

func fill(tokens []string, vals map[string]string) []string {
	out := make([]string, len(tokens))
	for i, tok := range tokens {
		for k, v := range vals {
			tok = strings.ReplaceAll(tok, k, v)
		}
		out[i] = tok
	}
	return out
}

func fmtNum(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

// iniPath is where the solver writes its result for image.
func iniPath(image string) string {
	return strings.TrimSuffix(image, filepath.Ext(image)) + ".ini"
}

// wcsPath is the header file some solvers write next to the ini.
func wcsPath(image string) string {
	return strings.TrimSuffix(image, filepath.Ext(image)) + ".wcs"
}

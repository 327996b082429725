// Package optics derives field of view, image scale and resolution limits
// for a camera behind a telescope.
package optics

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalid is wrapped by input validation errors.
var ErrInvalid = errors.New("invalid optics input")

// Sampling verdicts.
const (
	Undersampled = "undersampled"
	Oversampled  = "oversampled"
	WellSampled  = "ok"
)

// Sampling thresholds in pixels per seeing FWHM.
const (
	minSampling = 2.0
	maxSampling = 3.5
)

// Input describes the imaging train. Multiplier is a barlow (>1) or reducer
// (<1) factor and defaults to 1.
type Input struct {
	PixelSizeUM   float64 `json:"pixel_size_um"`
	HRes          int     `json:"h_res"`
	VRes          int     `json:"v_res"`
	FocalLengthMM float64 `json:"focal_length_mm"`
	ApertureMM    float64 `json:"aperture_mm"`
	Multiplier    float64 `json:"multiplier,omitempty"`
	SeeingArcsec  float64 `json:"seeing_arcsec,omitempty"`
}

// Result is the derived optics summary. Sampling fields are empty when no
// seeing was given.
type Result struct {
	FocalLengthMM  float64 `json:"effective_focal_length_mm"`
	FRatio         float64 `json:"f_ratio"`
	PixelScale     float64 `json:"pixel_scale_arcsec"`
	FOVWidthArcm   float64 `json:"fov_width_arcmin"`
	FOVHeightArcm  float64 `json:"fov_height_arcmin"`
	FOVDiagArcm    float64 `json:"fov_diagonal_arcmin"`
	DawesArcsec    float64 `json:"dawes_limit_arcsec"`
	RayleighArcsec float64 `json:"rayleigh_limit_arcsec"`
	Sampling       float64 `json:"sampling,omitempty"`
	Verdict        string  `json:"sampling_verdict,omitempty"`
}

// Compute returns the optics summary for in.
func Compute(in Input) (Result, error) {
	if in.Multiplier == 0 {
		in.Multiplier = 1
	}
	switch {
	case !(in.PixelSizeUM > 0):
		return Result{}, fmt.Errorf("%w: pixel_size_um must be positive", ErrInvalid)
	case in.HRes <= 0 || in.VRes <= 0:
		return Result{}, fmt.Errorf("%w: resolution must be positive, got %dx%d", ErrInvalid, in.HRes, in.VRes)
	case !(in.FocalLengthMM > 0):
		return Result{}, fmt.Errorf("%w: focal_length_mm must be positive", ErrInvalid)
	case !(in.ApertureMM > 0):
		return Result{}, fmt.Errorf("%w: aperture_mm must be positive", ErrInvalid)
	case !(in.Multiplier > 0):
		return Result{}, fmt.Errorf("%w: multiplier must be positive", ErrInvalid)
	case in.SeeingArcsec < 0:
		return Result{}, fmt.Errorf("%w: seeing_arcsec must not be negative", ErrInvalid)
	}

	fl := in.FocalLengthMM * in.Multiplier
	scale := PixelScale(in.PixelSizeUM, fl)
	w := scale * float64(in.HRes) / 60
	h := scale * float64(in.VRes) / 60

	r := Result{
		FocalLengthMM:  fl,
		FRatio:         fl / in.ApertureMM,
		PixelScale:     scale,
		FOVWidthArcm:   w,
		FOVHeightArcm:  h,
		FOVDiagArcm:    math.Hypot(w, h),
		DawesArcsec:    116 / in.ApertureMM,
		RayleighArcsec: 138 / in.ApertureMM,
	}
	if in.SeeingArcsec > 0 {
		r.Sampling = in.SeeingArcsec / scale
		r.Verdict = Verdict(r.Sampling)
	}
	return r, nil
}

// PixelScale returns the image scale in arcsec per pixel.
func PixelScale(pixelSizeUM, focalLengthMM float64) float64 {
	return 206.265 * pixelSizeUM / focalLengthMM
}

// Verdict classifies a sampling ratio (pixels across the seeing FWHM).
func Verdict(sampling float64) string {
	switch {
	case sampling < minSampling:
		return Undersampled
	case sampling > maxSampling:
		return Oversampled
	default:
		return WellSampled
	}
}

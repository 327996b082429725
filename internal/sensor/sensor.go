// Package sensor implements the CCD/CMOS noise model used by the
// calculator and simulator: shot noise of dark, sky and target signal,
// read noise, SNR of a single sub and of a stack, dynamic range, and the
// suggested sub exposure that keeps read noise negligible against the
// background.
package sensor

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidInput is wrapped by every *InputError.
var ErrInvalidInput = errors.New("invalid input")

// InputError names the offending input field.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *InputError) Unwrap() error { return ErrInvalidInput }

func invalid(field, format string, args ...any) error {
	return &InputError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// DefaultNoiseIncrease is the accepted fractional increase of background
// noise caused by read noise when suggesting a sub exposure.
const DefaultNoiseIncrease = 0.05

// Result holds every derived quantity. Signals and noise are electrons per
// sub, fluxes electrons per second.
type Result struct {
	DarkSignal   float64 `json:"dark_signal"`
	DarkNoise    float64 `json:"dark_noise"`
	SkySignal    float64 `json:"sky_signal"`
	SkyNoise     float64 `json:"sky_noise"`
	TargetSignal float64 `json:"target_signal,omitempty"`
	TargetNoise  float64 `json:"target_noise,omitempty"`
	ReadNoise    float64 `json:"read_noise"`

	BackgroundNoise float64 `json:"background_noise"`
	TotalNoise      float64 `json:"total_noise"`

	// SNR fields are nil when no target signal was given.
	SNR      *float64 `json:"snr,omitempty"`
	StackSNR *float64 `json:"stack_snr,omitempty"`

	SatCap          float64 `json:"sat_cap"`
	DynamicRange    float64 `json:"dynamic_range_stops"`
	DynamicRangeDB  float64 `json:"dynamic_range_db"`
	StackDynRange   float64 `json:"stack_dynamic_range_stops"`
	DarkCurrent     float64 `json:"dark_current"`
	SkyFlux         float64 `json:"sky_flux"`
	TargetFlux      float64 `json:"target_flux,omitempty"`
	SuggestedExpS   float64 `json:"suggested_exposure_s,omitempty"`
	MaxUnsatExpS    float64 `json:"max_unsaturated_exposure_s,omitempty"`
	TotalExposureS  float64 `json:"total_exposure_s"`
	SubCount        int     `json:"sub_count"`
	ReadNoiseShareP float64 `json:"read_noise_share_pct"`

	// Subs needed to reach the requested goal SNR; zero without a goal,
	// a target or a reachable count.
	SubsForGoal int `json:"subs_for_goal_snr,omitempty"`
}

// model is the common electron-domain core shared by both front ends.
type model struct {
	exposure      float64
	subs          int
	readNoise     float64
	dark          float64 // e- per sub
	sky           float64
	target        float64
	hasTarget     bool
	satCap        float64
	noiseIncrease float64
	goalSNR       float64
}

func (m model) evaluate() Result {
	rn2 := m.readNoise * m.readNoise
	bg2 := rn2 + m.dark + m.sky
	tot2 := bg2 + m.target

	r := Result{
		DarkSignal:      m.dark,
		DarkNoise:       math.Sqrt(m.dark),
		SkySignal:       m.sky,
		SkyNoise:        math.Sqrt(m.sky),
		ReadNoise:       m.readNoise,
		BackgroundNoise: math.Sqrt(bg2),
		TotalNoise:      math.Sqrt(tot2),
		SatCap:          m.satCap,
		DarkCurrent:     m.dark / m.exposure,
		SkyFlux:         m.sky / m.exposure,
		TotalExposureS:  m.exposure * float64(m.subs),
		SubCount:        m.subs,
	}

	if m.hasTarget {
		r.TargetSignal = m.target
		r.TargetNoise = math.Sqrt(m.target)
		r.TargetFlux = m.target / m.exposure
		snr := 0.0
		if tot2 > 0 {
			snr = m.target / math.Sqrt(tot2)
		}
		stack := snr * math.Sqrt(float64(m.subs))
		r.SNR = &snr
		r.StackSNR = &stack
		if m.goalSNR > 0 {
			r.SubsForGoal = SubsForSNR(snr, m.goalSNR)
		}
	}

	// The front ends reject inputs with no noise floor, so bg2 > 0.
	r.DynamicRange = math.Log2(m.satCap / r.BackgroundNoise)
	r.DynamicRangeDB = 20 * math.Log10(m.satCap/r.BackgroundNoise)
	// Stacking averages noise down by √n while the ceiling stays put.
	r.StackDynRange = r.DynamicRange + 0.5*math.Log2(float64(m.subs))
	r.ReadNoiseShareP = 100 * rn2 / bg2

	// Zero means "no finite value" for the two exposure hints.
	if v := SuggestedExposure(m.readNoise, r.SkyFlux+r.DarkCurrent, m.noiseIncrease); !math.IsInf(v, 0) {
		r.SuggestedExpS = v
	}
	if flux := r.DarkCurrent + r.SkyFlux + r.TargetFlux; flux > 0 {
		r.MaxUnsatExpS = m.satCap / flux
	}
	return r
}

// SuggestedExposure returns the shortest sub exposure for which read noise
// raises the background noise by at most the fraction p:
//
//	√(B·t + RN²) ≤ (1+p)·√(B·t)  ⇔  t ≥ RN² / (((1+p)² - 1)·B)
//
// where B is the background flux (sky + dark current) in e-/s. Returns +Inf
// when there is no background.
func SuggestedExposure(readNoise, backgroundFlux, p float64) float64 {
	if backgroundFlux <= 0 || p <= 0 {
		return math.Inf(1)
	}
	return readNoise * readNoise / (((1+p)*(1+p) - 1) * backgroundFlux)
}

// maxSubs bounds SubsForSNR; anything beyond is reported as unreachable.
const maxSubs = 1_000_000

// SubsForSNR returns the number of subs needed to reach a target stack SNR
// given the SNR of one sub, or 0 when no sensible count gets there.
func SubsForSNR(subSNR, wantSNR float64) int {
	if !(subSNR > 0) || !(wantSNR > 0) {
		return 0
	}
	n := math.Ceil((wantSNR / subSNR) * (wantSNR / subSNR))
	if n > maxSubs {
		return 0
	}
	return max(int(n), 1)
}

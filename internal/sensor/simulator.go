package sensor

import "math"

// PhotonZeroPoint is the V-band photon flux of a magnitude 0 source in
// photons/s/cm²/nm.
const PhotonZeroPoint = 1.0e4

// SimInput describes an exposure by its per-second electron fluxes.
// TargetFlux is optional. SkyFlux may instead be derived from SkyBrightness.
type SimInput struct {
	ExposureS     float64        `json:"exposure_s"`
	SubCount      int            `json:"sub_count,omitempty"`
	ReadNoise     float64        `json:"read_noise"`   // e-
	DarkCurrent   float64        `json:"dark_current"` // e-/s
	SkyFlux       float64        `json:"sky_flux"`     // e-/s
	TargetFlux    *float64       `json:"target_flux,omitempty"`
	SatCap        float64        `json:"sat_cap"` // e-
	NoiseIncrease float64        `json:"noise_increase,omitempty"`
	GoalSNR       float64        `json:"goal_snr,omitempty"`
	SkyBrightness *SkyBrightness `json:"sky_brightness,omitempty"`
}

// SkyBrightness converts a surface brightness into per-pixel electron flux.
type SkyBrightness struct {
	MagPerArcsec2 float64 `json:"mag_per_arcsec2"`
	ApertureMM    float64 `json:"aperture_mm"`
	PixelScale    float64 `json:"pixel_scale"` // arcsec/px
	QE            float64 `json:"qe"`          // 0..1
	BandwidthNM   float64 `json:"bandwidth_nm"`
}

func (b SkyBrightness) validate() error {
	switch {
	case !(b.ApertureMM > 0):
		return invalid("sky_brightness.aperture_mm", "must be positive")
	case !(b.PixelScale > 0):
		return invalid("sky_brightness.pixel_scale", "must be positive")
	case !(b.QE > 0) || b.QE > 1:
		return invalid("sky_brightness.qe", "must be in (0, 1]")
	case !(b.BandwidthNM > 0):
		return invalid("sky_brightness.bandwidth_nm", "must be positive")
	}
	return nil
}

// collect returns the per-pixel electron flux for one magnitude unit of
// 10^(-0.4·m).
func (b SkyBrightness) collect() float64 {
	r := b.ApertureMM / 20 // radius in cm
	return PhotonZeroPoint * b.BandwidthNM * math.Pi * r * r * b.PixelScale * b.PixelScale * b.QE
}

// SkyFluxFromMagnitude returns the sky electron flux per pixel in e-/s.
func SkyFluxFromMagnitude(b SkyBrightness) (float64, error) {
	if err := b.validate(); err != nil {
		return 0, err
	}
	return b.collect() * math.Pow(10, -0.4*b.MagPerArcsec2), nil
}

// MagnitudeFromSkyFlux inverts SkyFluxFromMagnitude. The MagPerArcsec2
// field of b is ignored.
func MagnitudeFromSkyFlux(flux float64, b SkyBrightness) (float64, error) {
	if err := b.validate(); err != nil {
		return 0, err
	}
	if !(flux > 0) {
		return 0, invalid("sky_flux", "must be positive")
	}
	return -2.5 * math.Log10(flux/b.collect()), nil
}

func (in SimInput) withDefaults() SimInput {
	if in.SubCount == 0 {
		in.SubCount = 1
	}
	if in.NoiseIncrease == 0 {
		in.NoiseIncrease = DefaultNoiseIncrease
	}
	return in
}

// Resolve fills defaults and replaces SkyFlux by the value derived from
// SkyBrightness when one is given.
func (in SimInput) Resolve() (SimInput, error) {
	in = in.withDefaults()
	if in.SkyBrightness != nil {
		flux, err := SkyFluxFromMagnitude(*in.SkyBrightness)
		if err != nil {
			return in, err
		}
		in.SkyFlux = flux
		in.SkyBrightness = nil
	}
	return in, in.validate()
}

func (in SimInput) validate() error {
	switch {
	case !(in.ExposureS > 0):
		return invalid("exposure_s", "must be positive")
	case in.SubCount < 1:
		return invalid("sub_count", "must be at least 1")
	case in.ReadNoise < 0 || math.IsNaN(in.ReadNoise):
		return invalid("read_noise", "must not be negative")
	case in.DarkCurrent < 0 || math.IsNaN(in.DarkCurrent):
		return invalid("dark_current", "must not be negative")
	case in.SkyFlux < 0 || math.IsNaN(in.SkyFlux):
		return invalid("sky_flux", "must not be negative")
	case in.TargetFlux != nil && (*in.TargetFlux < 0 || math.IsNaN(*in.TargetFlux)):
		return invalid("target_flux", "must not be negative")
	case !(in.SatCap > 0):
		return invalid("sat_cap", "must be positive")
	case !(in.NoiseIncrease > 0):
		return invalid("noise_increase", "must be positive")
	case !(in.GoalSNR >= 0):
		return invalid("goal_snr", "must not be negative")
	case in.ReadNoise == 0 && in.DarkCurrent == 0 && in.SkyFlux == 0:
		return invalid("read_noise", "zero read noise with no dark or sky signal leaves no noise floor")
	}
	return nil
}

// Simulate evaluates the noise model from electron fluxes.
func Simulate(in SimInput) (Result, error) {
	in, err := in.Resolve()
	if err != nil {
		return Result{}, err
	}
	t := in.ExposureS
	m := model{
		exposure:      t,
		subs:          in.SubCount,
		readNoise:     in.ReadNoise,
		dark:          in.DarkCurrent * t,
		sky:           in.SkyFlux * t,
		satCap:        in.SatCap,
		noiseIncrease: in.NoiseIncrease,
		goalSNR:       in.GoalSNR,
	}
	if in.TargetFlux != nil {
		m.target = *in.TargetFlux * t
		m.hasTarget = true
	}
	return m.evaluate(), nil
}

package sensor

import "math"

// CalcInput holds levels measured from a sub in ADU together with the
// camera's gain and read noise. DarkLevel and TargetLevel are optional.
type CalcInput struct {
	ExposureS     float64  `json:"exposure_s"`
	Gain          float64  `json:"gain"`       // e-/ADU
	ReadNoise     float64  `json:"read_noise"` // e-
	BlackLevel    float64  `json:"black_level"`
	WhiteLevel    float64  `json:"white_level"`
	DarkLevel     *float64 `json:"dark_level,omitempty"`
	SkyLevel      float64  `json:"sky_level"`
	TargetLevel   *float64 `json:"target_level,omitempty"`
	SubCount      int      `json:"sub_count,omitempty"`
	NoiseIncrease float64  `json:"noise_increase,omitempty"`
	GoalSNR       float64  `json:"goal_snr,omitempty"`
}

// withDefaults fills optional fields.
func (in CalcInput) withDefaults() CalcInput {
	if in.DarkLevel == nil {
		d := in.BlackLevel
		in.DarkLevel = &d
	}
	if in.SubCount == 0 {
		in.SubCount = 1
	}
	if in.NoiseIncrease == 0 {
		in.NoiseIncrease = DefaultNoiseIncrease
	}
	return in
}

// Validate reports the first field that makes the input unusable.
func (in CalcInput) Validate() error {
	in = in.withDefaults()
	switch {
	case !(in.ExposureS > 0):
		return invalid("exposure_s", "must be positive")
	case !(in.Gain > 0):
		return invalid("gain", "must be positive")
	case in.ReadNoise < 0 || math.IsNaN(in.ReadNoise):
		return invalid("read_noise", "must not be negative")
	case in.WhiteLevel <= in.BlackLevel:
		return invalid("white_level", "must be above black level %g", in.BlackLevel)
	case *in.DarkLevel < in.BlackLevel:
		return invalid("dark_level", "must not be below black level %g", in.BlackLevel)
	case in.SkyLevel < *in.DarkLevel:
		return invalid("sky_level", "must not be below dark level %g", *in.DarkLevel)
	case in.TargetLevel != nil && *in.TargetLevel < in.SkyLevel:
		return invalid("target_level", "must not be below sky level %g", in.SkyLevel)
	case in.SubCount < 1:
		return invalid("sub_count", "must be at least 1")
	case !(in.NoiseIncrease > 0):
		return invalid("noise_increase", "must be positive")
	case !(in.GoalSNR >= 0):
		return invalid("goal_snr", "must not be negative")
	case in.ReadNoise == 0 && in.SkyLevel == in.BlackLevel:
		return invalid("read_noise", "zero read noise with no dark or sky signal leaves no noise floor")
	}
	return nil
}

// Calculate converts ADU levels to electrons and evaluates the noise model.
func Calculate(in CalcInput) (Result, error) {
	if err := in.Validate(); err != nil {
		return Result{}, err
	}
	in = in.withDefaults()
	g := in.Gain

	m := model{
		exposure:      in.ExposureS,
		subs:          in.SubCount,
		readNoise:     in.ReadNoise,
		dark:          (*in.DarkLevel - in.BlackLevel) * g,
		sky:           (in.SkyLevel - *in.DarkLevel) * g,
		satCap:        (in.WhiteLevel - in.BlackLevel) * g,
		noiseIncrease: in.NoiseIncrease,
		goalSNR:       in.GoalSNR,
	}
	if in.TargetLevel != nil {
		m.target = (*in.TargetLevel - in.SkyLevel) * g
		m.hasTarget = true
	}
	return m.evaluate(), nil
}

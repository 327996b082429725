package sensor

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
)

func ptr(v float64) *float64 { return &v }

func approx(t *testing.T, name string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Errorf("%s = %.6f, want %.6f (±%g)", name, got, want, tol)
	}
}

// baseCalc gives D=10, S=86, T=100 e- with RN=2, so the background noise is
// exactly 10 e- and the total noise √200.
func baseCalc() CalcInput {
	return CalcInput{
		ExposureS:   10,
		Gain:        1,
		ReadNoise:   2,
		BlackLevel:  100,
		WhiteLevel:  4195,
		DarkLevel:   ptr(110),
		SkyLevel:    196,
		TargetLevel: ptr(296),
		SubCount:    4,
	}
}

func TestCalculate(t *testing.T) {
	r, err := Calculate(baseCalc())
	if err != nil {
		t.Fatal(err)
	}

	approx(t, "dark_signal", r.DarkSignal, 10, 1e-12)
	approx(t, "sky_signal", r.SkySignal, 86, 1e-12)
	approx(t, "target_signal", r.TargetSignal, 100, 1e-12)
	approx(t, "background_noise", r.BackgroundNoise, 10, 1e-12)
	approx(t, "total_noise", r.TotalNoise, math.Sqrt(200), 1e-12)
	if r.SNR == nil || r.StackSNR == nil {
		t.Fatal("SNR fields missing with target given")
	}
	approx(t, "snr", *r.SNR, 100/math.Sqrt(200), 1e-12)
	approx(t, "stack_snr", *r.StackSNR, 2*100/math.Sqrt(200), 1e-12)
	approx(t, "sat_cap", r.SatCap, 4095, 1e-12)
	approx(t, "dynamic_range_stops", r.DynamicRange, math.Log2(409.5), 1e-12)
	approx(t, "dynamic_range_db", r.DynamicRangeDB, 20*math.Log10(409.5), 1e-12)
	approx(t, "stack_dynamic_range_stops", r.StackDynRange, math.Log2(409.5)+1, 1e-12)
	approx(t, "dark_current", r.DarkCurrent, 1, 1e-12)
	approx(t, "sky_flux", r.SkyFlux, 8.6, 1e-12)
	approx(t, "target_flux", r.TargetFlux, 10, 1e-12)
	approx(t, "suggested_exposure_s", r.SuggestedExpS, 4/(0.1025*9.6), 1e-9)
	approx(t, "max_unsaturated_exposure_s", r.MaxUnsatExpS, 4095/19.6, 1e-9)
	approx(t, "total_exposure_s", r.TotalExposureS, 40, 1e-12)
	approx(t, "read_noise_share_pct", r.ReadNoiseShareP, 4, 1e-12)
}

func TestCalculateGainScales(t *testing.T) {
	in := baseCalc()
	in.Gain = 0.5
	r, err := Calculate(in)
	if err != nil {
		t.Fatal(err)
	}
	approx(t, "sky_signal", r.SkySignal, 43, 1e-12)
	approx(t, "sat_cap", r.SatCap, 2047.5, 1e-12)
}

func TestCalculateWithoutTarget(t *testing.T) {
	in := baseCalc()
	in.TargetLevel = nil
	in.DarkLevel = nil
	r, err := Calculate(in)
	if err != nil {
		t.Fatal(err)
	}
	if r.SNR != nil || r.StackSNR != nil {
		t.Error("SNR present without target")
	}
	// Dark defaults to black: all background above black is sky.
	approx(t, "dark_signal", r.DarkSignal, 0, 0)
	approx(t, "sky_signal", r.SkySignal, 96, 1e-12)

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	json.Unmarshal(data, &m)
	for _, k := range []string{"snr", "stack_snr", "target_signal"} {
		if _, ok := m[k]; ok {
			t.Errorf("JSON contains %q without target", k)
		}
	}
}

func TestCalculateDefaults(t *testing.T) {
	in := baseCalc()
	in.SubCount = 0
	in.NoiseIncrease = 0
	r, err := Calculate(in)
	if err != nil {
		t.Fatal(err)
	}
	if r.SubCount != 1 {
		t.Errorf("sub_count = %d, want 1", r.SubCount)
	}
	approx(t, "stack_snr", *r.StackSNR, *r.SNR, 0)
}

func TestCalculateValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*CalcInput)
		field  string
	}{
		{"zero gain", func(in *CalcInput) { in.Gain = 0 }, "gain"},
		{"negative exposure", func(in *CalcInput) { in.ExposureS = -1 }, "exposure_s"},
		{"negative read noise", func(in *CalcInput) { in.ReadNoise = -0.1 }, "read_noise"},
		{"white equals black", func(in *CalcInput) { in.WhiteLevel = in.BlackLevel }, "white_level"},
		{"dark below black", func(in *CalcInput) { in.DarkLevel = ptr(90) }, "dark_level"},
		{"sky below dark", func(in *CalcInput) { in.SkyLevel = 105 }, "sky_level"},
		{"target below sky", func(in *CalcInput) { in.TargetLevel = ptr(150) }, "target_level"},
		{"negative subs", func(in *CalcInput) { in.SubCount = -2 }, "sub_count"},
		{"negative noise increase", func(in *CalcInput) { in.NoiseIncrease = -0.05 }, "noise_increase"},
		{"no noise floor", func(in *CalcInput) {
			in.ReadNoise = 0
			in.DarkLevel = ptr(100)
			in.SkyLevel = 100
		}, "read_noise"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := baseCalc()
			tt.mutate(&in)
			_, err := Calculate(in)
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
			var ie *InputError
			if !errors.As(err, &ie) || ie.Field != tt.field {
				t.Errorf("field = %v, want %q", err, tt.field)
			}
		})
	}
}

func TestSimulateMatchesCalculate(t *testing.T) {
	c, err := Calculate(baseCalc())
	if err != nil {
		t.Fatal(err)
	}
	s, err := Simulate(SimInput{
		ExposureS:   10,
		SubCount:    4,
		ReadNoise:   2,
		DarkCurrent: 1,
		SkyFlux:     8.6,
		TargetFlux:  ptr(10),
		SatCap:      4095,
	})
	if err != nil {
		t.Fatal(err)
	}

	approx(t, "snr", *s.SNR, *c.SNR, 1e-9)
	approx(t, "stack_snr", *s.StackSNR, *c.StackSNR, 1e-9)
	approx(t, "dynamic_range_stops", s.DynamicRange, c.DynamicRange, 1e-9)
	approx(t, "suggested_exposure_s", s.SuggestedExpS, c.SuggestedExpS, 1e-9)
	approx(t, "total_exposure_s", s.TotalExposureS, 40, 0)
}

func TestSimulateValidation(t *testing.T) {
	base := SimInput{ExposureS: 60, ReadNoise: 1.5, SkyFlux: 2, SatCap: 20000}
	tests := []struct {
		name   string
		mutate func(*SimInput)
		field  string
	}{
		{"zero exposure", func(in *SimInput) { in.ExposureS = 0 }, "exposure_s"},
		{"negative dark", func(in *SimInput) { in.DarkCurrent = -1 }, "dark_current"},
		{"negative sky", func(in *SimInput) { in.SkyFlux = -1 }, "sky_flux"},
		{"negative target", func(in *SimInput) { in.TargetFlux = ptr(-3) }, "target_flux"},
		{"zero sat cap", func(in *SimInput) { in.SatCap = 0 }, "sat_cap"},
		{"bad brightness", func(in *SimInput) {
			in.SkyBrightness = &SkyBrightness{MagPerArcsec2: 21, ApertureMM: 0, PixelScale: 1, QE: 0.8, BandwidthNM: 100}
		}, "sky_brightness.aperture_mm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base
			tt.mutate(&in)
			_, err := Simulate(in)
			var ie *InputError
			if !errors.As(err, &ie) || ie.Field != tt.field {
				t.Errorf("err = %v, want field %q", err, tt.field)
			}
		})
	}
}

func TestSkyFluxFromMagnitude(t *testing.T) {
	b := SkyBrightness{MagPerArcsec2: 21, ApertureMM: 200, PixelScale: 1, QE: 1, BandwidthNM: 100}
	flux, err := SkyFluxFromMagnitude(b)
	if err != nil {
		t.Fatal(err)
	}
	// 1e4 · 100 nm · π·10² cm² · 10^-8.4
	want := 1e4 * 100 * math.Pi * 100 * math.Pow(10, -8.4)
	approx(t, "flux", flux, want, 1e-9)

	// One magnitude brighter is 10^0.4 times the flux.
	b.MagPerArcsec2 = 20
	brighter, _ := SkyFluxFromMagnitude(b)
	approx(t, "ratio", brighter/flux, math.Pow(10, 0.4), 1e-9)

	mag, err := MagnitudeFromSkyFlux(flux, b)
	if err != nil {
		t.Fatal(err)
	}
	approx(t, "magnitude", mag, 21, 1e-9)

	if _, err := MagnitudeFromSkyFlux(0, b); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("zero flux err = %v, want ErrInvalidInput", err)
	}
}

func TestSimulateWithSkyBrightness(t *testing.T) {
	b := &SkyBrightness{MagPerArcsec2: 20, ApertureMM: 80, PixelScale: 2, QE: 0.6, BandwidthNM: 90}
	want, _ := SkyFluxFromMagnitude(*b)
	r, err := Simulate(SimInput{ExposureS: 120, ReadNoise: 1.6, SatCap: 50000, SkyFlux: 999, SkyBrightness: b})
	if err != nil {
		t.Fatal(err)
	}
	approx(t, "sky_flux", r.SkyFlux, want, 1e-9)
}

func TestSuggestedExposure(t *testing.T) {
	// With p = 0.05 read noise may add 5% to the background noise.
	got := SuggestedExposure(3, 1, 0.05)
	approx(t, "exposure", got, 9/0.1025, 1e-9)

	// Background noise at that exposure is exactly 5% above pure shot noise.
	bt := got * 1
	approx(t, "noise ratio", math.Sqrt(bt+9)/math.Sqrt(bt), 1.05, 1e-9)

	if !math.IsInf(SuggestedExposure(3, 0, 0.05), 1) {
		t.Error("no background should give +Inf")
	}
}

func TestSuggestedExposureOmittedWithoutBackground(t *testing.T) {
	r, err := Simulate(SimInput{ExposureS: 1, ReadNoise: 2, SatCap: 1000})
	if err != nil {
		t.Fatal(err)
	}
	if r.SuggestedExpS != 0 || r.MaxUnsatExpS != 0 {
		t.Errorf("exposure hints = %v, %v, want 0", r.SuggestedExpS, r.MaxUnsatExpS)
	}
	if _, err := json.Marshal(r); err != nil {
		t.Errorf("marshal: %v", err)
	}
}

func TestSubsForSNR(t *testing.T) {
	tests := []struct {
		sub, want float64
		n         int
	}{
		{5, 10, 4},
		{5, 11, 5},
		{20, 10, 1},
		{0, 10, 0},
		{5, 0, 0},
		{1e-6, 100, 0},
	}
	for _, tt := range tests {
		if got := SubsForSNR(tt.sub, tt.want); got != tt.n {
			t.Errorf("SubsForSNR(%g, %g) = %d, want %d", tt.sub, tt.want, got, tt.n)
		}
	}
}

func TestGoalSNR(t *testing.T) {
	in := baseCalc()
	in.GoalSNR = 25 // sub SNR² is 50, so 625/50 = 12.5 subs
	r, err := Calculate(in)
	if err != nil {
		t.Fatal(err)
	}
	if r.SubsForGoal != 13 {
		t.Errorf("subs_for_goal_snr = %d, want 13", r.SubsForGoal)
	}

	in.TargetLevel = nil
	if r, err = Calculate(in); err != nil || r.SubsForGoal != 0 {
		t.Errorf("without target: subs = %d, err %v; want 0", r.SubsForGoal, err)
	}

	in.GoalSNR = -1
	if _, err := Calculate(in); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("negative goal: err = %v", err)
	}
	if _, err := Simulate(SimInput{ExposureS: 10, ReadNoise: 2, SatCap: 1000, GoalSNR: math.NaN()}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("NaN goal: err = %v", err)
	}
}

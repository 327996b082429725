package analyzer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Transfer is the photon transfer result for a bias and flat pair.
type Transfer struct {
	Gain         float64 `json:"gain"`           // e-/ADU
	ReadNoiseADU float64 `json:"read_noise_adu"` // per frame
	ReadNoiseE   float64 `json:"read_noise_e"`
	BiasMean     float64 `json:"bias_mean"`
	FlatMean     float64 `json:"flat_mean"`
}

// PhotonTransfer derives gain and read noise from two bias frames and two
// flat frames taken at the same settings. Differencing each pair removes
// fixed pattern noise:
//
//	gain = ((F1+F2) - (B1+B2)) / (σ²(F1-F2) - σ²(B1-B2))
//	read noise = gain·σ(B1-B2)/√2
func PhotonTransfer(bias1, bias2, flat1, flat2 *Frame) (Transfer, error) {
	for _, f := range []*Frame{bias2, flat1, flat2} {
		if f.Width != bias1.Width || f.Height != bias1.Height {
			return Transfer{}, fmt.Errorf("%w: photon transfer frames must share one size", ErrSizeMismatch)
		}
	}
	bd, _ := diff(bias1, bias2)
	fd, _ := diff(flat1, flat2)

	b1, b2 := stat.Mean(bias1.Pixels, nil), stat.Mean(bias2.Pixels, nil)
	f1, f2 := stat.Mean(flat1.Pixels, nil), stat.Mean(flat2.Pixels, nil)
	bv, fv := stat.Variance(bd, nil), stat.Variance(fd, nil)

	signal := (f1 + f2) - (b1 + b2)
	if signal <= 0 {
		return Transfer{}, fmt.Errorf("%w: flats are not brighter than biases", ErrInvalid)
	}
	if fv <= bv {
		return Transfer{}, fmt.Errorf("%w: flat difference variance does not exceed bias difference variance", ErrInvalid)
	}
	gain := signal / (fv - bv)
	rnADU := math.Sqrt(bv) / math.Sqrt2
	return Transfer{
		Gain:         gain,
		ReadNoiseADU: rnADU,
		ReadNoiseE:   gain * rnADU,
		BiasMean:     (b1 + b2) / 2,
		FlatMean:     (f1 + f2) / 2,
	}, nil
}

// DarkCurrent returns e-/s/px from a dark frame and a bias frame:
// (mean(dark) - mean(bias))·gain/t.
func DarkCurrent(dark, bias *Frame, gain, exposure float64) (float64, error) {
	if err := positive("gain", gain); err != nil {
		return 0, err
	}
	if err := positive("exposure", exposure); err != nil {
		return 0, err
	}
	if _, err := diff(dark, bias); err != nil {
		return 0, err
	}
	d := (stat.Mean(dark.Pixels, nil) - stat.Mean(bias.Pixels, nil)) * gain / exposure
	return math.Max(d, 0), nil
}

// SkyFlux returns the background e-/s/px of a light frame:
// (median(light) - mean(dark))·gain/t. The dark frame must match the
// light's exposure; a bias frame can stand in when dark current is
// negligible.
func SkyFlux(light, dark *Frame, gain, exposure float64) (float64, error) {
	if err := positive("gain", gain); err != nil {
		return 0, err
	}
	if err := positive("exposure", exposure); err != nil {
		return 0, err
	}
	if _, err := diff(light, dark); err != nil {
		return 0, err
	}
	s := (light.Stats().Median - stat.Mean(dark.Pixels, nil)) * gain / exposure
	return math.Max(s, 0), nil
}

func positive(name string, v float64) error {
	if !(v > 0) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s must be positive", ErrInvalid, name)
	}
	return nil
}

// Request bundles the frames of one analysis. Any frame may be nil; each
// measurement runs when its frames are present.
type Request struct {
	Bias1, Bias2 *Frame
	Flat1, Flat2 *Frame
	Dark, Light  *Frame

	Gain          float64 // used when no photon transfer pair is given
	DarkExposure  float64
	LightExposure float64
}

// Report collects what could be measured.
type Report struct {
	Frames      map[string]Stats `json:"frames"`
	Transfer    *Transfer        `json:"photon_transfer,omitempty"`
	Gain        float64          `json:"gain,omitempty"`
	DarkCurrent *float64         `json:"dark_current,omitempty"` // e-/s/px
	SkyFlux     *float64         `json:"sky_flux,omitempty"`     // e-/s/px
}

// Analyze runs every measurement the supplied frames allow.
func Analyze(req Request) (Report, error) {
	rep := Report{Frames: make(map[string]Stats)}
	named := []struct {
		name string
		f    *Frame
	}{
		{"bias1", req.Bias1}, {"bias2", req.Bias2},
		{"flat1", req.Flat1}, {"flat2", req.Flat2},
		{"dark", req.Dark}, {"light", req.Light},
	}
	for _, n := range named {
		if n.f != nil {
			rep.Frames[n.name] = n.f.Stats()
		}
	}
	if len(rep.Frames) == 0 {
		return rep, fmt.Errorf("%w: no frames", ErrInvalid)
	}

	gain := req.Gain
	if req.Bias1 != nil && req.Bias2 != nil && req.Flat1 != nil && req.Flat2 != nil {
		t, err := PhotonTransfer(req.Bias1, req.Bias2, req.Flat1, req.Flat2)
		if err != nil {
			return rep, fmt.Errorf("photon transfer: %w", err)
		}
		rep.Transfer = &t
		gain = t.Gain
	}
	rep.Gain = gain

	bias := req.Bias1
	if req.Dark != nil && bias != nil && req.DarkExposure > 0 {
		d, err := DarkCurrent(req.Dark, bias, gain, req.DarkExposure)
		if err != nil {
			return rep, fmt.Errorf("dark current: %w", err)
		}
		rep.DarkCurrent = &d
	}

	if req.Light != nil && req.LightExposure > 0 {
		ref := req.Dark
		if ref == nil {
			ref = bias
		}
		if ref == nil {
			return rep, fmt.Errorf("%w: sky flux needs a dark or bias frame", ErrInvalid)
		}
		s, err := SkyFlux(req.Light, ref, gain, req.LightExposure)
		if err != nil {
			return rep, fmt.Errorf("sky flux: %w", err)
		}
		rep.SkyFlux = &s
	}
	return rep, nil
}

package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/star/aplab/internal/transform"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrExists      = errors.New("already exists")
	ErrInvalidName = errors.New("invalid name")
	ErrInvalid     = errors.New("invalid record")
)

// Record is a named row in one of the flat data files.
type Record[T any] interface {
	Key() string
	Renamed(name string) T
	Validate() error
}

// Camera describes a sensor. ReadNoise and SatCap are parallel to Gains:
// entry i holds the values measured at gain setting i.
type Camera struct {
	Name        string    `json:"name"`
	Type        string    `json:"type"`  // CCD, CMOS or DSLR
	Color       string    `json:"color"` // mono or color
	PixelSizeUM float64   `json:"pixel_size_um"`
	HRes        int       `json:"h_res"`
	VRes        int       `json:"v_res"`
	QE          float64   `json:"qe"`
	BlackLevel  float64   `json:"black_level"`
	WhiteLevel  float64   `json:"white_level"`
	Gains       []float64 `json:"gains"`      // e-/ADU
	ReadNoise   []float64 `json:"read_noise"` // e-
	SatCap      []float64 `json:"sat_cap"`    // e-
	ISOs        []int     `json:"isos,omitempty"`
}

func (c Camera) Key() string { return c.Name }

func (c Camera) Renamed(name string) Camera {
	c.Name = name
	return c
}

func (c Camera) Validate() error {
	if err := ValidateName(c.Name); err != nil {
		return err
	}
	switch c.Type {
	case "CCD", "CMOS", "DSLR":
	default:
		return fmt.Errorf("camera %q: type must be CCD, CMOS or DSLR, got %q", c.Name, c.Type)
	}
	switch c.Color {
	case "mono", "color":
	default:
		return fmt.Errorf("camera %q: color must be mono or color, got %q", c.Name, c.Color)
	}
	if c.PixelSizeUM <= 0 || c.HRes <= 0 || c.VRes <= 0 {
		return fmt.Errorf("camera %q: pixel size and resolution must be positive", c.Name)
	}
	if c.QE < 0 || c.QE > 1 {
		return fmt.Errorf("camera %q: qe must be in [0, 1]", c.Name)
	}
	if c.WhiteLevel <= c.BlackLevel {
		return fmt.Errorf("camera %q: white level must exceed black level", c.Name)
	}
	if len(c.Gains) == 0 {
		return fmt.Errorf("camera %q: at least one gain value is required", c.Name)
	}
	if len(c.ReadNoise) != len(c.Gains) || len(c.SatCap) != len(c.Gains) {
		return fmt.Errorf("camera %q: read_noise and sat_cap need one value per gain (%d)", c.Name, len(c.Gains))
	}
	if len(c.ISOs) > 0 && len(c.ISOs) != len(c.Gains) {
		return fmt.Errorf("camera %q: isos need one value per gain (%d)", c.Name, len(c.Gains))
	}
	for i, g := range c.Gains {
		if g <= 0 || c.ReadNoise[i] < 0 || c.SatCap[i] <= 0 {
			return fmt.Errorf("camera %q: gain setting %d has non-physical values", c.Name, i)
		}
	}
	return nil
}

// GainSetting returns gain, read noise and saturation capacity for index i.
func (c Camera) GainSetting(i int) (gain, readNoise, satCap float64, err error) {
	if i < 0 || i >= len(c.Gains) {
		return 0, 0, 0, fmt.Errorf("camera %q has no gain setting %d", c.Name, i)
	}
	return c.Gains[i], c.ReadNoise[i], c.SatCap[i], nil
}

// Telescope holds the optical parameters used for FOV and sky flux.
type Telescope struct {
	Name          string  `json:"name"`
	ApertureMM    float64 `json:"aperture_mm"`
	FocalLengthMM float64 `json:"focal_length_mm"`
}

func (t Telescope) Key() string { return t.Name }

func (t Telescope) Renamed(name string) Telescope {
	t.Name = name
	return t
}

func (t Telescope) Validate() error {
	if err := ValidateName(t.Name); err != nil {
		return err
	}
	if t.ApertureMM <= 0 || t.FocalLengthMM <= 0 {
		return fmt.Errorf("telescope %q: aperture and focal length must be positive", t.Name)
	}
	return nil
}

// Location is an observing site.
type Location struct {
	Name       string  `json:"name"`
	LatDeg     float64 `json:"latitude_deg"`
	LonDeg     float64 `json:"longitude_deg"`
	ElevationM float64 `json:"elevation_m"`
}

func (l Location) Key() string { return l.Name }

func (l Location) Renamed(name string) Location {
	l.Name = name
	return l
}

func (l Location) Validate() error {
	if err := ValidateName(l.Name); err != nil {
		return err
	}
	if l.LatDeg < -90 || l.LatDeg > 90 {
		return fmt.Errorf("location %q: latitude out of range", l.Name)
	}
	if l.LonDeg < -180 || l.LonDeg > 180 {
		return fmt.Errorf("location %q: longitude out of range", l.Name)
	}
	return nil
}

// Observer converts the location to the transform package's observer.
func (l Location) Observer() transform.Observer {
	return transform.Observer{LatDeg: l.LatDeg, LonDeg: l.LonDeg, ElevationM: l.ElevationM}
}

// Object is a catalog entry.
type Object struct {
	Name          string   `json:"name"`
	Aliases       []string `json:"aliases,omitempty"`
	Type          string   `json:"type"`
	RAHours       float64  `json:"ra_hours"`
	DecDeg        float64  `json:"dec_deg"`
	Magnitude     float64  `json:"magnitude"`
	SizeMajorArcm float64  `json:"size_major_arcmin"`
	SizeMinorArcm float64  `json:"size_minor_arcmin"`
}

func (o Object) Key() string { return o.Name }

func (o Object) Renamed(name string) Object {
	o.Name = name
	return o
}

func (o Object) Validate() error {
	if err := ValidateName(o.Name); err != nil {
		return err
	}
	for _, a := range o.Aliases {
		if err := ValidateName(a); err != nil {
			return fmt.Errorf("object %q alias: %w", o.Name, err)
		}
	}
	if o.RAHours < 0 || o.RAHours >= 24 {
		return fmt.Errorf("object %q: RA out of range", o.Name)
	}
	if o.DecDeg < -90 || o.DecDeg > 90 {
		return fmt.Errorf("object %q: Dec out of range", o.Name)
	}
	if o.SizeMajorArcm < 0 || o.SizeMinorArcm < 0 {
		return fmt.Errorf("object %q: size must not be negative", o.Name)
	}
	return nil
}

// Equatorial returns the object's catalog position.
func (o Object) Equatorial() transform.Equatorial {
	return transform.Equatorial{RAHours: o.RAHours, DecDeg: o.DecDeg}
}

// Matches reports whether q names this object, ignoring case and spaces
// ("m 31" matches "M31").
func (o Object) Matches(q string) bool {
	nq := normalizeQuery(q)
	if normalizeQuery(o.Name) == nq {
		return true
	}
	for _, a := range o.Aliases {
		if normalizeQuery(a) == nq {
			return true
		}
	}
	return false
}

func normalizeQuery(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), ""))
}

// Preset is a saved set of calculator inputs ("image data").
type Preset struct {
	Name        string   `json:"name"`
	Camera      string   `json:"camera"`
	GainIndex   int      `json:"gain_index"`
	ExposureS   float64  `json:"exposure_s"`
	SubCount    int      `json:"sub_count"`
	DarkLevel   *float64 `json:"dark_level,omitempty"` // nil: the camera's black level
	SkyLevel    float64  `json:"sky_level"`
	TargetLevel float64  `json:"target_level"`
}

func (p Preset) Key() string { return p.Name }

func (p Preset) Renamed(name string) Preset {
	p.Name = name
	return p
}

func (p Preset) Validate() error {
	if err := ValidateName(p.Name); err != nil {
		return err
	}
	if err := ValidateName(p.Camera); err != nil {
		return fmt.Errorf("preset %q camera: %w", p.Name, err)
	}
	if p.GainIndex < 0 || p.ExposureS <= 0 || p.SubCount < 1 {
		return fmt.Errorf("preset %q: gain index, exposure and sub count must be valid", p.Name)
	}
	return nil
}

// ValidateName enforces the naming rules shared by all record kinds.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if name != strings.TrimSpace(name) {
		return fmt.Errorf("%w: %q has surrounding whitespace", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, ",;\n\r") {
		return fmt.Errorf("%w: %q contains a reserved character", ErrInvalidName, name)
	}
	return nil
}

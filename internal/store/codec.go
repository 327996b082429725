package store

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/star/aplab/internal/transform"
)

// codec maps a record kind to its CSV columns.
type codec[T any] struct {
	header string
	fields int
	decode func(f []string) (T, error)
	encode func(rec T) []string
}

var cameraCodec = codec[Camera]{
	header: "# name,type,color,pixel_size_um,h_res,v_res,qe,black_level,white_level,gains,read_noise,sat_cap,isos",
	fields: 13,
	decode: func(f []string) (Camera, error) {
		var c Camera
		c.Name, c.Type, c.Color = f[0], strings.ToUpper(f[1]), strings.ToLower(f[2])
		if c.Type == "" {
			c.Type = "CMOS"
		}
		p := parser{}
		c.PixelSizeUM = p.number("pixel_size_um", f[3])
		c.HRes = p.integer("h_res", f[4])
		c.VRes = p.integer("v_res", f[5])
		c.QE = p.number("qe", f[6])
		c.BlackLevel = p.number("black_level", f[7])
		c.WhiteLevel = p.number("white_level", f[8])
		c.Gains = p.numbers("gains", f[9])
		c.ReadNoise = p.numbers("read_noise", f[10])
		c.SatCap = p.numbers("sat_cap", f[11])
		c.ISOs = p.integers("isos", f[12])
		if p.err != nil {
			return Camera{}, p.err
		}
		return c, nil
	},
	encode: func(c Camera) []string {
		return []string{
			c.Name, c.Type, c.Color,
			fmtFloat(c.PixelSizeUM), strconv.Itoa(c.HRes), strconv.Itoa(c.VRes),
			fmtFloat(c.QE), fmtFloat(c.BlackLevel), fmtFloat(c.WhiteLevel),
			fmtFloats(c.Gains), fmtFloats(c.ReadNoise), fmtFloats(c.SatCap), fmtInts(c.ISOs),
		}
	},
}

var telescopeCodec = codec[Telescope]{
	header: "# name,aperture_mm,focal_length_mm",
	fields: 3,
	decode: func(f []string) (Telescope, error) {
		p := parser{}
		t := Telescope{
			Name:          f[0],
			ApertureMM:    p.number("aperture_mm", f[1]),
			FocalLengthMM: p.number("focal_length_mm", f[2]),
		}
		return t, p.err
	},
	encode: func(t Telescope) []string {
		return []string{t.Name, fmtFloat(t.ApertureMM), fmtFloat(t.FocalLengthMM)}
	},
}

var locationCodec = codec[Location]{
	header: "# name,latitude_deg,longitude_deg,elevation_m",
	fields: 4,
	decode: func(f []string) (Location, error) {
		p := parser{}
		l := Location{
			Name:       f[0],
			LatDeg:     p.number("latitude_deg", f[1]),
			LonDeg:     p.number("longitude_deg", f[2]),
			ElevationM: p.number("elevation_m", f[3]),
		}
		return l, p.err
	},
	encode: func(l Location) []string {
		return []string{l.Name, fmtFloat(l.LatDeg), fmtFloat(l.LonDeg), fmtFloat(l.ElevationM)}
	},
}

var objectCodec = codec[Object]{
	header: "# name,aliases,type,ra,dec,magnitude,size_major_arcmin,size_minor_arcmin",
	fields: 8,
	decode: func(f []string) (Object, error) {
		ra, err := transform.ParseRA(f[3])
		if err != nil {
			return Object{}, err
		}
		dec, err := transform.ParseDec(f[4])
		if err != nil {
			return Object{}, err
		}
		p := parser{}
		o := Object{
			Name:          f[0],
			Aliases:       splitList(f[1]),
			Type:          f[2],
			RAHours:       ra,
			DecDeg:        dec,
			Magnitude:     p.number("magnitude", f[5]),
			SizeMajorArcm: p.number("size_major_arcmin", f[6]),
			SizeMinorArcm: p.number("size_minor_arcmin", f[7]),
		}
		if o.SizeMinorArcm == 0 {
			o.SizeMinorArcm = o.SizeMajorArcm
		}
		return o, p.err
	},
	encode: func(o Object) []string {
		return []string{
			o.Name, strings.Join(o.Aliases, ";"), o.Type,
			fmtFloat(o.RAHours), fmtFloat(o.DecDeg), fmtFloat(o.Magnitude),
			fmtFloat(o.SizeMajorArcm), fmtFloat(o.SizeMinorArcm),
		}
	},
}

var presetCodec = codec[Preset]{
	header: "# name,camera,gain_index,exposure_s,sub_count,dark_level,sky_level,target_level",
	fields: 8,
	decode: func(f []string) (Preset, error) {
		p := parser{}
		pr := Preset{
			Name:        f[0],
			Camera:      f[1],
			GainIndex:   p.integer("gain_index", f[2]),
			ExposureS:   p.number("exposure_s", f[3]),
			SubCount:    p.integer("sub_count", f[4]),
			DarkLevel:   p.optional("dark_level", f[5]),
			SkyLevel:    p.number("sky_level", f[6]),
			TargetLevel: p.number("target_level", f[7]),
		}
		return pr, p.err
	},
	encode: func(p Preset) []string {
		return []string{
			p.Name, p.Camera, strconv.Itoa(p.GainIndex), fmtFloat(p.ExposureS),
			strconv.Itoa(p.SubCount), fmtOptional(p.DarkLevel), fmtFloat(p.SkyLevel), fmtFloat(p.TargetLevel),
		}
	},
}

// parser accumulates the first conversion error so decoders stay linear.
type parser struct {
	err error
}

func (p *parser) number(col, s string) float64 {
	s = strings.TrimSpace(s)
	if p.err != nil || s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	switch {
	case err != nil:
		p.err = fmt.Errorf("column %s: %w", col, err)
	case math.IsNaN(v) || math.IsInf(v, 0):
		p.err = fmt.Errorf("column %s: %q is not a finite number", col, s)
	}
	return v
}

// optional is number for columns where an empty cell means unset.
func (p *parser) optional(col, s string) *float64 {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	v := p.number(col, s)
	return &v
}

func (p *parser) integer(col, s string) int {
	s = strings.TrimSpace(s)
	if p.err != nil || s == "" {
		return 0
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		p.err = fmt.Errorf("column %s: %w", col, err)
	}
	return v
}

func (p *parser) numbers(col, s string) []float64 {
	parts := splitList(s)
	if len(parts) == 0 {
		return nil
	}
	out := make([]float64, len(parts))
	for i, part := range parts {
		out[i] = p.number(col, part)
	}
	return out
}

func (p *parser) integers(col, s string) []int {
	parts := splitList(s)
	if len(parts) == 0 {
		return nil
	}
	out := make([]int, len(parts))
	for i, part := range parts {
		out[i] = p.integer(col, part)
	}
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func fmtFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func fmtOptional(v *float64) string {
	if v == nil {
		return ""
	}
	return fmtFloat(*v)
}

func fmtFloats(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = fmtFloat(v)
	}
	return strings.Join(parts, ";")
}

func fmtInts(vs []int) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ";")
}

// Package synth renders a synthetic stacked exposure: Poisson shot noise of
// dark, sky and target signal plus Gaussian read noise, shaped by a
// template mask and stretched for display.
package synth

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io"
	"math"
	"sort"
	"time"

	"golang.org/x/exp/rand"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/star/aplab/internal/sensor"
)

// Size bounds for width and height.
const (
	MinSize = 8
	MaxSize = 2048
)

// DefaultStretch is the asinh softening factor.
const DefaultStretch = 10

// blackPercentile places the black point.
const blackPercentile = 0.001

// ErrInvalid is wrapped by request validation errors.
var ErrInvalid = errors.New("invalid synth request")

// Request describes the image to synthesize.
type Request struct {
	Sim     sensor.SimInput `json:"sim"`
	Width   int             `json:"width"`
	Height  int             `json:"height"`
	Depth   int             `json:"depth,omitempty"` // 8 (default) or 16
	Seed    *uint64         `json:"seed,omitempty"`
	Stretch float64         `json:"stretch,omitempty"`
}

func (r Request) validate() error {
	if r.Width < MinSize || r.Width > MaxSize || r.Height < MinSize || r.Height > MaxSize {
		return fmt.Errorf("%w: width and height must be in [%d, %d]", ErrInvalid, MinSize, MaxSize)
	}
	if r.Depth != 0 && r.Depth != 8 && r.Depth != 16 {
		return fmt.Errorf("%w: depth must be 8 or 16", ErrInvalid)
	}
	if r.Stretch < 0 || math.IsNaN(r.Stretch) {
		return fmt.Errorf("%w: stretch must not be negative", ErrInvalid)
	}
	return nil
}

// Frame is a background-subtracted stack in electrons per sub, with the
// display range chosen for it.
type Frame struct {
	Width, Height int
	Pixels        []float64
	Black, White  float64
}

// Generate simulates the stack. A nil template uses the default galaxy.
func Generate(req Request, template image.Image) (*Frame, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	in, err := req.Sim.Resolve()
	if err != nil {
		return nil, err
	}

	w, h := req.Width, req.Height
	var mask []float64
	if template != nil {
		mask = Mask(template, w, h)
	} else {
		mask = GalaxyMask(w, h)
	}

	seed := uint64(time.Now().UnixNano())
	if req.Seed != nil {
		seed = *req.Seed
	}
	src := rand.NewSource(seed)

	t := in.ExposureS
	n := float64(in.SubCount)
	dark := in.DarkCurrent * t
	sky := in.SkyFlux * t
	var target float64
	if in.TargetFlux != nil {
		target = *in.TargetFlux * t
	}

	read := distuv.Normal{Mu: 0, Sigma: in.ReadNoise * math.Sqrt(n), Src: src}
	pix := make([]float64, w*h)
	for i, m := range mask {
		lambda := n * (dark + sky + target*m)
		var e float64
		if lambda > 0 {
			e = distuv.Poisson{Lambda: lambda, Src: src}.Rand()
		}
		e += read.Rand()
		pix[i] = e/n - dark - sky
	}

	f := &Frame{Width: w, Height: h, Pixels: pix}
	f.Black = percentile(pix, blackPercentile)
	stackNoise := math.Sqrt(in.ReadNoise*in.ReadNoise+dark+sky+target) / math.Sqrt(n)
	f.White = target + 3*stackNoise
	if hi := floats.Max(pix); target == 0 && hi > f.White {
		f.White = hi
	}
	if f.White <= f.Black {
		f.White = f.Black + 1
	}
	return f, nil
}

func percentile(x []float64, p float64) float64 {
	s := make([]float64, len(x))
	copy(s, x)
	sort.Float64s(s)
	return stat.Quantile(p, stat.Empirical, s, nil)
}

// Display maps a pixel to [0,1] with an asinh stretch between the black
// and white points.
func (f *Frame) Display(v, stretch float64) float64 {
	x := (v - f.Black) / (f.White - f.Black)
	x = math.Max(0, math.Min(1, x))
	return math.Asinh(stretch*x) / math.Asinh(stretch)
}

// PNG encodes the stretched frame as 8- or 16-bit grayscale.
func (f *Frame) PNG(depth int, stretch float64) ([]byte, error) {
	if stretch <= 0 {
		stretch = DefaultStretch
	}
	rect := image.Rect(0, 0, f.Width, f.Height)

	var img image.Image
	if depth == 16 {
		g := image.NewGray16(rect)
		for i, v := range f.Pixels {
			g.SetGray16(i%f.Width, i/f.Width, color.Gray16{Y: uint16(math.Round(f.Display(v, stretch) * 65535))})
		}
		img = g
	} else {
		g := image.NewGray(rect)
		for i, v := range f.Pixels {
			g.SetGray(i%f.Width, i/f.Width, color.Gray{Y: uint8(math.Round(f.Display(v, stretch) * 255))})
		}
		img = g
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), nil
}

// Render generates and encodes in one step.
func Render(req Request, template image.Image) ([]byte, error) {
	f, err := Generate(req, template)
	if err != nil {
		return nil, err
	}
	return f.PNG(req.Depth, req.Stretch)
}

// DecodeTemplate reads a PNG, JPEG or TIFF template.
func DecodeTemplate(r io.Reader) (image.Image, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding template: %v", ErrInvalid, err)
	}
	switch format {
	case "png", "jpeg", "tiff":
		return img, nil
	}
	return nil, fmt.Errorf("%w: unsupported template format %q", ErrInvalid, format)
}

// Mask scales the template to w×h with Catmull-Rom and returns its
// luminance normalized to [0,1].
func Mask(template image.Image, w, h int) []float64 {
	dst := image.NewGray16(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), template, template.Bounds(), draw.Src, nil)

	mask := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			mask[y*w+x] = float64(dst.Gray16At(x, y).Y)
		}
	}
	if hi := floats.Max(mask); hi > 0 {
		floats.Scale(1/hi, mask)
	}
	return mask
}

// GalaxyMask draws an inclined exponential disc with a bright core.
func GalaxyMask(w, h int) []float64 {
	const (
		axisRatio = 0.45
		angle     = 30 * math.Pi / 180
	)
	cx, cy := float64(w-1)/2, float64(h-1)/2
	size := math.Min(float64(w), float64(h))
	scale := size / 10
	core := size / 60
	sin, cos := math.Sincos(angle)

	mask := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := float64(x)-cx, float64(y)-cy
			u := dx*cos + dy*sin
			v := (-dx*sin + dy*cos) / axisRatio
			r := math.Hypot(u, v)
			disc := 0.7 * math.Exp(-r/scale)
			bulge := 0.3 * math.Exp(-(dx*dx+dy*dy)/(2*core*core))
			mask[y*w+x] = disc + bulge
		}
	}
	if hi := floats.Max(mask); hi > 0 {
		floats.Scale(1/hi, mask)
	}
	return mask
}

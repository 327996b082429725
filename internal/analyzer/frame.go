// Package analyzer measures sensor characteristics from calibration frames:
// gain and read noise by photon transfer, dark current, and sky background
// flux from a light frame.
package analyzer

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/png"
	"io"
	"os"
	"sort"

	_ "golang.org/x/image/tiff"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrInvalid      = errors.New("invalid analysis input")
	ErrSizeMismatch = errors.New("frame sizes differ")
)

// Frame is a single-channel image in ADU.
type Frame struct {
	Width, Height int
	Pixels        []float64
}

// Stats summarizes a frame.
type Stats struct {
	Pixels int     `json:"pixels"`
	Mean   float64 `json:"mean"`
	Median float64 `json:"median"`
	StdDev float64 `json:"stddev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Load opens and decodes a frame file. See Decode for crop.
func Load(path string, crop float64) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening frame: %w", err)
	}
	defer f.Close()
	return Decode(f, crop)
}

// Decode reads a PNG or TIFF frame. 16-bit grayscale keeps its raw values;
// 8-bit grayscale keeps 0..255; color images are reduced to 16-bit
// luminance. A crop in (0,1) keeps that fraction of each side, centered;
// 0 or 1 keeps the whole frame.
func Decode(r io.Reader, crop float64) (*Frame, error) {
	if crop < 0 || crop > 1 {
		return nil, fmt.Errorf("%w: crop must be in [0, 1]", ErrInvalid)
	}
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding frame: %v", ErrInvalid, err)
	}
	if format != "png" && format != "tiff" {
		return nil, fmt.Errorf("%w: unsupported frame format %q", ErrInvalid, format)
	}

	b := img.Bounds()
	if crop > 0 && crop < 1 {
		w := max(1, int(float64(b.Dx())*crop))
		h := max(1, int(float64(b.Dy())*crop))
		x0 := b.Min.X + (b.Dx()-w)/2
		y0 := b.Min.Y + (b.Dy()-h)/2
		b = image.Rect(x0, y0, x0+w, y0+h)
	}
	return fromImage(img, b), nil
}

func fromImage(img image.Image, b image.Rectangle) *Frame {
	f := &Frame{Width: b.Dx(), Height: b.Dy(), Pixels: make([]float64, b.Dx()*b.Dy())}
	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			switch src := img.(type) {
			case *image.Gray16:
				f.Pixels[i] = float64(src.Gray16At(x, y).Y)
			case *image.Gray:
				f.Pixels[i] = float64(src.GrayAt(x, y).Y)
			default:
				f.Pixels[i] = float64(color.Gray16Model.Convert(img.At(x, y)).(color.Gray16).Y)
			}
			i++
		}
	}
	return f
}

// Stats computes summary statistics.
func (f *Frame) Stats() Stats {
	return statsOf(f.Pixels)
}

func statsOf(x []float64) Stats {
	if len(x) == 0 {
		return Stats{}
	}
	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	mean, std := stat.MeanStdDev(x, nil)
	if len(x) < 2 {
		// The sample deviation of a single pixel is undefined.
		std = 0
	}
	return Stats{
		Pixels: len(x),
		Mean:   mean,
		Median: stat.Quantile(0.5, stat.Empirical, sorted, nil),
		StdDev: std,
		Min:    floats.Min(x),
		Max:    floats.Max(x),
	}
}

// diff returns a-b pixel by pixel.
func diff(a, b *Frame) ([]float64, error) {
	if a.Width != b.Width || a.Height != b.Height {
		return nil, fmt.Errorf("%w: %dx%d vs %dx%d", ErrSizeMismatch, a.Width, a.Height, b.Width, b.Height)
	}
	d := make([]float64, len(a.Pixels))
	floats.SubTo(d, a.Pixels, b.Pixels)
	return d, nil
}

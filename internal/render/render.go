// Package render draws an object scaled into a camera's field of view.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
)

// DefaultWidth is the output width in pixels.
const DefaultWidth = 800

const maxWidth = 4096

// ErrInvalid is wrapped by bad framing inputs.
var ErrInvalid = errors.New("invalid framing")

var (
	background = color.RGBA{R: 8, G: 8, B: 16, A: 255}
	frameColor = color.RGBA{R: 90, G: 90, B: 110, A: 255}
	shapeColor = color.RGBA{R: 230, G: 60, B: 60, A: 255}
)

// imageExts are tried in order when looking for an object picture.
var imageExts = []string{".png", ".jpg", ".jpeg"}

// Request describes one framing.
type Request struct {
	FOVWidthArcm  float64
	FOVHeightArcm float64
	Object        string
	MajorArcm     float64
	MinorArcm     float64
	Width         int    // output width in pixels, default 800
	ImagesDir     string // optional directory of object pictures
}

// Framing summarises how the object sits in the field.
type Framing struct {
	WidthPx       int     `json:"width_px"`
	HeightPx      int     `json:"height_px"`
	FOVWidthArcm  float64 `json:"fov_width_arcmin"`
	FOVHeightArcm float64 `json:"fov_height_arcmin"`
	MajorArcm     float64 `json:"object_major_arcmin"`
	MinorArcm     float64 `json:"object_minor_arcmin"`
	// Ratio is the object's major axis over the shorter FOV side.
	Ratio    float64 `json:"ratio"`
	Fits     bool    `json:"fits"`
	HasImage bool    `json:"has_image"`
}

// Frame draws the FOV with the object centered and returns the PNG.
func Frame(req Request) ([]byte, Framing, error) {
	if !(req.FOVWidthArcm > 0) || !(req.FOVHeightArcm > 0) {
		return nil, Framing{}, fmt.Errorf("%w: field of view must be positive", ErrInvalid)
	}
	if req.MajorArcm < 0 || req.MinorArcm < 0 {
		return nil, Framing{}, fmt.Errorf("%w: object size must not be negative", ErrInvalid)
	}
	if req.Width <= 0 {
		req.Width = DefaultWidth
	}
	if req.Width > maxWidth {
		return nil, Framing{}, fmt.Errorf("%w: width above %d", ErrInvalid, maxWidth)
	}
	minor := req.MinorArcm
	if minor == 0 {
		minor = req.MajorArcm
	}

	w := req.Width
	h := max(1, int(math.Round(float64(w)*req.FOVHeightArcm/req.FOVWidthArcm)))
	scale := float64(w) / req.FOVWidthArcm // px per arcmin

	fr := Framing{
		WidthPx:       w,
		HeightPx:      h,
		FOVWidthArcm:  req.FOVWidthArcm,
		FOVHeightArcm: req.FOVHeightArcm,
		MajorArcm:     req.MajorArcm,
		MinorArcm:     minor,
		Ratio:         req.MajorArcm / math.Min(req.FOVWidthArcm, req.FOVHeightArcm),
		Fits:          req.MajorArcm <= req.FOVWidthArcm && minor <= req.FOVHeightArcm,
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)

	cx, cy := float64(w)/2, float64(h)/2
	if src, err := loadPicture(req.ImagesDir, req.Object); err == nil && req.MajorArcm > 0 {
		b := src.Bounds()
		pw := req.MajorArcm * scale
		ph := pw * float64(b.Dy()) / float64(b.Dx())
		r := image.Rect(
			int(math.Round(cx-pw/2)), int(math.Round(cy-ph/2)),
			int(math.Round(cx+pw/2)), int(math.Round(cy+ph/2)),
		)
		if !r.Empty() {
			draw.CatmullRom.Scale(dst, r, src, b, draw.Over, nil)
			fr.HasImage = true
		}
	}

	rx := math.Max(2, req.MajorArcm*scale/2)
	ry := math.Max(2, minor*scale/2)
	ellipse(dst, cx, cy, rx, ry, shapeColor)
	border(dst, frameColor)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, Framing{}, fmt.Errorf("encoding png: %w", err)
	}
	return buf.Bytes(), fr, nil
}

// loadPicture finds <dir>/<name>.png|jpg|jpeg.
func loadPicture(dir, name string) (image.Image, error) {
	if dir == "" || name == "" {
		return nil, os.ErrNotExist
	}
	if name != filepath.Base(name) || strings.ContainsAny(name, `/\`) || name == ".." {
		return nil, fmt.Errorf("%w: object name %q is not a file name", ErrInvalid, name)
	}
	for _, ext := range imageExts {
		f, err := os.Open(filepath.Join(dir, name+ext))
		if err != nil {
			continue
		}
		img, _, err := image.Decode(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("decoding %s%s: %w", name, ext, err)
		}
		return img, nil
	}
	return nil, os.ErrNotExist
}

// ellipse outlines an axis-aligned ellipse.
func ellipse(dst *image.RGBA, cx, cy, rx, ry float64, c color.Color) {
	steps := int(4 * math.Pi * math.Max(rx, ry))
	for i := 0; i < steps; i++ {
		a := 2 * math.Pi * float64(i) / float64(steps)
		x := int(math.Round(cx + rx*math.Cos(a)))
		y := int(math.Round(cy + ry*math.Sin(a)))
		dst.Set(x, y, c)
	}
}

func border(dst *image.RGBA, c color.Color) {
	b := dst.Bounds()
	for x := b.Min.X; x < b.Max.X; x++ {
		dst.Set(x, b.Min.Y, c)
		dst.Set(x, b.Max.Y-1, c)
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		dst.Set(b.Min.X, y, c)
		dst.Set(b.Max.X-1, y, c)
	}
}

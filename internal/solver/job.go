package solver

import (
	"errors"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"time"

	_ "golang.org/x/image/tiff"

	"github.com/star/aplab/internal/transform"
)

// State is a job's lifecycle position.
type State string

const (
	Queued    State = "queued"
	Running   State = "running"
	Solved    State = "solved"
	Failed    State = "failed"
	Cancelled State = "cancelled"
)

// Terminal reports whether no further transitions happen.
func (s State) Terminal() bool {
	return s == Solved || s == Failed || s == Cancelled
}

var (
	ErrJobNotFound    = errors.New("job not found")
	ErrJobFinished    = errors.New("job already finished")
	ErrQueueFull      = errors.New("solver queue full")
	ErrInvalidRequest = errors.New("invalid solve request")
)

// Solution is a solved plate.
type Solution struct {
	RADeg           float64 `json:"ra_deg"`
	RA              string  `json:"ra"`
	DecDeg          float64 `json:"dec_deg"`
	Dec             string  `json:"dec"`
	PixelScale      float64 `json:"pixel_scale"` // arcsec/px
	Orientation     float64 `json:"orientation_deg"`
	FieldWidthArcm  float64 `json:"field_width_arcmin,omitempty"`
	FieldHeightArcm float64 `json:"field_height_arcmin,omitempty"`
	Warning         string  `json:"warning,omitempty"`
}

// Job is a snapshot of one solve request.
type Job struct {
	ID       string     `json:"id"`
	State    State      `json:"state"`
	Image    string     `json:"image"`
	Hints    Hints      `json:"hints"`
	Created  time.Time  `json:"created"`
	Started  *time.Time `json:"started,omitempty"`
	Finished *time.Time `json:"finished,omitempty"`
	Solution *Solution  `json:"solution,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// solution converts a solved result file. The field size needs the image
// dimensions and is left out when the image cannot be decoded (e.g. FITS).
func solution(ini INI, imagePath string) *Solution {
	s := &Solution{
		RADeg:       ini.CRVAL1,
		RA:          transform.FormatRA(ini.CRVAL1 / 15),
		DecDeg:      ini.CRVAL2,
		Dec:         transform.FormatDec(ini.CRVAL2),
		PixelScale:  math.Abs(ini.CDELT2) * 3600,
		Orientation: ini.CROTA2,
		Warning:     ini.Warning,
	}
	if w, h, ok := imageSize(imagePath); ok {
		s.FieldWidthArcm = float64(w) * math.Abs(ini.CDELT1) * 60
		s.FieldHeightArcm = float64(h) * math.Abs(ini.CDELT2) * 60
	}
	return s
}

func imageSize(path string) (int, int, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, false
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, false
	}
	return cfg.Width, cfg.Height, true
}

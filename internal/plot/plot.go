// Package plot renders line charts to PNG. It backs the sweep curves and
// the altitude charts.
package plot

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"
)

// Default canvas size.
const (
	DefaultWidth  = 960
	DefaultHeight = 480
)

// Series is one named curve. Set either X or T for the abscissa.
type Series struct {
	Name string
	X    []float64
	T    []time.Time
	Y    []float64
}

// Band shades a vertical time interval, e.g. astronomical night.
type Band struct {
	Name       string
	Start, End time.Time
}

// Figure describes a chart.
type Figure struct {
	Title  string
	XName  string
	YName  string
	YMin   *float64
	YMax   *float64
	Width  int
	Height int
	Series []Series
	Bands  []Band
}

var palette = []drawing.Color{
	chart.ColorBlue,
	chart.ColorRed,
	chart.ColorGreen,
	chart.ColorOrange,
	chart.ColorAlternateGray,
	chart.ColorCyan,
	chart.ColorYellow,
}

// ErrNoData is returned when no series has any points.
var ErrNoData = errors.New("nothing to plot")

// PNG renders f.
func PNG(f Figure) ([]byte, error) {
	if f.Width <= 0 {
		f.Width = DefaultWidth
	}
	if f.Height <= 0 {
		f.Height = DefaultHeight
	}

	var (
		series   []chart.Series
		timeMode bool
		minT     time.Time
		maxT     time.Time
	)
	for i, s := range f.Series {
		if len(s.Y) == 0 {
			continue
		}
		st := chart.Style{
			StrokeColor: palette[i%len(palette)],
			StrokeWidth: 2,
		}
		if len(s.T) > 0 {
			timeMode = true
			xs, ys := s.T, s.Y
			// go-chart needs two points to compute a range.
			if len(xs) == 1 {
				xs = []time.Time{xs[0], xs[0].Add(time.Second)}
				ys = []float64{ys[0], ys[0]}
			}
			if minT.IsZero() || xs[0].Before(minT) {
				minT = xs[0]
			}
			if last := xs[len(xs)-1]; last.After(maxT) {
				maxT = last
			}
			series = append(series, chart.TimeSeries{Name: s.Name, XValues: xs, YValues: ys, Style: st})
			continue
		}
		xs, ys := s.X, s.Y
		if len(xs) == 1 {
			xs = []float64{xs[0], xs[0] + 1}
			ys = []float64{ys[0], ys[0]}
		}
		series = append(series, chart.ContinuousSeries{Name: s.Name, XValues: xs, YValues: ys, Style: st})
	}
	if len(series) == 0 {
		return nil, ErrNoData
	}

	var yRange *chart.ContinuousRange
	if f.YMin != nil && f.YMax != nil {
		yRange = &chart.ContinuousRange{Min: *f.YMin, Max: *f.YMax}
	}

	xAxis := chart.XAxis{Name: f.XName}
	if timeMode {
		xAxis.ValueFormatter = chart.TimeHourValueFormatter
		if yRange != nil {
			series = append(bandSeries(f.Bands, minT, maxT, yRange), series...)
		}
	}

	ch := chart.Chart{
		Title:      f.Title,
		Width:      f.Width,
		Height:     f.Height,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}},
		XAxis:      xAxis,
		YAxis:      chart.YAxis{Name: f.YName, Range: yRange},
		Series:     series,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}

	var buf bytes.Buffer
	if err := ch.Render(chart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("rendering chart: %w", err)
	}
	return buf.Bytes(), nil
}

// bandSeries draws each band as a filled rectangle spanning the y range.
func bandSeries(bands []Band, minT, maxT time.Time, yr *chart.ContinuousRange) []chart.Series {
	var out []chart.Series
	for _, b := range bands {
		start, end := b.Start, b.End
		if start.Before(minT) {
			start = minT
		}
		if end.After(maxT) {
			end = maxT
		}
		if !end.After(start) {
			continue
		}
		out = append(out, chart.TimeSeries{
			Name:    b.Name,
			XValues: []time.Time{start, start, end, end},
			YValues: []float64{yr.Min, yr.Max, yr.Max, yr.Min},
			Style: chart.Style{
				StrokeWidth: 0,
				StrokeColor: drawing.ColorTransparent,
				FillColor:   drawing.Color{R: 30, G: 30, B: 80, A: 40},
			},
		})
	}
	return out
}

package visibility

import (
	"fmt"
	"time"

	"github.com/star/aplab/internal/plot"
	"github.com/star/aplab/internal/transform"
)

// DefaultCurveStep is the sample spacing of altitude curves.
const DefaultCurveStep = 10 * time.Minute

// maxCurveSamples bounds the work of one curve request.
const maxCurveSamples = 5000

// Sample is one point of an altitude curve.
type Sample struct {
	Time        time.Time `json:"time"`
	AltitudeDeg float64   `json:"altitude_deg"`
	AzimuthDeg  float64   `json:"azimuth_deg"`
	SunAltitude float64   `json:"sun_altitude_deg"`
}

// Window is a time interval.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Twilight holds the Sun's crossings of the civil, nautical and
// astronomical thresholds. Dusk fields are evening crossings, dawn fields
// morning crossings; any of them is nil when it does not happen in range.
type Twilight struct {
	CivilDusk        *time.Time `json:"civil_dusk,omitempty"`
	NauticalDusk     *time.Time `json:"nautical_dusk,omitempty"`
	AstronomicalDusk *time.Time `json:"astronomical_dusk,omitempty"`
	AstronomicalDawn *time.Time `json:"astronomical_dawn,omitempty"`
	NauticalDawn     *time.Time `json:"nautical_dawn,omitempty"`
	CivilDawn        *time.Time `json:"civil_dawn,omitempty"`
}

// Curve is an object's altitude over a time range with the twilight
// calendar for the same range.
type Curve struct {
	Samples  []Sample `json:"samples"`
	Night    *Window  `json:"night,omitempty"` // Sun below -18°
	Twilight Twilight `json:"twilight"`
	// DarkHours is how long the object spends above minAlt during Night.
	DarkHours float64 `json:"dark_hours"`
}

// AltitudeCurve samples eq from start to end inclusive every step.
func AltitudeCurve(eq transform.Equatorial, obs transform.Observer, start, end time.Time, step time.Duration, minAlt float64) (Curve, error) {
	if step <= 0 {
		step = DefaultCurveStep
	}
	if !end.After(start) {
		return Curve{}, fmt.Errorf("curve end %s is not after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	if n := int(end.Sub(start)/step) + 1; n > maxCurveSamples {
		return Curve{}, fmt.Errorf("curve would have %d samples, max %d", n, maxCurveSamples)
	}
	start, end = start.UTC(), end.UTC()

	var c Curve
	for t := start; !t.After(end); t = t.Add(step) {
		h := transform.EquatorialToHorizontal(obs, eq, t)
		c.Samples = append(c.Samples, Sample{
			Time:        t,
			AltitudeDeg: h.AltitudeDeg,
			AzimuthDeg:  h.AzimuthDeg,
			SunAltitude: transform.SunAltitude(obs, t),
		})
	}

	c.Twilight = twilight(obs, start, end)
	c.Night = night(obs, start, end)
	if c.Night != nil {
		for _, s := range c.Samples {
			if s.AltitudeDeg >= minAlt && s.SunAltitude < transform.AstronomicalTwilight {
				c.DarkHours += step.Hours()
			}
		}
	}
	return c, nil
}

func twilight(obs transform.Observer, start, end time.Time) Twilight {
	sun := func(t time.Time) float64 { return transform.SunAltitude(obs, t) }
	first := func(ts []time.Time) *time.Time {
		if len(ts) == 0 {
			return nil
		}
		return &ts[0]
	}

	var tw Twilight
	up, down := crossings(sun, start, end, transform.CivilTwilight)
	tw.CivilDusk, tw.CivilDawn = first(down), first(up)
	up, down = crossings(sun, start, end, transform.NauticalTwilight)
	tw.NauticalDusk, tw.NauticalDawn = first(down), first(up)
	up, down = crossings(sun, start, end, transform.AstronomicalTwilight)
	tw.AstronomicalDusk, tw.AstronomicalDawn = first(down), first(up)
	return tw
}

// night returns the astronomical darkness inside [start, end], clipped to
// the range when it is already dark at either edge.
func night(obs transform.Observer, start, end time.Time) *Window {
	sun := func(t time.Time) float64 { return transform.SunAltitude(obs, t) }
	dawns, dusks := crossings(sun, start, end, transform.AstronomicalTwilight)

	var w Window
	switch {
	case sun(start) < transform.AstronomicalTwilight:
		w.Start = start
	case len(dusks) > 0:
		w.Start = dusks[0]
	default:
		return nil
	}
	w.End = end
	for _, d := range dawns {
		if d.After(w.Start) {
			w.End = d
			break
		}
	}
	return &w
}

// ChartPNG renders altitude curves, one series per name, with the
// astronomical night shaded.
func ChartPNG(title string, names []string, curves []Curve) ([]byte, error) {
	lo, hi := 0.0, 90.0
	f := plot.Figure{
		Title: title,
		XName: "time (UTC)",
		YName: "altitude (deg)",
		YMin:  &lo,
		YMax:  &hi,
	}
	for i, c := range curves {
		s := plot.Series{Name: names[i]}
		for _, p := range c.Samples {
			alt := p.AltitudeDeg
			if alt < 0 {
				alt = 0
			}
			s.T = append(s.T, p.Time)
			s.Y = append(s.Y, alt)
		}
		f.Series = append(f.Series, s)
		if i == 0 && c.Night != nil {
			f.Bands = []plot.Band{{Name: "night", Start: c.Night.Start, End: c.Night.End}}
		}
	}
	return plot.PNG(f)
}

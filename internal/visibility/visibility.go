// Package visibility answers when and where a fixed-sky object can be seen
// from a site: its current position, rise/transit/set for a night, and
// altitude curves against the twilight calendar.
package visibility

import (
	"time"

	"github.com/star/aplab/internal/transform"
)

const (
	coarseStep = 10 * time.Minute
	fineStep   = time.Minute
	// eventWindow is how far Events searches from the start of the night.
	eventWindow = 24 * time.Hour
)

// Position is an object's place in the observer's sky at one instant.
type Position struct {
	Time             time.Time `json:"time"`
	AltitudeDeg      float64   `json:"altitude_deg"`
	ApparentAltitude float64   `json:"apparent_altitude_deg"`
	AzimuthDeg       float64   `json:"azimuth_deg"`
	HourAngleHours   float64   `json:"hour_angle_hours"`
	AboveHorizon     bool      `json:"above_horizon"`
}

// PositionAt returns the position of eq for obs at t.
func PositionAt(eq transform.Equatorial, obs transform.Observer, t time.Time) Position {
	h := transform.EquatorialToHorizontal(obs, eq, t)
	app := transform.ApparentAltitude(h.AltitudeDeg)
	return Position{
		Time:             t.UTC(),
		AltitudeDeg:      h.AltitudeDeg,
		ApparentAltitude: app,
		AzimuthDeg:       h.AzimuthDeg,
		HourAngleHours:   h.HourAngleDeg / 15,
		AboveHorizon:     app > -transform.HorizonDip(obs.ElevationM),
	}
}

// NightStart returns local mean noon of date at the observer's longitude,
// the start of the window that contains the following night.
func NightStart(date time.Time, lonDeg float64) time.Time {
	y, m, d := date.Date()
	noon := time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
	return noon.Add(-time.Duration(lonDeg / 15 * float64(time.Hour)))
}

// Events describes one object's passage through the sky in a 24 h window.
// Rise and Set are nil when the object does not cross MinAltitude.
type Events struct {
	Start       time.Time  `json:"window_start"`
	MinAltitude float64    `json:"min_altitude_deg"`
	Rise        *time.Time `json:"rise,omitempty"`
	RiseAz      *float64   `json:"rise_azimuth_deg,omitempty"`
	Transit     time.Time  `json:"transit"`
	MaxAltitude float64    `json:"max_altitude_deg"`
	Set         *time.Time `json:"set,omitempty"`
	SetAz       *float64   `json:"set_azimuth_deg,omitempty"`
	Circumpolar bool       `json:"circumpolar"`
	NeverRises  bool       `json:"never_rises"`
}

// FindEvents scans [start, start+24h) for the first rise above and first set
// below minAlt (geometric altitude, degrees), and the highest point.
func FindEvents(eq transform.Equatorial, obs transform.Observer, start time.Time, minAlt float64) Events {
	start = start.UTC()
	end := start.Add(eventWindow)
	alt := func(t time.Time) float64 {
		return transform.EquatorialToHorizontal(obs, eq, t).AltitudeDeg
	}

	ev := Events{Start: start, MinAltitude: minAlt}

	up, down := crossings(alt, start, end, minAlt)
	if len(up) > 0 {
		r := up[0]
		az := transform.EquatorialToHorizontal(obs, eq, r).AzimuthDeg
		ev.Rise, ev.RiseAz = &r, &az
	}
	if len(down) > 0 {
		s := down[0]
		az := transform.EquatorialToHorizontal(obs, eq, s).AzimuthDeg
		ev.Set, ev.SetAz = &s, &az
	}

	ev.Transit, ev.MaxAltitude = peak(alt, start, end)

	if len(up) == 0 && len(down) == 0 {
		if alt(start) >= minAlt {
			ev.Circumpolar = true
		} else {
			ev.NeverRises = true
		}
	}
	return ev
}

// crossings returns the times f rises through and falls through threshold.
// A coarse scan finds each bracket, a fine scan narrows it to fineStep and
// the final instant is interpolated linearly inside that minute.
func crossings(f func(time.Time) float64, start, end time.Time, threshold float64) (up, down []time.Time) {
	prevT := start
	prev := f(start) - threshold
	for t := start.Add(coarseStep); !t.After(end); t = t.Add(coarseStep) {
		cur := f(t) - threshold
		if (prev < 0) != (cur < 0) {
			c := refine(f, prevT, t, threshold)
			if cur >= 0 {
				up = append(up, c)
			} else {
				down = append(down, c)
			}
		}
		prevT, prev = t, cur
	}
	return up, down
}

// refine locates the crossing inside a coarse bracket [a, b].
func refine(f func(time.Time) float64, a, b time.Time, threshold float64) time.Time {
	prevT := a
	prev := f(a) - threshold
	for t := a.Add(fineStep); !t.After(b); t = t.Add(fineStep) {
		cur := f(t) - threshold
		if (prev < 0) != (cur < 0) {
			frac := prev / (prev - cur)
			return prevT.Add(time.Duration(frac * float64(fineStep))).Truncate(time.Second)
		}
		prevT, prev = t, cur
	}
	return b
}

// peak returns the time and value of the maximum of f in [start, end].
func peak(f func(time.Time) float64, start, end time.Time) (time.Time, float64) {
	bestT, best := start, f(start)
	for t := start.Add(coarseStep); !t.After(end); t = t.Add(coarseStep) {
		if v := f(t); v > best {
			bestT, best = t, v
		}
	}

	lo, hi := bestT.Add(-coarseStep), bestT.Add(coarseStep)
	if lo.Before(start) {
		lo = start
	}
	if hi.After(end) {
		hi = end
	}
	for t := lo; !t.After(hi); t = t.Add(fineStep) {
		if v := f(t); v > best {
			bestT, best = t, v
		}
	}
	return bestT, best
}

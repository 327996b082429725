package transform

import (
	"math"
	"time"
)

// Observer is a ground site. Elevation only feeds the horizon dip.
type Observer struct {
	LatDeg, LonDeg float64 // geodetic, east longitude positive
	ElevationM     float64
}

// Equatorial holds mean-of-date equatorial coordinates.
type Equatorial struct {
	RAHours float64 // [0, 24)
	DecDeg  float64 // [-90, 90]
}

// Horizontal holds the alt-az position of a target.
type Horizontal struct {
	AzimuthDeg   float64 // 0 = North, clockwise
	AltitudeDeg  float64 // geometric, 0 = horizon, 90 = zenith
	HourAngleDeg float64 // negative east of the meridian
}

// EquatorialToHorizontal rotates an equatorial position into the observer's
// horizontal frame at time t. The returned altitude is geometric (no
// refraction); use ApparentAltitude for what the eye or camera sees.
func EquatorialToHorizontal(obs Observer, eq Equatorial, t time.Time) Horizontal {
	ha := HourAngle(t, obs.LonDeg, eq.RAHours)
	return hourAngleToHorizontal(obs.LatDeg*deg2rad, eq.DecDeg*deg2rad, ha)
}

// hourAngleToHorizontal is the core rotation, split out so callers that
// already hold the sidereal time for a batch skip recomputing it.
func hourAngleToHorizontal(lat, dec, ha float64) Horizontal {
	sinLat, cosLat := math.Sincos(lat)
	sinDec, cosDec := math.Sincos(dec)
	sinHA, cosHA := math.Sincos(ha)

	sinAlt := sinLat*sinDec + cosLat*cosDec*cosHA
	sinAlt = math.Max(-1, math.Min(1, sinAlt))
	alt := math.Asin(sinAlt)

	// Azimuth measured from North through East.
	y := -cosDec * sinHA
	x := sinDec*cosLat - cosDec*sinLat*cosHA
	az := math.Atan2(y, x)

	return Horizontal{
		AzimuthDeg:   normDeg(az * rad2deg),
		AltitudeDeg:  alt * rad2deg,
		HourAngleDeg: ha * rad2deg,
	}
}

// BatchHorizontal converts many equatorial positions at the same instant,
// computing the local sidereal time once.
func BatchHorizontal(obs Observer, eqs []Equatorial, t time.Time) []Horizontal {
	lst := LocalSiderealTime(t, obs.LonDeg)
	lat := obs.LatDeg * deg2rad

	out := make([]Horizontal, len(eqs))
	for i, eq := range eqs {
		ha := normRad(lst - eq.RAHours*15*deg2rad)
		if ha > math.Pi {
			ha -= 2 * math.Pi
		}
		out[i] = hourAngleToHorizontal(lat, eq.DecDeg*deg2rad, ha)
	}
	return out
}

// Refraction returns the atmospheric refraction in degrees for a geometric
// altitude, using Saemundsson's formula at 10°C and 1010 hPa. Below -1° it
// returns 0.
func Refraction(altDeg float64) float64 {
	if altDeg < -1 {
		return 0
	}
	r := 1.02 / math.Tan((altDeg+10.3/(altDeg+5.11))*deg2rad) // arcminutes
	if r < 0 {
		return 0
	}
	return r / 60.0
}

// ApparentAltitude adds refraction to a geometric altitude.
func ApparentAltitude(altDeg float64) float64 {
	return altDeg + Refraction(altDeg)
}

// HorizonDip returns how far below 0° the sea horizon sits for an observer
// at elevationM meters, in degrees.
func HorizonDip(elevationM float64) float64 {
	if elevationM <= 0 {
		return 0
	}
	return 0.0293 * math.Sqrt(elevationM)
}

package transform

import (
	"math"
	"time"
)

// Twilight thresholds for the Sun's geometric altitude, degrees.
const (
	CivilTwilight        = -6.0
	NauticalTwilight     = -12.0
	AstronomicalTwilight = -18.0
)

// SunPosition returns the Sun's apparent equatorial position using the
// low-precision series from the Astronomical Almanac (about 0.01° between
// 1950 and 2050).
func SunPosition(t time.Time) Equatorial {
	n := JulianDate(t) - j2000

	L := normDeg(280.460 + 0.9856474*n)
	g := normDeg(357.528+0.9856003*n) * deg2rad

	lambda := (L + 1.915*math.Sin(g) + 0.020*math.Sin(2*g)) * deg2rad
	eps := (23.439 - 0.0000004*n) * deg2rad

	sinLambda, cosLambda := math.Sincos(lambda)
	ra := math.Atan2(math.Cos(eps)*sinLambda, cosLambda)
	dec := math.Asin(math.Sin(eps) * sinLambda)

	return Equatorial{
		RAHours: normDeg(ra*rad2deg) / 15.0,
		DecDeg:  dec * rad2deg,
	}
}

// SunAltitude returns the Sun's geometric altitude in degrees for obs at t.
func SunAltitude(obs Observer, t time.Time) float64 {
	return EquatorialToHorizontal(obs, SunPosition(t), t).AltitudeDeg
}

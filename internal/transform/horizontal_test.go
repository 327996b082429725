package transform

import (
	"math"
	"testing"
	"time"
)

func TestHourAngleToHorizontal(t *testing.T) {
	tests := []struct {
		name           string
		latDeg, decDeg float64
		haDeg          float64
		wantAlt        float64
		wantAz         float64 // negative means "don't care" (zenith/pole)
	}{
		{"zenith", 40, 40, 0, 90, -1},
		{"meridian south", 40, 0, 0, 50, 180},
		{"meridian north of zenith", 40, 60, 0, 70, 0},
		{"celestial pole", 52, 90, 37, 52, 0},
		{"equator rising due east", 40, 0, -90, 0, 90},
		{"equator setting due west", 40, 0, 90, 0, 270},
		{"southern hemisphere meridian north", -33.9, 0, 0, 56.1, 0},
		{"lower culmination", 60, 70, 180, 40, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := hourAngleToHorizontal(tt.latDeg*deg2rad, tt.decDeg*deg2rad, tt.haDeg*deg2rad)
			if math.Abs(h.AltitudeDeg-tt.wantAlt) > 1e-6 {
				t.Errorf("altitude = %.6f, want %.6f", h.AltitudeDeg, tt.wantAlt)
			}
			if tt.wantAz >= 0 {
				diff := math.Abs(h.AzimuthDeg - tt.wantAz)
				if diff > 180 {
					diff = 360 - diff
				}
				if diff > 1e-6 {
					t.Errorf("azimuth = %.6f, want %.6f", h.AzimuthDeg, tt.wantAz)
				}
			}
		})
	}
}

func TestBatchHorizontalMatchesSingle(t *testing.T) {
	obs := Observer{LatDeg: 59.91, LonDeg: 10.75}
	ts := time.Date(2026, 10, 18, 21, 0, 0, 0, time.UTC)
	eqs := []Equatorial{
		{RAHours: 0.712, DecDeg: 41.27},  // M31
		{RAHours: 5.588, DecDeg: -5.39},  // M42
		{RAHours: 13.498, DecDeg: 47.20}, // M51
	}

	batch := BatchHorizontal(obs, eqs, ts)
	for i, eq := range eqs {
		single := EquatorialToHorizontal(obs, eq, ts)
		if math.Abs(single.AltitudeDeg-batch[i].AltitudeDeg) > 1e-9 ||
			math.Abs(single.AzimuthDeg-batch[i].AzimuthDeg) > 1e-9 {
			t.Errorf("object %d: batch %+v != single %+v", i, batch[i], single)
		}
	}
}

func TestRefraction(t *testing.T) {
	// About 29 arcminutes at the horizon.
	if r := Refraction(0); math.Abs(r*60-29) > 2 {
		t.Errorf("refraction at horizon = %.2f arcmin, want ~29", r*60)
	}
	// Under one arcminute at 45°.
	if r := Refraction(45); r*60 > 1.1 || r <= 0 {
		t.Errorf("refraction at 45° = %.3f arcmin", r*60)
	}
	if r := Refraction(-5); r != 0 {
		t.Errorf("refraction below horizon = %v, want 0", r)
	}
	if got := ApparentAltitude(30); got <= 30 {
		t.Errorf("apparent altitude %v should exceed geometric 30", got)
	}
}

func TestSunPosition(t *testing.T) {
	tests := []struct {
		name    string
		time    time.Time
		wantDec float64
	}{
		{"March equinox 2024", time.Date(2024, 3, 20, 3, 6, 0, 0, time.UTC), 0},
		{"June solstice 2024", time.Date(2024, 6, 20, 20, 51, 0, 0, time.UTC), 23.44},
		{"December solstice 2024", time.Date(2024, 12, 21, 9, 21, 0, 0, time.UTC), -23.44},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sun := SunPosition(tt.time)
			if math.Abs(sun.DecDeg-tt.wantDec) > 0.05 {
				t.Errorf("sun dec = %.3f, want %.2f", sun.DecDeg, tt.wantDec)
			}
		})
	}
}

func TestSunAltitudeDayNight(t *testing.T) {
	greenwich := Observer{LatDeg: 51.48, LonDeg: 0}
	noon := time.Date(2026, 6, 21, 12, 0, 0, 0, time.UTC)
	midnight := time.Date(2026, 6, 21, 0, 0, 0, 0, time.UTC)

	if alt := SunAltitude(greenwich, noon); alt < 55 || alt > 65 {
		t.Errorf("summer noon sun altitude = %.2f, want ~62", alt)
	}
	if alt := SunAltitude(greenwich, midnight); alt > -10 {
		t.Errorf("summer midnight sun altitude = %.2f, want below -10", alt)
	}
}

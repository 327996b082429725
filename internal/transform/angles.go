package transform

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseRA parses a right ascension given either as sexagesimal hours
// ("05:34:31.9", "5h34m31.9s", "05 34 31.9") or decimal hours ("5.5753").
func ParseRA(s string) (float64, error) {
	v, err := parseSexagesimal(s)
	if err != nil {
		return 0, fmt.Errorf("parsing RA %q: %w", s, err)
	}
	if v < 0 || v >= 24 {
		return 0, fmt.Errorf("RA %q out of range [0, 24)", s)
	}
	return v, nil
}

// ParseDec parses a declination given either as sexagesimal degrees
// ("+22:00:52", "-05d23m28s") or decimal degrees.
func ParseDec(s string) (float64, error) {
	v, err := parseSexagesimal(s)
	if err != nil {
		return 0, fmt.Errorf("parsing Dec %q: %w", s, err)
	}
	if v < -90 || v > 90 {
		return 0, fmt.Errorf("Dec %q out of range [-90, 90]", s)
	}
	return v, nil
}

func parseSexagesimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	fields := strings.FieldsFunc(s, func(r rune) bool {
		switch r {
		case ':', ' ', 'h', 'H', 'd', 'D', 'm', 'M', 's', 'S', '\'', '"', '°':
			return true
		}
		return false
	})
	if len(fields) == 0 || len(fields) > 3 {
		return 0, fmt.Errorf("expected 1 to 3 components, got %d", len(fields))
	}

	var v float64
	scale := 1.0
	for i, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return 0, err
		}
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("component %q is not a finite number", f)
		}
		if n < 0 {
			return 0, fmt.Errorf("negative component %q", f)
		}
		if i > 0 && n >= 60 {
			return 0, fmt.Errorf("component %q must be below 60", f)
		}
		v += n / scale
		scale *= 60
	}

	if neg {
		v = -v
	}
	return v, nil
}

// FormatRA renders decimal hours as "HHhMMmSS.Ss".
func FormatRA(hours float64) string {
	h, m, s := splitSexagesimal(math.Abs(hours), 1)
	if h >= 24 {
		h -= 24
	}
	return fmt.Sprintf("%02dh%02dm%04.1fs", h, m, s)
}

// FormatDec renders decimal degrees as "±DD°MM'SS\"".
func FormatDec(deg float64) string {
	sign := "+"
	if deg < 0 {
		sign = "-"
	}
	d, m, s := splitSexagesimal(math.Abs(deg), 0)
	return fmt.Sprintf("%s%02d°%02d'%02.0f\"", sign, d, m, s)
}

// splitSexagesimal splits v into whole units, minutes and seconds, rounding
// seconds to the given number of decimals and carrying overflow upward.
func splitSexagesimal(v float64, decimals int) (int, int, float64) {
	p := math.Pow(10, float64(decimals))
	total := math.Round(v*3600*p) / p

	whole := int(total / 3600)
	rem := total - float64(whole)*3600
	min := int(rem / 60)
	sec := rem - float64(min)*60
	return whole, min, sec
}

package solver

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// INI is the solver's result file: one KEY=VALUE per line.
type INI struct {
	Solved  bool
	CRVAL1  float64 // RA of the reference pixel, degrees
	CRVAL2  float64 // Dec, degrees
	CDELT1  float64 // degrees per pixel along x
	CDELT2  float64 // degrees per pixel along y
	CROTA2  float64 // rotation, degrees
	Error   string
	Warning string
}

var errNoStatus = errors.New("missing PLTSOLVD")

// ParseINI reads a result file. Unknown keys are ignored.
func ParseINI(r io.Reader) (INI, error) {
	var (
		out       INI
		hasStatus bool
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		key, val, ok := strings.Cut(sc.Text(), "=")
		if !ok {
			continue
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		val = strings.TrimSpace(val)

		var err error
		switch key {
		case "PLTSOLVD":
			out.Solved = strings.EqualFold(val, "T") || strings.EqualFold(val, "TRUE")
			hasStatus = true
		case "CRVAL1":
			out.CRVAL1, err = strconv.ParseFloat(val, 64)
		case "CRVAL2":
			out.CRVAL2, err = strconv.ParseFloat(val, 64)
		case "CDELT1":
			out.CDELT1, err = strconv.ParseFloat(val, 64)
		case "CDELT2":
			out.CDELT2, err = strconv.ParseFloat(val, 64)
		case "CROTA2":
			out.CROTA2, err = strconv.ParseFloat(val, 64)
		case "ERROR":
			out.Error = val
		case "WARNING":
			out.Warning = val
		}
		if err != nil {
			return INI{}, fmt.Errorf("%s: %w", key, err)
		}
	}
	if err := sc.Err(); err != nil {
		return INI{}, err
	}
	if !hasStatus {
		return INI{}, errNoStatus
	}
	return out, nil
}

func readINI(path string) (INI, error) {
	f, err := os.Open(path)
	if err != nil {
		return INI{}, err
	}
	defer f.Close()
	return ParseINI(f)
}

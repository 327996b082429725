// Package sweep evaluates the noise model over a range of one input and
// returns the resulting curves, optionally one curve per value of a second
// input.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/star/aplab/internal/plot"
	"github.com/star/aplab/internal/sensor"
)

// Mode selects the model front end a sweep is based on.
type Mode string

const (
	ModeCalc Mode = "calc"
	ModeSim  Mode = "sim"
)

// Variable names a sweepable input.
type Variable string

const (
	Exposure    Variable = "exposure"
	SubCount    Variable = "sub_count"
	ReadNoise   Variable = "read_noise"
	Gain        Variable = "gain"
	DarkCurrent Variable = "dark_current"
	SkyFlux     Variable = "sky_flux"
	TargetFlux  Variable = "target_flux"
)

// Output names the plotted quantity.
type Output string

const (
	SNR        Output = "snr"
	StackSNR   Output = "stack_snr"
	DRStops    Output = "dr_stops"
	TotalNoise Output = "total_noise"
)

// Point count bounds.
const (
	MinPoints = 2
	MaxPoints = 1000
)

// ErrInvalid is wrapped by request validation errors.
var ErrInvalid = errors.New("invalid sweep")

// Compare adds one curve per value of a second variable.
type Compare struct {
	Variable Variable  `json:"variable"`
	Values   []float64 `json:"values"`
}

// Request describes a sweep.
type Request struct {
	Mode     Mode              `json:"mode"`
	Calc     *sensor.CalcInput `json:"calc,omitempty"`
	Sim      *sensor.SimInput  `json:"sim,omitempty"`
	Variable Variable          `json:"variable"`
	From     float64           `json:"from"`
	To       float64           `json:"to"`
	Points   int               `json:"points"`
	Output   Output            `json:"output"`
	Compare  *Compare          `json:"compare,omitempty"`
}

// Curve is one evaluated series. Skipped counts points the model rejected.
type Curve struct {
	Label   string    `json:"label"`
	Compare *float64  `json:"compare_value,omitempty"`
	X       []float64 `json:"x"`
	Y       []float64 `json:"y"`
	Skipped int       `json:"skipped,omitempty"`
}

// Result holds the curves in request order: the base curve first when no
// compare list is given, otherwise one curve per compare value.
type Result struct {
	Variable Variable `json:"variable"`
	Output   Output   `json:"output"`
	Curves   []Curve  `json:"curves"`
}

var calcVars = map[Variable]bool{Exposure: true, SubCount: true, ReadNoise: true, Gain: true}
var simVars = map[Variable]bool{Exposure: true, SubCount: true, ReadNoise: true, DarkCurrent: true, SkyFlux: true, TargetFlux: true}

func (r Request) validate() error {
	allowed := simVars
	switch r.Mode {
	case ModeCalc:
		if r.Calc == nil {
			return fmt.Errorf("%w: mode calc needs calc input", ErrInvalid)
		}
		allowed = calcVars
	case ModeSim:
		if r.Sim == nil {
			return fmt.Errorf("%w: mode sim needs sim input", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalid, r.Mode)
	}
	if !allowed[r.Variable] {
		return fmt.Errorf("%w: variable %q not available in %s mode", ErrInvalid, r.Variable, r.Mode)
	}
	switch r.Output {
	case SNR, StackSNR, DRStops, TotalNoise:
	default:
		return fmt.Errorf("%w: unknown output %q", ErrInvalid, r.Output)
	}
	if r.Points < MinPoints || r.Points > MaxPoints {
		return fmt.Errorf("%w: points must be in [%d, %d]", ErrInvalid, MinPoints, MaxPoints)
	}
	if math.IsNaN(r.From) || math.IsNaN(r.To) || math.IsInf(r.From, 0) || math.IsInf(r.To, 0) {
		return fmt.Errorf("%w: from and to must be finite", ErrInvalid)
	}
	if r.From == r.To {
		return fmt.Errorf("%w: from and to must differ", ErrInvalid)
	}
	if c := r.Compare; c != nil {
		if !allowed[c.Variable] {
			return fmt.Errorf("%w: compare variable %q not available in %s mode", ErrInvalid, c.Variable, r.Mode)
		}
		if c.Variable == r.Variable {
			return fmt.Errorf("%w: compare variable equals sweep variable", ErrInvalid)
		}
		if len(c.Values) == 0 || len(c.Values) > 10 {
			return fmt.Errorf("%w: compare needs 1 to 10 values", ErrInvalid)
		}
		if r.Mode == ModeCalc && pair(r.Variable, c.Variable, Exposure, Gain) {
			return fmt.Errorf("%w: exposure and gain cannot be swept together in calc mode", ErrInvalid)
		}
	}
	return nil
}

func pair(a, b, x, y Variable) bool {
	return (a == x && b == y) || (a == y && b == x)
}

// Run evaluates the sweep. Compare curves are computed concurrently.
func Run(ctx context.Context, r Request) (Result, error) {
	if err := r.validate(); err != nil {
		return Result{}, err
	}
	ev, err := newEvaluator(r)
	if err != nil {
		return Result{}, err
	}

	xs := make([]float64, r.Points)
	floats.Span(xs, r.From, r.To)

	res := Result{Variable: r.Variable, Output: r.Output}
	if r.Compare == nil {
		res.Curves = []Curve{ev.curve(xs, nil)}
		return res, nil
	}

	res.Curves = make([]Curve, len(r.Compare.Values))
	g, ctx := errgroup.WithContext(ctx)
	for i, v := range r.Compare.Values {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c := ev.withSet(r.Compare.Variable, v).curve(xs, &v)
			c.Label = fmt.Sprintf("%s=%s", r.Compare.Variable, strconv.FormatFloat(v, 'g', 4, 64))
			res.Curves[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	return res, nil
}

// evaluator applies variable values to a base input and evaluates it.
type evaluator struct {
	req  Request
	calc sensor.CalcInput
	sim  sensor.SimInput
	// When a calc sweep varies exposure, the measured levels are converted
	// to fluxes once and the sweep continues in the flux domain.
	calcAsSim bool
}

func newEvaluator(r Request) (evaluator, error) {
	ev := evaluator{req: r}
	if r.Mode == ModeSim {
		in, err := r.Sim.Resolve()
		if err != nil {
			return ev, err
		}
		ev.sim = in
		return ev, nil
	}

	ev.calc = *r.Calc
	if r.Variable == Exposure || (r.Compare != nil && r.Compare.Variable == Exposure) {
		sim, err := fluxDomain(*r.Calc)
		if err != nil {
			return ev, err
		}
		ev.sim = sim
		ev.calcAsSim = true
	}
	return ev, nil
}

// fluxDomain derives the simulator input equivalent to a calculator input.
func fluxDomain(in sensor.CalcInput) (sensor.SimInput, error) {
	res, err := sensor.Calculate(in)
	if err != nil {
		return sensor.SimInput{}, err
	}
	sim := sensor.SimInput{
		ExposureS:     in.ExposureS,
		SubCount:      res.SubCount,
		ReadNoise:     res.ReadNoise,
		DarkCurrent:   res.DarkCurrent,
		SkyFlux:       res.SkyFlux,
		SatCap:        res.SatCap,
		NoiseIncrease: in.NoiseIncrease,
	}
	if res.SNR != nil {
		tf := res.TargetFlux
		sim.TargetFlux = &tf
	}
	return sim, nil
}

func (ev evaluator) simDomain() bool { return ev.req.Mode == ModeSim || ev.calcAsSim }

// withSet returns a copy of ev with variable v set to x.
func (ev evaluator) withSet(v Variable, x float64) evaluator {
	if ev.simDomain() {
		in := ev.sim
		switch v {
		case Exposure:
			in.ExposureS = x
		case SubCount:
			in.SubCount = subCount(x)
		case ReadNoise:
			in.ReadNoise = x
		case DarkCurrent:
			in.DarkCurrent = x
		case SkyFlux:
			in.SkyFlux = x
		case TargetFlux:
			in.TargetFlux = &x
		}
		ev.sim = in
		return ev
	}

	in := ev.calc
	switch v {
	case SubCount:
		in.SubCount = subCount(x)
	case ReadNoise:
		in.ReadNoise = x
	case Gain:
		in.Gain = x
	}
	ev.calc = in
	return ev
}

// subCount rounds a swept value to whole subs. Anything that rounds below
// one becomes -1: a zero would read as unset and default to a single sub.
func subCount(x float64) int {
	n := int(math.Round(x))
	if n < 1 {
		return -1
	}
	return n
}

func (ev evaluator) eval() (sensor.Result, error) {
	if ev.simDomain() {
		return sensor.Simulate(ev.sim)
	}
	return sensor.Calculate(ev.calc)
}

// curve evaluates every x and keeps the points the model accepts.
func (ev evaluator) curve(xs []float64, compare *float64) Curve {
	c := Curve{Label: string(ev.req.Output), Compare: compare}
	for _, x := range xs {
		res, err := ev.withSet(ev.req.Variable, x).eval()
		if err != nil {
			c.Skipped++
			continue
		}
		y, ok := pick(res, ev.req.Output)
		if !ok {
			c.Skipped++
			continue
		}
		c.X = append(c.X, x)
		c.Y = append(c.Y, y)
	}
	return c
}

// pick extracts the output quantity. SNR outputs are absent without a target.
func pick(r sensor.Result, o Output) (float64, bool) {
	switch o {
	case SNR:
		if r.SNR == nil {
			return 0, false
		}
		return *r.SNR, true
	case StackSNR:
		if r.StackSNR == nil {
			return 0, false
		}
		return *r.StackSNR, true
	case DRStops:
		return r.DynamicRange, true
	case TotalNoise:
		return r.TotalNoise, true
	}
	return 0, false
}

var axisNames = map[Variable]string{
	Exposure:    "exposure (s)",
	SubCount:    "subs",
	ReadNoise:   "read noise (e-)",
	Gain:        "gain (e-/ADU)",
	DarkCurrent: "dark current (e-/s)",
	SkyFlux:     "sky flux (e-/s)",
	TargetFlux:  "target flux (e-/s)",
}

var outputNames = map[Output]string{
	SNR:        "SNR",
	StackSNR:   "stack SNR",
	DRStops:    "dynamic range (stops)",
	TotalNoise: "total noise (e-)",
}

// ChartPNG renders the result's curves.
func ChartPNG(res Result) ([]byte, error) {
	fig := plot.Figure{
		Title: fmt.Sprintf("%s vs %s", outputNames[res.Output], axisNames[res.Variable]),
		XName: axisNames[res.Variable],
		YName: outputNames[res.Output],
	}
	for _, c := range res.Curves {
		fig.Series = append(fig.Series, plot.Series{Name: c.Label, X: c.X, Y: c.Y})
	}
	return plot.PNG(fig)
}

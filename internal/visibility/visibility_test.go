package visibility

import (
	"bytes"
	"context"
	"image/png"
	"math"
	"testing"
	"time"

	"github.com/star/aplab/internal/transform"
)

var (
	greenwich = transform.Observer{LatDeg: 51.4769, LonDeg: -0.0005, ElevationM: 46}
	helsinki  = transform.Observer{LatDeg: 60.17, LonDeg: 24.94}

	m42     = transform.Equatorial{RAHours: 5.5881, DecDeg: -5.3911}
	polaris = transform.Equatorial{RAHours: 2.5303, DecDeg: 89.2641}
	canopus = transform.Equatorial{RAHours: 6.3992, DecDeg: -52.6957}
)

func TestCrossingsLinear(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	want := t0.Add(37*time.Minute + 20*time.Second)
	f := func(t time.Time) float64 { return t.Sub(want).Minutes() }

	up, down := crossings(f, t0, t0.Add(2*time.Hour), 0)
	if len(up) != 1 || len(down) != 0 {
		t.Fatalf("up=%v down=%v, want one rising crossing", up, down)
	}
	if d := up[0].Sub(want); d < -time.Second || d > time.Second {
		t.Errorf("crossing = %v, want %v", up[0], want)
	}
}

func TestFindEventsM42(t *testing.T) {
	start := NightStart(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), greenwich.LonDeg)
	ev := FindEvents(m42, greenwich, start, 0)

	if ev.Circumpolar || ev.NeverRises {
		t.Fatalf("flags circumpolar=%v never_rises=%v, want both false", ev.Circumpolar, ev.NeverRises)
	}
	if ev.Rise == nil || ev.Set == nil {
		t.Fatalf("rise=%v set=%v, want both", ev.Rise, ev.Set)
	}

	alt := func(ts time.Time) float64 {
		return transform.EquatorialToHorizontal(greenwich, m42, ts).AltitudeDeg
	}
	if a := alt(*ev.Rise); math.Abs(a) > 0.05 {
		t.Errorf("altitude at rise = %.3f, want ~0", a)
	}
	if a := alt(*ev.Set); math.Abs(a) > 0.05 {
		t.Errorf("altitude at set = %.3f, want ~0", a)
	}
	if *ev.RiseAz >= 180 {
		t.Errorf("rise azimuth = %.1f, want east", *ev.RiseAz)
	}
	if *ev.SetAz <= 180 {
		t.Errorf("set azimuth = %.1f, want west", *ev.SetAz)
	}

	wantMax := 90 - greenwich.LatDeg + m42.DecDeg
	if math.Abs(ev.MaxAltitude-wantMax) > 0.05 {
		t.Errorf("max altitude = %.3f, want %.3f", ev.MaxAltitude, wantMax)
	}
	if ha := PositionAt(m42, greenwich, ev.Transit).HourAngleHours; math.Abs(ha) > 0.02 {
		t.Errorf("hour angle at transit = %.4f h, want ~0", ha)
	}
	if ev.Transit.Before(start) || !ev.Transit.Before(start.Add(24*time.Hour)) {
		t.Errorf("transit %v outside window", ev.Transit)
	}
}

func TestFindEventsMinAltitude(t *testing.T) {
	start := NightStart(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), greenwich.LonDeg)
	low := FindEvents(m42, greenwich, start, 0)
	high := FindEvents(m42, greenwich, start, 20)
	if high.Rise == nil || high.Set == nil {
		t.Fatal("expected rise/set above 20°")
	}
	upLow := low.Set.Sub(*low.Rise)
	if upLow < 0 {
		upLow += 24 * time.Hour
	}
	upHigh := high.Set.Sub(*high.Rise)
	if upHigh < 0 {
		upHigh += 24 * time.Hour
	}
	if upHigh >= upLow {
		t.Errorf("time above 20° (%v) should be shorter than above 0° (%v)", upHigh, upLow)
	}

	none := FindEvents(m42, greenwich, start, 40)
	if !none.NeverRises || none.Rise != nil {
		t.Errorf("M42 never reaches 40° from Greenwich: %+v", none)
	}
}

func TestFindEventsFlags(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	p := FindEvents(polaris, greenwich, start, 0)
	if !p.Circumpolar || p.NeverRises || p.Rise != nil || p.Set != nil {
		t.Errorf("polaris: %+v, want circumpolar", p)
	}
	if math.Abs(p.MaxAltitude-(greenwich.LatDeg+90-polaris.DecDeg)) > 0.05 {
		t.Errorf("polaris max altitude = %.3f", p.MaxAltitude)
	}

	c := FindEvents(canopus, greenwich, start, 0)
	if !c.NeverRises || c.Circumpolar {
		t.Errorf("canopus: %+v, want never_rises", c)
	}
}

func TestPositionAt(t *testing.T) {
	ts := time.Date(2026, 1, 15, 23, 0, 0, 0, time.UTC)
	p := PositionAt(m42, greenwich, ts)
	h := transform.EquatorialToHorizontal(greenwich, m42, ts)
	if p.AltitudeDeg != h.AltitudeDeg || p.AzimuthDeg != h.AzimuthDeg {
		t.Errorf("position %+v disagrees with transform %+v", p, h)
	}
	if p.ApparentAltitude <= p.AltitudeDeg {
		t.Errorf("apparent altitude %.4f should exceed geometric %.4f", p.ApparentAltitude, p.AltitudeDeg)
	}
	if !p.AboveHorizon {
		t.Error("M42 is up at 23:00 UTC in January")
	}
}

func TestNightStart(t *testing.T) {
	got := NightStart(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC), 15)
	want := time.Date(2026, 6, 1, 11, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("NightStart = %v, want %v", got, want)
	}
}

func TestAltitudeCurveTwilight(t *testing.T) {
	start := NightStart(time.Date(2026, 10, 18, 0, 0, 0, 0, time.UTC), greenwich.LonDeg)
	c, err := AltitudeCurve(m42, greenwich, start, start.Add(24*time.Hour), 15*time.Minute, 20)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Samples) != 97 {
		t.Errorf("samples = %d, want 97", len(c.Samples))
	}

	tw := c.Twilight
	order := []*time.Time{tw.CivilDusk, tw.NauticalDusk, tw.AstronomicalDusk, tw.AstronomicalDawn, tw.NauticalDawn, tw.CivilDawn}
	for i, ts := range order {
		if ts == nil {
			t.Fatalf("twilight mark %d missing: %+v", i, tw)
		}
		if i > 0 && !ts.After(*order[i-1]) {
			t.Errorf("twilight mark %d (%v) not after %d (%v)", i, ts, i-1, order[i-1])
		}
	}

	if c.Night == nil {
		t.Fatal("expected astronomical night in October at Greenwich")
	}
	if h := c.Night.Start.Hour(); h < 18 || h > 19 {
		t.Errorf("night starts %v, want ~18:50 UTC", c.Night.Start)
	}
	if h := c.Night.End.Hour(); h < 4 || h > 5 {
		t.Errorf("night ends %v, want ~04:50 UTC", c.Night.End)
	}
	if c.DarkHours <= 0 || c.DarkHours > 10 {
		t.Errorf("dark hours above 20° = %.2f", c.DarkHours)
	}
}

func TestAltitudeCurveWhiteNight(t *testing.T) {
	start := NightStart(time.Date(2026, 6, 21, 0, 0, 0, 0, time.UTC), helsinki.LonDeg)
	c, err := AltitudeCurve(polaris, helsinki, start, start.Add(24*time.Hour), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if c.Night != nil {
		t.Errorf("night = %+v, want none at midsummer in Helsinki", c.Night)
	}
	if c.Twilight.AstronomicalDusk != nil || c.Twilight.NauticalDusk != nil {
		t.Errorf("twilight = %+v, Sun stays above -12°", c.Twilight)
	}
	if c.Twilight.CivilDusk == nil {
		t.Error("civil dusk expected: Sun dips below -6°")
	}
}

func TestAltitudeCurveErrors(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if _, err := AltitudeCurve(m42, greenwich, start, start, time.Minute, 0); err == nil {
		t.Error("expected error for empty range")
	}
	if _, err := AltitudeCurve(m42, greenwich, start, start.Add(30*24*time.Hour), time.Minute, 0); err == nil {
		t.Error("expected error for too many samples")
	}
}

func TestBatchEvents(t *testing.T) {
	targets := []Target{
		{Name: "M42", Eq: m42},
		{Name: "Polaris", Eq: polaris},
		{Name: "Canopus", Eq: canopus},
	}
	start := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	res := BatchEvents(context.Background(), targets, greenwich, start, 0)
	if len(res) != 3 {
		t.Fatalf("results = %d, want 3", len(res))
	}
	for i, r := range res {
		if r.Name != targets[i].Name {
			t.Errorf("result %d name = %q, want %q", i, r.Name, targets[i].Name)
		}
		if r.Events == nil || r.Error != "" {
			t.Errorf("result %d: events=%v error=%q", i, r.Events, r.Error)
		}
	}
	if !res[1].Events.Circumpolar || !res[2].Events.NeverRises {
		t.Error("flags not carried through batch")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, r := range BatchEvents(ctx, targets, greenwich, start, 0) {
		if r.Error != "cancelled" {
			t.Errorf("%s: error = %q, want cancelled", r.Name, r.Error)
		}
	}
}

func TestBatchCurvesChart(t *testing.T) {
	start := NightStart(time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC), greenwich.LonDeg)
	targets := []Target{{Name: "M42", Eq: m42}, {Name: "Polaris", Eq: polaris}}
	curves, err := BatchCurves(context.Background(), targets, greenwich, start, start.Add(24*time.Hour), 30*time.Minute, 0)
	if err != nil {
		t.Fatal(err)
	}
	data, err := ChartPNG("altitude", []string{"M42", "Polaris"}, curves)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := png.Decode(bytes.NewReader(data)); err != nil {
		t.Errorf("decode: %v", err)
	}
}

package skycache

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/star/aplab/internal/store"
	"github.com/star/aplab/internal/transform"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeSource is a Source whose sky can be swapped by tests.
type fakeSource struct {
	mu      sync.Mutex
	sky     Sky
	err     error
	version atomic.Uint64
}

func (f *fakeSource) Version() uint64 { return f.version.Load() }

func (f *fakeSource) Load() (Sky, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sky, f.err
}

func (f *fakeSource) set(sky Sky, err error) {
	f.mu.Lock()
	f.sky, f.err = sky, err
	f.mu.Unlock()
	f.version.Add(1)
}

var (
	greenwich = transform.Observer{LatDeg: 51.4769, LonDeg: 0}
	m31       = Object{Name: "M31", Type: "galaxy", Magnitude: 3.4, Eq: transform.Equatorial{RAHours: 0.7123, DecDeg: 41.2692}}
	m42       = Object{Name: "M42", Type: "nebula", Magnitude: 4.0, Eq: transform.Equatorial{RAHours: 5.5881, DecDeg: -5.3911}}
	polaris   = Object{Name: "Polaris", Type: "star", Magnitude: 2.0, Eq: transform.Equatorial{RAHours: 2.5303, DecDeg: 89.2641}}
)

func testSource() *fakeSource {
	f := &fakeSource{}
	f.set(Sky{Location: "Greenwich", Observer: greenwich, Objects: []Object{m31, m42, polaris}}, nil)
	return f
}

func testConfig() Config {
	return Config{Step: time.Minute, Horizon: 5 * time.Minute, Buffer: time.Minute}
}

// newTestCache returns a cache whose clock is the returned pointer.
func newTestCache(src Source, cfg Config) (*KeyframeCache, *time.Time) {
	c := NewKeyframeCache(cfg, src, testLogger())
	clock := time.Date(2026, 1, 15, 22, 0, 30, 0, time.UTC)
	c.now = func() time.Time { return clock }
	return c, &clock
}

func TestWarmupFillsWindow(t *testing.T) {
	src := testSource()
	c, clock := newTestCache(src, testConfig())

	c.warmup(context.Background())

	st := c.Stats()
	if st.Entries != 6 {
		t.Errorf("entries = %d, want 6 (0..5 min)", st.Entries)
	}
	if st.Objects != 3 {
		t.Errorf("objects = %d, want 3", st.Objects)
	}
	if st.SourceVersion != src.Version() {
		t.Errorf("built version = %d, want %d", st.SourceVersion, src.Version())
	}

	kf := c.Get(*clock)
	if kf == nil {
		t.Fatal("expected hit for current step")
	}
	if want := time.Date(2026, 1, 15, 22, 0, 0, 0, time.UTC); !kf.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", kf.Timestamp, want)
	}

	// Positions agree with a direct transform.
	h := transform.EquatorialToHorizontal(greenwich, m42.Eq, kf.Timestamp)
	if kf.Objects[1].Name != "M42" || kf.Objects[1].AltitudeDeg != h.AltitudeDeg {
		t.Errorf("M42 keyframe %+v, want altitude %v", kf.Objects[1], h.AltitudeDeg)
	}
}

func TestRoundToStep(t *testing.T) {
	c, _ := newTestCache(testSource(), testConfig())
	tests := []struct {
		input, want time.Time
	}{
		{time.Date(2026, 2, 6, 12, 0, 3, 0, time.UTC), time.Date(2026, 2, 6, 12, 0, 0, 0, time.UTC)},
		{time.Date(2026, 2, 6, 12, 1, 59, 0, time.UTC), time.Date(2026, 2, 6, 12, 1, 0, 0, time.UTC)},
		{time.Date(2026, 2, 6, 13, 2, 0, 0, time.FixedZone("CET", 3600)), time.Date(2026, 2, 6, 12, 2, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		if got := c.RoundToStep(tt.input); !got.Equal(tt.want) || got.Location() != time.UTC {
			t.Errorf("RoundToStep(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestNowSortsAndFilters(t *testing.T) {
	c, _ := newTestCache(testSource(), testConfig())
	c.warmup(context.Background())

	ts, loc, objs, ok := c.Now(0)
	if !ok {
		t.Fatal("Now reported empty cache")
	}
	if loc != "Greenwich" || ts.IsZero() {
		t.Errorf("location = %q ts = %v", loc, ts)
	}
	// All three are up from Greenwich on a January evening.
	if len(objs) != 3 {
		t.Fatalf("objects above 0° = %d, want 3: %+v", len(objs), objs)
	}
	for i := 1; i < len(objs); i++ {
		if objs[i].AltitudeDeg > objs[i-1].AltitudeDeg {
			t.Errorf("not sorted by altitude: %+v", objs)
		}
	}

	_, _, high, _ := c.Now(45)
	for _, o := range high {
		if o.AltitudeDeg < 45 {
			t.Errorf("%s at %.1f° returned for min_alt 45", o.Name, o.AltitudeDeg)
		}
	}
	if len(high) >= len(objs) {
		t.Error("min altitude filter removed nothing")
	}
}

func TestCacheMiss(t *testing.T) {
	c, _ := newTestCache(testSource(), testConfig())
	if c.Get(time.Date(2099, 1, 1, 0, 0, 0, 0, time.UTC)) != nil {
		t.Fatal("expected nil for cache miss")
	}
	if _, _, _, ok := c.Now(0); ok {
		t.Error("Now on empty cache should report !ok")
	}
	if c.Stats().Misses < 2 {
		t.Errorf("misses = %d, want >= 2", c.Stats().Misses)
	}
}

func TestTickAdvancesWindow(t *testing.T) {
	c, clock := newTestCache(testSource(), testConfig())
	c.warmup(context.Background())

	*clock = clock.Add(3 * time.Minute)
	c.tick(context.Background())

	// Leading edge for now+horizon exists, entries older than now-buffer are gone.
	if c.Get(clock.Add(5*time.Minute)) == nil {
		t.Error("leading edge keyframe missing after tick")
	}
	st := c.Stats()
	if cutoff := clock.Add(-time.Minute); st.OldestTimestamp.Before(c.RoundToStep(cutoff)) {
		t.Errorf("oldest = %v, want >= %v", st.OldestTimestamp, cutoff)
	}
	if st.Evictions == 0 {
		t.Error("expected evictions after advancing the clock")
	}
}

func TestCutoverOnSourceChange(t *testing.T) {
	src := testSource()
	c, clock := newTestCache(src, testConfig())
	c.warmup(context.Background())

	if c.skyChanged() {
		t.Fatal("sky reported changed right after warmup")
	}

	src.set(Sky{Location: "Greenwich", Observer: greenwich, Objects: []Object{m31}}, nil)
	if !c.skyChanged() {
		t.Fatal("expected change after source update")
	}

	c.tick(context.Background())

	if c.skyChanged() {
		t.Error("still changed after cutover")
	}
	if c.inCutover.Load() {
		t.Error("cutover flag left set")
	}
	kf := c.Get(*clock)
	if kf == nil || len(kf.Objects) != 1 || kf.Objects[0].Name != "M31" {
		t.Errorf("keyframe after cutover = %+v, want only M31", kf)
	}
}

func TestCutoverKeepsOldOnLoadError(t *testing.T) {
	src := testSource()
	c, clock := newTestCache(src, testConfig())
	c.warmup(context.Background())

	src.set(Sky{}, ErrNoSky)
	c.tick(context.Background())

	kf := c.Get(*clock)
	if kf == nil || len(kf.Objects) != 3 {
		t.Errorf("old keyframes should keep serving, got %+v", kf)
	}
	if c.skyChanged() {
		t.Error("failed version should not be retried every tick")
	}
}

func TestStartWaitsAndStops(t *testing.T) {
	src := &fakeSource{}
	src.set(Sky{}, ErrNoSky)
	cfg := testConfig()
	c := NewKeyframeCache(cfg, src, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Start(ctx)
		close(done)
	}()

	time.Sleep(100 * time.Millisecond)
	if c.Stats().Entries != 0 {
		t.Error("cache filled before source had data")
	}
	src.set(Sky{Location: "Greenwich", Observer: greenwich, Objects: []Object{m42}}, nil)

	deadline := time.Now().Add(5 * time.Second)
	for c.Stats().Entries == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if c.Stats().Entries == 0 {
		t.Error("cache not filled after source became ready")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}

func TestConcurrentAccess(t *testing.T) {
	c, _ := newTestCache(testSource(), testConfig())
	c.warmup(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.GetLatest()
				c.Now(10)
				c.Stats()
			}
		}()
	}
	for i := 0; i < 5; i++ {
		c.tick(context.Background())
	}
	wg.Wait()
}

func TestStoreSource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, store.LocationFile), "Backyard,48.2,16.37,180\nDark site,47.0,15.0,1200\n")
	writeFile(t, filepath.Join(dir, store.ObjectFile), "M42,Orion Nebula,nebula,05:35:17,-05:23:28,4,65,60\n")

	s, err := store.Open(dir, testLogger())
	if err != nil {
		t.Fatal(err)
	}

	sky, err := StoreSource{Store: s}.Load()
	if err != nil {
		t.Fatal(err)
	}
	if sky.Location != "Backyard" || len(sky.Objects) != 1 || sky.Objects[0].Name != "M42" {
		t.Errorf("sky = %+v", sky)
	}

	named, err := StoreSource{Store: s, Location: "dark site"}.Load()
	if err != nil {
		t.Fatal(err)
	}
	if named.Observer.ElevationM != 1200 {
		t.Errorf("named location elevation = %v, want 1200", named.Observer.ElevationM)
	}

	if _, err := (StoreSource{Store: s, Location: "Nowhere"}).Load(); err == nil {
		t.Error("expected error for unknown default location")
	}

	v := StoreSource{Store: s}.Version()
	if err := s.Objects.Delete("M42"); err != nil {
		t.Fatal(err)
	}
	if (StoreSource{Store: s}).Version() == v {
		t.Error("version unchanged after object delete")
	}
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

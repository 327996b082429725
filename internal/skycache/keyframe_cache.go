// Package skycache keeps precomputed alt-az positions of every catalog
// object at the default location for a rolling window [now, now+horizon].
//
// A background worker generates the keyframe at the leading edge each step
// and evicts expired ones from the trailing edge. When the object catalog or
// the location table changes, the whole window is rebuilt while the old
// keyframes keep serving reads, then swapped in one step.
package skycache

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/star/aplab/internal/metrics"
	"github.com/star/aplab/internal/transform"
)

// Config holds sky cache configuration.
type Config struct {
	Step    time.Duration // keyframe interval (default 60s)
	Horizon time.Duration // how far ahead to cache (default 1h)
	Buffer  time.Duration // keep entries this long past expiration (default 2m)
}

// ObjectPosition is one object's place in the sky in a keyframe.
type ObjectPosition struct {
	Name        string  `json:"name"`
	Type        string  `json:"type,omitempty"`
	Magnitude   float64 `json:"magnitude"`
	AltitudeDeg float64 `json:"altitude_deg"`
	AzimuthDeg  float64 `json:"azimuth_deg"`
}

// Keyframe holds the positions of all objects at one instant.
type Keyframe struct {
	Timestamp time.Time
	Location  string
	Objects   []ObjectPosition
}

// entry wraps a keyframe with generation metadata.
type entry struct {
	keyframe    *Keyframe
	generatedAt time.Time
}

// KeyframeCache is an in-memory cache of sky keyframes with a rolling
// window. Safe for concurrent use.
type KeyframeCache struct {
	mu      sync.RWMutex
	entries map[time.Time]*entry

	config Config
	source Source
	logger *slog.Logger
	now    func() time.Time

	// Sky and source version the current entries were built from.
	current      atomic.Pointer[skyState]
	builtVersion atomic.Uint64

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	inCutover atomic.Bool
}

// NewKeyframeCache creates a sky cache fed by source.
func NewKeyframeCache(config Config, source Source, logger *slog.Logger) *KeyframeCache {
	if config.Step <= 0 {
		config.Step = time.Minute
	}
	if config.Horizon <= 0 {
		config.Horizon = time.Hour
	}
	if config.Buffer < 0 {
		config.Buffer = 0
	}
	logger.Info("sky cache initialized",
		"component", "skycache",
		"step_seconds", config.Step.Seconds(),
		"horizon_seconds", config.Horizon.Seconds(),
		"buffer_seconds", config.Buffer.Seconds(),
	)

	return &KeyframeCache{
		entries: make(map[time.Time]*entry),
		config:  config,
		source:  source,
		logger:  logger.With("component", "skycache"),
		now:     time.Now,
	}
}

// RoundToStep rounds a timestamp down to the nearest step boundary.
func (c *KeyframeCache) RoundToStep(t time.Time) time.Time {
	return t.UTC().Truncate(c.config.Step)
}

// Get returns the keyframe for the step containing t, or nil.
func (c *KeyframeCache) Get(t time.Time) *Keyframe {
	key := c.RoundToStep(t)

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if ok {
		c.hits.Add(1)
		metrics.IncSkyCacheHits()
		return e.keyframe
	}

	c.misses.Add(1)
	metrics.IncSkyCacheMisses()
	return nil
}

// GetLatest returns the keyframe closest to (but not after) now.
func (c *KeyframeCache) GetLatest() *Keyframe {
	now := c.RoundToStep(c.now())

	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := 0; i < 10; i++ {
		key := now.Add(-time.Duration(i) * c.config.Step)
		if e, ok := c.entries[key]; ok {
			c.hits.Add(1)
			metrics.IncSkyCacheHits()
			return e.keyframe
		}
	}

	c.misses.Add(1)
	metrics.IncSkyCacheMisses()
	return nil
}

// Now returns the objects of the latest keyframe at or above minAlt,
// highest first, together with the keyframe time. ok is false when the
// cache has nothing for the current time.
func (c *KeyframeCache) Now(minAlt float64) (ts time.Time, location string, objs []ObjectPosition, ok bool) {
	kf := c.GetLatest()
	if kf == nil {
		return time.Time{}, "", nil, false
	}
	for _, o := range kf.Objects {
		if o.AltitudeDeg >= minAlt {
			objs = append(objs, o)
		}
	}
	sort.SliceStable(objs, func(i, j int) bool {
		return objs[i].AltitudeDeg > objs[j].AltitudeDeg
	})
	return kf.Timestamp, kf.Location, objs, true
}

func (c *KeyframeCache) put(kf *Keyframe) {
	key := c.RoundToStep(kf.Timestamp)

	c.mu.Lock()
	c.entries[key] = &entry{keyframe: kf, generatedAt: c.now()}
	c.mu.Unlock()

	c.updateMetrics()
}

// evictExpired removes entries older than now - buffer.
func (c *KeyframeCache) evictExpired() int {
	cutoff := c.now().Add(-c.config.Buffer)
	var removed int

	c.mu.Lock()
	for ts := range c.entries {
		if ts.Before(cutoff) {
			delete(c.entries, ts)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.evictions.Add(int64(removed))
		metrics.AddSkyCacheEvictions(removed)
		c.updateMetrics()
		c.logger.Debug("cache eviction", "entries_removed", removed)
	}
	return removed
}

// replaceAll swaps in a rebuilt window.
func (c *KeyframeCache) replaceAll(next map[time.Time]*entry) {
	c.mu.Lock()
	c.entries = next
	c.mu.Unlock()
	c.updateMetrics()
}

// Stats holds cache statistics, served at GET /api/v1/sky/cache.
type Stats struct {
	Entries         int       `json:"entries"`
	Objects         int       `json:"objects"`
	OldestTimestamp time.Time `json:"oldest_timestamp"`
	NewestTimestamp time.Time `json:"newest_timestamp"`
	Hits            int64     `json:"hits"`
	Misses          int64     `json:"misses"`
	Evictions       int64     `json:"evictions"`
	InCutover       bool      `json:"in_cutover"`
	SourceVersion   uint64    `json:"source_version"`
}

// Stats returns current cache statistics.
func (c *KeyframeCache) Stats() Stats {
	c.mu.RLock()
	s := Stats{Entries: len(c.entries)}
	for ts, e := range c.entries {
		if s.OldestTimestamp.IsZero() || ts.Before(s.OldestTimestamp) {
			s.OldestTimestamp = ts
		}
		if s.NewestTimestamp.IsZero() || ts.After(s.NewestTimestamp) {
			s.NewestTimestamp = ts
			s.Objects = len(e.keyframe.Objects)
		}
	}
	c.mu.RUnlock()

	s.Hits = c.hits.Load()
	s.Misses = c.misses.Load()
	s.Evictions = c.evictions.Load()
	s.InCutover = c.inCutover.Load()
	s.SourceVersion = c.builtVersion.Load()
	return s
}

func (c *KeyframeCache) updateMetrics() {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	metrics.SetSkyCacheEntries(n)
}

// frame computes one keyframe from a loaded sky.
func frame(sky Sky, t time.Time) *Keyframe {
	eqs := make([]transform.Equatorial, len(sky.Objects))
	for i, o := range sky.Objects {
		eqs[i] = o.Eq
	}
	hs := transform.BatchHorizontal(sky.Observer, eqs, t)

	kf := &Keyframe{
		Timestamp: t,
		Location:  sky.Location,
		Objects:   make([]ObjectPosition, len(hs)),
	}
	for i, h := range hs {
		o := sky.Objects[i]
		kf.Objects[i] = ObjectPosition{
			Name:        o.Name,
			Type:        o.Type,
			Magnitude:   o.Magnitude,
			AltitudeDeg: h.AltitudeDeg,
			AzimuthDeg:  h.AzimuthDeg,
		}
	}
	return kf
}

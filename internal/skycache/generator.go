package skycache

import (
	"context"
	"errors"
	"time"

	"github.com/star/aplab/internal/metrics"
)

// skyState is the snapshot the current entries were generated from.
type skyState struct {
	sky     Sky
	version uint64
}

// Start begins the background maintenance loop. It waits until the source
// has objects and a location, fills the full [now, now+horizon] window,
// then on every step:
//   - rebuilds the window if the source version changed
//   - generates the keyframe at the leading edge
//   - evicts expired entries from the trailing edge
//
// Blocks until ctx is cancelled.
func (c *KeyframeCache) Start(ctx context.Context) {
	if !c.waitForSky(ctx) {
		return
	}

	c.warmup(ctx)

	ticker := time.NewTicker(c.config.Step)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("sky cache generator stopped")
			return
		case <-ticker.C:
			c.tick(ctx)
		}
	}
}

// waitForSky blocks until the source loads, checking every second.
// Returns false if ctx is cancelled.
func (c *KeyframeCache) waitForSky(ctx context.Context) bool {
	if _, err := c.source.Load(); err == nil {
		return true
	} else if !errors.Is(err, ErrNoSky) {
		c.logger.Warn("sky source not usable yet", "error", err)
	}

	c.logger.Info("sky cache waiting for objects and a location")
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			if _, err := c.source.Load(); err == nil {
				c.logger.Info("sky data available, starting cache warmup")
				return true
			}
		}
	}
}

// load snapshots the source. The version is read first so that a change
// racing with the load is picked up on the next tick.
func (c *KeyframeCache) load() (*skyState, error) {
	v := c.source.Version()
	sky, err := c.source.Load()
	if err != nil {
		return nil, err
	}
	return &skyState{sky: sky, version: v}, nil
}

// build computes every keyframe of the window starting at now.
func (c *KeyframeCache) build(ctx context.Context, st *skyState) (map[time.Time]*entry, bool) {
	now := c.RoundToStep(c.now())
	numFrames := int(c.config.Horizon/c.config.Step) + 1

	out := make(map[time.Time]*entry, numFrames)
	for i := 0; i < numFrames; i++ {
		if ctx.Err() != nil {
			return nil, false
		}
		ts := now.Add(time.Duration(i) * c.config.Step)
		out[ts] = &entry{keyframe: frame(st.sky, ts), generatedAt: c.now()}
	}
	return out, true
}

// warmup fills the cache for [now, now+horizon].
func (c *KeyframeCache) warmup(ctx context.Context) {
	st, err := c.load()
	if err != nil {
		c.logger.Warn("warmup load failed", "error", err)
		metrics.IncSkyCacheRegenErrors()
		return
	}

	start := time.Now()
	entries, ok := c.build(ctx, st)
	if !ok {
		return
	}
	c.replaceAll(entries)
	c.current.Store(st)
	c.builtVersion.Store(st.version)

	c.logger.Info("sky cache warmup complete",
		"frames", len(entries),
		"objects", len(st.sky.Objects),
		"location", st.sky.Location,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// tick runs one iteration of the maintenance loop.
func (c *KeyframeCache) tick(ctx context.Context) {
	if c.skyChanged() {
		c.performCutover(ctx)
		return
	}
	c.generateLeadingEdge()
	c.evictExpired()
}

// generateLeadingEdge generates the keyframe at the leading edge of the window.
func (c *KeyframeCache) generateLeadingEdge() {
	st := c.current.Load()
	if st == nil {
		return
	}
	target := c.RoundToStep(c.now().Add(c.config.Horizon))

	c.mu.RLock()
	_, cached := c.entries[target]
	c.mu.RUnlock()
	if cached {
		return
	}

	start := time.Now()
	c.put(frame(st.sky, target))
	duration := time.Since(start)
	metrics.ObserveSkyCacheRegeneration(duration)

	c.logger.Debug("leading edge generated",
		"timestamp", target.Format(time.RFC3339),
		"duration_ms", duration.Milliseconds(),
	)
}

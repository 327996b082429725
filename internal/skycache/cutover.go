package skycache

import (
	"context"
	"time"

	"github.com/star/aplab/internal/metrics"
)

// skyChanged reports whether the objects or locations were republished
// since the cache was last built.
func (c *KeyframeCache) skyChanged() bool {
	return c.source.Version() != c.builtVersion.Load()
}

// performCutover rebuilds the whole window from the current source.
//
//  1. Set the cutover flag (old entries continue serving reads)
//  2. Build a new entries map
//  3. Swap it in
//  4. Clear the flag
//
// If the source no longer loads (e.g. the default location was deleted),
// the old entries stay and the version is recorded so the failure is not
// retried every step.
func (c *KeyframeCache) performCutover(ctx context.Context) {
	c.logger.Info("sky cutover starting",
		"old_version", c.builtVersion.Load(),
		"new_version", c.source.Version(),
	)

	c.inCutover.Store(true)
	metrics.SetSkyCacheCutoverActive(true)
	defer func() {
		c.inCutover.Store(false)
		metrics.SetSkyCacheCutoverActive(false)
	}()

	st, err := c.load()
	if err != nil {
		c.logger.Warn("sky cutover load failed, keeping old keyframes", "error", err)
		metrics.IncSkyCacheRegenErrors()
		c.builtVersion.Store(c.source.Version())
		return
	}

	start := time.Now()
	entries, ok := c.build(ctx, st)
	if !ok {
		c.logger.Warn("sky cutover cancelled by context")
		return
	}

	c.replaceAll(entries)
	c.current.Store(st)
	c.builtVersion.Store(st.version)

	duration := time.Since(start)
	c.logger.Info("sky cutover complete",
		"duration_ms", duration.Milliseconds(),
		"entries_replaced", len(entries),
		"objects", len(st.sky.Objects),
	)
	metrics.ObserveSkyCacheRegeneration(duration)
}

package visibility

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/star/aplab/internal/transform"
)

// Target is a named sky position.
type Target struct {
	Name string
	Eq   transform.Equatorial
}

// TargetEvents holds the events for one target of a batch.
type TargetEvents struct {
	Name   string  `json:"name"`
	Events *Events `json:"events,omitempty"`
	Error  string  `json:"error,omitempty"`
}

// BatchEvents computes events for every target concurrently, at most
// runtime.NumCPU() at a time. Results keep the order of targets; targets
// not reached before ctx is cancelled carry an error.
func BatchEvents(ctx context.Context, targets []Target, obs transform.Observer, start time.Time, minAlt float64) []TargetEvents {
	results := make([]TargetEvents, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i, tg := range targets {
		results[i].Name = tg.Name
		if gctx.Err() != nil {
			results[i].Error = "cancelled"
			continue
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				results[i].Error = "cancelled"
				return nil
			}
			ev := FindEvents(tg.Eq, obs, start, minAlt)
			results[i].Events = &ev
			return nil
		})
	}

	g.Wait()
	return results
}

// BatchCurves computes altitude curves for every target concurrently.
// The first error cancels the rest.
func BatchCurves(ctx context.Context, targets []Target, obs transform.Observer, start, end time.Time, step time.Duration, minAlt float64) ([]Curve, error) {
	curves := make([]Curve, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for i, tg := range targets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			c, err := AltitudeCurve(tg.Eq, obs, start, end, step, minAlt)
			if err != nil {
				return err
			}
			curves[i] = c
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return curves, nil
}

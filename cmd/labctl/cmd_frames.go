package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/star/aplab/internal/analyzer"
	"github.com/star/aplab/internal/solver"
)

func (a *app) analyzeCmd() *cobra.Command {
	var (
		paths                   map[string]*string
		gain, darkExp, lightExp float64
		crop                    float64
	)
	paths = map[string]*string{}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Measure gain, read noise, dark current and sky flux from frames",
		Long: `Loads 16-bit PNG or TIFF frames and runs every measurement they allow:

  two bias + two flats     photon transfer gain and read noise
  dark + bias + exposure   dark current
  light (+ dark or bias)   sky flux

Example:
  labctl analyze --bias1 b1.tif --bias2 b2.tif --flat1 f1.tif --flat2 f2.tif`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := analyzer.Request{Gain: gain, DarkExposure: darkExp, LightExposure: lightExp}
			dst := map[string]**analyzer.Frame{
				"bias1": &req.Bias1, "bias2": &req.Bias2,
				"flat1": &req.Flat1, "flat2": &req.Flat2,
				"dark": &req.Dark, "light": &req.Light,
			}
			for name, p := range paths {
				if *p == "" {
					continue
				}
				f, err := analyzer.Load(*p, crop)
				if err != nil {
					return fmt.Errorf("%s: %w", name, err)
				}
				*dst[name] = f
			}
			rep, err := analyzer.Analyze(req)
			if err != nil {
				return err
			}
			return printJSON(cmd, rep)
		},
	}
	for _, name := range []string{"bias1", "bias2", "flat1", "flat2", "dark", "light"} {
		paths[name] = cmd.Flags().String(name, "", name+" frame")
	}
	cmd.Flags().Float64Var(&gain, "gain", 0, "e-/ADU when no photon transfer pair is given")
	cmd.Flags().Float64Var(&darkExp, "dark-exposure", 0, "dark frame exposure in seconds")
	cmd.Flags().Float64Var(&lightExp, "light-exposure", 0, "light frame exposure in seconds")
	cmd.Flags().Float64Var(&crop, "crop", 0, "centered crop fraction (0 keeps the full frame)")
	return cmd
}

func (a *app) solveCmd() *cobra.Command {
	var (
		hints   solver.Hints
		ra, dec float64
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "solve IMAGE",
		Short: "Plate solve an image with the configured solver",
		Long: `Copies IMAGE into the solver work dir, runs the configured solver command
and prints the solution. --ra and --dec narrow the search; give both.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("ra") {
				hints.RAHours = &ra
			}
			if cmd.Flags().Changed("dec") {
				hints.DecDeg = &dec
			}
			cfg := a.cfg.Solver.Config()
			cfg.Workers = 1
			if timeout > 0 {
				cfg.Timeout = timeout
			}
			mgr, err := solver.NewManager(cfg, a.logger)
			if err != nil {
				return err
			}

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			job, err := mgr.SubmitUpload(filepath.Base(args[0]), f, hints)
			f.Close()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			done := make(chan struct{})
			go func() {
				defer close(done)
				mgr.Run(ctx)
			}()
			defer func() {
				cancel()
				<-done
			}()

			updates, stop, err := mgr.Subscribe(job.ID)
			if err != nil {
				return err
			}
			defer stop()
			for j := range updates {
				a.logger.Info("solve job", "job_id", j.ID, "state", j.State)
				job = j
			}
			if err := printJSON(cmd, job); err != nil {
				return err
			}
			if job.State != solver.Solved {
				return fmt.Errorf("solve %s: %s", job.State, job.Error)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&ra, "ra", 0, "RA hint in hours")
	cmd.Flags().Float64Var(&dec, "dec", 0, "Dec hint in degrees")
	cmd.Flags().Float64Var(&hints.RadiusDeg, "radius", 0, "search radius in degrees around the hint")
	cmd.Flags().Float64Var(&hints.FOVDeg, "fov", 0, "field of view in degrees (0 lets the solver guess)")
	cmd.Flags().IntVar(&hints.Downsample, "downsample", 0, "downsample factor (0 for auto)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-job timeout (default from config)")
	return cmd
}

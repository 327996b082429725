package main

import (
	"context"
	"image"
	"os"

	"github.com/spf13/cobra"

	"github.com/star/aplab/internal/api"
	"github.com/star/aplab/internal/optics"
	"github.com/star/aplab/internal/sensor"
	"github.com/star/aplab/internal/sweep"
	"github.com/star/aplab/internal/synth"
)

func (a *app) calcCmd() *cobra.Command {
	var (
		input, preset, camera string
		gainIndex             int
	)
	cmd := &cobra.Command{
		Use:   "calc",
		Short: "Evaluate the noise model from measured ADU levels",
		Long: `Reads a calculator request (the /api/v1/calculate body) from --file and
completes it from --preset and --camera. Fields set in the file win.

Example:
  labctl calc --preset Andromeda
  echo '{"sky_level": 800}' | labctl calc -f - --preset Andromeda`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req api.CalcRequest
			if err := readInput(cmd, input, &req); err != nil {
				return err
			}
			if preset != "" {
				req.Preset = preset
			}
			if camera != "" {
				req.Camera = camera
			}
			if cmd.Flags().Changed("gain-index") {
				req.GainIndex = &gainIndex
			}
			in, err := a.resolver().Calc(req)
			if err != nil {
				return err
			}
			res, err := sensor.Calculate(in)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVarP(&input, "file", "f", "", "request JSON file, - for stdin")
	cmd.Flags().StringVar(&preset, "preset", "", "saved preset name")
	cmd.Flags().StringVar(&camera, "camera", "", "camera name")
	cmd.Flags().IntVar(&gainIndex, "gain-index", 0, "camera gain setting")
	return cmd
}

func (a *app) simCmd() *cobra.Command {
	var (
		input, camera string
		gainIndex     int
	)
	cmd := &cobra.Command{
		Use:   "sim",
		Short: "Evaluate the noise model from electron fluxes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req api.SimRequest
			if err := readInput(cmd, input, &req); err != nil {
				return err
			}
			if camera != "" {
				req.Camera = camera
				req.GainIndex = gainIndex
			}
			in, err := a.resolver().Sim(req)
			if err != nil {
				return err
			}
			res, err := sensor.Simulate(in)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVarP(&input, "file", "f", "-", "request JSON file, - for stdin")
	cmd.Flags().StringVar(&camera, "camera", "", "camera name")
	cmd.Flags().IntVar(&gainIndex, "gain-index", 0, "camera gain setting")
	return cmd
}

func (a *app) fovCmd() *cobra.Command {
	var (
		camera, telescope string
		multiplier, seeing float64
	)
	cmd := &cobra.Command{
		Use:   "fov",
		Short: "Compute pixel scale, field of view and resolution limits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := a.resolver().Optics(api.FOVRequest{
				Input:     optics.Input{Multiplier: multiplier, SeeingArcsec: seeing},
				Camera:    camera,
				Telescope: telescope,
			})
			if err != nil {
				return err
			}
			res, err := optics.Compute(in)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	cmd.Flags().StringVar(&camera, "camera", "", "camera name (required)")
	cmd.Flags().StringVar(&telescope, "telescope", "", "telescope name (required)")
	cmd.Flags().Float64Var(&multiplier, "multiplier", 1, "barlow or reducer factor")
	cmd.Flags().Float64Var(&seeing, "seeing", 0, "seeing FWHM in arcsec, enables the sampling verdict")
	cmd.MarkFlagRequired("camera")
	cmd.MarkFlagRequired("telescope")
	return cmd
}

func (a *app) sweepCmd() *cobra.Command {
	var (
		input, output string
		asJSON        bool
	)
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Plot one model output against a swept input",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req sweep.Request
			if err := readInput(cmd, input, &req); err != nil {
				return err
			}
			res, err := sweep.Run(context.Background(), req)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, res)
			}
			data, err := sweep.ChartPNG(res)
			if err != nil {
				return err
			}
			return writeFile(cmd, output, data)
		},
	}
	cmd.Flags().StringVarP(&input, "file", "f", "-", "sweep request JSON file, - for stdin")
	cmd.Flags().StringVarP(&output, "out", "o", "sweep.png", "output PNG, - for stdout")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the curves instead of plotting")
	return cmd
}

func (a *app) synthCmd() *cobra.Command {
	var input, template, output string
	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Render a synthetic stacked image",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req synth.Request
			if err := readInput(cmd, input, &req); err != nil {
				return err
			}
			var tmpl image.Image
			if template != "" {
				f, err := os.Open(template)
				if err != nil {
					return err
				}
				tmpl, err = synth.DecodeTemplate(f)
				f.Close()
				if err != nil {
					return err
				}
			}
			data, err := synth.Render(req, tmpl)
			if err != nil {
				return err
			}
			return writeFile(cmd, output, data)
		},
	}
	cmd.Flags().StringVarP(&input, "file", "f", "-", "synth request JSON file, - for stdin")
	cmd.Flags().StringVar(&template, "template", "", "grayscale image shaping the target")
	cmd.Flags().StringVarP(&output, "out", "o", "synth.png", "output PNG, - for stdout")
	return cmd
}

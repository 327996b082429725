package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/star/aplab/internal/store"
	"github.com/star/aplab/internal/transform"
	"github.com/star/aplab/internal/visibility"
)

// skyFlags are shared by the object and altitude commands.
type skyFlags struct {
	location string
	date     string
	minAlt   float64
}

func (f *skyFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.location, "location", "", "location name (default from config, then the first saved)")
	cmd.Flags().StringVar(&f.date, "date", "", "night to evaluate, YYYY-MM-DD (default today)")
	cmd.Flags().Float64Var(&f.minAlt, "min-alt", 0, "altitude threshold in degrees")
}

func (a *app) objectAndLocation(name string, f *skyFlags) (store.Object, store.Location, error) {
	obj, err := a.resolver().Object(name)
	if err != nil {
		return obj, store.Location{}, err
	}
	loc := f.location
	if loc == "" {
		loc = a.cfg.Sky.Location
	}
	l, err := a.resolver().Location(loc)
	return obj, l, err
}

func (f *skyFlags) nightStart(loc store.Location) (time.Time, error) {
	date := time.Now().UTC()
	if f.date != "" {
		d, err := time.Parse(time.DateOnly, f.date)
		if err != nil {
			return time.Time{}, fmt.Errorf("--date must be YYYY-MM-DD: %w", err)
		}
		date = d
	}
	return visibility.NightStart(date, loc.LonDeg), nil
}

func (a *app) objectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "object",
		Short: "Object position and rise/transit/set",
	}

	var (
		pf skyFlags
		at string
	)
	position := &cobra.Command{
		Use:   "position NAME",
		Short: "Altitude and azimuth of an object at one instant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			obj, loc, err := a.objectAndLocation(args[0], &pf)
			if err != nil {
				return err
			}
			t := time.Now().UTC()
			if at != "" {
				if t, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("--time must be RFC 3339: %w", err)
				}
			}
			p := visibility.PositionAt(obj.Equatorial(), loc.Observer(), t)
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "object\t%s\n", obj.Name)
			fmt.Fprintf(w, "location\t%s\n", loc.Name)
			fmt.Fprintf(w, "time\t%s\n", p.Time.Format(time.RFC3339))
			fmt.Fprintf(w, "ra / dec\t%s %s\n", transform.FormatRA(obj.RAHours), transform.FormatDec(obj.DecDeg))
			fmt.Fprintf(w, "altitude\t%.2f°\n", p.AltitudeDeg)
			fmt.Fprintf(w, "azimuth\t%.2f°\n", p.AzimuthDeg)
			fmt.Fprintf(w, "hour angle\t%.3fh\n", p.HourAngleHours)
			return w.Flush()
		},
	}
	pf.register(position)
	position.Flags().StringVar(&at, "time", "", "RFC 3339 instant (default now)")

	var ef skyFlags
	events := &cobra.Command{
		Use:   "events NAME [NAME...]",
		Short: "Rise, transit and set within the night window",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc := ef.location
			if loc == "" {
				loc = a.cfg.Sky.Location
			}
			l, err := a.resolver().Location(loc)
			if err != nil {
				return err
			}
			start, err := ef.nightStart(l)
			if err != nil {
				return err
			}
			targets := make([]visibility.Target, 0, len(args))
			for _, name := range args {
				obj, err := a.resolver().Object(name)
				if err != nil {
					return err
				}
				targets = append(targets, visibility.Target{Name: obj.Name, Eq: obj.Equatorial()})
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "object\trise\ttransit\tmax alt\tset\n")
			for _, te := range visibility.BatchEvents(cmd.Context(), targets, l.Observer(), start, ef.minAlt) {
				if te.Error != "" {
					fmt.Fprintf(w, "%s\t%s\n", te.Name, te.Error)
					continue
				}
				ev := te.Events
				rise, set := clock(ev.Rise), clock(ev.Set)
				switch {
				case ev.Circumpolar:
					rise, set = "up all night", "-"
				case ev.NeverRises:
					rise, set = "never rises", "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%.1f°\t%s\n", te.Name, rise, ev.Transit.Format("15:04"), ev.MaxAltitude, set)
			}
			fmt.Fprintf(w, "\nwindow starts %s at %s, threshold %.1f°\n", start.Format(time.RFC3339), l.Name, ef.minAlt)
			return w.Flush()
		},
	}
	ef.register(events)

	cmd.AddCommand(position, events)
	return cmd
}

// clock formats an optional UTC instant as HH:MM.
func clock(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("15:04")
}

func (a *app) altitudeCmd() *cobra.Command {
	var (
		f      skyFlags
		step   time.Duration
		output string
	)
	cmd := &cobra.Command{
		Use:   "altitude NAME [NAME...]",
		Short: "Plot altitude curves over one night",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if step < time.Minute {
				return fmt.Errorf("--step must be at least 1m")
			}
			loc := f.location
			if loc == "" {
				loc = a.cfg.Sky.Location
			}
			l, err := a.resolver().Location(loc)
			if err != nil {
				return err
			}
			start, err := f.nightStart(l)
			if err != nil {
				return err
			}

			targets := make([]visibility.Target, 0, len(args))
			names := make([]string, 0, len(args))
			for _, name := range args {
				obj, err := a.resolver().Object(name)
				if err != nil {
					return err
				}
				targets = append(targets, visibility.Target{Name: obj.Name, Eq: obj.Equatorial()})
				names = append(names, obj.Name)
			}
			curves, err := visibility.BatchCurves(cmd.Context(), targets, l.Observer(), start, start.Add(24*time.Hour), step, f.minAlt)
			if err != nil {
				return err
			}
			title := fmt.Sprintf("%s from %s, night of %s", strings.Join(names, ", "), l.Name, start.Format(time.DateOnly))
			data, err := visibility.ChartPNG(title, names, curves)
			if err != nil {
				return err
			}
			return writeFile(cmd, output, data)
		},
	}
	f.register(cmd)
	cmd.Flags().DurationVar(&step, "step", visibility.DefaultCurveStep, "sample spacing")
	cmd.Flags().StringVarP(&output, "out", "o", "altitude.png", "output PNG, - for stdout")
	return cmd
}

func (a *app) listCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:       "list {cameras|telescopes|locations|objects|presets}",
		Short:     "List saved records",
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"cameras", "telescopes", "locations", "objects", "presets"},
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				items any
				rows  [][]string
			)
			switch args[0] {
			case "cameras":
				cams := a.store.Cameras.List()
				items = cams
				for _, c := range cams {
					rows = append(rows, []string{c.Name, c.Type, c.Color, fmt.Sprintf("%gµm %dx%d", c.PixelSizeUM, c.HRes, c.VRes)})
				}
			case "telescopes":
				tels := a.store.Telescopes.List()
				items = tels
				for _, t := range tels {
					rows = append(rows, []string{t.Name, fmt.Sprintf("%gmm", t.ApertureMM), fmt.Sprintf("f=%gmm", t.FocalLengthMM)})
				}
			case "locations":
				locs := a.store.Locations.List()
				items = locs
				for _, l := range locs {
					rows = append(rows, []string{l.Name, fmt.Sprintf("%.4f", l.LatDeg), fmt.Sprintf("%.4f", l.LonDeg), fmt.Sprintf("%gm", l.ElevationM)})
				}
			case "objects":
				objs := a.store.Objects.List()
				items = objs
				for _, o := range objs {
					rows = append(rows, []string{o.Name, o.Type, transform.FormatRA(o.RAHours), transform.FormatDec(o.DecDeg)})
				}
			case "presets":
				ps := a.store.Presets.List()
				items = ps
				for _, p := range ps {
					rows = append(rows, []string{p.Name, p.Camera, fmt.Sprintf("%gs x%d", p.ExposureS, p.SubCount)})
				}
			}
			if asJSON {
				return printJSON(cmd, items)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, r := range rows {
				fmt.Fprintln(w, strings.Join(r, "\t"))
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	return cmd
}

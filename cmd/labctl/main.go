// Command labctl runs the lab's calculators against a data directory without
// starting the HTTP service.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/star/aplab/internal/api"
	"github.com/star/aplab/internal/config"
	"github.com/star/aplab/internal/store"
)

// app is the state shared by all subcommands.
type app struct {
	dataDir  string
	logLevel string

	cfg    config.Config
	logger *slog.Logger
	store  *store.Store
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "labctl",
		Short: "Astrophotography lab calculators",
		Long: `labctl evaluates sensor noise, field of view, object visibility and
frame measurements using the cameras, telescopes, locations, objects and
presets stored in the data directory.

Configuration is read from $APLAB_CONFIG and APLAB_* variables, like the
service; --data overrides the data directory.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.dataDir, "data", "", "data directory (default from config)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "warn", "log level: debug, info, warn, error")

	root.AddCommand(
		a.calcCmd(),
		a.simCmd(),
		a.fovCmd(),
		a.sweepCmd(),
		a.synthCmd(),
		a.objectCmd(),
		a.altitudeCmd(),
		a.listCmd(),
		a.analyzeCmd(),
		a.solveCmd(),
	)
	return root
}

func (a *app) init(cmd *cobra.Command) error {
	level, err := config.ParseLevel(a.logLevel)
	if err != nil {
		return err
	}
	a.logger = slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	a.cfg, err = config.Load(os.Getenv(config.EnvFile), a.logger)
	if err != nil {
		return err
	}
	if a.dataDir != "" {
		a.cfg.Data.Dir = a.dataDir
	}
	a.store, err = store.Open(a.cfg.Data.Dir, a.logger)
	if err != nil {
		return fmt.Errorf("opening data dir: %w", err)
	}
	return nil
}

func (a *app) resolver() api.Resolver { return api.Resolver{Store: a.store} }

// readInput decodes a JSON request from path, or stdin when path is "-".
// An empty path leaves v untouched.
func readInput(cmd *cobra.Command, path string, v any) error {
	if path == "" {
		return nil
	}
	var r io.Reader = cmd.InOrStdin()
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding %s: %w", path, err)
	}
	return nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// writeFile writes data to path, or stdout when path is "-".
func writeFile(cmd *cobra.Command, path string, data []byte) error {
	if path == "-" {
		_, err := cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%d bytes)\n", path, len(data))
	return nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

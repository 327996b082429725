package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/star/aplab/internal/api"
	"github.com/star/aplab/internal/config"
	"github.com/star/aplab/internal/health"
	"github.com/star/aplab/internal/skycache"
	"github.com/star/aplab/internal/solver"
	"github.com/star/aplab/internal/store"
	"github.com/star/aplab/internal/stream"
)

func main() {
	// Config warnings are logged before the configured level is known.
	boot := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg, err := config.Load(os.Getenv(config.EnvFile), boot)
	if err != nil {
		boot.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Server.Level(),
	}))
	slog.SetDefault(logger)

	ready := &health.Readiness{}

	st, err := store.Open(cfg.Data.Dir, logger)
	if err != nil {
		logger.Error("opening data dir", "dir", cfg.Data.Dir, "error", err)
		os.Exit(1)
	}
	logger.Info("data loaded",
		"dir", st.Dir(),
		"cameras", st.Cameras.Len(),
		"telescopes", st.Telescopes.Len(),
		"locations", st.Locations.Len(),
		"objects", st.Objects.Len(),
		"presets", st.Presets.Len(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	catalog := api.NewCatalog(cfg.Catalog.SourceURL, cfg.Catalog.CacheDir, cfg.Catalog.MaxFiles, logger)
	if catalog.Fetcher != nil && cfg.Catalog.FetchOnStart {
		go importCatalog(ctx, st, catalog, logger)
	}

	if cfg.Data.Watch {
		go func() {
			if err := st.Watch(ctx); err != nil {
				logger.Warn("data dir watch stopped", "error", err)
			}
		}()
	}

	sky := skycache.NewKeyframeCache(cfg.Sky.Config(), skycache.StoreSource{Store: st, Location: cfg.Sky.Location}, logger)
	go sky.Start(ctx)

	mgr, err := solver.NewManager(cfg.Solver.Config(), logger)
	if err != nil {
		logger.Error("creating solver", "error", err)
		os.Exit(1)
	}
	solverDone := make(chan struct{})
	go func() {
		defer close(solverDone)
		mgr.Run(ctx)
	}()

	streamHandler := stream.NewHandler(mgr, cfg.StreamConfig(), logger)

	srv := api.NewServer(cfg.Server.Addr, logger, cfg.Auth.Config(), api.Deps{
		Store:           st,
		Ready:           ready,
		Sky:             sky,
		Solver:          mgr,
		Stream:          streamHandler,
		Catalog:         catalog,
		ImagesDir:       cfg.Data.Images(),
		DefaultLocation: cfg.Sky.Location,
		MinAlt:          cfg.Sky.MinAlt,
		MaxUploadBytes:  cfg.Solver.MaxUploadBytes,
		TrustProxy:      cfg.Server.TrustProxy,
	})
	ready.SetReady(true)

	go func() {
		logger.Info("starting server",
			"addr", cfg.Server.Addr,
			"auth_enabled", cfg.Auth.Enabled,
			"data_dir", cfg.Data.Dir,
			"solver_command", cfg.Solver.Command,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server listen error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")
	ready.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.HTTPServer().Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	select {
	case <-solverDone:
	case <-shutdownCtx.Done():
		logger.Warn("solver workers did not stop in time")
	}
	logger.Info("server stopped")
}

// importCatalog merges the remote catalog, or the newest cached copy when
// the source is unreachable.
func importCatalog(ctx context.Context, st *store.Store, c *api.Catalog, logger *slog.Logger) {
	data, err := c.Fetcher.Fetch(ctx)
	if err == nil {
		if _, werr := c.Cache.Save(data, time.Now()); werr != nil {
			logger.Warn("catalog snapshot not saved", "error", werr)
		}
	} else {
		logger.Warn("catalog fetch failed, trying cache", "error", err)
		snap, cerr := c.Cache.Latest()
		if cerr != nil {
			logger.Info("no catalog snapshot found, keeping local objects", "error", cerr)
			return
		}
		logger.Info("using cached catalog", "fetched_at", snap.FetchedAt.Format(time.RFC3339), "objects", snap.Objects)
		data = snap.Data
	}

	added, existing, err := st.ImportCatalog(data)
	if err != nil {
		logger.Error("catalog import failed", "error", err)
		return
	}
	logger.Info("catalog imported", "added", added, "existing", existing)
}

// Package store keeps the named parameter sets (cameras, telescopes,
// locations, catalog objects, image-data presets) in flat comma-separated
// files. Each file is read whole into memory and rewritten whole on every
// edit.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Data file names inside the data directory.
const (
	CameraFile    = "cameradata.txt"
	TelescopeFile = "telescopedata.txt"
	LocationFile  = "locations.txt"
	ObjectFile    = "objectdata.txt"
	PresetFile    = "imagedata.txt"
)

// Store groups the tables that live in one data directory.
type Store struct {
	dir    string
	logger *slog.Logger

	Cameras    *Table[Camera]
	Telescopes *Table[Telescope]
	Locations  *Table[Location]
	Objects    *Table[Object]
	Presets    *Table[Preset]

	reloaders map[string]func() error
}

// Open creates a Store for dir and loads every data file. Missing files are
// treated as empty tables.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		dir:        dir,
		logger:     logger,
		Cameras:    newTable("cameras", dir, CameraFile, cameraCodec, logger),
		Telescopes: newTable("telescopes", dir, TelescopeFile, telescopeCodec, logger),
		Locations:  newTable("locations", dir, LocationFile, locationCodec, logger),
		Objects:    newTable("objects", dir, ObjectFile, objectCodec, logger),
		Presets:    newTable("presets", dir, PresetFile, presetCodec, logger),
	}
	s.reloaders = map[string]func() error{
		CameraFile:    s.Cameras.Reload,
		TelescopeFile: s.Telescopes.Reload,
		LocationFile:  s.Locations.Reload,
		ObjectFile:    s.Objects.Reload,
		PresetFile:    s.Presets.Reload,
	}

	if err := s.ReloadAll(); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the data directory.
func (s *Store) Dir() string { return s.dir }

// ReloadAll re-reads every data file.
func (s *Store) ReloadAll() error {
	for file, reload := range s.reloaders {
		if err := reload(); err != nil {
			return fmt.Errorf("loading %s: %w", file, err)
		}
	}
	return nil
}

// SkyVersion changes whenever objects or locations change.
func (s *Store) SkyVersion() uint64 {
	return s.Objects.Version()<<32 | s.Locations.Version()&0xffffffff
}

// watchDebounce collapses the burst of events an editor produces on save.
const watchDebounce = 200 * time.Millisecond

// Watch reloads a table when its file is changed by another program.
// Blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory, not the files: atomic renames replace the inode.
	if err := w.Add(s.dir); err != nil {
		return fmt.Errorf("watching %s: %w", s.dir, err)
	}
	s.logger.Info("watching data directory", "component", "store", "dir", s.dir)

	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			file := filepath.Base(ev.Name)
			reload, ok := s.reloaders[file]
			if !ok {
				continue
			}
			if t, ok := timers[file]; ok {
				t.Reset(watchDebounce)
				continue
			}
			timers[file] = time.AfterFunc(watchDebounce, func() {
				if err := reload(); err != nil {
					s.logger.Warn("reload after external edit failed", "component", "store", "file", file, "error", err)
				}
			})

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watcher error", "component", "store", "error", err)
		}
	}
}

package skycache

import (
	"errors"
	"fmt"

	"github.com/star/aplab/internal/store"
	"github.com/star/aplab/internal/transform"
)

// ErrNoSky is returned by a Source that has nothing to compute yet.
var ErrNoSky = errors.New("no objects or location available")

// Object is a catalog entry as the cache needs it.
type Object struct {
	Name      string
	Type      string
	Magnitude float64
	Eq        transform.Equatorial
}

// Sky is everything one keyframe is computed from.
type Sky struct {
	Location string
	Observer transform.Observer
	Objects  []Object
}

// Source supplies the sky and a version that changes whenever it does.
type Source interface {
	Version() uint64
	Load() (Sky, error)
}

// StoreSource reads objects and the named default location from a store.
// An empty Location uses the first location in the file.
type StoreSource struct {
	Store    *store.Store
	Location string
}

// Version changes when the object or location table is republished.
func (s StoreSource) Version() uint64 { return s.Store.SkyVersion() }

// Load snapshots the catalog and resolves the default location.
func (s StoreSource) Load() (Sky, error) {
	var loc store.Location
	if s.Location != "" {
		l, err := s.Store.Locations.Get(s.Location)
		if err != nil {
			return Sky{}, fmt.Errorf("default location: %w", err)
		}
		loc = l
	} else {
		locs := s.Store.Locations.List()
		if len(locs) == 0 {
			return Sky{}, ErrNoSky
		}
		loc = locs[0]
	}

	objs := s.Store.Objects.List()
	if len(objs) == 0 {
		return Sky{}, ErrNoSky
	}

	sky := Sky{
		Location: loc.Name,
		Observer: loc.Observer(),
		Objects:  make([]Object, len(objs)),
	}
	for i, o := range objs {
		sky.Objects[i] = Object{Name: o.Name, Type: o.Type, Magnitude: o.Magnitude, Eq: o.Equatorial()}
	}
	return sky, nil
}

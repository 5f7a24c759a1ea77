// Package reffile serves reference geometries and elevation from local files
// for deployments without network access to OSM or a DEM service.
package reffile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
	"github.com/couchcryptid/wildlife-risk-engine/internal/features"
)

// referenceFile is the on-disk layout: each layer is a list of paths, each
// path a list of [lat, lng] vertices. A one-vertex path is a point.
type referenceFile struct {
	Water       [][][2]float64 `json:"water"`
	Roads       [][][2]float64 `json:"roads"`
	Settlements [][][2]float64 `json:"settlements"`
}

type layer struct {
	path   features.Path
	bounds domain.Bounds
}

// References implements features.ReferenceSource over a static set loaded once.
type References struct {
	water, roads, settlements []layer
}

// LoadReferences reads a reference file.
func LoadReferences(path string) (*References, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open references: %w", err)
	}
	defer f.Close()

	var raw referenceFile
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode references %s: %w", path, err)
	}

	r := &References{}
	for _, l := range []struct {
		name string
		in   [][][2]float64
		out  *[]layer
	}{
		{"water", raw.Water, &r.water},
		{"roads", raw.Roads, &r.roads},
		{"settlements", raw.Settlements, &r.settlements},
	} {
		layers, err := toLayers(l.in)
		if err != nil {
			return nil, fmt.Errorf("references %s: %s: %w", path, l.name, err)
		}
		*l.out = layers
	}
	return r, nil
}

func toLayers(paths [][][2]float64) ([]layer, error) {
	out := make([]layer, 0, len(paths))
	for i, raw := range paths {
		if len(raw) == 0 {
			return nil, fmt.Errorf("path %d is empty", i)
		}
		p := make(features.Path, len(raw))
		for j, v := range raw {
			ll := domain.LatLng{Lat: v[0], Lng: v[1]}
			if !ll.Valid() {
				return nil, fmt.Errorf("path %d vertex %d %v is not a valid [lat, lng]", i, j, v)
			}
			p[j] = ll
		}
		out = append(out, layer{path: p, bounds: domain.BoundsOf(p)})
	}
	return out, nil
}

// References returns the paths whose bounding box intersects bounds.
func (r *References) References(_ context.Context, bounds domain.Bounds) (features.ReferenceSet, error) {
	return features.ReferenceSet{
		Water:       intersecting(r.water, bounds),
		Roads:       intersecting(r.roads, bounds),
		Settlements: intersecting(r.settlements, bounds),
	}, nil
}

func intersecting(layers []layer, b domain.Bounds) []features.Path {
	var out []features.Path
	for _, l := range layers {
		if l.bounds.SouthWest.Lat > b.NorthEast.Lat || l.bounds.NorthEast.Lat < b.SouthWest.Lat ||
			l.bounds.SouthWest.Lng > b.NorthEast.Lng || l.bounds.NorthEast.Lng < b.SouthWest.Lng {
			continue
		}
		out = append(out, l.path)
	}
	return out
}

package reffile

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
	"github.com/couchcryptid/wildlife-risk-engine/internal/features"
)

// ErrOutsideDEM is returned for points the grid does not cover.
var ErrOutsideDEM = errors.New("point outside elevation grid")

// DEM implements features.TerrainSource over a regular lat/lng elevation
// grid. Elevation is the nearest node; slope is the central-difference
// gradient around it, in degrees.
type DEM struct {
	lats, lngs []float64 // ascending
	elev       *mat.Dense
}

// LoadDEM reads a CSV with a lat,lng,elevation header. The points must form a
// complete regular grid; row order is free.
func LoadDEM(path string) (*DEM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open dem: %w", err)
	}
	defer f.Close()

	d, err := ReadDEM(f)
	if err != nil {
		return nil, fmt.Errorf("dem %s: %w", path, err)
	}
	return d, nil
}

// ReadDEM parses the CSV form described by LoadDEM.
func ReadDEM(r io.Reader) (*DEM, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if header[0] != "lat" || header[1] != "lng" || header[2] != "elevation" {
		return nil, fmt.Errorf("header %v, want [lat lng elevation]", header)
	}

	type point struct{ lat, lng, elev float64 }
	var points []point
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		var p point
		for i, dst := range []*float64{&p.lat, &p.lng, &p.elev} {
			if *dst, err = strconv.ParseFloat(rec[i], 64); err != nil {
				line, _ := cr.FieldPos(i)
				return nil, fmt.Errorf("line %d: %s %q is not a number", line, header[i], rec[i])
			}
		}
		points = append(points, p)
	}

	d := &DEM{}
	for _, p := range points {
		d.lats = append(d.lats, p.lat)
		d.lngs = append(d.lngs, p.lng)
	}
	slices.Sort(d.lats)
	slices.Sort(d.lngs)
	d.lats = slices.Compact(d.lats)
	d.lngs = slices.Compact(d.lngs)
	if len(d.lats) < 2 || len(d.lngs) < 2 {
		return nil, errors.New("grid needs at least 2 distinct latitudes and longitudes")
	}
	if len(points) != len(d.lats)*len(d.lngs) {
		return nil, fmt.Errorf("%d points do not form a %dx%d grid", len(points), len(d.lats), len(d.lngs))
	}

	d.elev = mat.NewDense(len(d.lats), len(d.lngs), nil)
	seen := mat.NewDense(len(d.lats), len(d.lngs), nil)
	for _, p := range points {
		i, _ := slices.BinarySearch(d.lats, p.lat)
		j, _ := slices.BinarySearch(d.lngs, p.lng)
		if seen.At(i, j) != 0 {
			return nil, fmt.Errorf("duplicate point (%v, %v)", p.lat, p.lng)
		}
		seen.Set(i, j, 1)
		d.elev.Set(i, j, p.elev)
	}
	return d, nil
}

// Bounds returns the area the grid covers.
func (d *DEM) Bounds() domain.Bounds {
	return domain.Bounds{
		SouthWest: domain.LatLng{Lat: d.lats[0], Lng: d.lngs[0]},
		NorthEast: domain.LatLng{Lat: d.lats[len(d.lats)-1], Lng: d.lngs[len(d.lngs)-1]},
	}
}

// Terrain samples the grid at p.
func (d *DEM) Terrain(_ context.Context, p domain.LatLng) (features.TerrainSample, error) {
	if !d.Bounds().Contains(p) {
		return features.TerrainSample{}, fmt.Errorf("%w: %v", ErrOutsideDEM, p)
	}
	i := nearest(d.lats, p.Lat)
	j := nearest(d.lngs, p.Lng)

	i0, i1 := max(i-1, 0), min(i+1, len(d.lats)-1)
	j0, j1 := max(j-1, 0), min(j+1, len(d.lngs)-1)
	dyM := (d.lats[i1] - d.lats[i0]) * domain.KmPerDegreeLat * 1000
	dxM := (d.lngs[j1] - d.lngs[j0]) * domain.KmPerDegreeLng(d.lats[i]) * 1000
	dzdy := (d.elev.At(i1, j) - d.elev.At(i0, j)) / dyM
	dzdx := (d.elev.At(i, j1) - d.elev.At(i, j0)) / dxM

	return features.TerrainSample{
		Elevation: d.elev.At(i, j),
		Slope:     math.Atan(math.Hypot(dzdx, dzdy)) * 180 / math.Pi,
	}, nil
}

// nearest returns the index of the value in sorted xs closest to v.
func nearest(xs []float64, v float64) int {
	i, _ := slices.BinarySearch(xs, v)
	switch {
	case i == 0:
		return 0
	case i == len(xs):
		return len(xs) - 1
	case v-xs[i-1] <= xs[i]-v:
		return i - 1
	}
	return i
}

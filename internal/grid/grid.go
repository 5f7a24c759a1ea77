// Package grid tessellates an area of interest into fixed-size square cells.
package grid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"slices"

	"github.com/ctessum/geom"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
)

// latticeEpsilon absorbs float error so an area that is an exact multiple of
// the cell size does not grow an extra row or column.
const latticeEpsilon = 1e-9

// AreaKm2 returns the area enclosed by ring in square kilometers, measured on
// an equirectangular projection centered on the ring's mean latitude.
func AreaKm2(ring []domain.LatLng) float64 {
	if len(ring) < 3 {
		return 0
	}
	b := domain.BoundsOf(ring)
	kx := domain.KmPerDegreeLng(b.Center().Lat)
	ky := domain.KmPerDegreeLat

	closed := domain.CloseRing(ring)
	projected := make([]geom.Point, len(closed))
	for i, p := range closed {
		projected[i] = geom.Point{X: p.Lng * kx, Y: p.Lat * ky}
	}
	return geom.Polygon{projected}.Area()
}

// Generate tiles aoi into cellSizeKm squares in row-major order, north to
// south and west to east. Polygon areas keep only cells whose centroid lies
// inside the polygon; box areas keep every cell. An area above
// domain.MaxAreaKm2 fails before any cell is built.
func Generate(aoi domain.AreaOfInterest, cellSizeKm int) ([]domain.GridCell, error) {
	if !slices.Contains(domain.CellSizesKm, cellSizeKm) {
		return nil, domain.NewInputValidationError("cell size must be one of %v km, got %d", domain.CellSizesKm, cellSizeKm)
	}

	ring := aoi.Ring()
	if area := AreaKm2(ring); area > domain.MaxAreaKm2 {
		return nil, domain.NewAreaTooLargeError(area)
	}

	b := aoi.Bounds
	if aoi.HasPolygon() {
		b = domain.BoundsOf(ring)
	}

	size := float64(cellSizeKm)
	latStep := size / domain.KmPerDegreeLat
	lngStep := size / domain.KmPerDegreeLng(b.Center().Lat)

	rows := steps(b.NorthEast.Lat-b.SouthWest.Lat, latStep)
	cols := steps(b.NorthEast.Lng-b.SouthWest.Lng, lngStep)

	cells := make([]domain.GridCell, 0, rows*cols)
	for r := 0; r < rows; r++ {
		north := b.NorthEast.Lat - float64(r)*latStep
		south := north - latStep
		for c := 0; c < cols; c++ {
			west := b.SouthWest.Lng + float64(c)*lngStep
			east := west + lngStep
			centroid := domain.LatLng{Lat: (north + south) / 2, Lng: (west + east) / 2}

			if aoi.HasPolygon() && !domain.PointInPolygon(centroid, ring) {
				continue
			}

			cells = append(cells, domain.GridCell{
				ID:       cellID(cellSizeKm, centroid),
				Row:      r,
				Col:      c,
				Centroid: centroid,
				Polygon: domain.Bounds{
					SouthWest: domain.LatLng{Lat: south, Lng: west},
					NorthEast: domain.LatLng{Lat: north, Lng: east},
				}.Ring(),
			})
		}
	}
	return cells, nil
}

func steps(span, step float64) int {
	if span <= 0 {
		return 0
	}
	return int(math.Ceil(span/step - latticeEpsilon))
}

// cellID hashes the cell size and centroid so repeated analyses of the same
// area produce the same IDs.
func cellID(cellSizeKm int, centroid domain.LatLng) string {
	key := fmt.Sprintf("%d|%.6f|%.6f", cellSizeKm, centroid.Lat, centroid.Lng)
	hash := sha256.Sum256([]byte(key))
	return fmt.Sprintf("cell-%dkm-%s", cellSizeKm, hex.EncodeToString(hash[:])[:12])
}

package features

import (
	"context"
	"time"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
)

// Source names used in logs, metrics and ExternalSourceErrors.
const (
	SourceVegetation = "vegetation"
	SourceTerrain    = "terrain"
	SourceReference  = "reference"
)

// Raster is a per-coordinate NDVI sampler returned by a VegetationSource.
type Raster interface {
	// Sample returns the NDVI at p, or false when the pixel is missing
	// (cloud cover, outside the scene).
	Sample(p domain.LatLng) (float64, bool)
}

// VegetationSource fetches one NDVI raster covering bounds for a date range.
type VegetationSource interface {
	NDVI(ctx context.Context, bounds domain.Bounds, dr domain.DateRange) (Raster, error)
}

// TerrainSample is the DEM reading at a single point.
type TerrainSample struct {
	Elevation float64
	Slope     float64
}

// TerrainSource samples a digital elevation model.
type TerrainSource interface {
	Terrain(ctx context.Context, p domain.LatLng) (TerrainSample, error)
}

// Path is an open polyline or a single point when it has one vertex.
type Path []domain.LatLng

// ReferenceSet holds the reference geometries used for proximity features.
// An empty layer means the dataset is unavailable for the area.
type ReferenceSet struct {
	Water       []Path
	Roads       []Path
	Settlements []Path
}

// ReferenceSource returns the reference geometries intersecting bounds.
type ReferenceSource interface {
	References(ctx context.Context, bounds domain.Bounds) (ReferenceSet, error)
}

// IncidentIndex answers the historical-context queries. *incidents.Index
// satisfies it.
type IncidentIndex interface {
	CountWithin(p domain.LatLng, radiusKm float64, filter domain.IncidentFilter) int
	DaysSinceNearest(p domain.LatLng, radiusKm float64, asOf time.Time, filter domain.IncidentFilter) (int, bool)
	SeasonalRate(park string, season domain.Season) (float64, bool)
}

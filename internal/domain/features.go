package domain

import (
	"errors"
	"fmt"
	"math"
)

// MaxDistanceM caps every proximity feature.
const MaxDistanceM = 100000.0

// VegetationType classifies land cover from NDVI.
type VegetationType string

const (
	VegetationForest    VegetationType = "forest"
	VegetationGrassland VegetationType = "grassland"
	VegetationScrub     VegetationType = "scrub"
	VegetationSparse    VegetationType = "sparse"
)

// Season is the Kenyan rainfall season.
type Season string

const (
	SeasonWet Season = "wet"
	SeasonDry Season = "dry"
)

// WateringPattern describes how often a species visits water near a cell.
type WateringPattern string

const (
	WateringRegular  WateringPattern = "regular"
	WateringSeasonal WateringPattern = "seasonal"
	WateringRare     WateringPattern = "rare"
)

// ClassifyVegetation maps NDVI to a vegetation type:
// >0.6 forest, [0.35, 0.6] grassland, [0.15, 0.35) scrub, otherwise sparse.
func ClassifyVegetation(ndvi float64) VegetationType {
	switch {
	case ndvi > 0.6:
		return VegetationForest
	case ndvi >= 0.35:
		return VegetationGrassland
	case ndvi >= 0.15:
		return VegetationScrub
	default:
		return VegetationSparse
	}
}

// ParseVegetationType parses the string form of a VegetationType.
func ParseVegetationType(s string) (VegetationType, error) {
	switch v := VegetationType(s); v {
	case VegetationForest, VegetationGrassland, VegetationScrub, VegetationSparse:
		return v, nil
	}
	return "", fmt.Errorf("unknown vegetation type %q", s)
}

// ParseSeason parses the string form of a Season.
func ParseSeason(s string) (Season, error) {
	switch v := Season(s); v {
	case SeasonWet, SeasonDry:
		return v, nil
	}
	return "", fmt.Errorf("unknown season %q", s)
}

// ParseWateringPattern parses the string form of a WateringPattern.
func ParseWateringPattern(s string) (WateringPattern, error) {
	switch v := WateringPattern(s); v {
	case WateringRegular, WateringSeasonal, WateringRare:
		return v, nil
	}
	return "", fmt.Errorf("unknown watering pattern %q", s)
}

func (v VegetationType) code() float64 {
	switch v {
	case VegetationForest:
		return 0
	case VegetationGrassland:
		return 1
	case VegetationScrub:
		return 2
	default:
		return 3
	}
}

func (s Season) code() float64 {
	if s == SeasonDry {
		return 0
	}
	return 1
}

func (w WateringPattern) code() float64 {
	switch w {
	case WateringRare:
		return 0
	case WateringRegular:
		return 1
	default:
		return 2
	}
}

// FeatureVector is the fixed-schema raw feature record for one grid cell.
type FeatureVector struct {
	NDVI           float64        `json:"ndvi"`
	VegetationType VegetationType `json:"vegetation_type"`

	DistToBoundary   float64 `json:"dist_to_boundary"`
	DistToWater      float64 `json:"dist_to_water"`
	DistToRoad       float64 `json:"dist_to_road"`
	DistToSettlement float64 `json:"dist_to_settlement"`

	Incidents5km          int     `json:"incidents_5km_radius"`
	DaysSinceLastIncident int     `json:"days_since_last_incident"`
	SeasonalIncidentRate  float64 `json:"seasonal_incident_rate"`

	MoonIllumination float64 `json:"moon_illumination"`
	Season           Season  `json:"season"`
	DayOfWeek        int     `json:"day_of_week"`

	Elevation         float64 `json:"elevation"`
	Slope             float64 `json:"slope"`
	TerrainRuggedness float64 `json:"terrain_ruggedness"`

	MigrationRoute  int             `json:"migration_route"`
	BreedingSeason  int             `json:"breeding_season"`
	WateringPattern WateringPattern `json:"watering_pattern"`
}

// DefaultFeatureVector returns the imputation defaults used when a source is
// unavailable. Species indicators default to neutral.
func DefaultFeatureVector() FeatureVector {
	return FeatureVector{
		NDVI:                  0.5,
		VegetationType:        VegetationGrassland,
		DistToBoundary:        10000,
		DistToWater:           5000,
		DistToRoad:            10000,
		DistToSettlement:      30000,
		Incidents5km:          0,
		DaysSinceLastIncident: 180,
		SeasonalIncidentRate:  0.05,
		MoonIllumination:      0.5,
		Season:                SeasonDry,
		DayOfWeek:             3,
		Elevation:             1000,
		Slope:                 10,
		TerrainRuggedness:     5,
		WateringPattern:       WateringSeasonal,
	}
}

// Validate reports the first field that is outside its domain. A vector that
// passes Validate can be scored.
func (f FeatureVector) Validate() error {
	floats := []struct {
		name     string
		v        float64
		min, max float64
	}{
		{"ndvi", f.NDVI, -1, 1},
		{"dist_to_boundary", f.DistToBoundary, 0, MaxDistanceM},
		{"dist_to_water", f.DistToWater, 0, MaxDistanceM},
		{"dist_to_road", f.DistToRoad, 0, MaxDistanceM},
		{"dist_to_settlement", f.DistToSettlement, 0, MaxDistanceM},
		{"seasonal_incident_rate", f.SeasonalIncidentRate, 0, 1},
		{"moon_illumination", f.MoonIllumination, 0, 1},
		{"elevation", f.Elevation, -500, 9000},
		{"slope", f.Slope, 0, 60},
		{"terrain_ruggedness", f.TerrainRuggedness, 0, 10},
	}
	for _, c := range floats {
		if math.IsNaN(c.v) || c.v < c.min || c.v > c.max {
			return fmt.Errorf("%s=%v outside [%v, %v]", c.name, c.v, c.min, c.max)
		}
	}

	switch {
	case f.Incidents5km < 0:
		return errors.New("incidents_5km_radius is negative")
	case f.DaysSinceLastIncident < 0:
		return errors.New("days_since_last_incident is negative")
	case f.DayOfWeek < 0 || f.DayOfWeek > 6:
		return fmt.Errorf("day_of_week=%d outside [0, 6]", f.DayOfWeek)
	case f.MigrationRoute != 0 && f.MigrationRoute != 1:
		return errors.New("migration_route must be 0 or 1")
	case f.BreedingSeason != 0 && f.BreedingSeason != 1:
		return errors.New("breeding_season must be 0 or 1")
	}

	if _, err := ParseVegetationType(string(f.VegetationType)); err != nil {
		return err
	}
	if _, err := ParseSeason(string(f.Season)); err != nil {
		return err
	}
	if _, err := ParseWateringPattern(string(f.WateringPattern)); err != nil {
		return err
	}
	return nil
}

// DerivedFeatureVector is a FeatureVector plus its engineered features.
type DerivedFeatureVector struct {
	FeatureVector

	BoundaryRisk    float64 `json:"boundary_risk"`
	WaterAttraction float64 `json:"water_attraction"`
	AccessEase      float64 `json:"access_ease"`
	IsolationScore  float64 `json:"isolation_score"`
	DenseVegetation int     `json:"dense_vegetation"`
	DrySeason       int     `json:"dry_season"`
	IsWeekend       int     `json:"is_weekend"`
	IncidentDensity float64 `json:"incident_density"`
}

// Derive computes the engineered features. It is a pure function of f.
func Derive(f FeatureVector) DerivedFeatureVector {
	d := DerivedFeatureVector{
		FeatureVector:   f,
		BoundaryRisk:    1 / (f.DistToBoundary + 100),
		WaterAttraction: 1 / (f.DistToWater + 50),
		AccessEase:      1 / (f.DistToRoad + 200),
		IsolationScore:  (f.DistToSettlement + f.DistToRoad) / 2000,
		IncidentDensity: float64(f.Incidents5km) / float64(f.DaysSinceLastIncident+1),
	}
	if f.NDVI > 0.5 {
		d.DenseVegetation = 1
	}
	if f.Season == SeasonDry {
		d.DrySeason = 1
	}
	if f.DayOfWeek == 5 || f.DayOfWeek == 6 {
		d.IsWeekend = 1
	}
	return d
}

// FeatureNames is the model column order. Values returns features in this order.
var FeatureNames = []string{
	"ndvi",
	"vegetation_type_encoded",
	"dist_to_boundary",
	"dist_to_water",
	"dist_to_road",
	"dist_to_settlement",
	"incidents_5km_radius",
	"days_since_last_incident",
	"seasonal_incident_rate",
	"moon_illumination",
	"season_encoded",
	"day_of_week",
	"elevation",
	"slope",
	"terrain_ruggedness",
	"migration_route",
	"breeding_season",
	"watering_pattern_encoded",
	"boundary_risk",
	"water_attraction",
	"access_ease",
	"isolation_score",
	"dense_vegetation",
	"dry_season",
	"is_weekend",
	"incident_density",
}

// Values flattens d into model input columns ordered as FeatureNames.
func (d DerivedFeatureVector) Values() []float64 {
	return []float64{
		d.NDVI,
		d.VegetationType.code(),
		d.DistToBoundary,
		d.DistToWater,
		d.DistToRoad,
		d.DistToSettlement,
		float64(d.Incidents5km),
		float64(d.DaysSinceLastIncident),
		d.SeasonalIncidentRate,
		d.MoonIllumination,
		d.Season.code(),
		float64(d.DayOfWeek),
		d.Elevation,
		d.Slope,
		d.TerrainRuggedness,
		float64(d.MigrationRoute),
		float64(d.BreedingSeason),
		d.WateringPattern.code(),
		d.BoundaryRisk,
		d.WaterAttraction,
		d.AccessEase,
		d.IsolationScore,
		float64(d.DenseVegetation),
		float64(d.DrySeason),
		float64(d.IsWeekend),
		d.IncidentDensity,
	}
}

// FeatureGroup buckets model columns for attribution.
type FeatureGroup string

const (
	GroupVegetation    FeatureGroup = "vegetation"
	GroupProximity     FeatureGroup = "proximity"
	GroupHistorical    FeatureGroup = "historical"
	GroupTemporal      FeatureGroup = "temporal"
	GroupTopographical FeatureGroup = "topographical"
	GroupSpecies       FeatureGroup = "species"
)

// FeatureGroups lists every group in display order.
var FeatureGroups = []FeatureGroup{
	GroupVegetation,
	GroupProximity,
	GroupHistorical,
	GroupTemporal,
	GroupTopographical,
	GroupSpecies,
}

var featureGroupOf = map[string]FeatureGroup{
	"ndvi":                     GroupVegetation,
	"vegetation_type_encoded":  GroupVegetation,
	"dense_vegetation":         GroupVegetation,
	"dist_to_boundary":         GroupProximity,
	"dist_to_water":            GroupProximity,
	"dist_to_road":             GroupProximity,
	"dist_to_settlement":       GroupProximity,
	"boundary_risk":            GroupProximity,
	"water_attraction":         GroupProximity,
	"access_ease":              GroupProximity,
	"isolation_score":          GroupProximity,
	"incidents_5km_radius":     GroupHistorical,
	"days_since_last_incident": GroupHistorical,
	"seasonal_incident_rate":   GroupHistorical,
	"incident_density":         GroupHistorical,
	"moon_illumination":        GroupTemporal,
	"season_encoded":           GroupTemporal,
	"day_of_week":              GroupTemporal,
	"dry_season":               GroupTemporal,
	"is_weekend":               GroupTemporal,
	"elevation":                GroupTopographical,
	"slope":                    GroupTopographical,
	"terrain_ruggedness":       GroupTopographical,
	"migration_route":          GroupSpecies,
	"breeding_season":          GroupSpecies,
	"watering_pattern_encoded": GroupSpecies,
}

// GroupOf returns the attribution group of a model column.
func GroupOf(feature string) (FeatureGroup, bool) {
	g, ok := featureGroupOf[feature]
	return g, ok
}

// Label is the human-readable phrase used in attribution summaries.
func (g FeatureGroup) Label() string {
	switch g {
	case GroupVegetation:
		return "vegetation density"
	case GroupProximity:
		return "boundary proximity"
	case GroupHistorical:
		return "historical incidents"
	case GroupTemporal:
		return "seasonal and lunar timing"
	case GroupTopographical:
		return "terrain"
	case GroupSpecies:
		return "species behaviour"
	}
	return string(g)
}

package domain

import (
	"slices"
	"sort"
	"time"
)

// Species describes the static behaviour of a protected species used to set
// the species-specific features of a cell.
type Species struct {
	Name string
	// Corridors are boxes that contain known migration routes.
	Corridors []Bounds
	// BreedingMonths are the calendar months of the breeding season.
	BreedingMonths []time.Month
	// RegularWaterM and SeasonalWaterM are the water-distance limits for the
	// regular and seasonal watering patterns; farther is rare.
	RegularWaterM  float64
	SeasonalWaterM float64
}

var speciesTable = map[string]Species{
	"elephant": {
		Name: "elephant",
		Corridors: []Bounds{
			// Amboseli-Tsavo corridor.
			{SouthWest: LatLng{Lat: -2.5, Lng: 37}, NorthEast: LatLng{Lat: -1.5, Lng: 38}},
		},
		BreedingMonths: []time.Month{time.March, time.April, time.May, time.November, time.December},
		RegularWaterM:  2000,
		SeasonalWaterM: 5000,
	},
	"rhino": {
		Name:           "rhino",
		BreedingMonths: []time.Month{time.January, time.February, time.June, time.July},
		RegularWaterM:  1500,
		SeasonalWaterM: 4000,
	},
	"lion": {
		Name: "lion",
		Corridors: []Bounds{
			// Mara-Serengeti wildebeest route that prides follow.
			{SouthWest: LatLng{Lat: -1.7, Lng: 34.8}, NorthEast: LatLng{Lat: -1.2, Lng: 35.4}},
		},
		BreedingMonths: []time.Month{time.February, time.March, time.April},
		RegularWaterM:  3000,
		SeasonalWaterM: 8000,
	},
}

// LookupSpecies returns the table entry for a lower-case species name.
func LookupSpecies(name string) (Species, bool) {
	s, ok := speciesTable[name]
	return s, ok
}

// SpeciesNames lists the supported species, sorted.
func SpeciesNames() []string {
	names := make([]string, 0, len(speciesTable))
	for n := range speciesTable {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// OnMigrationRoute reports whether p lies inside one of the species' corridors.
func (s Species) OnMigrationRoute(p LatLng) bool {
	for _, c := range s.Corridors {
		if p.Lat > c.SouthWest.Lat && p.Lat < c.NorthEast.Lat &&
			p.Lng > c.SouthWest.Lng && p.Lng < c.NorthEast.Lng {
			return true
		}
	}
	return false
}

// Breeding reports whether m falls in the breeding season.
func (s Species) Breeding(m time.Month) bool {
	return slices.Contains(s.BreedingMonths, m)
}

// Watering classifies the watering pattern from the distance to water.
func (s Species) Watering(distToWaterM float64) WateringPattern {
	switch {
	case distToWaterM < s.RegularWaterM:
		return WateringRegular
	case distToWaterM < s.SeasonalWaterM:
		return WateringSeasonal
	default:
		return WateringRare
	}
}

// ApplySpecies sets the species indicators of f for a cell at p during month m.
func ApplySpecies(f *FeatureVector, s Species, p LatLng, m time.Month) {
	f.MigrationRoute = 0
	if s.OnMigrationRoute(p) {
		f.MigrationRoute = 1
	}
	f.BreedingSeason = 0
	if s.Breeding(m) {
		f.BreedingSeason = 1
	}
	f.WateringPattern = s.Watering(f.DistToWater)
}

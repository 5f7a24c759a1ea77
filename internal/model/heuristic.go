package model

import (
	"math"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
)

// Heuristic weights of the fallback score. They sum to one.
const (
	weightVegetation = 0.30
	weightBoundary   = 0.30
	weightIncidents  = 0.40
)

// heuristicTerms returns the weighted fallback terms, each in [0, weight]:
// inverse NDVI, boundary proximity and incident density.
func heuristicTerms(d domain.DerivedFeatureVector) (vegetation, boundary, incidents float64) {
	v := clamp01((0.9 - d.NDVI) / 1.1)
	b := clamp01(d.BoundaryRisk * 200)
	i := clamp01(d.IncidentDensity / 2)
	return weightVegetation * v, weightBoundary * b, weightIncidents * i
}

// HeuristicScore is the closed-form fallback risk score in [0, 100].
func HeuristicScore(d domain.DerivedFeatureVector) float64 {
	v, b, i := heuristicTerms(d)
	return clampScore(100 * (v + b + i))
}

// heuristicAttribution splits the fallback score by its exact terms. A zero
// score is attributed by the weights alone.
func heuristicAttribution(d domain.DerivedFeatureVector) map[domain.FeatureGroup]float64 {
	v, b, i := heuristicTerms(d)
	if v+b+i == 0 {
		v, b, i = weightVegetation, weightBoundary, weightIncidents
	}
	return map[domain.FeatureGroup]float64{
		domain.GroupVegetation: v,
		domain.GroupProximity:  b,
		domain.GroupHistorical: i,
	}
}

func clamp01(x float64) float64 {
	return math.Max(0, math.Min(1, x))
}

func clampScore(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Max(0, math.Min(100, x))
}

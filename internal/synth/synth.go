// Package synth generates reproducible synthetic training tables and incident
// histories for the Kenyan parks known to the domain package.
package synth

import (
	"math"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
	"github.com/couchcryptid/wildlife-risk-engine/internal/trainer"
)

// DefaultSeed is the seed used by cmd/gendata unless overridden.
const DefaultSeed = 42

// MissingFraction is the share of rows blanked in each of MissingColumns.
const MissingFraction = 0.025

// MissingColumns are the numeric columns that receive missing values.
var MissingColumns = []string{"ndvi", "dist_to_water", "elevation", "seasonal_incident_rate"}

// riskBands is the target distribution: share of rows and score range.
var riskBands = []struct {
	share    float64
	min, max float64
}{
	{0.15, 80, 100},
	{0.25, 60, 80},
	{0.30, 40, 60},
	{0.30, 0, 40},
}

// Generator draws synthetic data from a seeded PCG source. It is not safe
// for concurrent use.
type Generator struct {
	rng *rand.Rand
}

// New returns a Generator; equal seeds produce equal output.
func New(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed))}
}

// TrainingRows returns n labelled rows. The target is drawn first from the
// fixed risk distribution and every feature is then sampled conditional on
// it, so the features carry signal about the label.
func (g *Generator) TrainingRows(n int) []trainer.Row {
	targets := g.targets(n)
	rows := make([]trainer.Row, n)
	for i, y := range targets {
		park := domain.Parks[g.rng.IntN(len(domain.Parks))]
		rows[i] = trainer.Row{
			Park:     park.Name,
			Features: g.features(y/100, g.pointIn(park.Bounds)),
			Target:   math.Round(y*100) / 100,
		}
	}
	for _, col := range MissingColumns {
		k := int(float64(n) * MissingFraction)
		for _, i := range g.rng.Perm(n)[:k] {
			rows[i].Missing = append(rows[i].Missing, col)
		}
	}
	return rows
}

func (g *Generator) targets(n int) []float64 {
	out := make([]float64, 0, n)
	for i, b := range riskBands {
		k := int(float64(n) * b.share)
		if i == len(riskBands)-1 {
			k = n - len(out)
		}
		for range k {
			out = append(out, b.min+(b.max-b.min)*g.rng.Float64())
		}
	}
	g.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// features samples a raw feature vector for normalized risk r in [0, 1].
func (g *Generator) features(r float64, p domain.LatLng) domain.FeatureVector {
	var f domain.FeatureVector
	f.NDVI = clamp(0.75-0.7*r+g.rng.NormFloat64()*0.06, -0.2, 0.9)
	f.VegetationType = domain.ClassifyVegetation(f.NDVI)

	f.DistToBoundary = clamp(100+(1-r)*6000+g.rng.ExpFloat64()*400*(1-r), 0, domain.MaxDistanceM)
	f.DistToWater = clamp(g.rng.ExpFloat64()*1500+(1-r)*2000, 0, domain.MaxDistanceM)
	f.DistToRoad = clamp(300+(1-r)*12000+g.rng.NormFloat64()*800, 0, domain.MaxDistanceM)
	f.DistToSettlement = clamp(2000+(1-r)*25000+g.rng.NormFloat64()*2000, 0, domain.MaxDistanceM)

	f.Incidents5km = g.poisson(0.3 + 12*r*r)
	f.DaysSinceLastIncident = int(clamp(1+(1-r)*300+g.rng.ExpFloat64()*15, 0, 365))
	f.SeasonalIncidentRate = clamp(0.02+0.3*r+g.rng.NormFloat64()*0.03, 0, 1)

	f.MoonIllumination = clamp(0.6-0.5*r+g.rng.NormFloat64()*0.15, 0, 1)
	f.Season = domain.SeasonWet
	if g.rng.Float64() < 0.4+0.4*r {
		f.Season = domain.SeasonDry
	}
	f.DayOfWeek = g.rng.IntN(7)

	f.Elevation = clamp(1100+g.rng.NormFloat64()*250, -500, 9000)
	f.Slope = clamp(g.rng.ExpFloat64()*6, 0, 60)
	f.TerrainRuggedness = clamp(2+3*r+g.rng.NormFloat64()*1.2, 0, 10)

	elephant, _ := domain.LookupSpecies("elephant")
	if elephant.OnMigrationRoute(p) || g.rng.Float64() < 0.1+0.3*r {
		f.MigrationRoute = 1
	}
	if g.rng.Float64() < 0.4 {
		f.BreedingSeason = 1
	}
	f.WateringPattern = elephant.Watering(f.DistToWater)
	return f
}

// Incidents returns n incident records inside the parks, dated uniformly in
// [from, to) and sorted by date.
func (g *Generator) Incidents(n int, from, to time.Time) []domain.IncidentRecord {
	species := domain.SpeciesNames()
	threats := []struct {
		t      domain.ThreatType
		weight float64
	}{
		{domain.ThreatPoaching, 0.5},
		{domain.ThreatEncroachment, 0.2},
		{domain.ThreatLogging, 0.2},
		{domain.ThreatFishing, 0.1},
	}
	span := to.Sub(from)

	out := make([]domain.IncidentRecord, n)
	for i := range out {
		park := domain.Parks[g.rng.IntN(len(domain.Parks))]
		threat := threats[len(threats)-1].t
		u := g.rng.Float64()
		for _, t := range threats {
			if u < t.weight {
				threat = t.t
				break
			}
			u -= t.weight
		}
		out[i] = domain.IncidentRecord{
			Date:       from.Add(time.Duration(g.rng.Int64N(int64(span)))).Truncate(24 * time.Hour),
			Location:   g.pointIn(park.Bounds),
			Species:    species[g.rng.IntN(len(species))],
			ThreatType: threat,
			Severity:   1 + g.rng.IntN(5),
		}
	}
	slices.SortStableFunc(out, func(a, b domain.IncidentRecord) int { return a.Date.Compare(b.Date) })
	return out
}

func (g *Generator) pointIn(b domain.Bounds) domain.LatLng {
	return domain.LatLng{
		Lat: b.SouthWest.Lat + (b.NorthEast.Lat-b.SouthWest.Lat)*g.rng.Float64(),
		Lng: b.SouthWest.Lng + (b.NorthEast.Lng-b.SouthWest.Lng)*g.rng.Float64(),
	}
}

// poisson draws from a Poisson distribution by Knuth's multiplication method,
// which is exact and fast for the small rates used here.
func (g *Generator) poisson(lambda float64) int {
	limit := math.Exp(-lambda)
	k, prod := 0, g.rng.Float64()
	for prod > limit {
		k++
		prod *= g.rng.Float64()
	}
	return k
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

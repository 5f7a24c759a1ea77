// Package incidents holds the historical incident index: a read-only spatial
// index over past threat incidents, built once and replaced wholesale on
// reload.
package incidents

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/index/rtree"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
)

// item is an incident's position in the r-tree. X is longitude, Y latitude.
type item struct {
	geom.Point
	idx int
}

// Index answers radius and recency queries over an immutable set of incidents.
// It is safe for concurrent readers.
type Index struct {
	tree     *rtree.Rtree
	records  []domain.IncidentRecord
	seasonal map[string]map[domain.Season]float64
}

// NewIndex builds an index over records. The slice is copied.
func NewIndex(records []domain.IncidentRecord) *Index {
	ix := &Index{
		tree:    rtree.NewTree(25, 50),
		records: append([]domain.IncidentRecord(nil), records...),
	}
	for i, r := range ix.records {
		ix.tree.Insert(&item{Point: geom.Point{X: r.Location.Lng, Y: r.Location.Lat}, idx: i})
	}
	ix.seasonal = seasonalRates(ix.records)
	return ix
}

// Len returns the number of indexed incidents.
func (ix *Index) Len() int { return len(ix.records) }

// Within returns the incidents within radiusKm of p that pass filter.
func (ix *Index) Within(p domain.LatLng, radiusKm float64, filter domain.IncidentFilter) []domain.IncidentRecord {
	dLat := radiusKm / domain.KmPerDegreeLat
	dLng := radiusKm / math.Max(domain.KmPerDegreeLng(p.Lat), 1e-6)
	box := &geom.Bounds{
		Min: geom.Point{X: p.Lng - dLng, Y: p.Lat - dLat},
		Max: geom.Point{X: p.Lng + dLng, Y: p.Lat + dLat},
	}

	var out []domain.IncidentRecord
	for _, g := range ix.tree.SearchIntersect(box) {
		it, ok := g.(*item)
		if !ok {
			continue
		}
		r := ix.records[it.idx]
		if !filter.Match(r) {
			continue
		}
		if domain.Haversine(p, r.Location) <= radiusKm*1000 {
			out = append(out, r)
		}
	}
	return out
}

// CountWithin returns how many incidents within radiusKm of p pass filter.
func (ix *Index) CountWithin(p domain.LatLng, radiusKm float64, filter domain.IncidentFilter) int {
	return len(ix.Within(p, radiusKm, filter))
}

// DaysSinceNearest returns the number of whole days between asOf and the most
// recent incident within radiusKm of p that happened before asOf. It reports
// false when there is none.
func (ix *Index) DaysSinceNearest(p domain.LatLng, radiusKm float64, asOf time.Time, filter domain.IncidentFilter) (int, bool) {
	filter.Before = asOf
	var latest time.Time
	for _, r := range ix.Within(p, radiusKm, filter) {
		if r.Date.After(latest) {
			latest = r.Date
		}
	}
	if latest.IsZero() {
		return 0, false
	}
	return int(asOf.Sub(latest) / (24 * time.Hour)), true
}

// SeasonalRate returns the share of a park's incidents that happened in the
// given season. It reports false for parks with no recorded incidents.
func (ix *Index) SeasonalRate(park string, season domain.Season) (float64, bool) {
	rates, ok := ix.seasonal[park]
	if !ok {
		return 0, false
	}
	return rates[season], true
}

func seasonalRates(records []domain.IncidentRecord) map[string]map[domain.Season]float64 {
	counts := make(map[string]map[domain.Season]int)
	totals := make(map[string]int)
	for _, r := range records {
		park := domain.ParkOf(r.Location)
		if counts[park] == nil {
			counts[park] = make(map[domain.Season]int)
		}
		counts[park][domain.SeasonOf(r.Date.Month())]++
		totals[park]++
	}

	rates := make(map[string]map[domain.Season]float64, len(counts))
	for park, bySeason := range counts {
		rates[park] = map[domain.Season]float64{
			domain.SeasonWet: float64(bySeason[domain.SeasonWet]) / float64(totals[park]),
			domain.SeasonDry: float64(bySeason[domain.SeasonDry]) / float64(totals[park]),
		}
	}
	return rates
}

// Store publishes the current Index. Readers always see a fully built index;
// a reload swaps in a replacement without touching the old one.
type Store struct {
	current atomic.Pointer[Index]
}

// NewStore returns a store serving ix. ix may be nil until the first load.
func NewStore(ix *Index) *Store {
	s := &Store{}
	if ix != nil {
		s.current.Store(ix)
	}
	return s
}

// Load returns the current index, or nil if none has been stored.
func (s *Store) Load() *Index {
	return s.current.Load()
}

// Swap installs ix and returns the index it replaced.
func (s *Store) Swap(ix *Index) *Index {
	return s.current.Swap(ix)
}

package features

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
	"github.com/couchcryptid/wildlife-risk-engine/internal/observability"
	"github.com/couchcryptid/wildlife-risk-engine/internal/retry"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type constRaster float64

func (r constRaster) Sample(domain.LatLng) (float64, bool) { return float64(r), true }

type fakeVegetation struct {
	calls  atomic.Int32
	raster Raster
	err    error
	bounds domain.Bounds
}

func (f *fakeVegetation) NDVI(_ context.Context, b domain.Bounds, _ domain.DateRange) (Raster, error) {
	f.calls.Add(1)
	f.bounds = b
	return f.raster, f.err
}

type fakeTerrain struct {
	calls atomic.Int32
	// elevation returns the elevation at a point; nil means flat 1200 m.
	elevation func(domain.LatLng) float64
	err       error
	block     bool
}

func (f *fakeTerrain) Terrain(ctx context.Context, p domain.LatLng) (TerrainSample, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return TerrainSample{}, ctx.Err()
	}
	if f.err != nil {
		return TerrainSample{}, f.err
	}
	e := 1200.0
	if f.elevation != nil {
		e = f.elevation(p)
	}
	return TerrainSample{Elevation: e, Slope: 4}, nil
}

type fakeReferences struct {
	set    ReferenceSet
	err    error
	bounds domain.Bounds
}

func (f *fakeReferences) References(_ context.Context, b domain.Bounds) (ReferenceSet, error) {
	f.bounds = b
	return f.set, f.err
}

type fakeIndex struct {
	count int
	days  int
	found bool
	rate  float64

	mu      sync.Mutex
	filters []domain.IncidentFilter
}

func (f *fakeIndex) CountWithin(_ domain.LatLng, _ float64, filter domain.IncidentFilter) int {
	f.mu.Lock()
	f.filters = append(f.filters, filter)
	f.mu.Unlock()
	return f.count
}

func (f *fakeIndex) DaysSinceNearest(domain.LatLng, float64, time.Time, domain.IncidentFilter) (int, bool) {
	return f.days, f.found
}

func (f *fakeIndex) SeasonalRate(string, domain.Season) (float64, bool) {
	return f.rate, f.rate > 0
}

func testConfig() Config {
	return Config{
		Concurrency:       4,
		SourceTimeout:     time.Second,
		Retry:             retry.Policy{MaxAttempts: 2},
		RuggednessRadiusM: 250,
	}
}

// testArea is a 0.1° box centered on the Amboseli-Tsavo elephant corridor.
func testArea() domain.AreaOfInterest {
	return domain.AreaOfInterest{
		Type: domain.AreaCustom,
		Bounds: domain.Bounds{
			SouthWest: domain.LatLng{Lat: -2.05, Lng: 37.45},
			NorthEast: domain.LatLng{Lat: -1.95, Lng: 37.55},
		},
	}
}

func testCells(n int) []domain.GridCell {
	cells := make([]domain.GridCell, n)
	for i := range cells {
		cells[i] = domain.GridCell{
			ID:       "cell-" + string(rune('a'+i)),
			Row:      i / 3,
			Col:      i % 3,
			Centroid: domain.LatLng{Lat: -2.0 + float64(i%3)*0.01, Lng: 37.5 + float64(i/3)*0.01},
		}
	}
	return cells
}

func testRequest(cells []domain.GridCell) Request {
	return Request{
		Cells: cells,
		Area:  testArea(),
		DateRange: domain.DateRange{
			Start: domain.NewDate(2024, time.March, 1),
			End:   domain.NewDate(2024, time.March, 31),
		},
	}
}

func fullSources() (Sources, *fakeVegetation, *fakeTerrain) {
	veg := &fakeVegetation{raster: constRaster(0.7)}
	ter := &fakeTerrain{}
	refs := &fakeReferences{set: ReferenceSet{
		Water:       []Path{{{Lat: -2.0, Lng: 37.51}}},
		Roads:       []Path{{{Lat: -2.1, Lng: 37.4}, {Lat: -2.1, Lng: 37.6}}},
		Settlements: []Path{{{Lat: -1.9, Lng: 37.5}}},
	}}
	return Sources{Vegetation: veg, Terrain: ter, References: refs}, veg, ter
}

func TestExtract_PreservesOrderAndCompletesVectors(t *testing.T) {
	sources, veg, _ := fullSources()
	a := NewAssembler(sources, testConfig(), discardLogger(), observability.NewMetricsForTesting())

	cells := testCells(9)
	req := testRequest(cells)
	req.Incidents = &fakeIndex{count: 2, days: 30, found: true, rate: 0.2}

	got, err := a.Extract(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, got, len(cells))

	for i, cf := range got {
		assert.Equal(t, cells[i].ID, cf.Cell.ID, "order")
		assert.Zero(t, cf.Imputed, cf.Cell.ID)
		require.NoError(t, cf.Features.Validate())
		assert.InDelta(t, 0.7, cf.Features.NDVI, 1e-12)
		assert.Equal(t, domain.VegetationForest, cf.Features.VegetationType)
		assert.Equal(t, 2, cf.Features.Incidents5km)
		assert.Equal(t, 30, cf.Features.DaysSinceLastIncident)
		assert.InDelta(t, 0.2, cf.Features.SeasonalIncidentRate, 1e-12)
		assert.Equal(t, domain.SeasonDry, cf.Features.Season)
		assert.Equal(t, 4, cf.Features.DayOfWeek, "2024-03-01 is a Friday")
		assert.InDelta(t, 1200, cf.Features.Elevation, 1e-9)
		assert.Zero(t, cf.Features.TerrainRuggedness, "flat terrain")
		assert.Less(t, cf.Features.DistToWater, domain.MaxDistanceM)
		assert.Greater(t, cf.Features.DistToBoundary, 0.0)
	}
	assert.Equal(t, int32(1), veg.calls.Load(), "vegetation is fetched once per request")
}

func TestExtract_IncidentFilterUsesRequestWindow(t *testing.T) {
	sources, _, _ := fullSources()
	a := NewAssembler(sources, testConfig(), discardLogger(), nil)
	ix := &fakeIndex{}

	req := testRequest(testCells(1))
	req.Species = "elephant"
	req.ThreatTypes = []domain.ThreatType{domain.ThreatPoaching}
	req.Incidents = ix

	got, err := a.Extract(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, noRecentIncidentDays, got[0].Features.DaysSinceLastIncident)
	assert.InDelta(t, 0.05, got[0].Features.SeasonalIncidentRate, 1e-12, "default seasonal rate")

	require.Len(t, ix.filters, 1)
	assert.Equal(t, domain.IncidentFilter{
		Species:     "elephant",
		ThreatTypes: []domain.ThreatType{domain.ThreatPoaching},
		Before:      req.DateRange.Start.Time,
	}, ix.filters[0])
}

func TestExtract_ImputesUnavailableSources(t *testing.T) {
	boom := errors.New("upstream 503")
	veg := &fakeVegetation{err: boom}
	ter := &fakeTerrain{err: boom}
	sources := Sources{Vegetation: veg, Terrain: ter, References: &fakeReferences{err: boom}}
	a := NewAssembler(sources, testConfig(), discardLogger(), observability.NewMetricsForTesting())

	got, err := a.Extract(context.Background(), testRequest(testCells(2)))
	require.NoError(t, err)
	require.Len(t, got, 2)

	def := domain.DefaultFeatureVector()
	for _, cf := range got {
		// 1 vegetation + 3 proximity + 3 historical + 3 topographical.
		assert.Equal(t, 10, cf.Imputed)
		assert.True(t, cf.LowerConfidence())
		assert.Equal(t, def.NDVI, cf.Features.NDVI)
		assert.Equal(t, def.DistToRoad, cf.Features.DistToRoad)
		assert.Equal(t, def.Elevation, cf.Features.Elevation)
		require.NoError(t, cf.Features.Validate())
	}
	assert.Equal(t, int32(2), veg.calls.Load(), "retried up to the attempt cap")
}

func TestExtract_NilSourcesImpute(t *testing.T) {
	a := NewAssembler(Sources{}, testConfig(), discardLogger(), nil)
	got, err := a.Extract(context.Background(), testRequest(testCells(1)))
	require.NoError(t, err)
	assert.Equal(t, 10, got[0].Imputed)
}

func TestExtract_SourceTimeoutDegrades(t *testing.T) {
	ter := &fakeTerrain{block: true}
	cfg := testConfig()
	cfg.SourceTimeout = 20 * time.Millisecond
	cfg.Retry = retry.Policy{MaxAttempts: 1}
	sources, _, _ := fullSources()
	sources.Terrain = ter
	a := NewAssembler(sources, cfg, discardLogger(), nil)

	req := testRequest(testCells(1))
	req.Incidents = &fakeIndex{rate: 0.2}
	got, err := a.Extract(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 3, got[0].Imputed)
	assert.Equal(t, int32(1), ter.calls.Load(), "neighbours are skipped when the centre fails")
}

func TestExtract_CancelledStopsSourceCalls(t *testing.T) {
	sources, veg, ter := fullSources()
	a := NewAssembler(sources, testConfig(), discardLogger(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Extract(ctx, testRequest(testCells(9)))
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, veg.calls.Load())
	assert.Zero(t, ter.calls.Load())
}

func TestExtract_Species(t *testing.T) {
	sources, _, _ := fullSources()
	a := NewAssembler(sources, testConfig(), discardLogger(), nil)

	req := testRequest(testCells(1))
	req.Species = "elephant"
	got, err := a.Extract(context.Background(), req)
	require.NoError(t, err)

	f := got[0].Features
	assert.Equal(t, 1, f.MigrationRoute, "inside the corridor")
	assert.Equal(t, 1, f.BreedingSeason, "March")
	assert.Equal(t, domain.WateringRegular, f.WateringPattern, "water is about 1 km away")
}

func TestExtract_UnknownSpecies(t *testing.T) {
	a := NewAssembler(Sources{}, testConfig(), discardLogger(), nil)
	req := testRequest(testCells(1))
	req.Species = "dodo"
	_, err := a.Extract(context.Background(), req)
	assert.True(t, domain.IsInputValidation(err))
}

func TestExtract_MissingArea(t *testing.T) {
	a := NewAssembler(Sources{}, testConfig(), discardLogger(), nil)
	req := testRequest(testCells(1))
	req.Area = domain.AreaOfInterest{}
	_, err := a.Extract(context.Background(), req)
	assert.True(t, domain.IsInputValidation(err))
}

func TestExtract_Empty(t *testing.T) {
	a := NewAssembler(Sources{}, testConfig(), discardLogger(), nil)
	got, err := a.Extract(context.Background(), testRequest(nil))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExtract_ClampsNDVI(t *testing.T) {
	sources, _, _ := fullSources()
	sources.Vegetation = &fakeVegetation{raster: constRaster(0.97)}
	a := NewAssembler(sources, testConfig(), discardLogger(), nil)

	got, err := a.Extract(context.Background(), testRequest(testCells(1)))
	require.NoError(t, err)
	assert.InDelta(t, 0.9, got[0].Features.NDVI, 1e-12)
}

func TestExtract_Progress(t *testing.T) {
	sources, _, _ := fullSources()
	a := NewAssembler(sources, testConfig(), discardLogger(), nil)

	var calls, last atomic.Int32
	req := testRequest(testCells(6))
	req.Progress = func(done, total int) {
		calls.Add(1)
		assert.Equal(t, 6, total)
		if int32(done) > last.Load() {
			last.Store(int32(done))
		}
	}
	_, err := a.Extract(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(6), calls.Load())
	assert.Equal(t, int32(6), last.Load())
}

func TestExtract_RuggedTerrain(t *testing.T) {
	sources, _, _ := fullSources()
	center := testCells(1)[0].Centroid
	sources.Terrain = &fakeTerrain{elevation: func(p domain.LatLng) float64 {
		if p == center {
			return 1000
		}
		return 1100
	}}
	a := NewAssembler(sources, testConfig(), discardLogger(), nil)

	got, err := a.Extract(context.Background(), testRequest(testCells(1)))
	require.NoError(t, err)
	assert.InDelta(t, Ruggedness([]float64{1000, 1100, 1100, 1100, 1100, 1100, 1100, 1100, 1100}), got[0].Features.TerrainRuggedness, 1e-9)
	assert.Greater(t, got[0].Features.TerrainRuggedness, 0.0)
}

func TestExtract_NodataElevationImputes(t *testing.T) {
	tests := []struct {
		name      string
		elevation float64
	}{
		{"nodata marker", -32768},
		{"not a number", math.NaN()},
		{"above any summit", 12000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sources, _, _ := fullSources()
			sources.Terrain = &fakeTerrain{elevation: func(domain.LatLng) float64 { return tt.elevation }}
			a := NewAssembler(sources, testConfig(), discardLogger(), nil)

			req := testRequest(testCells(3))
			req.Incidents = &fakeIndex{rate: 0.2}
			got, err := a.Extract(context.Background(), req)
			require.NoError(t, err)

			def := domain.DefaultFeatureVector()
			for _, cf := range got {
				assert.Equal(t, 3, cf.Imputed, cf.Cell.ID)
				assert.True(t, cf.LowerConfidence())
				assert.Equal(t, def.Elevation, cf.Features.Elevation)
				assert.Equal(t, def.Slope, cf.Features.Slope)
				require.NoError(t, cf.Features.Validate(), "the cell must stay scoreable")
			}
		})
	}
}

func TestExtract_NodataNeighboursLeaveRuggedness(t *testing.T) {
	sources, _, _ := fullSources()
	center := testCells(1)[0].Centroid
	sources.Terrain = &fakeTerrain{elevation: func(p domain.LatLng) float64 {
		switch {
		case p == center:
			return 1000
		case p.Lng > center.Lng+1e-6:
			// Eastern ring points fall off the elevation model.
			return -32768
		default:
			return 1100
		}
	}}
	a := NewAssembler(sources, testConfig(), discardLogger(), nil)

	req := testRequest(testCells(1))
	req.Incidents = &fakeIndex{rate: 0.2}
	got, err := a.Extract(context.Background(), req)
	require.NoError(t, err)

	assert.Zero(t, got[0].Imputed)
	assert.InDelta(t, Ruggedness([]float64{1000, 1100, 1100, 1100, 1100, 1100}), got[0].Features.TerrainRuggedness, 1e-9)
	require.NoError(t, got[0].Features.Validate())
}

func TestExtract_EmptyReferenceLayerIsFar(t *testing.T) {
	sources, _, _ := fullSources()
	sources.References = &fakeReferences{set: ReferenceSet{
		Roads:       []Path{{{Lat: -2.1, Lng: 37.4}, {Lat: -2.1, Lng: 37.6}}},
		Settlements: []Path{{{Lat: -1.9, Lng: 37.5}}},
	}}
	a := NewAssembler(sources, testConfig(), discardLogger(), nil)

	req := testRequest(testCells(2))
	req.Incidents = &fakeIndex{rate: 0.2}
	got, err := a.Extract(context.Background(), req)
	require.NoError(t, err)

	for _, cf := range got {
		assert.Equal(t, domain.MaxDistanceM, cf.Features.DistToWater, "no water within the query window")
		assert.Less(t, cf.Features.DistToRoad, domain.MaxDistanceM)
		assert.Zero(t, cf.Imputed)
		assert.False(t, cf.LowerConfidence())
	}
}

func TestExtract_UnknownSeasonalRateIsImputed(t *testing.T) {
	sources, _, _ := fullSources()
	a := NewAssembler(sources, testConfig(), discardLogger(), nil)

	req := testRequest(testCells(1))
	req.Incidents = &fakeIndex{count: 1, days: 10, found: true}
	got, err := a.Extract(context.Background(), req)
	require.NoError(t, err)

	assert.InDelta(t, domain.DefaultFeatureVector().SeasonalIncidentRate, got[0].Features.SeasonalIncidentRate, 1e-12)
	assert.Equal(t, 1, got[0].Imputed)
	assert.True(t, got[0].LowerConfidence())
}

func TestExtract_PolygonWindowFollowsRing(t *testing.T) {
	sources, veg, _ := fullSources()
	refs := sources.References.(*fakeReferences)
	a := NewAssembler(sources, testConfig(), discardLogger(), nil)

	req := testRequest(testCells(1))
	req.Area = domain.AreaOfInterest{
		Type:    domain.AreaCustom,
		Polygon: [][2]float64{{-2.05, 37.45}, {-2.05, 37.55}, {-1.95, 37.55}, {-1.95, 37.45}},
		// Stale bounds far from the polygon.
		Bounds: domain.Bounds{
			SouthWest: domain.LatLng{Lat: -3.0, Lng: 36.0},
			NorthEast: domain.LatLng{Lat: -2.9, Lng: 36.1},
		},
	}
	_, err := a.Extract(context.Background(), req)
	require.NoError(t, err)

	want := domain.BoundsOf(req.Area.Ring())
	assert.Equal(t, want, veg.bounds)
	assert.Equal(t, want.Expand(referenceMarginKm), refs.bounds)
}

func TestRuggedness(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want float64
	}{
		{"flat", []float64{5, 5, 5}, 0},
		{"unit std", []float64{0, 10, 20}, 1},
		{"capped", []float64{0, 1000, 2000}, 10},
		{"single", []float64{7}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Ruggedness(tt.in), 1e-9)
		})
	}
}

func TestNeighbours(t *testing.T) {
	p := domain.LatLng{Lat: -2, Lng: 37.5}
	for _, q := range neighbours(p, 250) {
		assert.InDelta(t, 250, domain.Haversine(p, q), 2)
	}
}

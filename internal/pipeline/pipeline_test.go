package pipeline_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
	"github.com/couchcryptid/wildlife-risk-engine/internal/features"
	"github.com/couchcryptid/wildlife-risk-engine/internal/history"
	"github.com/couchcryptid/wildlife-risk-engine/internal/incidents"
	"github.com/couchcryptid/wildlife-risk-engine/internal/model"
	"github.com/couchcryptid/wildlife-risk-engine/internal/observability"
	"github.com/couchcryptid/wildlife-risk-engine/internal/packager"
	"github.com/couchcryptid/wildlife-risk-engine/internal/pipeline"
	"github.com/couchcryptid/wildlife-risk-engine/internal/retry"
)

// --- fakes ---

type constRaster float64

func (r constRaster) Sample(domain.LatLng) (float64, bool) { return float64(r), true }

type countingVegetation struct {
	ndvi  float64
	calls atomic.Int64
}

func (v *countingVegetation) NDVI(context.Context, domain.Bounds, domain.DateRange) (features.Raster, error) {
	v.calls.Add(1)
	return constRaster(v.ndvi), nil
}

type countingTerrain struct {
	calls atomic.Int64
}

func (t *countingTerrain) Terrain(context.Context, domain.LatLng) (features.TerrainSample, error) {
	t.calls.Add(1)
	return features.TerrainSample{Elevation: 1150, Slope: 4}, nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	ids  []string
	fail bool
}

func (p *recordingPublisher) Publish(_ context.Context, resp *domain.AnalysisResponse) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("broker unavailable")
	}
	p.ids = append(p.ids, resp.Metadata.AnalysisID)
	return nil
}

type harness struct {
	analyzer   *pipeline.Analyzer
	vegetation *countingVegetation
	terrain    *countingTerrain
	publisher  *recordingPublisher
	clock      *clockwork.FakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetricsForTesting()

	h := &harness{
		vegetation: &countingVegetation{ndvi: 0.0},
		terrain:    &countingTerrain{},
		publisher:  &recordingPublisher{},
		clock:      clockwork.NewFakeClockAt(time.Date(2024, time.April, 2, 9, 0, 0, 0, time.UTC)),
	}
	assembler := features.NewAssembler(features.Sources{
		Vegetation: h.vegetation,
		Terrain:    h.terrain,
	}, features.Config{
		Concurrency:       4,
		SourceTimeout:     time.Second,
		Retry:             retry.Policy{MaxAttempts: 1},
		RuggednessRadiusM: 250,
	}, logger, metrics)

	h.analyzer = pipeline.New(pipeline.Deps{
		Extractor: assembler,
		Predictor: model.NewFallback(),
		Packager:  packager.New(packager.DefaultConfig()),
		History:   history.NewStore(4, history.DefaultMaxAreas),
		Incidents: incidents.NewStore(incidents.NewIndex(testIncidents())),
		Publisher: h.publisher,
		Clock:     h.clock,
	}, logger, metrics)
	return h
}

// testIncidents places a cluster of poaching incidents in the middle of the
// test area the day before the request window.
func testIncidents() []domain.IncidentRecord {
	records := make([]domain.IncidentRecord, 20)
	for i := range records {
		records[i] = domain.IncidentRecord{
			Date:       time.Date(2024, time.February, 29, 0, 0, 0, 0, time.UTC),
			Location:   domain.LatLng{Lat: -2.0, Lng: 37.5},
			Species:    "elephant",
			ThreatType: domain.ThreatPoaching,
			Severity:   3,
		}
	}
	return records
}

// squareArea is a sideKm × sideKm box centered on (-2.0, 37.5).
func squareArea(sideKm float64) domain.AreaOfInterest {
	const lat, lng = -2.0, 37.5
	halfLat := sideKm / domain.KmPerDegreeLat / 2
	halfLng := sideKm / domain.KmPerDegreeLng(lat) / 2
	return domain.AreaOfInterest{
		Type: domain.AreaCustom,
		Bounds: domain.Bounds{
			SouthWest: domain.LatLng{Lat: lat - halfLat, Lng: lng - halfLng},
			NorthEast: domain.LatLng{Lat: lat + halfLat, Lng: lng + halfLng},
		},
	}
}

func testRequest() domain.AnalysisRequest {
	return domain.AnalysisRequest{
		AreaOfInterest: squareArea(3),
		DateRange: domain.DateRange{
			Start: domain.NewDate(2024, time.March, 1),
			End:   domain.NewDate(2024, time.March, 31),
		},
		TimeOfDay:         []domain.TimeOfDay{domain.Dawn, domain.Night},
		GridGranularityKm: 1,
	}
}

// --- tests ---

func TestAnalyze_ThreeByThreeArea(t *testing.T) {
	h := newHarness(t)

	resp, err := h.analyzer.Analyze(context.Background(), testRequest(), nil)
	require.NoError(t, err)

	assert.Equal(t, 9, resp.Summary.TotalCells)
	assert.Len(t, resp.GeoJSON.Features, 9)
	assert.Equal(t, model.FallbackVersion, resp.Metadata.ModelVersion)
	assert.Equal(t, 1, resp.Metadata.CellSizeKm)
	assert.NotEmpty(t, resp.Metadata.AnalysisID)
	assert.Equal(t, h.clock.Now().UTC(), resp.Metadata.GeneratedAt)
	assert.Len(t, resp.Priorities, 3)
	assert.NotNil(t, resp.Temporal.Dawn)
	assert.NotNil(t, resp.Temporal.Night)
	assert.Nil(t, resp.Temporal.Day)
	assert.Equal(t, int64(1), h.vegetation.calls.Load(), "vegetation is fetched once per analysis")
	assert.Equal(t, []string{resp.Metadata.AnalysisID}, h.publisher.ids)

	for _, f := range resp.GeoJSON.Features {
		assert.GreaterOrEqual(t, f.Properties.RiskScore, 0.0)
		assert.LessOrEqual(t, f.Properties.RiskScore, 100.0)
		assert.Equal(t, domain.LevelFor(f.Properties.RiskScore), f.Properties.RiskLevel)
	}
}

func TestAnalyze_Idempotent(t *testing.T) {
	h := newHarness(t)

	first, err := h.analyzer.Analyze(context.Background(), testRequest(), nil)
	require.NoError(t, err)
	second, err := h.analyzer.Analyze(context.Background(), testRequest(), nil)
	require.NoError(t, err)

	if diff := cmp.Diff(first.GeoJSON, second.GeoJSON); diff != "" {
		t.Errorf("geoJSON differs between runs (-first +second):\n%s", diff)
	}
	if diff := cmp.Diff(first.Priorities, second.Priorities); diff != "" {
		t.Errorf("priorities differ between runs (-first +second):\n%s", diff)
	}
	assert.NotEqual(t, first.Metadata.AnalysisID, second.Metadata.AnalysisID)
}

func TestAnalyze_DisplayThresholdFiltersMapOnly(t *testing.T) {
	h := newHarness(t)

	all, err := h.analyzer.Analyze(context.Background(), testRequest(), nil)
	require.NoError(t, err)
	want := 0
	for _, f := range all.GeoJSON.Features {
		if f.Properties.RiskScore >= 70 {
			want++
		}
	}

	req := testRequest()
	req.DisplayThresholdPercent = 70
	filtered, err := h.analyzer.Analyze(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Len(t, filtered.GeoJSON.Features, want)
	for _, f := range filtered.GeoJSON.Features {
		assert.GreaterOrEqual(t, f.Properties.RiskScore, 70.0)
	}
	for _, f := range filtered.Temporal.Dawn.Features {
		assert.GreaterOrEqual(t, f.Properties.RiskScore, 70.0)
	}
	assert.Equal(t, 9, filtered.Summary.TotalCells)
	assert.Equal(t, all.Summary, withoutTrend(filtered.Summary))
}

func withoutTrend(s domain.Summary) domain.Summary {
	s.Trend = nil
	return s
}

func TestAnalyze_TrendAbsentForNewArea(t *testing.T) {
	h := newHarness(t)

	first, err := h.analyzer.Analyze(context.Background(), testRequest(), nil)
	require.NoError(t, err)
	assert.Nil(t, first.Summary.Trend)

	raw, err := json.Marshal(first)
	require.NoError(t, err)
	var decoded struct {
		Summary map[string]json.RawMessage `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.NotContains(t, decoded.Summary, "trend")
	assert.Contains(t, decoded.Summary, "totalCells")

	second, err := h.analyzer.Analyze(context.Background(), testRequest(), nil)
	require.NoError(t, err)
	require.NotNil(t, second.Summary.Trend)
	assert.Equal(t, "stable", second.Summary.Trend.Direction)
}

func TestAnalyze_DifferentGranularityHasOwnHistory(t *testing.T) {
	h := newHarness(t)

	_, err := h.analyzer.Analyze(context.Background(), testRequest(), nil)
	require.NoError(t, err)

	req := testRequest()
	req.GridGranularityKm = 2
	resp, err := h.analyzer.Analyze(context.Background(), req, nil)
	require.NoError(t, err)
	assert.Nil(t, resp.Summary.Trend)
	assert.NotEqual(t, pipeline.AreaKey(testRequest()), pipeline.AreaKey(req))
}

func TestAnalyze_AreaTooLargeFailsBeforeExtraction(t *testing.T) {
	h := newHarness(t)
	req := testRequest()
	req.AreaOfInterest = squareArea(40)

	resp, err := h.analyzer.Analyze(context.Background(), req, nil)
	require.Error(t, err)
	assert.Nil(t, resp)
	assert.ErrorIs(t, err, domain.ErrAreaTooLarge)
	assert.Equal(t, domain.KindInputValidation, domain.KindOf(err))
	assert.Zero(t, h.vegetation.calls.Load())
	assert.Zero(t, h.terrain.calls.Load())
	assert.Empty(t, h.publisher.ids)
}

func TestAnalyze_InvalidRequests(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.AnalysisRequest)
	}{
		{"end before start", func(r *domain.AnalysisRequest) {
			r.DateRange.End = domain.NewDate(2024, time.February, 1)
		}},
		{"bad granularity", func(r *domain.AnalysisRequest) { r.GridGranularityKm = 3 }},
		{"threshold above 100", func(r *domain.AnalysisRequest) { r.DisplayThresholdPercent = 120 }},
		{"unknown species", func(r *domain.AnalysisRequest) { r.SpeciesFilter = "dragon" }},
		{"inverted bounds", func(r *domain.AnalysisRequest) {
			b := r.AreaOfInterest.Bounds
			r.AreaOfInterest.Bounds = domain.Bounds{SouthWest: b.NorthEast, NorthEast: b.SouthWest}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			req := testRequest()
			tt.mutate(&req)

			_, err := h.analyzer.Analyze(context.Background(), req, nil)
			require.Error(t, err)
			assert.True(t, domain.IsInputValidation(err))
			assert.Zero(t, h.vegetation.calls.Load())
			assert.Zero(t, h.terrain.calls.Load())
		})
	}
}

func TestAnalyze_ProgressStages(t *testing.T) {
	h := newHarness(t)
	progress := make(chan domain.ProgressEvent, 64)

	resp, err := h.analyzer.Analyze(context.Background(), testRequest(), progress)
	require.NoError(t, err)
	close(progress)

	var stages []string
	var last domain.ProgressEvent
	for ev := range progress {
		assert.Equal(t, resp.Metadata.AnalysisID, ev.AnalysisID)
		if len(stages) == 0 || stages[len(stages)-1] != ev.Stage {
			stages = append(stages, ev.Stage)
		}
		last = ev
	}
	assert.Equal(t, []string{
		pipeline.StageInitializing,
		pipeline.StageGridGeneration,
		pipeline.StageFeatureExtraction,
		pipeline.StageRiskModeling,
		pipeline.StagePackaging,
		pipeline.StageComplete,
	}, stages)
	assert.Equal(t, 100, last.Percent)
}

func TestAnalyze_ProgressNeverBlocks(t *testing.T) {
	h := newHarness(t)
	progress := make(chan domain.ProgressEvent) // nobody reads

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := h.analyzer.Analyze(context.Background(), testRequest(), progress)
		assert.NoError(t, err)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("analysis blocked on progress channel")
	}
}

func TestAnalyze_Cancelled(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.analyzer.Analyze(ctx, testRequest(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, h.terrain.calls.Load())
	assert.Empty(t, h.publisher.ids)
}

func TestAnalyze_PublishFailureIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.publisher.fail = true

	resp, err := h.analyzer.Analyze(context.Background(), testRequest(), nil)
	require.NoError(t, err)
	assert.Equal(t, 9, resp.Summary.TotalCells)
}

func TestAnalyzer_CheckReadiness(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := incidents.NewStore(nil)
	a := pipeline.New(pipeline.Deps{Incidents: store}, logger, observability.NewMetricsForTesting())

	require.Error(t, a.CheckReadiness(context.Background()))

	store.Swap(incidents.NewIndex(nil))
	assert.NoError(t, a.CheckReadiness(context.Background()))
}

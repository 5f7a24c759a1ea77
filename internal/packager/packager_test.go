package packager

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
	"github.com/couchcryptid/wildlife-risk-engine/internal/history"
)

var generatedAt = time.Date(2026, time.May, 4, 10, 0, 0, 0, time.UTC)

func testCell(id string, incidents, imputed int) domain.CellFeatures {
	f := domain.DefaultFeatureVector()
	f.Incidents5km = incidents
	b := domain.Bounds{
		SouthWest: domain.LatLng{Lat: -2.01, Lng: 37.49},
		NorthEast: domain.LatLng{Lat: -2.0, Lng: 37.5},
	}
	return domain.CellFeatures{
		Cell:     domain.GridCell{ID: id, Centroid: b.Center(), Polygon: b.Ring()},
		Features: f,
		Imputed:  imputed,
	}
}

func testPrediction(id string, score float64) domain.Prediction {
	return domain.Prediction{
		CellID:       id,
		RiskScore:    score,
		RiskLevel:    domain.LevelFor(score),
		Attribution:  []domain.Contribution{{Group: domain.GroupVegetation, Percent: 60}, {Group: domain.GroupHistorical, Percent: 40}},
		Explanation:  "60% vegetation density + 40% historical incidents",
		Confidence:   0.9,
		ModelVersion: "v1",
	}
}

func testInput(threshold float64, scores map[string]float64, order ...string) Input {
	in := Input{
		AnalysisID:   "a-1",
		AreaKey:      "area-1",
		ModelVersion: "v1",
		GeneratedAt:  generatedAt,
		Request: domain.AnalysisRequest{
			GridGranularityKm:       1,
			DisplayThresholdPercent: threshold,
		},
	}
	for _, id := range order {
		in.Cells = append(in.Cells, testCell(id, 0, 0))
		in.Predictions = append(in.Predictions, testPrediction(id, scores[id]))
	}
	return in
}

func TestPackage_ThresholdFiltersDisplayOnly(t *testing.T) {
	in := testInput(70, map[string]float64{"a": 90, "b": 75, "c": 69.99, "d": 40, "e": 10}, "a", "b", "c", "d", "e")
	in.Cells = append(in.Cells, testCell("skipped", 0, 0))
	in.Skipped = []domain.SkippedCell{{CellID: "skipped", Reason: "bad vector"}}

	resp := New(DefaultConfig()).Package(in)

	require.Len(t, resp.GeoJSON.Features, 2)
	for _, f := range resp.GeoJSON.Features {
		assert.GreaterOrEqual(t, f.Properties.RiskScore, 70.0)
	}
	assert.Equal(t, 6, resp.Summary.TotalCells)
	assert.Equal(t, 1, resp.Summary.HighRiskCells)
	assert.Equal(t, 2, resp.Summary.MediumRiskCells)
	assert.Equal(t, 1, resp.Summary.LowRiskCells)
	assert.Equal(t, 1, resp.Summary.SafeCells)
	assert.InDelta(t, 57, resp.Summary.AverageRisk, 1e-9)
	assert.InDelta(t, 90, resp.Summary.MaxRisk, 1e-9)
	assert.Equal(t, 1, resp.Metadata.SkippedCellCount)
	assert.Len(t, resp.Priorities, 3, "priorities ignore the display threshold")
}

func TestPackage_FeatureProperties(t *testing.T) {
	resp := New(DefaultConfig()).Package(testInput(0, map[string]float64{"a": 82}, "a"))
	require.Len(t, resp.GeoJSON.Features, 1)

	f := resp.GeoJSON.Features[0]
	assert.Equal(t, "Feature", f.Type)
	assert.Equal(t, "Polygon", f.Geometry.Type)
	ring := f.Geometry.Coordinates[0]
	assert.Equal(t, ring[0], ring[len(ring)-1], "closed ring")
	assert.Equal(t, [2]float64{37.49, -2.01}, ring[0], "lng, lat order")
	assert.Equal(t, domain.RiskHigh, f.Properties.RiskLevel)
	assert.Equal(t, map[domain.FeatureGroup]float64{domain.GroupVegetation: 60, domain.GroupHistorical: 40}, f.Properties.Attribution)
	assert.Equal(t, "v1", resp.Metadata.ModelVersion)
	assert.Equal(t, "a-1", resp.Metadata.AnalysisID)
}

func TestPackage_Temporal(t *testing.T) {
	in := testInput(0, map[string]float64{"a": 80, "b": 50}, "a", "b")
	in.Request.TimeOfDay = []domain.TimeOfDay{domain.Night, domain.Day, domain.Night}

	resp := New(DefaultConfig()).Package(in)
	require.NotNil(t, resp.Temporal.Night)
	require.NotNil(t, resp.Temporal.Day)
	assert.Nil(t, resp.Temporal.Dawn)
	assert.Nil(t, resp.Temporal.Dusk)

	night := resp.Temporal.Night.Features
	assert.InDelta(t, 100, night[0].Properties.RiskScore, 1e-9, "clamped")
	assert.InDelta(t, 65, night[1].Properties.RiskScore, 1e-9)
	assert.Equal(t, domain.RiskMedium, night[1].Properties.RiskLevel)
	assert.InDelta(t, 42.5, resp.Temporal.Day.Features[1].Properties.RiskScore, 1e-9)

	b, err := json.Marshal(resp.Temporal)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "dawn")
}

func TestPackage_PriorityTieBreaks(t *testing.T) {
	in := testInput(0, map[string]float64{"c": 80, "b": 80, "a": 80, "d": 95, "e": 10}, "c", "b", "a", "d", "e")
	in.Cells[0].Features.Incidents5km = 2
	in.Cells[1].Features.Incidents5km = 5
	in.Cells[2].Features.Incidents5km = 5

	resp := New(DefaultConfig()).Package(in)
	ids := []string{}
	for _, p := range resp.Priorities {
		ids = append(ids, p.CellID)
	}
	assert.Equal(t, []string{"d", "a", "b"}, ids)
	assert.Equal(t, 5, resp.Priorities[1].Incidents)
	assert.NotEmpty(t, resp.Priorities[0].Factors)
}

func TestPackage_TrendAbsentWithoutHistory(t *testing.T) {
	resp := New(DefaultConfig()).Package(testInput(0, map[string]float64{"a": 30}, "a"))
	assert.Nil(t, resp.Summary.Trend)
	assert.Nil(t, resp.Anomalies)

	b, err := json.Marshal(resp)
	require.NoError(t, err)
	var top map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &top))
	var summary map[string]any
	require.NoError(t, json.Unmarshal(top["summary"], &summary))
	assert.NotContains(t, summary, "trend")
	assert.Contains(t, summary, "totalCells")
}

func TestPackage_Trend(t *testing.T) {
	in := testInput(0, map[string]float64{"a": 90, "b": 10}, "a", "b")
	prevAt := generatedAt.Add(-7 * 24 * time.Hour)
	in.History = []history.Snapshot{
		{AnalysisID: "old", At: prevAt.Add(-time.Hour), AverageRisk: 10},
		{AnalysisID: "prev", At: prevAt, AverageRisk: 40, HighRiskCells: 0},
	}

	resp := New(DefaultConfig()).Package(in)
	require.NotNil(t, resp.Summary.Trend)
	tr := resp.Summary.Trend
	assert.Equal(t, prevAt, tr.PreviousAnalysisAt)
	assert.InDelta(t, 10, tr.AverageRiskChange, 1e-9)
	assert.InDelta(t, 25, tr.AverageRiskChangePct, 1e-9)
	assert.Equal(t, 1, tr.HighRiskCellsChange)
	assert.Equal(t, "increasing", tr.Direction)
}

func TestPackage_Anomalies(t *testing.T) {
	in := testInput(0, map[string]float64{"a": 35, "b": 70, "c": 50, "z": 90}, "a", "b", "c", "z")
	in.History = []history.Snapshot{
		{AverageRisk: 20, CellScores: map[string]float64{"a": 8, "z": 0}},
		{AverageRisk: 20, CellScores: map[string]float64{"a": 12}},
	}

	resp := New(DefaultConfig()).Package(in)
	require.Len(t, resp.Anomalies, 2)

	assert.Equal(t, domain.Anomaly{CellID: "a", RiskScore: 35, BaselineScore: 10, IncreasePercent: 250, BaselineSource: "cell"}, resp.Anomalies[0])
	assert.Equal(t, domain.Anomaly{CellID: "b", RiskScore: 70, BaselineScore: 20, IncreasePercent: 250, BaselineSource: "region"}, resp.Anomalies[1])
}

func TestPackage_LowerConfidenceCells(t *testing.T) {
	in := testInput(0, map[string]float64{"a": 10, "b": 20}, "a", "b")
	in.Cells[1].Imputed = 2

	resp := New(DefaultConfig()).Package(in)
	assert.Equal(t, []string{"b"}, resp.Metadata.LowerConfidenceCells)
}

func TestPackage_Empty(t *testing.T) {
	resp := New(DefaultConfig()).Package(testInput(0, nil))
	assert.Empty(t, resp.GeoJSON.Features)
	assert.NotNil(t, resp.GeoJSON.Features)
	assert.Zero(t, resp.Summary.TotalCells)
	assert.Empty(t, resp.Priorities)
	assert.Equal(t, []string{}, resp.Metadata.LowerConfidenceCells)
}

func TestSnapshot(t *testing.T) {
	in := testInput(95, map[string]float64{"a": 90, "b": 10}, "a", "b")
	resp := New(DefaultConfig()).Package(in)
	snap := Snapshot(resp, in.Predictions)

	assert.Equal(t, "a-1", snap.AnalysisID)
	assert.Equal(t, generatedAt, snap.At)
	assert.InDelta(t, 50, snap.AverageRisk, 1e-9)
	assert.Equal(t, 1, snap.HighRiskCells)
	assert.Equal(t, map[string]float64{"a": 90, "b": 10}, snap.CellScores, "covers cells hidden by the threshold")
}

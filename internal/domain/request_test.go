package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() AnalysisRequest {
	return AnalysisRequest{
		AreaOfInterest: AreaOfInterest{
			Type: AreaCustom,
			Bounds: Bounds{
				SouthWest: LatLng{Lat: -2.7, Lng: 37.1},
				NorthEast: LatLng{Lat: -2.6, Lng: 37.2},
			},
		},
		DateRange:         DateRange{Start: NewDate(2024, time.March, 1), End: NewDate(2024, time.March, 7)},
		GridGranularityKm: 1,
	}
}

func TestAnalysisRequest_Validate(t *testing.T) {
	require.NoError(t, validRequest().Validate())

	tests := []struct {
		name   string
		mutate func(*AnalysisRequest)
		want   string
	}{
		{"bad area type", func(r *AnalysisRequest) { r.AreaOfInterest.Type = "county" }, "areaOfInterest.type"},
		{"inverted bounds", func(r *AnalysisRequest) {
			r.AreaOfInterest.Bounds.SouthWest, r.AreaOfInterest.Bounds.NorthEast =
				r.AreaOfInterest.Bounds.NorthEast, r.AreaOfInterest.Bounds.SouthWest
		}, "south-west"},
		{"latitude off the globe", func(r *AnalysisRequest) { r.AreaOfInterest.Bounds.NorthEast.Lat = 95 }, "valid coordinates"},
		{"two-vertex polygon", func(r *AnalysisRequest) { r.AreaOfInterest.Polygon = [][2]float64{{0, 0}, {1, 1}} }, "at least 3"},
		{"missing dates", func(r *AnalysisRequest) { r.DateRange = DateRange{} }, "dateRange"},
		{"end before start", func(r *AnalysisRequest) { r.DateRange.End = NewDate(2024, time.February, 1) }, "before"},
		{"granularity", func(r *AnalysisRequest) { r.GridGranularityKm = 3 }, "gridGranularityKm"},
		{"threshold", func(r *AnalysisRequest) { r.DisplayThresholdPercent = 120 }, "displayThresholdPercent"},
		{"species", func(r *AnalysisRequest) { r.SpeciesFilter = "dodo" }, "speciesFilter"},
		{"threat type", func(r *AnalysisRequest) { r.ThreatTypes = []ThreatType{"arson"} }, "threatTypes"},
		{"time of day", func(r *AnalysisRequest) { r.TimeOfDay = []TimeOfDay{"noon"} }, "timeOfDay"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := validRequest()
			tt.mutate(&r)
			err := r.Validate()
			require.Error(t, err)
			assert.True(t, IsInputValidation(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAnalysisRequest_NormalizeDerivesBounds(t *testing.T) {
	r := validRequest()
	r.AreaOfInterest = AreaOfInterest{Polygon: [][2]float64{{-2.7, 37.1}, {-2.7, 37.2}, {-2.6, 37.15}}}
	r.SpeciesFilter = " Elephant "
	r.ThreatTypes = []ThreatType{"Poaching"}

	r.Normalize()

	assert.Equal(t, AreaCustom, r.AreaOfInterest.Type)
	assert.Equal(t, LatLng{Lat: -2.7, Lng: 37.1}, r.AreaOfInterest.Bounds.SouthWest)
	assert.Equal(t, LatLng{Lat: -2.6, Lng: 37.2}, r.AreaOfInterest.Bounds.NorthEast)
	assert.Equal(t, "elephant", r.SpeciesFilter)
	assert.Equal(t, []ThreatType{ThreatPoaching}, r.ThreatTypes)
	require.NoError(t, r.Validate())
}

func TestAnalysisRequest_UnmarshalJSON(t *testing.T) {
	body := `{
		"areaOfInterest": {"type": "park", "polygon": [[-2.7, 37.1], [-2.7, 37.2], [-2.6, 37.2]],
			"bounds": {"southWest": {"lat": -2.7, "lng": 37.1}, "northEast": {"lat": -2.6, "lng": 37.2}}},
		"dateRange": {"start": "2024-03-01", "end": "2024-03-07T00:00:00Z"},
		"timeOfDay": ["night"],
		"gridGranularityKm": 2,
		"displayThresholdPercent": 70
	}`
	var r AnalysisRequest
	require.NoError(t, json.Unmarshal([]byte(body), &r))

	assert.Equal(t, AreaPark, r.AreaOfInterest.Type)
	assert.True(t, r.AreaOfInterest.HasPolygon())
	assert.Equal(t, time.Date(2024, time.March, 7, 0, 0, 0, 0, time.UTC), r.DateRange.End.Time)
	assert.Equal(t, []TimeOfDay{Night}, r.TimeOfDay)
	require.NoError(t, r.Validate())
}

func TestDate_UnmarshalJSONRejectsGarbage(t *testing.T) {
	var d Date
	err := json.Unmarshal([]byte(`"next tuesday"`), &d)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "YYYY-MM-DD")
}

func TestAreaOfInterest_Key(t *testing.T) {
	a := validRequest().AreaOfInterest
	b := validRequest().AreaOfInterest
	assert.Equal(t, a.Key(), b.Key())

	b.Bounds.NorthEast.Lat += 0.01
	assert.NotEqual(t, a.Key(), b.Key())
}

func TestAreaTooLargeError(t *testing.T) {
	err := NewAreaTooLargeError(1500)
	assert.True(t, errors.Is(err, ErrAreaTooLarge))
	assert.Equal(t, KindInputValidation, KindOf(err))
	assert.Contains(t, err.Error(), "1500.0")
}

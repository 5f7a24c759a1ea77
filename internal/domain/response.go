package domain

import "time"

// Geometry is a GeoJSON Polygon. Coordinates are [lng, lat] pairs.
type Geometry struct {
	Type        string         `json:"type"`
	Coordinates [][][2]float64 `json:"coordinates"`
}

// PolygonGeometry converts a lat/lng ring to a GeoJSON polygon.
func PolygonGeometry(ring []LatLng) Geometry {
	coords := make([][2]float64, len(ring))
	for i, p := range ring {
		coords[i] = [2]float64{p.Lng, p.Lat}
	}
	return Geometry{Type: "Polygon", Coordinates: [][][2]float64{coords}}
}

// CellProperties are the per-cell GeoJSON properties.
type CellProperties struct {
	CellID      string                   `json:"cellId"`
	RiskScore   float64                  `json:"riskScore"`
	RiskLevel   RiskLevel                `json:"riskLevel"`
	Attribution map[FeatureGroup]float64 `json:"attribution"`
	Explanation string                   `json:"explanation,omitempty"`
	Confidence  float64                  `json:"confidence"`
}

// Feature is a GeoJSON feature for one cell.
type Feature struct {
	Type       string         `json:"type"`
	Geometry   Geometry       `json:"geometry"`
	Properties CellProperties `json:"properties"`
}

// FeatureCollection is a GeoJSON feature collection.
type FeatureCollection struct {
	Type     string    `json:"type"`
	Features []Feature `json:"features"`
}

// NewFeatureCollection returns an empty collection that encodes features as [].
func NewFeatureCollection(capacity int) FeatureCollection {
	return FeatureCollection{Type: "FeatureCollection", Features: make([]Feature, 0, capacity)}
}

// TemporalBreakdown holds one collection per requested time-of-day bucket.
type TemporalBreakdown struct {
	Dawn  *FeatureCollection `json:"dawn,omitempty"`
	Day   *FeatureCollection `json:"day,omitempty"`
	Dusk  *FeatureCollection `json:"dusk,omitempty"`
	Night *FeatureCollection `json:"night,omitempty"`
}

// Get returns the collection for t, or nil.
func (b TemporalBreakdown) Get(t TimeOfDay) *FeatureCollection {
	switch t {
	case Dawn:
		return b.Dawn
	case Day:
		return b.Day
	case Dusk:
		return b.Dusk
	case Night:
		return b.Night
	}
	return nil
}

// Set stores fc as the collection for t.
func (b *TemporalBreakdown) Set(t TimeOfDay, fc *FeatureCollection) {
	switch t {
	case Dawn:
		b.Dawn = fc
	case Day:
		b.Day = fc
	case Dusk:
		b.Dusk = fc
	case Night:
		b.Night = fc
	}
}

// Priority is one of the top-ranked cells to patrol.
type Priority struct {
	CellID    string         `json:"cellId"`
	RiskScore float64        `json:"riskScore"`
	RiskLevel RiskLevel      `json:"riskLevel"`
	Center    LatLng         `json:"center"`
	Incidents int            `json:"incidents5km"`
	Factors   []Contribution `json:"factors"`
}

// Trend compares an analysis with the previous run over the same area.
type Trend struct {
	PreviousAnalysisAt    time.Time `json:"previousAnalysisAt"`
	PreviousAverageRisk   float64   `json:"previousAverageRisk"`
	AverageRiskChange     float64   `json:"averageRiskChange"`
	AverageRiskChangePct  float64   `json:"averageRiskChangePercent"`
	PreviousHighRiskCells int       `json:"previousHighRiskCells"`
	HighRiskCellsChange   int       `json:"highRiskCellsChange"`
	Direction             string    `json:"direction"`
}

// Summary aggregates the full, unfiltered grid.
type Summary struct {
	TotalCells      int     `json:"totalCells"`
	HighRiskCells   int     `json:"highRiskCells"`
	MediumRiskCells int     `json:"mediumRiskCells"`
	LowRiskCells    int     `json:"lowRiskCells"`
	SafeCells       int     `json:"safeCells"`
	AverageRisk     float64 `json:"averageRisk"`
	MaxRisk         float64 `json:"maxRisk"`
	Trend           *Trend  `json:"trend,omitempty"`
}

// Anomaly flags a cell whose score jumped well above its baseline.
type Anomaly struct {
	CellID          string  `json:"cellId"`
	RiskScore       float64 `json:"riskScore"`
	BaselineScore   float64 `json:"baselineScore"`
	IncreasePercent float64 `json:"increasePercent"`
	// BaselineSource is "cell" or "region".
	BaselineSource string `json:"baselineSource"`
}

// Metadata describes how a response was produced.
type Metadata struct {
	AnalysisID           string        `json:"analysisId"`
	ModelVersion         string        `json:"modelVersion"`
	GeneratedAt          time.Time     `json:"generatedAt"`
	AreaKey              string        `json:"areaKey"`
	CellSizeKm           int           `json:"cellSizeKm"`
	LowerConfidenceCells []string      `json:"lowerConfidenceCells"`
	SkippedCellCount     int           `json:"skippedCellCount"`
	SkippedCells         []SkippedCell `json:"skippedCells,omitempty"`
}

// AnalysisResponse is the packaged result of one analysis.
type AnalysisResponse struct {
	GeoJSON    FeatureCollection `json:"geoJSON"`
	Temporal   TemporalBreakdown `json:"temporal"`
	Priorities []Priority        `json:"priorities"`
	Summary    Summary           `json:"summary"`
	Anomalies  []Anomaly         `json:"anomalies,omitempty"`
	Metadata   Metadata          `json:"metadata"`
}

// ProgressEvent reports pipeline progress on a side channel.
type ProgressEvent struct {
	AnalysisID string `json:"analysisId"`
	Stage      string `json:"stage"`
	Percent    int    `json:"progressPercent"`
	Message    string `json:"message,omitempty"`
}

package domain

// RiskLevel is the categorical bucket of a risk score.
type RiskLevel string

const (
	RiskSafe   RiskLevel = "safe"
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// RiskLevelBoundaries are the scores at which the level changes.
var RiskLevelBoundaries = []float64{40, 60, 80}

// LevelFor maps a score in [0, 100] to its risk level.
func LevelFor(score float64) RiskLevel {
	switch {
	case score >= 80:
		return RiskHigh
	case score >= 60:
		return RiskMedium
	case score >= 40:
		return RiskLow
	default:
		return RiskSafe
	}
}

// Contribution is one attribution group's share of a prediction.
type Contribution struct {
	Group   FeatureGroup `json:"name"`
	Percent float64      `json:"contributionPercent"`
}

// Prediction is the scored output for one cell.
type Prediction struct {
	CellID       string         `json:"cellId"`
	RiskScore    float64        `json:"riskScore"`
	RiskLevel    RiskLevel      `json:"riskLevel"`
	Attribution  []Contribution `json:"attribution"`
	Explanation  string         `json:"explanation"`
	Confidence   float64        `json:"confidence"`
	ModelVersion string         `json:"modelVersion"`
}

// AttributionMap returns the attribution keyed by group.
func (p Prediction) AttributionMap() map[FeatureGroup]float64 {
	m := make(map[FeatureGroup]float64, len(p.Attribution))
	for _, c := range p.Attribution {
		m[c.Group] = c.Percent
	}
	return m
}

// SkippedCell records a cell dropped from the batch and why.
type SkippedCell struct {
	CellID string `json:"cellId"`
	Reason string `json:"reason"`
}

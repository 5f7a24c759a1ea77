// Package packager turns per-cell predictions into the map-ready analysis
// response: GeoJSON, temporal views, priorities, summary, anomalies and trend.
package packager

import (
	"math"
	"slices"
	"strings"
	"time"

	"github.com/couchcryptid/wildlife-risk-engine/internal/domain"
	"github.com/couchcryptid/wildlife-risk-engine/internal/history"
)

// Config holds the fixed display parameters.
type Config struct {
	// Multipliers scale the base score for each time-of-day view.
	Multipliers map[domain.TimeOfDay]float64
	// AnomalyThreshold is the relative increase over baseline that flags a
	// cell; 2.0 means +200%.
	AnomalyThreshold float64
	// TopN is the number of priority cells.
	TopN int
}

// DefaultConfig is the documented multiplier table, a +200% anomaly
// threshold and three priorities.
func DefaultConfig() Config {
	return Config{
		Multipliers: map[domain.TimeOfDay]float64{
			domain.Dawn:  1.15,
			domain.Day:   0.85,
			domain.Dusk:  1.2,
			domain.Night: 1.3,
		},
		AnomalyThreshold: 2.0,
		TopN:             3,
	}
}

// Input is everything one analysis produced.
type Input struct {
	AnalysisID   string
	Request      domain.AnalysisRequest
	AreaKey      string
	ModelVersion string
	GeneratedAt  time.Time
	// Cells is the full grid in order; Predictions follows the same order
	// minus Skipped.
	Cells       []domain.CellFeatures
	Predictions []domain.Prediction
	Skipped     []domain.SkippedCell
	// History is the prior analyses of AreaKey, oldest first.
	History []history.Snapshot
}

// Packager builds responses. It holds no per-request state.
type Packager struct {
	cfg Config
}

// New returns a Packager.
func New(cfg Config) *Packager {
	return &Packager{cfg: cfg}
}

// Package builds the response. Display filtering by threshold only affects
// GeoJSON and temporal views; the summary, priorities, anomalies and
// snapshot always cover the full scored grid.
func (p *Packager) Package(in Input) *domain.AnalysisResponse {
	cells := make(map[string]domain.CellFeatures, len(in.Cells))
	for _, c := range in.Cells {
		cells[c.Cell.ID] = c
	}
	threshold := in.Request.DisplayThresholdPercent

	resp := &domain.AnalysisResponse{
		GeoJSON:    domain.NewFeatureCollection(len(in.Predictions)),
		Priorities: p.priorities(in.Predictions, cells),
		Summary:    summarize(len(in.Cells), in.Predictions),
		Metadata: domain.Metadata{
			AnalysisID:           in.AnalysisID,
			ModelVersion:         in.ModelVersion,
			GeneratedAt:          in.GeneratedAt,
			AreaKey:              in.AreaKey,
			CellSizeKm:           in.Request.GridGranularityKm,
			LowerConfidenceCells: lowerConfidence(in.Cells),
			SkippedCellCount:     len(in.Skipped),
			SkippedCells:         in.Skipped,
		},
	}
	for _, pred := range in.Predictions {
		if pred.RiskScore < threshold {
			continue
		}
		resp.GeoJSON.Features = append(resp.GeoJSON.Features, feature(cells[pred.CellID].Cell, pred))
	}

	for _, t := range in.Request.TimeOfDay {
		if resp.Temporal.Get(t) != nil {
			continue
		}
		fc := p.temporal(t, in.Predictions, cells, threshold)
		resp.Temporal.Set(t, &fc)
	}

	if len(in.History) > 0 {
		resp.Summary.Trend = trend(resp.Summary, in.History[len(in.History)-1])
	}
	resp.Anomalies = p.anomalies(in.Predictions, in.History)
	return resp
}

// Snapshot extracts what later analyses of the same area compare to.
func Snapshot(resp *domain.AnalysisResponse, preds []domain.Prediction) history.Snapshot {
	scores := make(map[string]float64, len(preds))
	for _, p := range preds {
		scores[p.CellID] = p.RiskScore
	}
	return history.Snapshot{
		AnalysisID:    resp.Metadata.AnalysisID,
		At:            resp.Metadata.GeneratedAt,
		AverageRisk:   resp.Summary.AverageRisk,
		HighRiskCells: resp.Summary.HighRiskCells,
		CellScores:    scores,
	}
}

func feature(cell domain.GridCell, pred domain.Prediction) domain.Feature {
	return domain.Feature{
		Type:     "Feature",
		Geometry: domain.PolygonGeometry(cell.Polygon),
		Properties: domain.CellProperties{
			CellID:      pred.CellID,
			RiskScore:   pred.RiskScore,
			RiskLevel:   pred.RiskLevel,
			Attribution: pred.AttributionMap(),
			Explanation: pred.Explanation,
			Confidence:  pred.Confidence,
		},
	}
}

func (p *Packager) temporal(t domain.TimeOfDay, preds []domain.Prediction, cells map[string]domain.CellFeatures, threshold float64) domain.FeatureCollection {
	mult, ok := p.cfg.Multipliers[t]
	if !ok {
		mult = 1
	}
	fc := domain.NewFeatureCollection(len(preds))
	for _, pred := range preds {
		scaled := pred
		scaled.RiskScore = math.Round(math.Max(0, math.Min(100, pred.RiskScore*mult))*100) / 100
		scaled.RiskLevel = domain.LevelFor(scaled.RiskScore)
		if scaled.RiskScore < threshold {
			continue
		}
		fc.Features = append(fc.Features, feature(cells[pred.CellID].Cell, scaled))
	}
	return fc
}

// priorities ranks by score descending, then incidents within 5 km
// descending, then cell id ascending.
func (p *Packager) priorities(preds []domain.Prediction, cells map[string]domain.CellFeatures) []domain.Priority {
	ranked := slices.Clone(preds)
	incidents := func(id string) int { return cells[id].Features.Incidents5km }
	slices.SortFunc(ranked, func(a, b domain.Prediction) int {
		switch {
		case a.RiskScore != b.RiskScore:
			if a.RiskScore > b.RiskScore {
				return -1
			}
			return 1
		case incidents(a.CellID) != incidents(b.CellID):
			return incidents(b.CellID) - incidents(a.CellID)
		}
		return strings.Compare(a.CellID, b.CellID)
	})

	n := min(p.cfg.TopN, len(ranked))
	out := make([]domain.Priority, 0, n)
	for _, pred := range ranked[:n] {
		c := cells[pred.CellID]
		out = append(out, domain.Priority{
			CellID:    pred.CellID,
			RiskScore: pred.RiskScore,
			RiskLevel: pred.RiskLevel,
			Center:    c.Cell.Centroid,
			Incidents: c.Features.Incidents5km,
			Factors:   pred.Attribution,
		})
	}
	return out
}

func summarize(total int, preds []domain.Prediction) domain.Summary {
	s := domain.Summary{TotalCells: total}
	sum := 0.0
	for _, p := range preds {
		sum += p.RiskScore
		s.MaxRisk = math.Max(s.MaxRisk, p.RiskScore)
		switch p.RiskLevel {
		case domain.RiskHigh:
			s.HighRiskCells++
		case domain.RiskMedium:
			s.MediumRiskCells++
		case domain.RiskLow:
			s.LowRiskCells++
		default:
			s.SafeCells++
		}
	}
	if len(preds) > 0 {
		s.AverageRisk = round2(sum / float64(len(preds)))
	}
	return s
}

func trend(cur domain.Summary, prev history.Snapshot) *domain.Trend {
	t := &domain.Trend{
		PreviousAnalysisAt:    prev.At,
		PreviousAverageRisk:   prev.AverageRisk,
		AverageRiskChange:     round2(cur.AverageRisk - prev.AverageRisk),
		PreviousHighRiskCells: prev.HighRiskCells,
		HighRiskCellsChange:   cur.HighRiskCells - prev.HighRiskCells,
		Direction:             "stable",
	}
	if prev.AverageRisk > 0 {
		t.AverageRiskChangePct = round2(100 * (cur.AverageRisk - prev.AverageRisk) / prev.AverageRisk)
	}
	switch {
	case t.AverageRiskChange >= 1:
		t.Direction = "increasing"
	case t.AverageRiskChange <= -1:
		t.Direction = "decreasing"
	}
	return t
}

// anomalies flags cells whose score rose more than the threshold over their
// baseline: the mean of the cell's past scores, or the mean of past
// area averages when the cell has no history. Zero baselines are skipped.
func (p *Packager) anomalies(preds []domain.Prediction, past []history.Snapshot) []domain.Anomaly {
	if len(past) == 0 {
		return nil
	}
	region := 0.0
	for _, s := range past {
		region += s.AverageRisk
	}
	region /= float64(len(past))

	var out []domain.Anomaly
	for _, pred := range preds {
		baseline, source := region, "region"
		var sum float64
		var n int
		for _, s := range past {
			if v, ok := s.CellScores[pred.CellID]; ok {
				sum += v
				n++
			}
		}
		if n > 0 {
			baseline, source = sum/float64(n), "cell"
		}
		if baseline <= 0 {
			continue
		}
		increase := (pred.RiskScore - baseline) / baseline
		if increase > p.cfg.AnomalyThreshold {
			out = append(out, domain.Anomaly{
				CellID:          pred.CellID,
				RiskScore:       pred.RiskScore,
				BaselineScore:   round2(baseline),
				IncreasePercent: round2(100 * increase),
				BaselineSource:  source,
			})
		}
	}
	return out
}

func lowerConfidence(cells []domain.CellFeatures) []string {
	out := []string{}
	for _, c := range cells {
		if c.LowerConfidence() {
			out = append(out, c.Cell.ID)
		}
	}
	return out
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}
